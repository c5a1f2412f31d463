package mmd

import (
	"bufio"
	"encoding/binary"
	"io"
)

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// baseParser reads little-endian primitives from a byte stream, tracking
// the consumed offset. The first error sticks: subsequent reads return zero
// values so section loops can run to their end and report one failure.
type baseParser struct {
	r       *countingReader
	format  string
	section string
	err     error
}

func newBaseParser(r io.Reader, format string) baseParser {
	if _, ok := r.(io.ByteReader); !ok {
		r = bufio.NewReader(r)
	}
	return baseParser{r: &countingReader{r: r}, format: format}
}

func (p *baseParser) fail(err error) error {
	if p.err == nil && err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		p.err = &ParseError{Format: p.format, Section: p.section, Offset: p.r.n, Err: err}
	}
	return p.err
}

func (p *baseParser) read(v interface{}) error {
	if p.err != nil {
		return p.err
	}
	return p.fail(binary.Read(p.r, binary.LittleEndian, v))
}

func (p *baseParser) readBytes(n int) []byte {
	if p.err != nil || n <= 0 {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(p.r, b); err != nil {
		p.fail(err)
		return nil
	}
	return b
}

func (p *baseParser) readUint8() uint8 {
	var v uint8
	p.read(&v)
	return v
}

func (p *baseParser) readUint16() uint16 {
	var v uint16
	p.read(&v)
	return v
}

func (p *baseParser) readUint32() uint32 {
	var v uint32
	p.read(&v)
	return v
}

func (p *baseParser) readInt() int {
	var v int32
	p.read(&v)
	return int(v)
}

func (p *baseParser) readFloat() float32 {
	var v float32
	p.read(&v)
	return v
}

func (p *baseParser) readVUInt(sz byte) int {
	switch sz {
	case 1:
		var v uint8
		p.read(&v)
		return int(v)
	case 2:
		var v uint16
		p.read(&v)
		return int(v)
	case 4:
		var v uint32
		p.read(&v)
		return int(v)
	}
	p.fail(&EncodingError{Encoding: "index", Reason: "invalid index width"})
	return 0
}

func (p *baseParser) readVInt(sz byte) int {
	switch sz {
	case 1:
		var v int8
		p.read(&v)
		return int(v)
	case 2:
		var v int16
		p.read(&v)
		return int(v)
	case 4:
		var v int32
		p.read(&v)
		return int(v)
	}
	p.fail(&EncodingError{Encoding: "index", Reason: "invalid index width"})
	return 0
}

// readCount reads a 4-byte element count and rejects negative values.
func (p *baseParser) readCount() int {
	n := p.readInt()
	if n < 0 {
		p.fail(&EncodingError{Encoding: "count", Reason: "negative element count"})
		return 0
	}
	return n
}

// readCString reads a fixed-width zero-padded Shift_JIS field (PMD/VMD).
func (p *baseParser) readCString(n int) string {
	return decodeShiftJIS(p.readBytes(n))
}
