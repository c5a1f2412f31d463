package mmd

import (
	"encoding/binary"
	"io"
)

// baseWriter mirrors baseParser. Like the parser, the first error sticks.
type baseWriter struct {
	w   io.Writer
	err error
}

func (w *baseWriter) fail(err error) error {
	if w.err == nil && err != nil {
		w.err = err
	}
	return w.err
}

func (w *baseWriter) write(v interface{}) error {
	if w.err != nil {
		return w.err
	}
	return w.fail(binary.Write(w.w, binary.LittleEndian, v))
}

func (w *baseWriter) writeBytes(b []byte) {
	if w.err != nil || len(b) == 0 {
		return
	}
	_, err := w.w.Write(b)
	w.fail(err)
}

func (w *baseWriter) writeUint8(v uint8) {
	w.write(&v)
}

func (w *baseWriter) writeUint16(v uint16) {
	w.write(&v)
}

func (w *baseWriter) writeUint32(v uint32) {
	w.write(&v)
}

func (w *baseWriter) writeInt(v int) {
	vv := int32(v)
	w.write(&vv)
}

func (w *baseWriter) writeFloat(v float32) {
	w.write(&v)
}

func (w *baseWriter) writeVUInt(sz byte, vv int) {
	switch sz {
	case 1:
		v := uint8(vv)
		w.write(&v)
	case 2:
		v := uint16(vv)
		w.write(&v)
	case 4:
		v := uint32(vv)
		w.write(&v)
	default:
		w.fail(&EncodingError{Encoding: "index", Reason: "invalid index width"})
	}
}

func (w *baseWriter) writeVInt(sz byte, vv int) {
	switch sz {
	case 1:
		v := int8(vv)
		w.write(&v)
	case 2:
		v := int16(vv)
		w.write(&v)
	case 4:
		v := int32(vv)
		w.write(&v)
	default:
		w.fail(&EncodingError{Encoding: "index", Reason: "invalid index width"})
	}
}

// writeCString writes a fixed-width zero-padded Shift_JIS field (PMD/VMD).
func (w *baseWriter) writeCString(s string, n int) {
	w.writeBytes(encodeShiftJIS(s, n))
}
