package mmd

import (
	"bytes"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// PMX header string encodings.
const (
	EncodingUTF16 uint8 = 0
	EncodingUTF8  uint8 = 1
)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeShiftJIS converts a zero-padded Shift_JIS (cp932) field to a string.
// Undecodable bytes become replacement characters rather than failing, since
// PMD/VMD files in the wild contain names truncated mid-character.
func decodeShiftJIS(b []byte) string {
	b = bytes.SplitN(b, []byte{0}, 2)[0]
	utf8Data, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(utf8Data)
}

// encodeShiftJIS converts a string to a fixed-size zero-padded Shift_JIS
// field. Overlong values are truncated at the field size; characters the
// encoding cannot represent are dropped by the encoder.
func encodeShiftJIS(s string, size int) []byte {
	data, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(s))
	if err != nil {
		data = nil
	}
	buf := make([]byte, size)
	copy(buf, data)
	return buf
}

func decodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", &EncodingError{Encoding: "UTF-16LE", Reason: "odd byte length"}
	}
	utf8Data, _, err := transform.Bytes(utf16LE.NewDecoder(), b)
	if err != nil {
		return "", &EncodingError{Encoding: "UTF-16LE", Reason: err.Error()}
	}
	return string(utf8Data), nil
}

func encodeUTF16(s string) []byte {
	data, _, err := transform.Bytes(utf16LE.NewEncoder(), []byte(s))
	if err != nil {
		return nil
	}
	return data
}
