// Package format defines the encoding and compression selectors shared by
// the KBin codec and the conversion boundary.
package format

import (
	"errors"
	"fmt"
)

type (
	EncodingType    uint8
	CompressionType uint8
)

const (
	EncodingNone     EncodingType = 0x00 // EncodingNone leaves string bytes untranslated.
	EncodingASCII    EncodingType = 0x20 // EncodingASCII represents 7-bit US-ASCII.
	EncodingISO88591 EncodingType = 0x40 // EncodingISO88591 represents ISO-8859-1 (Latin-1).
	EncodingEUCJP    EncodingType = 0x60 // EncodingEUCJP represents EUC-JP.
	EncodingShiftJIS EncodingType = 0x80 // EncodingShiftJIS represents Shift-JIS.
	EncodingUTF8     EncodingType = 0xA0 // EncodingUTF8 represents UTF-8.
)

const (
	Uncompressed CompressionType = iota // Uncompressed stores node names as encoded bytes.
	Compressed                          // Compressed packs node names into sixbit form.
)

// ErrInvalidEncoding is returned for a byte that is not one of the defined
// encoding tags.
var ErrInvalidEncoding = errors.New("invalid encoding type")

var encodings = []EncodingType{
	EncodingNone,
	EncodingASCII,
	EncodingISO88591,
	EncodingEUCJP,
	EncodingShiftJIS,
	EncodingUTF8,
}

// Encodings returns every defined encoding in tag order.
func Encodings() []EncodingType {
	out := make([]EncodingType, len(encodings))
	copy(out, encodings)
	return out
}

// EncodingFromByte maps a tag byte to its encoding. Bytes outside the defined
// set are rejected, never coerced.
func EncodingFromByte(b byte) (EncodingType, error) {
	switch e := EncodingType(b); e {
	case EncodingNone, EncodingASCII, EncodingISO88591, EncodingEUCJP, EncodingShiftJIS, EncodingUTF8:
		return e, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", ErrInvalidEncoding, b)
	}
}

// Byte returns the tag byte of e.
func (e EncodingType) Byte() byte {
	return byte(e)
}

func (e EncodingType) String() string {
	switch e {
	case EncodingNone:
		return "NONE"
	case EncodingASCII:
		return "ASCII"
	case EncodingISO88591:
		return "ISO-8859-1"
	case EncodingEUCJP:
		return "EUC-JP"
	case EncodingShiftJIS:
		return "SHIFT_JIS"
	case EncodingUTF8:
		return "UTF-8"
	default:
		return "Unknown"
	}
}

// CompressionFromBool maps a caller flag to a compression type.
func CompressionFromBool(compressed bool) CompressionType {
	if compressed {
		return Compressed
	}
	return Uncompressed
}

// Bool reports whether c is Compressed.
func (c CompressionType) Bool() bool {
	return c == Compressed
}

func (c CompressionType) String() string {
	switch c {
	case Uncompressed:
		return "Uncompressed"
	case Compressed:
		return "Compressed"
	default:
		return "Unknown"
	}
}
