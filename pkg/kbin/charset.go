package kbin

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"

	"github.com/twinfer/kbinxml-plugin/format"
)

// charset maps between Go strings and the byte form of one document
// encoding.
type charset struct {
	enc   format.EncodingType
	codec encoding.Encoding // nil for encodings handled without translation
}

func charsetFor(e format.EncodingType) (charset, error) {
	switch e {
	case format.EncodingNone, format.EncodingASCII, format.EncodingUTF8:
		return charset{enc: e}, nil
	case format.EncodingISO88591:
		return charset{enc: e, codec: charmap.ISO8859_1}, nil
	case format.EncodingEUCJP:
		return charset{enc: e, codec: japanese.EUCJP}, nil
	case format.EncodingShiftJIS:
		return charset{enc: e, codec: japanese.ShiftJIS}, nil
	}
	return charset{}, fmt.Errorf("%w: 0x%02X", format.ErrInvalidEncoding, byte(e))
}

func (c charset) encode(s string) ([]byte, error) {
	switch {
	case c.codec != nil:
		b, err := c.codec.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: %q as %s: %v", ErrUnencodable, s, c.enc, err)
		}
		return b, nil
	case c.enc == format.EncodingASCII:
		if i := nonASCII(s); i >= 0 {
			return nil, fmt.Errorf("%w: %q has a non-ASCII byte at offset %d", ErrUnencodable, s, i)
		}
	case c.enc == format.EncodingUTF8:
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: %q is not valid UTF-8", ErrUnencodable, s)
		}
	}
	return []byte(s), nil
}

// decode converts encoded bytes to a Go string. EncodingNone passes bytes
// through untouched, which may yield a string that is not valid UTF-8.
func (c charset) decode(b []byte) (string, error) {
	switch {
	case c.codec != nil:
		out, err := c.codec.NewDecoder().Bytes(b)
		if err != nil {
			return "", fmt.Errorf("decoding %s string: %w", c.enc, err)
		}
		return string(out), nil
	case c.enc == format.EncodingASCII:
		if i := nonASCII(string(b)); i >= 0 {
			return "", fmt.Errorf("non-ASCII byte 0x%02X at offset %d", b[i], i)
		}
	case c.enc == format.EncodingUTF8:
		if !utf8.Valid(b) {
			return "", fmt.Errorf("string is not valid UTF-8")
		}
	}
	return string(b), nil
}

func nonASCII(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return i
		}
	}
	return -1
}

var encodingLabels = map[string]format.EncodingType{
	"ASCII":    format.EncodingASCII,
	"USASCII":  format.EncodingASCII,
	"ISO88591": format.EncodingISO88591,
	"LATIN1":   format.EncodingISO88591,
	"L1":       format.EncodingISO88591,
	"EUCJP":    format.EncodingEUCJP,
	"SHIFTJIS": format.EncodingShiftJIS,
	"SJIS":     format.EncodingShiftJIS,
	"MSKANJI":  format.EncodingShiftJIS,
	"UTF8":     format.EncodingUTF8,
}

// EncodingFromLabel resolves the encoding named in an XML declaration.
// Matching ignores case, hyphens and underscores.
func EncodingFromLabel(label string) (format.EncodingType, error) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', ' ':
			return -1
		}
		return r
	}, strings.ToUpper(label))
	if e, ok := encodingLabels[key]; ok {
		return e, nil
	}
	return 0, fmt.Errorf("%w: unknown label %q", format.ErrInvalidEncoding, label)
}
