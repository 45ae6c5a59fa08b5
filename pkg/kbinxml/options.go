package kbinxml

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/twinfer/kbinxml-plugin/format"
)

// ConversionRequest is the caller-supplied, partially specified option set
// for an encode call. Nil fields are absent.
type ConversionRequest struct {
	Compression *bool  `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encoding    *uint8 `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// ConversionOptions is a validated request. The zero value is uncompressed
// with no explicit encoding.
type ConversionOptions struct {
	compression format.CompressionType
	encoding    format.EncodingType
	hasEncoding bool
}

// Compression returns the selected compression.
func (o ConversionOptions) Compression() format.CompressionType {
	return o.compression
}

// Encoding returns the explicit encoding, if one was requested.
func (o ConversionOptions) Encoding() (format.EncodingType, bool) {
	return o.encoding, o.hasEncoding
}

// OutputEncoding applies the tie-break rule: the explicit encoding if set,
// otherwise the encoding declared by the source document.
func (o ConversionOptions) OutputEncoding(declared format.EncodingType) format.EncodingType {
	if o.hasEncoding {
		return o.encoding
	}
	return declared
}

func (o ConversionOptions) String() string {
	if o.hasEncoding {
		return fmt.Sprintf("compression=%s encoding=%s", o.compression, o.encoding)
	}
	return fmt.Sprintf("compression=%s encoding=declared", o.compression)
}

// OptionsBuilder assembles ConversionOptions. The first invalid setting is
// kept and reported by Build; later settings do not clear it.
type OptionsBuilder struct {
	opts ConversionOptions
	err  error
}

// NewOptionsBuilder returns a builder for uncompressed options with no
// explicit encoding.
func NewOptionsBuilder() *OptionsBuilder {
	return &OptionsBuilder{}
}

// Compression selects the compression.
func (b *OptionsBuilder) Compression(c format.CompressionType) *OptionsBuilder {
	b.opts.compression = c
	return b
}

// Encoding selects an explicit encoding.
func (b *OptionsBuilder) Encoding(e format.EncodingType) *OptionsBuilder {
	return b.EncodingByte(e.Byte())
}

// EncodingByte selects an explicit encoding by its tag byte.
func (b *OptionsBuilder) EncodingByte(tag byte) *OptionsBuilder {
	enc, err := format.EncodingFromByte(tag)
	if err != nil {
		if b.err == nil {
			b.err = &Error{Kind: InvalidEncodingType, Err: err}
		}
		return b
	}
	b.opts.encoding = enc
	b.opts.hasEncoding = true
	return b
}

// Build returns the options or the first error recorded.
func (b *OptionsBuilder) Build() (ConversionOptions, error) {
	if b.err != nil {
		return ConversionOptions{}, b.err
	}
	return b.opts, nil
}

// ResolveOptions validates req. A nil request resolves to the defaults.
// An explicit encoding outside the defined tags fails with
// InvalidEncodingType; it is never replaced by a default.
func ResolveOptions(req *ConversionRequest) (ConversionOptions, error) {
	b := NewOptionsBuilder()
	if req == nil {
		return b.Build()
	}
	if req.Compression != nil {
		b.Compression(format.CompressionFromBool(*req.Compression))
	}
	if req.Encoding != nil {
		b.EncodingByte(*req.Encoding)
	}
	return b.Build()
}

// Option keys recognised in an untyped options object.
const (
	keyCompression = "compression"
	keyEncoding    = "encoding"
)

// RequestFromValue converts an untyped options object, as decoded from
// JSON, YAML, CBOR or a Bloblang mapping, into a request. A nil value is
// an empty request. Null fields are absent and unknown keys are ignored.
// Shape violations fail with InvalidOption.
func RequestFromValue(v any) (*ConversionRequest, error) {
	if v == nil {
		return &ConversionRequest{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &Error{Kind: InvalidOption, Err: fmt.Errorf("options must be an object, got %T", v)}
	}

	req := &ConversionRequest{}
	if raw, ok := m[keyCompression]; ok && raw != nil {
		c, ok := raw.(bool)
		if !ok {
			return nil, &Error{Kind: InvalidOption, Err: fmt.Errorf("%s must be a boolean, got %T", keyCompression, raw)}
		}
		req.Compression = &c
	}
	if raw, ok := m[keyEncoding]; ok && raw != nil {
		tag, err := byteValue(raw)
		if err != nil {
			return nil, &Error{Kind: InvalidOption, Err: fmt.Errorf("%s: %w", keyEncoding, err)}
		}
		req.Encoding = &tag
	}
	return req, nil
}

func byteValue(v any) (uint8, error) {
	var n int64
	switch val := v.(type) {
	case int:
		n = int64(val)
	case int8:
		n = int64(val)
	case int16:
		n = int64(val)
	case int32:
		n = int64(val)
	case int64:
		n = val
	case uint:
		if uint64(val) > math.MaxUint8 {
			return 0, fmt.Errorf("%d is outside 0..255", val)
		}
		n = int64(val)
	case uint8:
		n = int64(val)
	case uint16:
		n = int64(val)
	case uint32:
		n = int64(val)
	case uint64:
		if val > math.MaxUint8 {
			return 0, fmt.Errorf("%d is outside 0..255", val)
		}
		n = int64(val)
	case float32:
		return floatByte(float64(val))
	case float64:
		return floatByte(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("%q is not a number", val.String())
			}
			return floatByte(f)
		}
		n = i
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("%d is outside 0..255", n)
	}
	return uint8(n), nil
}

func floatByte(f float64) (uint8, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	if f < 0 || f > math.MaxUint8 {
		return 0, fmt.Errorf("%v is outside 0..255", f)
	}
	return uint8(f), nil
}
