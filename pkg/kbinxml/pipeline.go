package kbinxml

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/twinfer/kbinxml-plugin/format"
	"github.com/twinfer/kbinxml-plugin/pkg/kbin"
)

// Codec is the tree codec the converter delegates to. *kbin.Codec
// implements it.
type Codec interface {
	ParseText(data []byte) (*kbin.Tree, format.EncodingType, error)
	ParseBinary(data []byte) (*kbin.Tree, format.EncodingType, error)
	SerializeBinary(opts kbin.Options, tree *kbin.Tree) ([]byte, error)
	SerializeText(tree *kbin.Tree) ([]byte, error)
}

var _ Codec = (*kbin.Codec)(nil)

// Converter runs encode and decode conversions. It keeps no per-call state
// and is safe for concurrent use.
type Converter struct {
	codec  Codec
	logger *slog.Logger
}

// options holds configuration for the converter
type options struct {
	logger *slog.Logger
	codec  Codec
}

// Option is a function that configures converter options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCodec replaces the KBin codec
func WithCodec(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// NewConverter creates a converter with the given options
func NewConverter(opts ...Option) *Converter {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.codec == nil {
		o.codec = kbin.NewCodec(kbin.WithLogger(o.logger))
	}
	return &Converter{codec: o.codec, logger: o.logger}
}

var (
	defaultConverter     *Converter
	defaultConverterOnce sync.Once
)

func getDefaultConverter() *Converter {
	defaultConverterOnce.Do(func() {
		defaultConverter = NewConverter()
	})
	return defaultConverter
}

// Encode converts XML text to binary with the default converter.
func Encode(text []byte, req *ConversionRequest) (*BinaryResult, error) {
	return getDefaultConverter().Encode(context.Background(), text, req)
}

// EncodeWithContext is Encode with a caller-supplied context for logging.
func EncodeWithContext(ctx context.Context, text []byte, req *ConversionRequest) (*BinaryResult, error) {
	return getDefaultConverter().Encode(ctx, text, req)
}

// Decode converts binary to XML text with the default converter.
func Decode(data []byte, pretty bool) (*XMLResult, error) {
	return getDefaultConverter().Decode(context.Background(), data, pretty)
}

// DecodeWithContext is Decode with a caller-supplied context for logging.
func DecodeWithContext(ctx context.Context, data []byte, pretty bool) (*XMLResult, error) {
	return getDefaultConverter().Decode(ctx, data, pretty)
}

// Encode parses text and writes it in binary form.
//
// The request is validated before the text is parsed. The output encoding
// is the requested encoding if any, otherwise the encoding declared by the
// document, which is format.EncodingNone when there is no declaration.
func (c *Converter) Encode(ctx context.Context, text []byte, req *ConversionRequest) (*BinaryResult, error) {
	opts, err := ResolveOptions(req)
	if err != nil {
		c.logger.DebugContext(ctx, "Rejected encode options", "error", err)
		return nil, err
	}

	var (
		tree     *kbin.Tree
		declared format.EncodingType
	)
	err = c.stage(ctx, InvalidXML, func() (err error) {
		tree, declared, err = c.codec.ParseText(text)
		return err
	})
	if err != nil {
		return nil, err
	}

	enc := opts.OutputEncoding(declared)
	var out []byte
	err = c.stage(ctx, ToBinary, func() (err error) {
		out, err = c.codec.SerializeBinary(kbin.Options{Compression: opts.Compression(), Encoding: enc}, tree)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "Encoded document",
		"input_len", len(text), "output_len", len(out), "options", opts.String(), "declared", declared, "encoding", enc)
	return &BinaryResult{Data: out, Encoding: enc}, nil
}

// Decode parses binary data and renders it as XML text. Unless pretty is
// set, the text is compacted. The result carries the encoding recorded in
// the binary header.
func (c *Converter) Decode(ctx context.Context, data []byte, pretty bool) (*XMLResult, error) {
	var (
		tree     *kbin.Tree
		declared format.EncodingType
	)
	err := c.stage(ctx, InvalidXML, func() (err error) {
		tree, declared, err = c.codec.ParseBinary(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = c.stage(ctx, ToXML, func() (err error) {
		raw, err = c.codec.SerializeText(tree)
		return err
	})
	if err != nil {
		return nil, err
	}
	if i := invalidUTF8Offset(raw); i >= 0 {
		err := &Error{Kind: UTF8Error, Err: fmt.Errorf("invalid UTF-8 sequence at byte %d of %d", i, len(raw))}
		c.logger.DebugContext(ctx, "Conversion stage failed", "kind", err.Kind, "error", err)
		return nil, err
	}

	text := Normalize(string(raw), pretty)
	c.logger.DebugContext(ctx, "Decoded document",
		"input_len", len(data), "output_len", len(text), "pretty", pretty, "encoding", declared)
	return &XMLResult{Data: text, Encoding: declared}, nil
}

// stage runs one codec call, translating its error or panic into kind.
func (c *Converter) stage(ctx context.Context, kind Kind, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: kind, Err: fmt.Errorf("codec panic: %v", r)}
		}
		if err != nil {
			c.logger.DebugContext(ctx, "Conversion stage failed", "kind", kind, "error", err)
		}
	}()
	return Translate(kind, fn())
}

func invalidUTF8Offset(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
