package kbin

import (
	"log/slog"
	"sync"

	"github.com/twinfer/kbinxml-plugin/format"
)

// Options selects how a tree is written in binary form. Unlike the caller
// facing conversion options, the encoding here is always resolved.
type Options struct {
	Compression format.CompressionType
	Encoding    format.EncodingType
}

// WithEncoding returns uncompressed options for the given encoding.
func WithEncoding(enc format.EncodingType) Options {
	return Options{Compression: format.Uncompressed, Encoding: enc}
}

// Codec converts between the text and binary forms of a KBin document.
// A Codec holds no per-call state and is safe for concurrent use.
type Codec struct {
	logger *slog.Logger
}

// options holds configuration for the codec
type options struct {
	logger *slog.Logger
}

// Option is a function that configures codec options
type Option func(*options)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewCodec creates a codec with the given options
func NewCodec(opts ...Option) *Codec {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Codec{logger: o.logger}
}

var (
	defaultCodec     *Codec
	defaultCodecOnce sync.Once
)

func getDefaultCodec() *Codec {
	defaultCodecOnce.Do(func() {
		defaultCodec = NewCodec()
	})
	return defaultCodec
}

// FromTextXML parses an XML document with the default codec.
func FromTextXML(data []byte) (*Tree, format.EncodingType, error) {
	return getDefaultCodec().ParseText(data)
}

// FromBinary parses a binary document with the default codec.
func FromBinary(data []byte) (*Tree, format.EncodingType, error) {
	return getDefaultCodec().ParseBinary(data)
}

// ToBinary writes tree in binary form with the default codec.
func ToBinary(opts Options, tree *Tree) ([]byte, error) {
	return getDefaultCodec().SerializeBinary(opts, tree)
}

// ToTextXML writes tree as indented XML with the default codec.
func ToTextXML(tree *Tree) ([]byte, error) {
	return getDefaultCodec().SerializeText(tree)
}

// ParseText parses an XML document into a tree and returns the encoding
// named by its declaration, or EncodingNone when there is none.
func (c *Codec) ParseText(data []byte) (*Tree, format.EncodingType, error) {
	tree, enc, err := decodeText(data)
	if err != nil {
		c.logger.Debug("Text parse failed", "input_len", len(data), "error", err)
		return nil, 0, err
	}
	c.logger.Debug("Parsed text document", "input_len", len(data), "root", tree.Root.Name, "encoding", enc)
	return tree, enc, nil
}

// ParseBinary parses a binary document and returns the encoding recorded
// in its header.
func (c *Codec) ParseBinary(data []byte) (*Tree, format.EncodingType, error) {
	tree, enc, err := decodeBinary(data)
	if err != nil {
		c.logger.Debug("Binary parse failed", "input_len", len(data), "error", err)
		return nil, 0, err
	}
	c.logger.Debug("Parsed binary document", "input_len", len(data), "root", tree.Root.Name, "encoding", enc)
	return tree, enc, nil
}

// SerializeBinary writes tree in binary form using opts.
func (c *Codec) SerializeBinary(opts Options, tree *Tree) ([]byte, error) {
	out, err := encodeBinary(opts, tree)
	if err != nil {
		c.logger.Debug("Binary serialization failed", "encoding", opts.Encoding, "compression", opts.Compression, "error", err)
		return nil, err
	}
	c.logger.Debug("Serialized binary document", "output_len", len(out), "encoding", opts.Encoding, "compression", opts.Compression)
	return out, nil
}

// SerializeText writes tree as indented XML. A declaration naming the
// tree's encoding is emitted unless the encoding is EncodingNone.
func (c *Codec) SerializeText(tree *Tree) ([]byte, error) {
	out, err := encodeText(tree)
	if err != nil {
		c.logger.Debug("Text serialization failed", "error", err)
		return nil, err
	}
	c.logger.Debug("Serialized text document", "output_len", len(out))
	return out, nil
}
