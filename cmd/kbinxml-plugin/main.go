package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redpanda-data/benthos/v4/public/bloblang"
	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/twinfer/kbinxml-plugin/format"
	"github.com/twinfer/kbinxml-plugin/pkg/kbinxml"
)

const (
	operationEncode = "encode"
	operationDecode = "decode"

	resultPayload    = "payload"
	resultStructured = "structured"
	resultJSON       = "json"
	resultCBOR       = "cbor"

	metaEncoding     = "kbin_encoding"
	metaEncodingName = "kbin_encoding_name"
	metaErrorKind    = "kbin_error_kind"
)

// KBinXMLProcessor is a Benthos processor that converts messages between
// XML text and KBin binary documents.
type KBinXMLProcessor struct {
	config         KBinXMLConfig
	converter      *kbinxml.Converter
	optionsMapping *bloblang.Executor
	logger         *service.Logger
	mEncoded       *service.MetricCounter
	mDecoded       *service.MetricCounter
	mErrors        *service.MetricCounter
}

// KBinXMLConfig contains configuration parameters for the kbinxml processor.
type KBinXMLConfig struct {
	Operation    string `json:"operation" yaml:"operation"`
	Compression  *bool  `json:"compression,omitempty" yaml:"compression,omitempty"`
	Encoding     *uint8 `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Pretty       bool   `json:"pretty" yaml:"pretty"`
	ResultFormat string `json:"result_format" yaml:"result_format"`
}

func init() {
	// Register the processor with Benthos
	err := service.RegisterProcessor(
		"kbinxml",
		kbinXMLProcessorConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return newKBinXMLProcessorFromConfig(conf, mgr)
		},
	)
	if err != nil {
		panic(err)
	}
}

func main() {
	service.RunCLI(context.Background())
}

// kbinXMLProcessorConfig returns a config spec for a kbinxml processor.
func kbinXMLProcessorConfig() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Converts messages between XML text and KBin binary documents.").
		Description(`With `+"`operation: encode`"+` the message is parsed as XML and written as KBin. The output encoding is `+"`encoding`"+` when set, otherwise the encoding named by the document's XML declaration.

With `+"`operation: decode`"+` the message is parsed as KBin and written as XML. Unless `+"`pretty`"+` is set the XML is compacted onto a single line.

Failed messages are flagged with an error and the `+"`"+metaErrorKind+"`"+` metadata key names the failure kind.`).
		Field(service.NewStringEnumField("operation", operationEncode, operationDecode).
			Description("Whether to convert XML to KBin (`encode`) or KBin to XML (`decode`).")).
		Field(service.NewBoolField("compression").
			Description("Pack node names when encoding. Defaults to uncompressed.").
			Optional()).
		Field(service.NewIntField("encoding").
			Description("Encoding tag used when encoding: 0 (none), 32 (ASCII), 64 (ISO-8859-1), 96 (EUC-JP), 128 (Shift-JIS) or 160 (UTF-8).").
			Example(160).
			Optional()).
		Field(service.NewBloblangField("options_mapping").
			Description("A Bloblang mapping evaluated per message whose result is an options object with optional `compression` and `encoding` fields. Fields it sets take precedence over the static fields.").
			Example(`root.encoding = meta("encoding").number().catch(null)`).
			Optional().
			Advanced()).
		Field(service.NewBoolField("pretty").
			Description("Keep the indented XML produced when decoding.").
			Default(false)).
		Field(service.NewStringEnumField("result_format", resultPayload, resultStructured, resultJSON, resultCBOR).
			Description("How the result is written: the raw `payload`, a `structured` object with `data` and `encoding`, or that object serialized as `json` or `cbor`.").
			Default(resultPayload)).
		Version("0.1.0")
}

// newKBinXMLProcessorFromConfig creates a new KBinXMLProcessor from a parsed config.
func newKBinXMLProcessorFromConfig(conf *service.ParsedConfig, mgr *service.Resources) (*KBinXMLProcessor, error) {
	operation, err := conf.FieldString("operation")
	if err != nil {
		return nil, err
	}

	pretty, err := conf.FieldBool("pretty")
	if err != nil {
		return nil, err
	}

	resultFormat, err := conf.FieldString("result_format")
	if err != nil {
		return nil, err
	}

	config := KBinXMLConfig{
		Operation:    operation,
		Pretty:       pretty,
		ResultFormat: resultFormat,
	}

	if conf.Contains("compression") {
		compression, err := conf.FieldBool("compression")
		if err != nil {
			return nil, err
		}
		config.Compression = &compression
	}

	if conf.Contains("encoding") {
		encoding, err := conf.FieldInt("encoding")
		if err != nil {
			return nil, err
		}
		if encoding < 0 || encoding > 0xFF {
			return nil, fmt.Errorf("encoding %d is outside 0..255", encoding)
		}
		if _, err := format.EncodingFromByte(byte(encoding)); err != nil {
			return nil, fmt.Errorf("invalid encoding: %w", err)
		}
		tag := uint8(encoding)
		config.Encoding = &tag
	}

	var mapping *bloblang.Executor
	if conf.Contains("options_mapping") {
		if mapping, err = conf.FieldBloblang("options_mapping"); err != nil {
			return nil, err
		}
	}

	logger := mgr.Logger()
	metrics := mgr.Metrics()

	return &KBinXMLProcessor{
		config:         config,
		converter:      kbinxml.NewConverter(kbinxml.WithLogger(slog.New(newServiceHandler(logger)))),
		optionsMapping: mapping,
		logger:         logger,
		mEncoded:       metrics.NewCounter("kbinxml_encoded"),
		mDecoded:       metrics.NewCounter("kbinxml_decoded"),
		mErrors:        metrics.NewCounter("kbinxml_errors"),
	}, nil
}

// Process converts a single message.
func (k *KBinXMLProcessor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	if k.config.Operation == operationDecode {
		return k.decode(ctx, msg)
	}
	return k.encode(ctx, msg)
}

// encode converts an XML message to KBin.
func (k *KBinXMLProcessor) encode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	k.logger.Debug("Encoding XML message to KBin")

	text, err := msg.AsBytes()
	if err != nil {
		return k.fail(msg, fmt.Errorf("failed to get XML data from message: %w", err))
	}

	req, err := k.request(msg)
	if err != nil {
		return k.fail(msg, err)
	}

	res, err := k.converter.Encode(ctx, text, req)
	if err != nil {
		return k.fail(msg, err)
	}

	k.logger.Debugf("Encoded %d bytes of XML to %d bytes of KBin (%s)", len(text), len(res.Data), res.Encoding)
	k.mEncoded.Incr(1)
	return k.emit(msg, res, res.Data, res.Encoding)
}

// decode converts a KBin message to XML.
func (k *KBinXMLProcessor) decode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	k.logger.Debug("Decoding KBin message to XML")

	data, err := msg.AsBytes()
	if err != nil {
		return k.fail(msg, fmt.Errorf("failed to get binary data from message: %w", err))
	}

	res, err := k.converter.Decode(ctx, data, k.config.Pretty)
	if err != nil {
		return k.fail(msg, err)
	}

	k.logger.Debugf("Decoded %d bytes of KBin to %d bytes of XML (%s)", len(data), len(res.Data), res.Encoding)
	k.mDecoded.Incr(1)
	return k.emit(msg, res, []byte(res.Data), res.Encoding)
}

// request builds the conversion request for msg from the static fields and
// the options mapping.
func (k *KBinXMLProcessor) request(msg *service.Message) (*kbinxml.ConversionRequest, error) {
	req := &kbinxml.ConversionRequest{
		Compression: k.config.Compression,
		Encoding:    k.config.Encoding,
	}
	if k.optionsMapping == nil {
		return req, nil
	}

	mapped, err := msg.BloblangQuery(k.optionsMapping)
	if err != nil {
		return nil, kbinxml.Translate(kbinxml.InvalidOption, fmt.Errorf("options mapping failed: %w", err))
	}
	if mapped == nil {
		return req, nil
	}
	value, err := mapped.AsStructured()
	if err != nil {
		return nil, kbinxml.Translate(kbinxml.InvalidOption, fmt.Errorf("options mapping result: %w", err))
	}

	override, err := kbinxml.RequestFromValue(value)
	if err != nil {
		return nil, err
	}
	if override.Compression != nil {
		req.Compression = override.Compression
	}
	if override.Encoding != nil {
		req.Encoding = override.Encoding
	}
	return req, nil
}

// emit writes a successful result in the configured format.
func (k *KBinXMLProcessor) emit(msg *service.Message, res kbinxml.Envelope, payload []byte, enc format.EncodingType) (service.MessageBatch, error) {
	newMsg := msg.Copy()

	switch k.config.ResultFormat {
	case resultStructured:
		newMsg.SetStructuredMut(res.AsMap())
	case resultJSON, resultCBOR:
		envelopeFormat, err := kbinxml.ParseEnvelopeFormat(k.config.ResultFormat)
		if err != nil {
			return k.fail(msg, kbinxml.Translate(kbinxml.ResultConversion, err))
		}
		out, err := kbinxml.MarshalEnvelope(res, envelopeFormat)
		if err != nil {
			return k.fail(msg, err)
		}
		newMsg.SetBytes(out)
	default:
		newMsg.SetBytes(payload)
	}

	newMsg.MetaSet(metaEncoding, encodingTag(enc))
	newMsg.MetaSet(metaEncodingName, enc.String())
	return service.MessageBatch{newMsg}, nil
}

// fail flags msg with err and passes it on unchanged.
func (k *KBinXMLProcessor) fail(msg *service.Message, err error) (service.MessageBatch, error) {
	kind := kbinxml.KindOf(err)
	k.logger.Errorf("KBin conversion failed (%s): %v", kind, err)
	k.mErrors.Incr(1)
	msg.MetaSet(metaErrorKind, kind.String())
	msg.SetError(err)
	return service.MessageBatch{msg}, nil
}

// Close the processor resources
func (k *KBinXMLProcessor) Close(ctx context.Context) error {
	k.logger.Debug("Closing kbinxml processor")
	return nil
}

// encodingTag formats an encoding tag the way it is stored in metadata.
func encodingTag(enc format.EncodingType) string {
	return strconv.Itoa(int(enc.Byte()))
}
