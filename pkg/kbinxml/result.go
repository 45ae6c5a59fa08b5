package kbinxml

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/twinfer/kbinxml-plugin/format"
)

// BinaryResult is the output of an encode call.
type BinaryResult struct {
	Data     []byte
	Encoding format.EncodingType
}

// AsMap returns the envelope handed to hosts: {"data": bytes, "encoding": tag}.
func (r *BinaryResult) AsMap() map[string]any {
	return map[string]any{
		"data":     r.Data,
		"encoding": int(r.Encoding.Byte()),
	}
}

// XMLResult is the output of a decode call.
type XMLResult struct {
	Data     string
	Encoding format.EncodingType
}

// AsMap returns the envelope handed to hosts: {"data": text, "encoding": tag}.
func (r *XMLResult) AsMap() map[string]any {
	return map[string]any{
		"data":     r.Data,
		"encoding": int(r.Encoding.Byte()),
	}
}

// Envelope is a conversion result that can be marshalled for a host.
type Envelope interface {
	AsMap() map[string]any
}

// EnvelopeFormat selects the wire form of a marshalled envelope.
type EnvelopeFormat uint8

const (
	EnvelopeJSON EnvelopeFormat = iota + 1
	EnvelopeCBOR
)

func (f EnvelopeFormat) String() string {
	switch f {
	case EnvelopeJSON:
		return "json"
	case EnvelopeCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("EnvelopeFormat(%d)", uint8(f))
	}
}

// ParseEnvelopeFormat resolves a format name ("json" or "cbor").
func ParseEnvelopeFormat(name string) (EnvelopeFormat, error) {
	switch strings.ToLower(name) {
	case "json":
		return EnvelopeJSON, nil
	case "cbor":
		return EnvelopeCBOR, nil
	}
	return 0, fmt.Errorf("unknown envelope format %q", name)
}

var cborEncMode cbor.EncMode

func init() {
	var err error
	// Core Deterministic Encoding keeps envelope bytes stable across runs.
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("kbinxml: CBOR encoder initialization failed: " + err.Error())
	}
}

// MarshalEnvelope encodes r in the given format. Any failure is a
// ResultConversion error.
func MarshalEnvelope(r Envelope, f EnvelopeFormat) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch f {
	case EnvelopeJSON:
		out, err = json.Marshal(r.AsMap())
	case EnvelopeCBOR:
		out, err = cborEncMode.Marshal(r.AsMap())
	default:
		err = fmt.Errorf("unsupported envelope format %s", f)
	}
	if err != nil {
		return nil, &Error{Kind: ResultConversion, Err: err}
	}
	return out, nil
}
