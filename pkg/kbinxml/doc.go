// Package kbinxml is the conversion boundary between XML text and KBin
// binary documents.
//
// It resolves caller options, runs the conversion through a Codec (by
// default the one in pkg/kbin), normalizes generated text and reports every
// failure as an *Error with a stable Kind.
//
// # Encoding
//
//	res, err := kbinxml.Encode(xmlText, &kbinxml.ConversionRequest{Compression: &on})
//
// The output encoding is the requested one, else the encoding declared by
// the document, else format.EncodingNone. An explicit encoding that is not
// one of the six defined tags fails with InvalidEncodingType before any
// parsing happens.
//
// # Decoding
//
//	res, err := kbinxml.Decode(bin, false)
//
// Decoding takes no encoding option: the binary header records it. Without
// pretty, the generated text is compacted (see Compact).
//
// # Errors
//
// Callers match kinds with errors.Is against the sentinels or with KindOf:
//
//	if errors.Is(err, kbinxml.ErrInvalidEncodingType) { ... }
//
// ResultConversion is only produced by MarshalEnvelope and marks a failure
// to hand a result to the host rather than a problem with the input.
package kbinxml
