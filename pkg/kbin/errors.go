package kbin

import "errors"

var (
	ErrInvalidSignature = errors.New("kbin: invalid signature")
	ErrInvalidHeader    = errors.New("kbin: invalid header")
	ErrTruncated        = errors.New("kbin: truncated data")
	ErrUnknownNodeType  = errors.New("kbin: unknown node type")
	ErrInvalidName      = errors.New("kbin: invalid node name")
	ErrUnencodable      = errors.New("kbin: string not representable in encoding")
	ErrMalformedTree    = errors.New("kbin: malformed node tree")
)
