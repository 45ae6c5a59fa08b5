package kbinxml

import "errors"

// Kind is the stable discriminant of a boundary error.
type Kind uint8

const (
	// Unknown is reported by KindOf for errors that did not come from the
	// boundary.
	Unknown Kind = iota
	InvalidXML
	InvalidOption
	InvalidEncodingType
	ToXML
	ToBinary
	ResultConversion
	UTF8Error
)

var kindInfo = [...]struct {
	name    string
	message string
}{
	Unknown:             {"Unknown", "unknown error"},
	InvalidXML:          {"InvalidXML", "invalid xml"},
	InvalidOption:       {"InvalidOption", "invalid option"},
	InvalidEncodingType: {"InvalidEncodingType", "invalid encoding type"},
	ToXML:               {"ToXml", "to_xml error"},
	ToBinary:            {"ToBinary", "to_binary error"},
	ResultConversion:    {"ResultConversion", "result data conversion error"},
	UTF8Error:           {"Utf8Error", "from_utf8 error"},
}

// String returns the discriminant name exposed to hosts.
func (k Kind) String() string {
	if int(k) < len(kindInfo) {
		return kindInfo[k].name
	}
	return kindInfo[Unknown].name
}

func (k Kind) message() string {
	if int(k) < len(kindInfo) {
		return kindInfo[k].message
	}
	return kindInfo[Unknown].message
}

// Error is the single error type returned by the conversion boundary.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.message()
	}
	return e.Kind.message() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrInvalidXML)
// holds for every InvalidXML error regardless of its cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrInvalidXML          = &Error{Kind: InvalidXML}
	ErrInvalidOption       = &Error{Kind: InvalidOption}
	ErrInvalidEncodingType = &Error{Kind: InvalidEncodingType}
	ErrToXML               = &Error{Kind: ToXML}
	ErrToBinary            = &Error{Kind: ToBinary}
	ErrResultConversion    = &Error{Kind: ResultConversion}
	ErrUTF8                = &Error{Kind: UTF8Error}
)

// KindOf returns the kind of the first boundary error in err's chain, or
// Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Translate wraps err as a boundary error of the given kind. Errors that
// already carry a boundary kind are returned unchanged, and a nil err
// yields nil.
func Translate(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}
