package bencode

import (
	"errors"
	"fmt"
	"io"
)

// ErrorKind enumerates every way decoding can fail. It mirrors the source's
// flat error enum rather than a tree of wrapped Go error types, since every
// variant but InvalidChar/ExpectedChar carries no extra data.
type ErrorKind int

const (
	EIO ErrorKind = iota
	EEOF
	EParseInt
	EParseBytes
	EParseString
	EParseList
	EParseDict
	EInvalidChar
	EExpectedChar
	EDepthLimit
	EItemLimit
)

func (k ErrorKind) String() string {
	switch k {
	case EIO:
		return "IO"
	case EEOF:
		return "EOF"
	case EParseInt:
		return "ParseInt"
	case EParseBytes:
		return "ParseBytes"
	case EParseString:
		return "ParseString"
	case EParseList:
		return "ParseList"
	case EParseDict:
		return "ParseDict"
	case EInvalidChar:
		return "InvalidChar"
	case EExpectedChar:
		return "ExpectedChar"
	case EDepthLimit:
		return "DepthLimit"
	case EItemLimit:
		return "ItemLimit"
	default:
		return "Unknown"
	}
}

// Error is a bencode decode/encode failure. Byte is only meaningful for
// InvalidChar and ExpectedChar.
type Error struct {
	Kind ErrorKind
	Byte byte
}

func newError(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

func newCharError(kind ErrorKind, b byte) *Error {
	return &Error{Kind: kind, Byte: b}
}

func (e *Error) Error() string {
	switch e.Kind {
	case EInvalidChar:
		return fmt.Sprintf("bencode: invalid character %q", e.Byte)
	case EExpectedChar:
		return fmt.Sprintf("bencode: expected character %q", e.Byte)
	default:
		return "bencode: " + e.Kind.String()
	}
}

// Is lets errors.Is(err, &Error{Kind: EEOF}) match by kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// ToIOError converts a decode error crossing the reactor boundary: EOF
// becomes io.ErrUnexpectedEOF, everything else becomes a generic invalid
// data error whose message names the original code.
func ToIOError(err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, EEOF) {
		return io.ErrUnexpectedEOF
	}
	var be *Error
	if errors.As(err, &be) {
		return fmt.Errorf("invalid data (%s): %w", be.Kind, err)
	}
	return err
}
