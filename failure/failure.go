package failure

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindIO
	KindValidation
	KindChain
	KindInvariant
	KindResumeConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindIO:
		return "IOError"
	case KindValidation:
		return "ValidationError"
	case KindChain:
		return "ChainError"
	case KindInvariant:
		return "InvariantViolation"
	case KindResumeConflict:
		return "ResumeConflict"
	default:
		return "Error"
	}
}

// Error annotates a fatal error with the component that raised it and the
// key it was working on (address, external id or logical contract name).
type Error struct {
	Kind      Kind
	Component string
	Key       string
	Err       error
}

func New(kind Kind, component, key string, err error) *Error {
	return &Error{Kind: kind, Component: component, Key: key, Err: err}
}

func Newf(kind Kind, component, key, format string, args ...any) *Error {
	return New(kind, component, key, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Component, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Component, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost annotated error in the chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Line renders err as the single line printed on a fatal exit.
func Line(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s: %s", fe.Kind, err.Error())
	}
	return err.Error()
}
