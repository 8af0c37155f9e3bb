package hparams

import (
	"errors"
	"fmt"
)

var (
	// ErrNotMapping is returned when the document root is not a YAML mapping.
	ErrNotMapping = errors.New("document root must be a mapping")
	// ErrNotFlat is returned when a value is a nested mapping or a nested list.
	ErrNotFlat = errors.New("values must be scalars or flat lists of scalars")
	// ErrDuplicateKey is returned when the same option appears more than once.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrInvalidOverride is returned for overrides not of the form key=value.
	ErrInvalidOverride = errors.New("override must have the form key=value")
	// ErrIntRange is returned for integer literals that do not fit in an int64.
	ErrIntRange = errors.New("integer out of int64 range")
	// ErrDecode is returned when a document cannot be decoded into TrainConfig.
	ErrDecode = errors.New("decode training config")
)

// ParseError points at the location of a problem in the source document.
type ParseError struct {
	Line int
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	switch {
	case e.Key != "" && e.Line > 0:
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Key, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s: %v", e.Key, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
