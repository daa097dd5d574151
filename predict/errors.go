package predict

import (
	"errors"
	"fmt"
)

// Kind classifies a failed prediction request.
type Kind string

const (
	KindBadInput         Kind = "bad_input"
	KindModelUnavailable Kind = "model_unavailable"
	KindUnsupportedModel Kind = "unsupported_model"
	KindInference        Kind = "inference_error"
)

// Sentinels for errors.Is on an *Error of the matching Kind.
var (
	ErrBadInput         = errors.New("bad input")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrUnsupportedModel = errors.New("unsupported model type")
	ErrInference        = errors.New("prediction failed")
)

// Error is returned for every failed request. Field names the first offending form
// field for bad input.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrBadInput:
		return e.Kind == KindBadInput
	case ErrModelUnavailable:
		return e.Kind == KindModelUnavailable
	case ErrUnsupportedModel:
		return e.Kind == KindUnsupportedModel
	case ErrInference:
		return e.Kind == KindInference
	}
	return false
}

// KindOf returns the Kind of err, KindInference for errors not produced here.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInference
}

func badInput(field string, err error) *Error {
	return &Error{Kind: KindBadInput, Field: field, Err: fmt.Errorf("%s: %w", field, err)}
}
