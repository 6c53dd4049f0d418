// Package errs defines the stable error kinds reported by the engine.
//
// Every failure that reaches a caller carries a Kind and, where it applies,
// the violated constraint in Fields so the caller can correct and retry.
package errs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindModelMismatch      Kind = "model_mismatch"
	KindCollectionNotFound Kind = "collection_not_found"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindValidation         Kind = "validation"
	KindCapabilityTimeout  Kind = "capability_timeout"
	KindCapabilityError    Kind = "capability_error"
	KindNotFound           Kind = "not_found"
	KindStore              Kind = "store_error"
	KindInternal           Kind = "internal"
)

var (
	ErrModelMismatch      = &Error{Kind: KindModelMismatch}
	ErrCollectionNotFound = &Error{Kind: KindCollectionNotFound}
	ErrDimensionMismatch  = &Error{Kind: KindDimensionMismatch}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrCapabilityTimeout  = &Error{Kind: KindCapabilityTimeout}
	ErrCapabilityError    = &Error{Kind: KindCapabilityError}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrStore              = &Error{Kind: KindStore}
)

type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Fields[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels, so errors.Is(err, errs.ErrModelMismatch)
// holds for any model mismatch regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Fields == nil && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) With(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

func Validation(format string, args ...any) *Error {
	return Newf(KindValidation, format, args...)
}

func NotFound(what, id string) *Error {
	return Newf(KindNotFound, "%s not found", what).
		With("resource", what).
		With(what+"_id", id)
}

func CollectionNotFound(name string) *Error {
	return New(KindCollectionNotFound, "collection not found").With("collection", name)
}

func ModelMismatch(collection, boundModel, requestedModel string) *Error {
	return Newf(KindModelMismatch, "collection is bound to %s, requested %s", boundModel, requestedModel).
		With("collection", collection).
		With("bound_model", boundModel).
		With("requested_model", requestedModel)
}

func DimensionMismatch(collection string, expected, actual int) *Error {
	return Newf(KindDimensionMismatch, "vector has %d dimensions, collection expects %d", actual, expected).
		With("collection", collection).
		With("expected_dimension", expected).
		With("actual_dimension", actual)
}

// Capability classifies a failure of an external embedding or completion call.
// Typed errors pass through untouched.
func Capability(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindCapabilityTimeout, op+" timed out", err).With("operation", op)
	}
	return Wrap(KindCapabilityError, op+" failed", err).With("operation", op)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// MessageOf returns the message of the first *Error in err's chain.
func MessageOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	return err.Error()
}

func FieldsOf(err error) map[string]any {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Fields
	}
	return nil
}
