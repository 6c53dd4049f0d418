package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := ModelMismatch("docs-a", "text-embedding-3-small", "text-embedding-3-large")
	wrapped := fmt.Errorf("ingest failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrModelMismatch))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.Equal(t, KindModelMismatch, KindOf(wrapped))

	fields := FieldsOf(wrapped)
	require.NotNil(t, fields)
	assert.Equal(t, "text-embedding-3-small", fields["bound_model"])
	assert.Equal(t, "text-embedding-3-large", fields["requested_model"])
	assert.Contains(t, err.Error(), "bound_model=text-embedding-3-small")
}

func TestCapabilityClassification(t *testing.T) {
	timeout := Capability("embed", fmt.Errorf("call: %w", context.DeadlineExceeded))
	assert.True(t, errors.Is(timeout, ErrCapabilityTimeout))
	assert.True(t, errors.Is(timeout, context.DeadlineExceeded))

	failure := Capability("complete", errors.New("boom"))
	assert.True(t, errors.Is(failure, ErrCapabilityError))

	typed := DimensionMismatch("c", 3, 2)
	assert.Same(t, typed, Capability("embed", typed))
	assert.NoError(t, Capability("embed", nil))
}

func TestKindOfUntyped(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Nil(t, FieldsOf(errors.New("plain")))
}

func TestNotFoundCarriesResource(t *testing.T) {
	err := NotFound("session", "abc")
	assert.Equal(t, "session not found", MessageOf(err))
	assert.Equal(t, "session", FieldsOf(err)["resource"])
	assert.Equal(t, "abc", FieldsOf(err)["session_id"])
	assert.Equal(t, "plain", MessageOf(errors.New("plain")))
}
