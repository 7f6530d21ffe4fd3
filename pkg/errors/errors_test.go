package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	meta := MetadataFor(CodeStateConflict)
	assert.Equal(t, http.StatusUnprocessableEntity, meta.HTTPStatus)
	assert.True(t, meta.DetailsAllowed)

	meta = MetadataFor(CodeInsufficientStock)
	assert.Equal(t, http.StatusConflict, meta.HTTPStatus)
	assert.False(t, meta.Retryable)
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("SOMETHING_ELSE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("row locked")
	err := Wrap(CodeConflict, cause, "update order")

	require.NotNil(t, err)
	assert.Equal(t, CodeConflict, err.Code())
	assert.ErrorIs(t, err, cause)
}

func TestWithCurrentStatus(t *testing.T) {
	err := New(CodeStateConflict, "transition not allowed").
		WithDetails(map[string]any{"target": "DELIVERED"}).
		WithCurrentStatus("PENDING")

	details, ok := err.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PENDING", details["current_status"])
	assert.Equal(t, "DELIVERED", details["target"])
}

func TestAsUnwrapsNestedError(t *testing.T) {
	inner := New(CodeNotFound, "order missing")
	wrapped := fmt.Errorf("loading: %w", inner)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeNotFound, typed.Code())

	assert.Nil(t, As(fmt.Errorf("plain")))
	assert.Nil(t, As(nil))
}
