package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	cause := errors.New("disk gone")

	parseErr := NewParseError("not json", cause)
	validationErr := NewValidationError("doc-1", []string{"duplicate id f1", "image numbering not contiguous"})
	fetchErr := NewFetchError("doc-1", "FetchOutline", cause)
	unavailable := NewResolverUnavailable("doc-1")

	assert.True(t, IsParseError(parseErr))
	assert.True(t, IsValidationError(validationErr))
	assert.True(t, IsFetchError(fetchErr))
	assert.True(t, IsResolverUnavailable(unavailable))

	assert.False(t, IsParseError(fetchErr))
	assert.False(t, IsValidationError(cause))

	wrapped := fmt.Errorf("recompute: %w", validationErr)
	assert.True(t, IsValidationError(wrapped))
	assert.Equal(t, []string{"duplicate id f1", "image numbering not contiguous"}, ValidationReasons(wrapped))
	assert.Nil(t, ValidationReasons(fetchErr))

	assert.ErrorIs(t, fetchErr, cause)
}

func TestErrorMessage(t *testing.T) {
	err := NewValidationError("doc-1", []string{"a", "b"})
	assert.Equal(t, "VALIDATION_FAILED: candidate state rejected (2 violations) [a; b] (key=doc-1)", err.Error())

	err2 := NewFetchError("doc-2", "FetchOutline", errors.New("boom"))
	assert.Equal(t, "FETCH_FAILED: FetchOutline failed (key=doc-2): boom", err2.Error())
}
