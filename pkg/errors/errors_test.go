package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultHttpCode(t *testing.T) {
	e := New(5001, 0, "boom", nil)
	assert.Equal(t, 500, e.HttpCode)
	assert.Equal(t, "boom", e.Error())
}

func TestWithError_DoesNotMutate(t *testing.T) {
	base := New(5002, 502, "dial failed", nil)
	wrapped := base.WithError(io.EOF)

	assert.Nil(t, base.Err)
	assert.Equal(t, "dial failed: EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.EOF)
	assert.ErrorIs(t, wrapped, base)
}

func TestIs_ComparesCode(t *testing.T) {
	a := New(3001, 404, "a", nil)
	b := New(3001, 500, "b", nil)
	c := New(3002, 404, "a", nil)

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", ErrNotFound.WithMessage("campaign missing"))
	assert.Equal(t, 1004, CodeOf(err))
	assert.Equal(t, 0, CodeOf(io.EOF))
}
