package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := Validation("complexity hint %d outside [1,10]", 11)
	assert.Equal(t, "validation: complexity hint 11 outside [1,10]", err.Error())

	cause := errors.New("disk full")
	perr := Persistence("append telemetry", cause)
	assert.Equal(t, "persistence: append telemetry (disk full)", perr.Error())
	assert.ErrorIs(t, perr, cause)
}

func TestIsCodeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("recommend: %w", Validation("description is required"))

	assert.True(t, IsCode(wrapped, CodeValidation))
	assert.False(t, IsCode(wrapped, CodePersistence))
	assert.False(t, IsCode(errors.New("plain"), CodeValidation))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "description is required", e.Message)
}
