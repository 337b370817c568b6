package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowErrorFormat(t *testing.T) {
	err := NewError(ErrCodeTimeout, "wait expired")
	assert.Equal(t, "[TIMEOUT_ERROR] wait expired", err.Error())

	err = err.WithStep("s1")
	assert.Equal(t, "[TIMEOUT_ERROR] step s1: wait expired", err.Error())
}

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorf(ErrCodeStepExecution, "body failed: %s", cause.Error()).WithCause(cause)

	assert.True(t, errors.Is(err, cause))

	var fe *FlowError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeStepExecution, fe.Code)
}

func TestFlowErrorRetryable(t *testing.T) {
	cases := []struct {
		code      string
		retryable bool
	}{
		{ErrCodeStepExecution, true},
		{ErrCodeToolExecution, true},
		{ErrCodeTimeout, true},
		{ErrCodeValidation, true},
		{ErrCodeToolNotFound, true},
		{ErrCodeSchemaValidation, true},
		{ErrCodeCancelled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.retryable, NewError(tc.code, "x").IsRetryable(), tc.code)
	}
}

func TestFlowErrorDetails(t *testing.T) {
	err := NewError(ErrCodeSchemaValidation, "params do not match schema").
		WithDetails(map[string]any{"failures": []string{"x: expected number"}})
	assert.Len(t, err.Details["failures"], 1)
}
