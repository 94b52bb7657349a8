package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Matching
// ==========================

func TestStandardError_Is(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewTemplateNotFoundError("order_confirmed", "email", "patient", "fr"))

	assert.True(t, stderrors.Is(err, ErrTemplateNotFound))
	assert.False(t, stderrors.Is(err, ErrValidation))

	stdErr, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeTemplateNotFound, stdErr.Code)
}

func TestStandardError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStoreError("find template", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "standard error", err: NewInvalidInputError("bad"), wantCode: ErrCodeInvalidInput},
		{name: "wrapped standard error", err: fmt.Errorf("x: %w", NewChannelUnavailableError("sms")), wantCode: ErrCodeChannelUnavailable},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), wantCode: ErrCodeTimeout},
		{name: "plain error", err: stderrors.New("boom"), wantCode: ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, Normalize(tt.err).Code)
		})
	}
}

// ==========================
// BPMN conversion
// ==========================

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{name: "template not found", err: NewTemplateNotFoundError("t", "email", "patient", "en"), wantCode: "TEMPLATE_NOT_FOUND", wantRetries: 0},
		{name: "validation", err: NewValidationError("invalid", nil), wantCode: "TEMPLATE_VALIDATION_FAILED", wantRetries: 0},
		{name: "all channels failed", err: NewAllChannelsFailedError([]string{"websocket", "email"}, nil), wantCode: "NOTIFICATION_SEND_FAILED", wantRetries: 0},
		{name: "store", err: NewStoreError("insert", stderrors.New("down")), wantCode: "TEMPLATE_STORE_ERROR", wantRetries: 3},
		{name: "external", err: NewExternalServiceError("translator", stderrors.New("502")), wantCode: "EXTERNAL_SERVICE_ERROR", wantRetries: 3},
		{name: "timeout", err: NewTimeoutError("ses", nil), wantCode: "TIMEOUT", wantRetries: 2},
		{name: "channel unavailable", err: NewChannelUnavailableError("sms"), wantCode: "CHANNEL_UNAVAILABLE", wantRetries: 2},
		{name: "internal", err: Normalize(stderrors.New("boom")), wantCode: "INTERNAL_ERROR", wantRetries: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.ErrorVariables["originalErrorCode"])
		})
	}
}

func TestBPMNError_ToErrorVariables(t *testing.T) {
	fields := []FieldError{{Field: "subject", Message: "required"}}
	bpmn := ConvertToBPMNError(NewValidationError("invalid template", fields))

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "TEMPLATE_VALIDATION_FAILED", vars["errorCode"])
	assert.Equal(t, "invalid template", vars["errorMessage"])
	assert.Equal(t, false, vars["retryable"])
	assert.Equal(t, fields, vars["fieldErrors"])
}

// ==========================
// Utilities
// ==========================

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "TEMPLATE", GetErrorCategory(ErrCodeVersionNotFound))
	assert.Equal(t, "DELIVERY", GetErrorCategory(ErrCodeAllChannelsFailed))
	assert.Equal(t, "LOCALIZATION", GetErrorCategory(ErrCodeTranslation))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidInput))
	assert.Equal(t, "INFRASTRUCTURE", GetErrorCategory(ErrCodeTimeout))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeExternal))
	assert.True(t, IsRetryableErrorCode(ErrCodeTimeout))
	assert.False(t, IsRetryableErrorCode(ErrCodeInvalidInput))
}

func TestSortFields(t *testing.T) {
	fields := []FieldError{
		{Field: "title", Message: "a"},
		{Field: "body", Message: "b"},
		{Field: "title", Message: "c"},
	}
	SortFields(fields)

	assert.Equal(t, []FieldError{
		{Field: "body", Message: "b"},
		{Field: "title", Message: "a"},
		{Field: "title", Message: "c"},
	}, fields)
}
