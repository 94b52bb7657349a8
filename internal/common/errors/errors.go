// Package errors provides the standardized error taxonomy shared by the template,
// localization and delivery services, plus the BPMN mapping used by the Zeebe workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTemplateNotFound   ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
	ErrCodeAllChannelsFailed  ErrorCode = "ALL_CHANNELS_FAILED"
	ErrCodeTranslation        ErrorCode = "TRANSLATION_ERROR"
	ErrCodeVersionNotFound    ErrorCode = "VERSION_NOT_FOUND"

	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeStore          ErrorCode = "STORE_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnsupported    ErrorCode = "UNSUPPORTED_CHANNEL"
	ErrCodeDeliveryFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeExternal       ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// FieldError is a single field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Fields    []FieldError           `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is matches any StandardError carrying the same code, so the exported
// sentinels below work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *StandardError) Unwrap() error { return e.cause }

// Sentinels for errors.Is checks.
var (
	ErrTemplateNotFound   = &StandardError{Code: ErrCodeTemplateNotFound}
	ErrValidation         = &StandardError{Code: ErrCodeValidation}
	ErrChannelUnavailable = &StandardError{Code: ErrCodeChannelUnavailable}
	ErrAllChannelsFailed  = &StandardError{Code: ErrCodeAllChannelsFailed}
	ErrTranslation        = &StandardError{Code: ErrCodeTranslation}
	ErrVersionNotFound    = &StandardError{Code: ErrCodeVersionNotFound}
	ErrInvalidInput       = &StandardError{Code: ErrCodeInvalidInput}
	ErrStore              = &StandardError{Code: ErrCodeStore}
	ErrUnsupportedChannel = &StandardError{Code: ErrCodeUnsupported}
)

// As extracts a StandardError from err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewTemplateNotFoundError reports that no active template matched the lookup,
// including after every fallback language was tried.
func NewTemplateNotFoundError(templateType, channel, role, language string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found",
		Details:   fmt.Sprintf("type=%s channel=%s role=%s language=%s", templateType, channel, role, language),
		Retryable: false,
		Metadata: map[string]interface{}{
			"type":     templateType,
			"channel":  channel,
			"role":     role,
			"language": language,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateIDNotFoundError is the by-id variant of NewTemplateNotFoundError.
func NewTemplateIDNotFoundError(templateID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Template not found",
		Details:   fmt.Sprintf("templateId: %s", templateID),
		Retryable: false,
		Metadata:  map[string]interface{}{"templateId": templateID},
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable validation error carrying field messages.
func NewValidationError(message string, fields []FieldError) *StandardError {
	details := make([]string, 0, len(fields))
	for _, f := range fields {
		details = append(details, f.Field+": "+f.Message)
	}
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   message,
		Details:   strings.Join(details, "; "),
		Retryable: false,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	}
}

// NewChannelUnavailableError is returned when a channel's health circuit is open.
func NewChannelUnavailableError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelUnavailable,
		Message:   fmt.Sprintf("Channel %s is currently unavailable", channel),
		Retryable: true,
		Metadata:  map[string]interface{}{"channel": channel},
		Timestamp: time.Now().UTC(),
	}
}

// NewAllChannelsFailedError lists every channel that was tried. lastErr, when
// present, supplies the most specific failure message.
func NewAllChannelsFailedError(channelsTried []string, lastErr error) *StandardError {
	e := &StandardError{
		Code:      ErrCodeAllChannelsFailed,
		Message:   "All delivery channels failed",
		Details:   "channels tried: " + strings.Join(channelsTried, ", "),
		Retryable: false,
		Metadata:  map[string]interface{}{"channelsTried": channelsTried},
		Timestamp: time.Now().UTC(),
		cause:     lastErr,
	}
	if lastErr != nil {
		e.Metadata["lastError"] = lastErr.Error()
	}
	return e
}

// NewTranslationError wraps a translation provider failure for one language.
func NewTranslationError(language string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTranslation,
		Message:   fmt.Sprintf("Translation to %s failed", language),
		Details:   errString(err),
		Retryable: true,
		Metadata:  map[string]interface{}{"language": language},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewVersionNotFoundError is returned when a rollback target is not in history.
func NewVersionNotFoundError(templateID, version string) *StandardError {
	return &StandardError{
		Code:      ErrCodeVersionNotFound,
		Message:   "Version not found in template history",
		Details:   fmt.Sprintf("templateId: %s, version: %s", templateID, version),
		Retryable: false,
		Metadata:  map[string]interface{}{"templateId": templateID, "version": version},
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidInputError creates a non-retryable input error.
func NewInvalidInputError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidInput,
		Message:   "Invalid input",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreError wraps a persistence failure. Store errors are retryable.
func NewStoreError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStore,
		Message:   fmt.Sprintf("Template store %s failed", operation),
		Details:   errString(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewUnsupportedChannelError is returned when no strategy is registered for a channel.
func NewUnsupportedChannelError(channel string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnsupported,
		Message:   fmt.Sprintf("Unsupported delivery channel: %s", channel),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryFailedError creates a retryable notification send error.
func NewDeliveryFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, errString(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewExternalServiceError wraps a failure of a dependency such as the workflow
// broker. These are retryable.
func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternal,
		Message:   fmt.Sprintf("External service '%s' failed", service),
		Details:   errString(err),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTimeoutError creates a retryable timeout error.
func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   errString(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeTemplateNotFound:   "TEMPLATE_NOT_FOUND",
	ErrCodeValidation:         "TEMPLATE_VALIDATION_FAILED",
	ErrCodeChannelUnavailable: "CHANNEL_UNAVAILABLE",
	ErrCodeAllChannelsFailed:  "NOTIFICATION_SEND_FAILED",
	ErrCodeTranslation:        "TRANSLATION_FAILED",
	ErrCodeVersionNotFound:    "VERSION_NOT_FOUND",
	ErrCodeInvalidInput:       "INVALID_INPUT",
	ErrCodeStore:              "TEMPLATE_STORE_ERROR",
	ErrCodeTimeout:            "TIMEOUT",
	ErrCodeUnsupported:        "UNSUPPORTED_CHANNEL",
	ErrCodeDeliveryFailed:     "NOTIFICATION_SEND_FAILED",
	ErrCodeExternal:           "EXTERNAL_SERVICE_ERROR",
}

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStore,
		ErrCodeDeliveryFailed,
		ErrCodeTranslation,
		ErrCodeExternal:
		return 3

	case ErrCodeTimeout,
		ErrCodeChannelUnavailable:
		return 2

	default:
		return 0 // business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if len(stdErr.Fields) > 0 {
		vars["fieldErrors"] = stdErr.Fields
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeTemplateNotFound, ErrCodeVersionNotFound, ErrCodeStore:
		return "TEMPLATE"
	case ErrCodeChannelUnavailable, ErrCodeAllChannelsFailed, ErrCodeDeliveryFailed, ErrCodeUnsupported:
		return "DELIVERY"
	case ErrCodeTranslation:
		return "LOCALIZATION"
	case ErrCodeValidation, ErrCodeInvalidInput:
		return "VALIDATION"
	case ErrCodeExternal, ErrCodeTimeout:
		return "INFRASTRUCTURE"
	default:
		return "OTHER"
	}
}

// SortFields orders field errors by field name, keeping messages for the same
// field in insertion order.
func SortFields(fields []FieldError) {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
}
