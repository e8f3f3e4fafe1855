// Package errors provides the structured error taxonomy of the survey workers and its
// mapping onto Zeebe job failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Remote profile service
const (
	ErrCodeAuthorizationDenied ErrorCode = "AUTHORIZATION_DENIED"
	ErrCodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"
	ErrCodeProfileAPIError     ErrorCode = "PROFILE_API_ERROR"
)

// Storage and infrastructure
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeLedgerOperationFailed    ErrorCode = "LEDGER_OPERATION_FAILED"
	ErrCodeQueueUnavailable         ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeAuditIndexFailed         ErrorCode = "AUDIT_INDEX_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// Input and configuration
const (
	ErrCodeInvalidSurveyAnswer ErrorCode = "INVALID_SURVEY_ANSWER"
	ErrCodeInvalidWebhook      ErrorCode = "INVALID_WEBHOOK_PAYLOAD"
	ErrCodeCatalogueInvalid    ErrorCode = "CATALOGUE_INVALID"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// WithMetadata returns the error with one more metadata entry.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
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

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Cause:     cause,
	}
}

// NewAuthorizationDeniedError is returned when the profile service answers 403.
func NewAuthorizationDeniedError(resource, details string) *StandardError {
	return newError(ErrCodeAuthorizationDenied, fmt.Sprintf("Not authorized to access %s", resource), details, false, nil).
		WithMetadata("resource", resource)
}

// NewTokenExpiredError is returned on 401 and when no access token can be obtained.
func NewTokenExpiredError(details string, cause error) *StandardError {
	return newError(ErrCodeTokenExpired, "Access token expired or unavailable", details, true, cause)
}

// NewProfileAPIError covers every other non-2xx status and transport failure.
func NewProfileAPIError(resource string, status int, details string, cause error) *StandardError {
	return newError(ErrCodeProfileAPIError, fmt.Sprintf("Profile service call on %s failed", resource), details, true, cause).
		WithMetadata("resource", resource).
		WithMetadata("status", status)
}

func NewDatabaseConnectionFailedError(backend string, err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, fmt.Sprintf("%s connection error", backend), err.Error(), true, err)
}

func NewLedgerOperationFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeLedgerOperationFailed, "Failure ledger operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true, err)
}

func NewQueueUnavailableError(err error) *StandardError {
	return newError(ErrCodeQueueUnavailable, "Task queue rejected the unit of work", err.Error(), true, err)
}

func NewAuditIndexFailedError(err error) *StandardError {
	return newError(ErrCodeAuditIndexFailed, "Audit document indexing failed", err.Error(), true, err)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true, err)
}

func NewInvalidSurveyAnswerError(details string) *StandardError {
	return newError(ErrCodeInvalidSurveyAnswer, "Survey answer is not valid", details, false, nil)
}

func NewInvalidWebhookError(details string) *StandardError {
	return newError(ErrCodeInvalidWebhook, "Webhook payload is not valid", details, false, nil)
}

func NewCatalogueInvalidError(details string) *StandardError {
	return newError(ErrCodeCatalogueInvalid, "Rule catalogue is not valid", details, false, nil)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false, err)
}

// ==========================
// 4. Classification
// ==========================

// AsStandardError finds the first StandardError in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsCode reports whether err's chain holds a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := AsStandardError(err)
	return ok && stdErr.Code == code
}

// CodeOf returns the code of err, INTERNAL_ERROR for unstructured errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the number of Zeebe retries granted to a failing job.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeLedgerOperationFailed,
		ErrCodeQueueUnavailable,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeAuditIndexFailed:
		return 1

	default:
		// Profile service faults are already recorded in the failure ledger and re-driven
		// by the sweep, so the job itself is not retried.
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case code == ErrCodeAuthorizationDenied || code == ErrCodeTokenExpired:
		return "AUTH"
	case strings.HasPrefix(codeStr, "PROFILE"):
		return "PROFILE_SERVICE"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "LEDGER"):
		return "STORAGE"
	case strings.Contains(codeStr, "QUEUE"):
		return "QUEUE"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "AUDIT"):
		return "SIDE_EFFECT"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
