// Package apperr carries the machine-readable error taxonomy returned by
// the HTTP layer: every error response is {"error": {"message", "code"}}.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a business or authorization failure with an HTTP status and a
// stable code string.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns a copy carrying extra response details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

func Unauthorized(code, message string) *Error {
	return New(http.StatusUnauthorized, code, message)
}

func Forbidden(code, message string) *Error {
	return New(http.StatusForbidden, code, message)
}

func NotFound(code, message string) *Error {
	return New(http.StatusNotFound, code, message)
}

func Conflict(code, message string) *Error {
	return New(http.StatusConflict, code, message)
}

func Unprocessable(code, message string) *Error {
	return New(http.StatusUnprocessableEntity, code, message)
}

// Internal wraps an unexpected failure; the cause is never rendered to
// clients outside development mode.
func Internal(code string, err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: code, Message: "Internal server error", Err: err}
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// Codes used across the API.
const (
	CodeMissingAPIKey        = "MISSING_API_KEY"
	CodeInvalidAPIKeyFormat  = "INVALID_API_KEY_FORMAT"
	CodeInvalidAPIKey        = "INVALID_API_KEY"
	CodeAPIKeyRevoked        = "API_KEY_REVOKED"
	CodeCaptiveInactive      = "CAPTIVE_INACTIVE"
	CodeAPIKeyExpired        = "API_KEY_EXPIRED"
	CodeAuthError            = "AUTH_ERROR"
	CodeInsufficientPerms    = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimited          = "RATE_LIMITED"
	CodeMissingToken         = "MISSING_TOKEN"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountInactive      = "ACCOUNT_INACTIVE"
	CodeInsufficientRole     = "INSUFFICIENT_ROLE"
	CodeMissingIdentifier    = "MISSING_IDENTIFIER"
	CodeCollectionNotFound   = "COLLECTION_NOT_FOUND"
	CodePolicyNotFound       = "POLICY_NOT_FOUND"
	CodeCaptiveNotFound      = "CAPTIVE_NOT_FOUND"
	CodeAPIKeyNotFound       = "API_KEY_NOT_FOUND"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidAmount        = "INVALID_AMOUNT"
	CodeInvalidDate          = "INVALID_DATE"
	CodeNoUpdateFields       = "NO_UPDATE_FIELDS"
	CodeInvalidTransition    = "INVALID_STATUS_TRANSITION"
	CodeInvalidCollections   = "INVALID_COLLECTIONS_ARRAY"
	CodeBatchSizeExceeded    = "BATCH_SIZE_EXCEEDED"
	CodeBatchRolledBack      = "BATCH_ROLLED_BACK"
	CodeBulkUpdateFailed     = "BULK_UPDATE_FAILED"
	CodeUpdateFailed         = "UPDATE_FAILED"
	CodeMissingPolicyNumber  = "MISSING_POLICY_NUMBER"
	CodeMissingRequired      = "MISSING_REQUIRED_FIELDS"
	CodeInvalidPolicyStatus  = "INVALID_POLICY_STATUS"
	CodeInvalidFrequency     = "INVALID_FREQUENCY"
	CodePolicyNumberConflict = "POLICY_NUMBER_CONFLICT"
	CodePolicyInactive       = "POLICY_INACTIVE"
	CodeInvalidCollType      = "INVALID_COLLECTION_TYPE"
	CodeCaptiveCodeExists    = "CAPTIVE_CODE_EXISTS"
	CodeCaptiveHasDependents = "CAPTIVE_HAS_DEPENDENTS"
	CodeInvalidPermission    = "INVALID_PERMISSION"
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUserExists           = "USER_EXISTS"
	CodeInvalidRole          = "INVALID_ROLE"
	CodeDatabaseUnavailable  = "DATABASE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)
