package router

import "errors"

// ErrBadRequest marks request parsing failures.
var ErrBadRequest = errors.New("bad request")

// Error codes
const (
	ErrInternalCode           = "INTERNAL_ERROR"
	ErrBadRequestCode         = "BAD_REQUEST"
	ErrUnauthorizedCode       = "UNAUTHORIZED"
	ErrNotFoundCode           = "NOT_FOUND"
	ErrConflictCode           = "CONFLICT"
	ErrValidationCode         = "VALIDATION_FAILED"
	ErrExpiredCode            = "EXPIRED"
	ErrSubmissionCode         = "SUBMISSION_FAILED"
	ErrServiceUnavailableCode = "SERVICE_UNAVAILABLE"
)
