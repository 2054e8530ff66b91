// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// The codes form a small, stable taxonomy clients can branch on: generic
// ones mirror HTTP status semantics, the domain-specific ones name the
// operation that failed when the status alone is ambiguous. Every non-stream
// failure pairs one of these with a status via fail().
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	ErrCodeStreamFailed     = "stream_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeUploadFailed     = "upload_failed"
	ErrCodeReprocessFailed  = "reprocess_failed"
	ErrCodeInvalidSettings  = "invalid_settings"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
