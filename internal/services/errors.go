// Package services defines the business logic for threads, streaming chat,
// documents, and admin settings. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import "errors"

var (
	// ErrThreadNotFound indicates that the requested thread does not exist or
	// is not accessible to the current user.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrEmptyMessage is returned when a chat request contains an empty or
	// whitespace-only message.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrTooLong is returned when a chat request exceeds the maximum
	// configured length limit.
	ErrTooLong = errors.New("message too long")

	// ErrUnknownProvider is returned when a thread is switched to a provider
	// id outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderUnavailable is returned when the selected provider has no
	// configured client.
	ErrProviderUnavailable = errors.New("provider not available")

	// ErrDocumentNotFound indicates that the requested document does not
	// exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateDocument is returned when an upload reuses an existing
	// document name.
	ErrDuplicateDocument = errors.New("document name already exists")

	// ErrInvalidDocument is returned when an upload or patch carries an
	// invalid mode or empty content.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidSettings is returned when an admin settings save fails
	// validation.
	ErrInvalidSettings = errors.New("invalid settings")
)
