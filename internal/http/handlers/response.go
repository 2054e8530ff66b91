// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelope shared by every endpoint. Failures
// always carry a stable machine-readable code plus the request id, so a
// client can show the message and quote the id; the chat stream is the one
// exception, since errors after the first delta travel as terminal stream
// records instead (see chat_handler.go).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/confchat/go-confchat-backend/internal/http/middleware"
)

// ErrorResponse is the error envelope for all non-streaming failures. Code
// values are the errors.go constants; Message is safe to show to users.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"resource not found"`
}

// fail aborts the request with the envelope. Server-side failures (5xx) are
// logged through the request-scoped logger; 4xx are the client's problem and
// stay out of the error log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail exposes fail to the router for NoRoute/NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
