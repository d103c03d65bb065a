package model

import (
	"fmt"
	"strings"
	"time"
)

// Field length limits for caller-supplied text. These bound Postgres TEXT
// columns and the prompt sent to the model collaborator; the guardrail layer
// applies its own, stricter message ceiling.
const (
	MaxMessageLen  = 8 * 1024
	MaxResponseLen = 16 * 1024
	MaxNotesLen    = 4 * 1024
	MaxUsernameLen = 64
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// Validate checks the chat request before it enters the pipeline.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if len(r.Message) > MaxMessageLen {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrValidation, MaxMessageLen)
	}
	return nil
}

// ReviewRequest is the body of the approve/reject HITL endpoints.
type ReviewRequest struct {
	Response string  `json:"response"`
	Notes    *string `json:"notes,omitempty"`
}

// Validate checks the reviewer-supplied response.
func (r ReviewRequest) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: response is required", ErrValidation)
	}
	if len(r.Response) > MaxResponseLen {
		return fmt.Errorf("%w: response exceeds %d bytes", ErrValidation, MaxResponseLen)
	}
	if r.Notes != nil && len(*r.Notes) > MaxNotesLen {
		return fmt.Errorf("%w: notes exceed %d bytes", ErrValidation, MaxNotesLen)
	}
	return nil
}

// EditRequest is the body of POST /api/hitl/escalations/{id}/edit.
type EditRequest struct {
	OriginalResponse string `json:"original_response"`
	EditedResponse   string `json:"edited_response"`
	Reason           string `json:"reason"`
}

// Validate checks the edited response and its stated reason.
func (r EditRequest) Validate() error {
	if strings.TrimSpace(r.EditedResponse) == "" {
		return fmt.Errorf("%w: edited_response is required", ErrValidation)
	}
	if len(r.EditedResponse) > MaxResponseLen {
		return fmt.Errorf("%w: edited_response exceeds %d bytes", ErrValidation, MaxResponseLen)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	return nil
}

// ResolveRequest is the body of POST /api/hitl/escalations/{id}/resolve.
type ResolveRequest struct {
	Response string  `json:"response"`
	Notes    *string `json:"notes,omitempty"`
}

// Validate checks the resolution text.
func (r ResolveRequest) Validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: response is required", ErrValidation)
	}
	if len(r.Response) > MaxResponseLen {
		return fmt.Errorf("%w: response exceeds %d bytes", ErrValidation, MaxResponseLen)
	}
	return nil
}

// CredentialsRequest is the body of the register and login endpoints.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate checks username and password shape.
func (r CredentialsRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if len(r.Username) > MaxUsernameLen {
		return fmt.Errorf("%w: username exceeds %d characters", ErrValidation, MaxUsernameLen)
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)
