package domain

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotSupported  = errors.New("requested model not supported")
	ErrProviderNotFound   = errors.New("provider not found")
	ErrInvalidAPIKey      = errors.New("invalid API key")
	ErrNoProviderKey      = errors.New("no active provider key for project")
	ErrStreamNotSupported = errors.New("provider does not support streaming")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrCanceled           = errors.New("request canceled by client")
)

// UpstreamError carries the raw status and body of a non-2xx provider
// response. Surfaced to the caller as a gateway_error, never auto-retried.
type UpstreamError struct {
	Provider string
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream error: status=%d body=%s", e.Provider, e.Status, e.Body)
}

// APIError is the canonical error wire shape:
// {"error":{"message","type","param","code"}}.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    any    `json:"code,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
