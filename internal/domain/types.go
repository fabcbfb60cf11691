package domain

import "time"

type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEventType discriminates the events a provider stream decoder emits.
// Per request they appear in the partial order
// content-delta* -> finish? -> (error | canceled)? -> done;
// done is terminal and emitted exactly once.
type StreamEventType string

const (
	StreamContentDelta StreamEventType = "content-delta"
	StreamFinish       StreamEventType = "finish"
	StreamError        StreamEventType = "error"
	StreamCanceled     StreamEventType = "canceled"
	StreamDone         StreamEventType = "done"
)

type StreamEvent struct {
	Type         StreamEventType
	Delta        string
	FinishReason string
	Usage        *Usage
	Err          error
}

// Normalized finish reasons used for cross-provider analytics.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content_filter"
	FinishCanceled      = "canceled"
	FinishError         = "error"
	FinishUnknown       = "unknown"
)

// ResolvedRoute is the (provider, model, credential, URL) tuple serving one
// request. Built once by the router and never mutated afterwards.
type ResolvedRoute struct {
	RequestedModel    string
	RequestedProvider string
	UsedModel         string
	UsedProvider      string
	UpstreamURL       string
	Credential        string

	APIKeyID       string
	ProviderKeyID  string
	ProjectID      string
	OrganizationID string

	SupportsStreaming bool
	SupportsCancel    bool

	CacheEnabled bool
	CacheTTL     time.Duration
}

// LogRecord is the durable accounting unit for one request attempt.
// Created in memory at request completion, enqueued exactly once, persisted
// by the worker, never mutated after persistence.
type LogRecord struct {
	ID             string `json:"id"`
	RequestID      string `json:"request_id"`
	ProjectID      string `json:"project_id"`
	APIKeyID       string `json:"api_key_id"`
	ProviderKeyID  string `json:"provider_key_id"`
	OrganizationID string `json:"organization_id"`

	RequestedModel    string `json:"requested_model"`
	RequestedProvider string `json:"requested_provider,omitempty"`
	UsedModel         string `json:"used_model"`
	UsedProvider      string `json:"used_provider"`

	FinishReason string `json:"finish_reason,omitempty"`
	HasError     bool   `json:"has_error"`
	ErrorDetails string `json:"error_details,omitempty"`
	Canceled     bool   `json:"canceled"`
	Streamed     bool   `json:"streamed"`
	Cached       bool   `json:"cached"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	Cost       float64 `json:"cost"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`

	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// Project billing modes. Credits-mode usage is billed against the
// organization balance; api-keys mode (bring-your-own-key) is not.
const (
	CreditsMode = "credits"
	APIKeysMode = "api-keys"
)

type Project struct {
	ID             string
	OrganizationID string
	Mode           string
	CachingEnabled bool
	CacheDuration  time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Organization struct {
	ID               string
	Credits          float64
	AutoTopUpEnabled bool
	AutoTopUpTrigger float64
	AutoTopUpAmount  float64
	LastTopUpAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type APIKey struct {
	ID          string
	Token       string
	ProjectID   string
	Active      bool
	Description string
	CreatedAt   time.Time
}

type ProviderKey struct {
	ID             string
	Provider       string
	Token          string
	BaseURL        string
	ProjectID      string
	OrganizationID string
	Active         bool
	CreatedAt      time.Time
}
