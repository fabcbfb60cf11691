package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

// openAIAdapter serves every OpenAI-compatible provider (openai, mistral,
// and custom base URLs). Messages pass through almost unchanged; streaming
// is SSE data: frames in the canonical shape already.
type openAIAdapter struct{}

func (a *openAIAdapter) Family() string { return registry.FamilyOpenAI }

type openAIRequest struct {
	Model            string                 `json:"model"`
	Messages         []domain.Message       `json:"messages"`
	Temperature      *float64               `json:"temperature,omitempty"`
	MaxTokens        *int                   `json:"max_tokens,omitempty"`
	TopP             *float64               `json:"top_p,omitempty"`
	FrequencyPenalty *float64               `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64               `json:"presence_penalty,omitempty"`
	Stream           bool                   `json:"stream,omitempty"`
	StreamOptions    *openAIStreamOptions   `json:"stream_options,omitempty"`
	ResponseFormat   *domain.ResponseFormat `json:"response_format,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (a *openAIAdapter) BuildRequest(route *domain.ResolvedRoute, req *domain.ChatRequest) (*UpstreamRequest, error) {
	body := openAIRequest{
		Model:            route.UsedModel,
		Messages:         req.Messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           req.Stream,
		ResponseFormat:   req.ResponseFormat,
	}
	if req.Stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+route.Credential)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &UpstreamRequest{
		Method: http.MethodPost,
		URL:    route.UpstreamURL + "/chat/completions",
		Header: header,
		Body:   raw,
	}, nil
}

func (a *openAIAdapter) ParseResponse(route *domain.ResolvedRoute, body []byte) (*domain.ChatResponse, error) {
	var resp domain.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for i := range resp.Choices {
		resp.Choices[i].FinishReason = normalizeFinishReason(resp.Choices[i].FinishReason)
	}
	return &resp, nil
}

func (a *openAIAdapter) NewStreamDecoder(route *domain.ResolvedRoute) StreamDecoder {
	return &openAIStreamDecoder{}
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta        domain.Delta `json:"delta"`
		FinishReason string       `json:"finish_reason"`
	} `json:"choices"`
	Usage *domain.Usage `json:"usage"`
}

type openAIStreamDecoder struct {
	usage    *domain.Usage
	finished bool
}

func (d *openAIStreamDecoder) Decode(event []byte) []domain.StreamEvent {
	if bytes.Equal(bytes.TrimSpace(event), []byte("[DONE]")) {
		return nil
	}

	var chunk openAIStreamChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		// Partial frame at a chunk boundary; the next read completes it.
		return nil
	}

	if chunk.Usage != nil {
		d.usage = chunk.Usage
	}

	var events []domain.StreamEvent
	for _, c := range chunk.Choices {
		if c.Delta.Content != "" {
			events = append(events, domain.StreamEvent{
				Type:  domain.StreamContentDelta,
				Delta: c.Delta.Content,
			})
		}
		if c.FinishReason != "" {
			d.finished = true
			events = append(events, domain.StreamEvent{
				Type:         domain.StreamFinish,
				FinishReason: normalizeFinishReason(c.FinishReason),
				Usage:        d.usage,
			})
		}
	}
	return events
}

func (d *openAIStreamDecoder) Finalize() []domain.StreamEvent {
	if d.finished {
		return nil
	}
	d.finished = true
	return []domain.StreamEvent{{
		Type:         domain.StreamFinish,
		FinishReason: domain.FinishStop,
		Usage:        d.usage,
	}}
}

func (d *openAIStreamDecoder) Usage() *domain.Usage { return d.usage }
