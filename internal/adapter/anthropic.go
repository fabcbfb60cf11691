package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

const anthropicVersion = "2023-06-01"

// anthropicAdapter speaks the Messages API: a dedicated API-key header plus
// a version header instead of bearer auth, system turns lifted into the
// top-level system field, and typed SSE events on the streaming path.
type anthropicAdapter struct{}

func (a *anthropicAdapter) Family() string { return registry.FamilyAnthropic }

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Content    []anthropicBlock `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *anthropicAdapter) BuildRequest(route *domain.ResolvedRoute, req *domain.ChatRequest) (*UpstreamRequest, error) {
	body := anthropicRequest{
		Model:       route.UsedModel,
		MaxTokens:   4096,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.MaxTokens != nil {
		body.MaxTokens = *req.MaxTokens
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			if body.System != "" {
				body.System += "\n"
			}
			body.System += m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-api-key", route.Credential)
	header.Set("anthropic-version", anthropicVersion)
	if req.Stream {
		header.Set("Accept", "text/event-stream")
	}

	return &UpstreamRequest{
		Method: http.MethodPost,
		URL:    route.UpstreamURL + "/messages",
		Header: header,
		Body:   raw,
	}, nil
}

func (a *anthropicAdapter) ParseResponse(route *domain.ResolvedRoute, body []byte) (*domain.ChatResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &domain.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   route.UsedModel,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: content},
			FinishReason: normalizeFinishReason(resp.StopReason),
		}},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (a *anthropicAdapter) NewStreamDecoder(route *domain.ResolvedRoute) StreamDecoder {
	return &anthropicStreamDecoder{}
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *anthropicUsage `json:"usage,omitempty"`
}

type anthropicStreamDecoder struct {
	usage      domain.Usage
	stopReason string
	finished   bool
}

func (d *anthropicStreamDecoder) Decode(event []byte) []domain.StreamEvent {
	var ev anthropicStreamEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		// Partial frame at a chunk boundary; the next read completes it.
		return nil
	}

	switch ev.Type {
	case "message_start":
		if ev.Message != nil {
			d.usage.PromptTokens = ev.Message.Usage.InputTokens
		}
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Text != "" {
			return []domain.StreamEvent{{Type: domain.StreamContentDelta, Delta: ev.Delta.Text}}
		}
	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			d.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			d.usage.CompletionTokens = ev.Usage.OutputTokens
		}
	case "message_stop":
		d.finished = true
		return []domain.StreamEvent{{
			Type:         domain.StreamFinish,
			FinishReason: normalizeFinishReason(d.stopReason),
			Usage:        d.Usage(),
		}}
	}
	return nil
}

func (d *anthropicStreamDecoder) Finalize() []domain.StreamEvent {
	if d.finished {
		return nil
	}
	d.finished = true
	reason := d.stopReason
	if reason == "" {
		reason = "end_turn"
	}
	return []domain.StreamEvent{{
		Type:         domain.StreamFinish,
		FinishReason: normalizeFinishReason(reason),
		Usage:        d.Usage(),
	}}
}

func (d *anthropicStreamDecoder) Usage() *domain.Usage {
	if d.usage.PromptTokens == 0 && d.usage.CompletionTokens == 0 {
		return nil
	}
	u := d.usage
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return &u
}
