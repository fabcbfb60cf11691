package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

// googleAdapter speaks the Gemini generateContent dialect: the API key rides
// in the query string, there is no messages field — conversations are a
// contents array of parts with system text prepended to the first part —
// and generation parameters nest under generationConfig.
type googleAdapter struct{}

func (a *googleAdapter) Family() string { return registry.FamilyGoogle }

type googleRequest struct {
	Contents         []googleContent         `json:"contents"`
	GenerationConfig *googleGenerationConfig `json:"generationConfig,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *googleUsage `json:"usageMetadata"`
}

type googleUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (a *googleAdapter) BuildRequest(route *domain.ResolvedRoute, req *domain.ChatRequest) (*UpstreamRequest, error) {
	var system string
	var contents []googleContent

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			contents = append(contents, googleContent{Role: "model", Parts: []googlePart{{Text: m.Content}}})
		default:
			contents = append(contents, googleContent{Role: "user", Parts: []googlePart{{Text: m.Content}}})
		}
	}

	// No system role on this wire format: prepend system content to the
	// first part of the first turn.
	if system != "" {
		if len(contents) == 0 {
			contents = []googleContent{{Role: "user", Parts: []googlePart{{Text: system}}}}
		} else {
			contents[0].Parts[0].Text = system + "\n\n" + contents[0].Parts[0].Text
		}
	}

	body := googleRequest{Contents: contents}
	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || req.ResponseFormat != nil {
		cfg := &googleGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
		}
		if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
			cfg.ResponseMimeType = "application/json"
		}
		body.GenerationConfig = cfg
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "generateContent"
	query := url.Values{"key": {route.Credential}}
	if req.Stream {
		action = "streamGenerateContent"
		query.Set("alt", "sse")
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	return &UpstreamRequest{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/models/%s:%s?%s", route.UpstreamURL, route.UsedModel, action, query.Encode()),
		Header: header,
		Body:   raw,
	}, nil
}

func (a *googleAdapter) ParseResponse(route *domain.ResolvedRoute, body []byte) (*domain.ChatResponse, error) {
	var resp googleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty candidates in response")
	}

	var content string
	for _, p := range resp.Candidates[0].Content.Parts {
		content += p.Text
	}

	out := &domain.ChatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   route.UsedModel,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: content},
			FinishReason: normalizeFinishReason(resp.Candidates[0].FinishReason),
		}},
	}
	if resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return out, nil
}

func (a *googleAdapter) NewStreamDecoder(route *domain.ResolvedRoute) StreamDecoder {
	return &googleStreamDecoder{}
}

// googleStreamDecoder consumes SSE frames whose payload is the same shape as
// the buffered response, each carrying a delta in candidates[0].parts.
type googleStreamDecoder struct {
	usage    *domain.Usage
	finished bool
}

func (d *googleStreamDecoder) Decode(event []byte) []domain.StreamEvent {
	var chunk googleResponse
	if err := json.Unmarshal(event, &chunk); err != nil {
		return nil
	}

	if chunk.UsageMetadata != nil {
		d.usage = &domain.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
	}

	var events []domain.StreamEvent
	for _, c := range chunk.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				events = append(events, domain.StreamEvent{Type: domain.StreamContentDelta, Delta: p.Text})
			}
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

func (d *googleStreamDecoder) Finalize() []domain.StreamEvent {
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

func (d *googleStreamDecoder) Usage() *domain.Usage { return d.usage }
