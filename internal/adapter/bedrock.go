package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

// bedrockAdapter builds InvokeModel bodies for the three dialects the model
// host serves: Anthropic messages (anthropic.*), Meta Llama prompt-in
// generation-out (meta.*), and Amazon Titan inputText/outputText (amazon.*).
// Transport (SigV4 signing, binary event-stream framing) is handled by the
// bedrock upstream caller; this adapter only sees the JSON payloads.
type bedrockAdapter struct{}

func (a *bedrockAdapter) Family() string { return registry.FamilyBedrock }

func bedrockDialect(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "anthropic."):
		return "anthropic"
	case strings.HasPrefix(modelID, "meta."):
		return "llama"
	case strings.HasPrefix(modelID, "amazon."):
		return "titan"
	default:
		return "anthropic"
	}
}

type llamaRequest struct {
	Prompt      string   `json:"prompt"`
	MaxGenLen   int      `json:"max_gen_len,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type llamaResponse struct {
	Generation           string `json:"generation"`
	PromptTokenCount     int    `json:"prompt_token_count"`
	GenerationTokenCount int    `json:"generation_token_count"`
	StopReason           string `json:"stop_reason"`
}

type titanRequest struct {
	InputText            string           `json:"inputText"`
	TextGenerationConfig *titanTextConfig `json:"textGenerationConfig,omitempty"`
}

type titanTextConfig struct {
	MaxTokenCount int      `json:"maxTokenCount,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
}

type titanResponse struct {
	InputTextTokenCount int `json:"inputTextTokenCount"`
	Results             []struct {
		TokenCount       int    `json:"tokenCount"`
		OutputText       string `json:"outputText"`
		CompletionReason string `json:"completionReason"`
	} `json:"results"`
}

// flattenPrompt renders the conversation as a plain prompt for wire formats
// without role structure. System content is merged into the first user turn.
func flattenPrompt(messages []domain.Message) string {
	var system, b strings.Builder
	for _, m := range messages {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
		}
	}

	systemPending := system.String()
	for _, m := range messages {
		switch m.Role {
		case "system":
		case "assistant":
			b.WriteString("Assistant: " + m.Content + "\n")
		default:
			content := m.Content
			if systemPending != "" {
				content = systemPending + "\n\n" + content
				systemPending = ""
			}
			b.WriteString("User: " + content + "\n")
		}
	}
	if systemPending != "" {
		b.WriteString("User: " + systemPending + "\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func (a *bedrockAdapter) BuildRequest(route *domain.ResolvedRoute, req *domain.ChatRequest) (*UpstreamRequest, error) {
	var body any

	switch bedrockDialect(route.UsedModel) {
	case "llama":
		r := llamaRequest{
			Prompt:      flattenPrompt(req.Messages),
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
		if req.MaxTokens != nil {
			r.MaxGenLen = *req.MaxTokens
		}
		body = r
	case "titan":
		r := titanRequest{InputText: flattenPrompt(req.Messages)}
		if req.MaxTokens != nil || req.Temperature != nil || req.TopP != nil {
			cfg := &titanTextConfig{Temperature: req.Temperature, TopP: req.TopP}
			if req.MaxTokens != nil {
				cfg.MaxTokenCount = *req.MaxTokens
			}
			r.TextGenerationConfig = cfg
		}
		body = r
	default:
		r := anthropicRequest{
			MaxTokens:   4096,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		}
		if req.MaxTokens != nil {
			r.MaxTokens = *req.MaxTokens
		}
		for _, m := range req.Messages {
			if m.Role == "system" {
				if r.System != "" {
					r.System += "\n"
				}
				r.System += m.Content
				continue
			}
			r.Messages = append(r.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
		}
		body = struct {
			anthropicRequest
			AnthropicVersion string `json:"anthropic_version"`
		}{r, "bedrock-2023-05-31"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return &UpstreamRequest{
		Body:           raw,
		BedrockModelID: route.UsedModel,
	}, nil
}

func (a *bedrockAdapter) ParseResponse(route *domain.ResolvedRoute, body []byte) (*domain.ChatResponse, error) {
	switch bedrockDialect(route.UsedModel) {
	case "llama":
		var resp llamaResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return bedrockChatResponse(route.UsedModel, resp.Generation, resp.StopReason,
			resp.PromptTokenCount, resp.GenerationTokenCount), nil
	case "titan":
		var resp titanResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Results) == 0 {
			return nil, fmt.Errorf("empty results in response")
		}
		return bedrockChatResponse(route.UsedModel, resp.Results[0].OutputText, resp.Results[0].CompletionReason,
			resp.InputTextTokenCount, resp.Results[0].TokenCount), nil
	default:
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
		return bedrockChatResponse(route.UsedModel, content, resp.StopReason,
			resp.Usage.InputTokens, resp.Usage.OutputTokens), nil
	}
}

func bedrockChatResponse(model, content, stopReason string, promptTokens, completionTokens int) *domain.ChatResponse {
	return &domain.ChatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: content},
			FinishReason: normalizeFinishReason(stopReason),
		}},
		Usage: domain.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}
}

func (a *bedrockAdapter) NewStreamDecoder(route *domain.ResolvedRoute) StreamDecoder {
	switch bedrockDialect(route.UsedModel) {
	case "llama":
		return &llamaStreamDecoder{}
	case "titan":
		return &titanStreamDecoder{}
	default:
		return &anthropicStreamDecoder{}
	}
}

// llamaStreamDecoder consumes the JSON payloads of binary event-stream
// chunks: each carries a generation fragment, the last one a stop_reason
// plus amazon-bedrock-invocationMetrics.
type llamaStreamDecoder struct {
	usage    *domain.Usage
	finished bool
}

type llamaStreamChunk struct {
	Generation string `json:"generation"`
	StopReason string `json:"stop_reason"`
	Metrics    *struct {
		InputTokenCount  int `json:"inputTokenCount"`
		OutputTokenCount int `json:"outputTokenCount"`
	} `json:"amazon-bedrock-invocationMetrics"`
}

func (d *llamaStreamDecoder) Decode(event []byte) []domain.StreamEvent {
	var chunk llamaStreamChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		return nil
	}

	if chunk.Metrics != nil {
		d.usage = &domain.Usage{
			PromptTokens:     chunk.Metrics.InputTokenCount,
			CompletionTokens: chunk.Metrics.OutputTokenCount,
			TotalTokens:      chunk.Metrics.InputTokenCount + chunk.Metrics.OutputTokenCount,
		}
	}

	var events []domain.StreamEvent
	if chunk.Generation != "" {
		events = append(events, domain.StreamEvent{Type: domain.StreamContentDelta, Delta: chunk.Generation})
	}
	if chunk.StopReason != "" {
		d.finished = true
		events = append(events, domain.StreamEvent{
			Type:         domain.StreamFinish,
			FinishReason: normalizeFinishReason(chunk.StopReason),
			Usage:        d.usage,
		})
	}
	return events
}

func (d *llamaStreamDecoder) Finalize() []domain.StreamEvent {
	if d.finished {
		return nil
	}
	d.finished = true
	return []domain.StreamEvent{{Type: domain.StreamFinish, FinishReason: domain.FinishStop, Usage: d.usage}}
}

func (d *llamaStreamDecoder) Usage() *domain.Usage { return d.usage }

type titanStreamDecoder struct {
	usage    *domain.Usage
	finished bool
}

type titanStreamChunk struct {
	OutputText                string `json:"outputText"`
	CompletionReason          string `json:"completionReason"`
	InputTextTokenCount       int    `json:"inputTextTokenCount"`
	TotalOutputTextTokenCount int    `json:"totalOutputTextTokenCount"`
}

func (d *titanStreamDecoder) Decode(event []byte) []domain.StreamEvent {
	var chunk titanStreamChunk
	if err := json.Unmarshal(event, &chunk); err != nil {
		return nil
	}

	if chunk.InputTextTokenCount > 0 || chunk.TotalOutputTextTokenCount > 0 {
		d.usage = &domain.Usage{
			PromptTokens:     chunk.InputTextTokenCount,
			CompletionTokens: chunk.TotalOutputTextTokenCount,
			TotalTokens:      chunk.InputTextTokenCount + chunk.TotalOutputTextTokenCount,
		}
	}

	var events []domain.StreamEvent
	if chunk.OutputText != "" {
		events = append(events, domain.StreamEvent{Type: domain.StreamContentDelta, Delta: chunk.OutputText})
	}
	if chunk.CompletionReason != "" {
		d.finished = true
		events = append(events, domain.StreamEvent{
			Type:         domain.StreamFinish,
			FinishReason: normalizeFinishReason(chunk.CompletionReason),
			Usage:        d.usage,
		})
	}
	return events
}

func (d *titanStreamDecoder) Finalize() []domain.StreamEvent {
	if d.finished {
		return nil
	}
	d.finished = true
	return []domain.StreamEvent{{Type: domain.StreamFinish, FinishReason: domain.FinishStop, Usage: d.usage}}
}

func (d *titanStreamDecoder) Usage() *domain.Usage { return d.usage }
