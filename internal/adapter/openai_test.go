package adapter

import (
	"encoding/json"
	"testing"

	"github.com/ledgergate/ledgergate/internal/domain"
)

func openAIRoute() *domain.ResolvedRoute {
	return &domain.ResolvedRoute{
		UsedModel:    "gpt-4o",
		UsedProvider: "openai",
		UpstreamURL:  "https://api.openai.com/v1",
		Credential:   "sk-test",
	}
}

func TestOpenAIBuildRequest(t *testing.T) {
	a := &openAIAdapter{}
	temp := 0.7
	req := &domain.ChatRequest{
		Model:       "openai/gpt-4o",
		Messages:    []domain.Message{{Role: "user", Content: "hello"}},
		Temperature: &temp,
	}

	up, err := a.BuildRequest(openAIRoute(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}

	if up.URL != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("url = %q", up.URL)
	}
	if got := up.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("authorization = %q", got)
	}

	var body openAIRequest
	if err := json.Unmarshal(up.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if body.Model != "gpt-4o" {
		t.Errorf("wire model = %q, want bare gpt-4o", body.Model)
	}
	if body.Stream || body.StreamOptions != nil {
		t.Error("non-streaming request must not set stream fields")
	}
}

func TestOpenAIBuildRequestStreaming(t *testing.T) {
	a := &openAIAdapter{}
	req := &domain.ChatRequest{
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: "user", Content: "hi"}},
		Stream:   true,
	}

	up, err := a.BuildRequest(openAIRoute(), req)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}

	var body openAIRequest
	if err := json.Unmarshal(up.Body, &body); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if !body.Stream {
		t.Error("stream not set")
	}
	if body.StreamOptions == nil || !body.StreamOptions.IncludeUsage {
		t.Error("stream_options.include_usage not set")
	}
}

func TestOpenAIParseResponse(t *testing.T) {
	a := &openAIAdapter{}
	raw := `{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
	}`

	resp, err := a.ParseResponse(openAIRoute(), []byte(raw))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != domain.FinishStop {
		t.Errorf("finish reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}

func TestOpenAIStreamDecoder(t *testing.T) {
	d := &openAIStreamDecoder{}

	events := d.Decode([]byte(`{"choices":[{"delta":{"content":"Hel"}}]}`))
	if len(events) != 1 || events[0].Type != domain.StreamContentDelta || events[0].Delta != "Hel" {
		t.Fatalf("unexpected events: %+v", events)
	}

	events = d.Decode([]byte(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`))
	if len(events) != 1 || events[0].Type != domain.StreamFinish || events[0].FinishReason != domain.FinishStop {
		t.Fatalf("unexpected finish events: %+v", events)
	}

	// Usage arrives in a trailing chunk after the finish.
	events = d.Decode([]byte(`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	if len(events) != 0 {
		t.Fatalf("usage chunk should emit no events, got %+v", events)
	}
	if u := d.Usage(); u == nil || u.TotalTokens != 7 {
		t.Errorf("usage = %+v, want total 7", u)
	}

	// Finish already seen: Finalize must not emit a second one.
	if extra := d.Finalize(); len(extra) != 0 {
		t.Errorf("Finalize after finish emitted %+v", extra)
	}
}

func TestOpenAIStreamDecoderPartialFrame(t *testing.T) {
	d := &openAIStreamDecoder{}

	if events := d.Decode([]byte(`{"choices":[{"delta":{"con`)); events != nil {
		t.Errorf("partial frame should decode to nil, got %+v", events)
	}
	if events := d.Decode([]byte(`[DONE]`)); events != nil {
		t.Errorf("[DONE] should decode to nil, got %+v", events)
	}
}

func TestOpenAIStreamDecoderFinalize(t *testing.T) {
	d := &openAIStreamDecoder{}
	d.Decode([]byte(`{"choices":[{"delta":{"content":"hi"}}]}`))

	// Upstream ended without a finish chunk.
	events := d.Finalize()
	if len(events) != 1 || events[0].Type != domain.StreamFinish || events[0].FinishReason != domain.FinishStop {
		t.Fatalf("Finalize = %+v, want synthesized finish", events)
	}
}
