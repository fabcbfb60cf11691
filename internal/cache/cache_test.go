package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ledgergate/ledgergate/internal/domain"
)

func sampleRequest() domain.ChatRequest {
	temp := 0.2
	return domain.ChatRequest{
		Model:       "openai/gpt-4o",
		Messages:    []domain.Message{{Role: "user", Content: "hello"}},
		Temperature: &temp,
	}
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("proj-1", sampleRequest())
	b := Key("proj-1", sampleRequest())
	if a != b {
		t.Error("identical requests must derive the same key")
	}
}

func TestKeyScopedByProject(t *testing.T) {
	a := Key("proj-1", sampleRequest())
	b := Key("proj-2", sampleRequest())
	if a == b {
		t.Error("same request across projects must not share a key")
	}
}

func TestKeySensitiveToParameters(t *testing.T) {
	base := Key("proj-1", sampleRequest())

	req := sampleRequest()
	temp := 0.9
	req.Temperature = &temp
	if Key("proj-1", req) == base {
		t.Error("temperature change must change the key")
	}

	req = sampleRequest()
	req.Messages = append(req.Messages, domain.Message{Role: "user", Content: "more"})
	if Key("proj-1", req) == base {
		t.Error("message change must change the key")
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	resp := &domain.ChatResponse{ID: "chatcmpl-1", Model: "gpt-4o"}
	if err := c.Set(ctx, "k1", resp, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(ctx, "k1")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.ID != "chatcmpl-1" {
		t.Errorf("id = %q", got.ID)
	}

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("unexpected hit for missing key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "k1", &domain.ChatResponse{ID: "x"}, -time.Second)
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Error("expired entry must miss")
	}
}
