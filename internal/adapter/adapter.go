// Package adapter translates canonical chat requests into provider wire
// formats and provider responses (buffered and streaming) back into the
// canonical shape. One adapter per wire-format family, registered in a map
// and looked up once per request.
package adapter

import (
	"net/http"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

// UpstreamRequest is everything the transport needs to reach a provider.
// Bedrock requests carry a model id instead of a URL and are executed by the
// SigV4-signing SDK transport; all other families are plain HTTP.
type UpstreamRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	BedrockModelID string
}

// StreamDecoder turns raw upstream events into canonical stream events.
// One decoder per request; decoders are stateful (they accumulate usage and
// remember whether a finish event was emitted).
type StreamDecoder interface {
	// Decode consumes one raw event (the payload of an SSE data: line, or
	// one binary-frame payload) and returns zero or more events. A partial
	// or unrecognized frame returns nil; the stream continues.
	Decode(event []byte) []domain.StreamEvent

	// Finalize flushes a terminal finish event when the upstream protocol
	// ended without emitting one, so downstream consumers always observe a
	// uniform termination signal. Call exactly once, after the last Decode.
	Finalize() []domain.StreamEvent

	// Usage reports token counts observed so far, or nil. Some protocols
	// deliver usage after the finish frame; read this at stream end.
	Usage() *domain.Usage
}

type Adapter interface {
	Family() string
	BuildRequest(route *domain.ResolvedRoute, req *domain.ChatRequest) (*UpstreamRequest, error)
	ParseResponse(route *domain.ResolvedRoute, body []byte) (*domain.ChatResponse, error)
	NewStreamDecoder(route *domain.ResolvedRoute) StreamDecoder
}

var adapters = map[string]Adapter{}

func register(a Adapter) {
	adapters[a.Family()] = a
}

func init() {
	register(&openAIAdapter{})
	register(&anthropicAdapter{})
	register(&googleAdapter{})
	register(&bedrockAdapter{})
}

// ForProvider returns the adapter speaking the provider's wire family.
func ForProvider(p registry.Provider) (Adapter, bool) {
	a, ok := adapters[p.Family]
	return a, ok
}

// normalizeFinishReason folds provider stop reasons into the small
// canonical set used for cross-provider analytics.
func normalizeFinishReason(reason string) string {
	switch reason {
	case "", "null":
		return ""
	case "stop", "end_turn", "stop_sequence", "STOP", "FINISH":
		return domain.FinishStop
	case "length", "max_tokens", "MAX_TOKENS", "LENGTH", "max_gen_len":
		return domain.FinishLength
	case "content_filter", "SAFETY", "RECITATION", "CONTENT_FILTERED":
		return domain.FinishContentFilter
	default:
		return domain.FinishUnknown
	}
}
