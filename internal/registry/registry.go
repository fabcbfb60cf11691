// Package registry holds the static catalog of upstream providers and
// models: wire-format family, auth style, streaming and cancellation
// capability, and per-token pricing. Routing and billing both read from it.
package registry

import "strings"

// Wire-format families. The adapter registry is keyed by provider id; the
// family decides which request/response dialect the adapter speaks.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGoogle    = "google"
	FamilyBedrock   = "bedrock"
)

// Reserved model tokens accepted in the request "model" field.
const (
	ModelAuto   = "auto"
	ModelCustom = "custom"

	// CustomProvider is the synthetic provider id used for custom base URLs.
	CustomProvider = "llmgateway"
)

type Provider struct {
	ID        string
	Name      string
	Family    string
	BaseURL   string
	Streaming bool
	// Cancel reports whether an in-flight call can be aborted when the
	// client disconnects. Non-cancellable providers run to completion and
	// their result is still billed.
	Cancel bool
}

type Model struct {
	ID       string
	Provider string
	// Prices are USD per 1M tokens.
	InputPrice  float64
	OutputPrice float64
	// NoStream marks models whose API rejects stream=true even when the
	// provider otherwise streams.
	NoStream bool
}

var providers = map[string]Provider{
	"openai": {
		ID: "openai", Name: "OpenAI", Family: FamilyOpenAI,
		BaseURL: "https://api.openai.com/v1", Streaming: true, Cancel: true,
	},
	"anthropic": {
		ID: "anthropic", Name: "Anthropic", Family: FamilyAnthropic,
		BaseURL: "https://api.anthropic.com/v1", Streaming: true, Cancel: true,
	},
	"google-ai-studio": {
		ID: "google-ai-studio", Name: "Google AI Studio", Family: FamilyGoogle,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta", Streaming: true, Cancel: false,
	},
	"mistral": {
		ID: "mistral", Name: "Mistral", Family: FamilyOpenAI,
		BaseURL: "https://api.mistral.ai/v1", Streaming: true, Cancel: true,
	},
	"bedrock": {
		ID: "bedrock", Name: "AWS Bedrock", Family: FamilyBedrock,
		BaseURL: "", Streaming: true, Cancel: false,
	},
	CustomProvider: {
		ID: CustomProvider, Name: "Custom", Family: FamilyOpenAI,
		BaseURL: "", Streaming: true, Cancel: true,
	},
}

// models is ordered so FirstProviderForModel is deterministic when the same
// model id is served by several providers.
var models = []Model{
	{ID: "gpt-4o", Provider: "openai", InputPrice: 2.5, OutputPrice: 10},
	{ID: "gpt-4o-mini", Provider: "openai", InputPrice: 0.15, OutputPrice: 0.6},
	{ID: "gpt-4-turbo", Provider: "openai", InputPrice: 10, OutputPrice: 30},
	{ID: "gpt-3.5-turbo", Provider: "openai", InputPrice: 0.5, OutputPrice: 1.5},
	{ID: "o3-mini", Provider: "openai", InputPrice: 1.1, OutputPrice: 4.4},
	{ID: "o1", Provider: "openai", InputPrice: 15, OutputPrice: 60, NoStream: true},

	{ID: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPrice: 3, OutputPrice: 15},
	{ID: "claude-3-5-haiku-20241022", Provider: "anthropic", InputPrice: 1, OutputPrice: 5},
	{ID: "claude-3-opus-20240229", Provider: "anthropic", InputPrice: 15, OutputPrice: 75},
	{ID: "claude-3-haiku-20240307", Provider: "anthropic", InputPrice: 0.25, OutputPrice: 1.25},

	{ID: "gemini-2.0-flash", Provider: "google-ai-studio", InputPrice: 0.1, OutputPrice: 0.4},
	{ID: "gemini-1.5-pro", Provider: "google-ai-studio", InputPrice: 1.25, OutputPrice: 5},
	{ID: "gemini-1.5-flash", Provider: "google-ai-studio", InputPrice: 0.075, OutputPrice: 0.3},

	{ID: "mistral-large-latest", Provider: "mistral", InputPrice: 2, OutputPrice: 6},
	{ID: "mistral-small-latest", Provider: "mistral", InputPrice: 0.1, OutputPrice: 0.3},

	{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: "bedrock", InputPrice: 3, OutputPrice: 15},
	{ID: "meta.llama3-70b-instruct-v1:0", Provider: "bedrock", InputPrice: 2.65, OutputPrice: 3.5},
	{ID: "amazon.titan-text-express-v1", Provider: "bedrock", InputPrice: 0.2, OutputPrice: 0.6},
}

var modelIndex = func() map[string][]Model {
	idx := make(map[string][]Model, len(models))
	for _, m := range models {
		idx[m.ID] = append(idx[m.ID], m)
	}
	return idx
}()

// DefaultRoute is what the reserved "auto" model resolves to. Placeholder
// for a smarter routing algorithm.
var DefaultRoute = Model{ID: "gpt-4o", Provider: "openai", InputPrice: 2.5, OutputPrice: 10}

func ProviderByID(id string) (Provider, bool) {
	p, ok := providers[id]
	return p, ok
}

func Providers() []Provider {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, p)
	}
	return out
}

// ModelByID returns the model entry for the given provider, or the first
// provider serving the model when provider is empty.
func ModelByID(id, provider string) (Model, bool) {
	entries, ok := modelIndex[id]
	if !ok {
		return Model{}, false
	}
	if provider == "" {
		return entries[0], true
	}
	for _, m := range entries {
		if m.Provider == provider {
			return m, true
		}
	}
	return Model{}, false
}

func Models() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Price returns the cost split for the given usage, in USD.
func Price(m Model, promptTokens, completionTokens int) (input, output, total float64) {
	input = float64(promptTokens) / 1e6 * m.InputPrice
	output = float64(completionTokens) / 1e6 * m.OutputPrice
	return input, output, input + output
}

// SplitModelField splits a "provider/model" request field. Only the first
// segment is treated as a provider id; model ids may themselves contain "/".
func SplitModelField(field string) (provider, model string) {
	if i := strings.Index(field, "/"); i > 0 {
		if _, ok := providers[field[:i]]; ok {
			return field[:i], field[i+1:]
		}
	}
	return "", field
}
