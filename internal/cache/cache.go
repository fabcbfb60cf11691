// Package cache stores completed non-streaming responses keyed by request
// shape. A hit answers from storage without touching the provider; the hit is
// still logged, with zero cost and Cached set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgergate/ledgergate/internal/domain"
)

type Cache interface {
	Get(ctx context.Context, key string) (*domain.ChatResponse, bool)
	Set(ctx context.Context, key string, resp *domain.ChatResponse, ttl time.Duration) error
}

// Key derives the cache key for a request: a sha256 over the project and
// every generation-relevant field. Scoping by project keeps one tenant's
// completions invisible to another even for identical prompts.
func Key(projectID string, req domain.ChatRequest) string {
	data, _ := json.Marshal(struct {
		ProjectID      string                 `json:"project_id"`
		Model          string                 `json:"model"`
		Messages       []domain.Message       `json:"messages"`
		Temperature    *float64               `json:"temperature,omitempty"`
		MaxTokens      *int                   `json:"max_tokens,omitempty"`
		TopP           *float64               `json:"top_p,omitempty"`
		FreqPenalty    *float64               `json:"frequency_penalty,omitempty"`
		PresPenalty    *float64               `json:"presence_penalty,omitempty"`
		ResponseFormat *domain.ResponseFormat `json:"response_format,omitempty"`
	}{
		ProjectID:      projectID,
		Model:          req.Model,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		TopP:           req.TopP,
		FreqPenalty:    req.FrequencyPenalty,
		PresPenalty:    req.PresencePenalty,
		ResponseFormat: req.ResponseFormat,
	})

	sum := sha256.Sum256(data)
	return "completion:" + hex.EncodeToString(sum[:])
}

// Memory is the single-instance backend. A janitor goroutine sweeps expired
// entries once a minute.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	response  *domain.ChatResponse
	expiresAt time.Time
}

func NewMemory() *Memory {
	c := &Memory{items: make(map[string]memoryItem)}
	go c.sweep()
	return c
}

func (c *Memory) Get(ctx context.Context, key string) (*domain.ChatResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || time.Now().After(item.expiresAt) {
		return nil, false
	}
	return item.response, true
}

func (c *Memory) Set(ctx context.Context, key string, resp *domain.ChatResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{response: resp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

// Redis is the distributed backend shared by all gateway replicas.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) (*domain.ChatResponse, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var resp domain.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *Redis) Set(ctx context.Context, key string, resp *domain.ChatResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
