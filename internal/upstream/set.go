package upstream

import (
	"fmt"
	"sync"

	"github.com/ledgergate/ledgergate/internal/registry"
)

// Set hands out the right caller for a provider: the bedrock caller for the
// bedrock family, a per-provider HTTP caller for everything else. HTTP
// callers are created lazily and reused so connection pools are shared across
// requests.
type Set struct {
	mu      sync.Mutex
	http    map[string]*HTTPCaller
	bedrock Caller
}

func NewSet(bedrock Caller) *Set {
	return &Set{
		http:    make(map[string]*HTTPCaller),
		bedrock: bedrock,
	}
}

func (s *Set) For(p registry.Provider) (Caller, error) {
	if p.Family == registry.FamilyBedrock {
		if s.bedrock == nil {
			return nil, fmt.Errorf("bedrock provider requested but bedrock is not configured")
		}
		return s.bedrock, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.http[p.ID]
	if !ok {
		c = NewHTTPCaller(p.ID)
		s.http[p.ID] = c
	}
	return c, nil
}
