package store

import (
	"context"
	"sync"
	"time"

	"github.com/ledgergate/ledgergate/internal/crypto"
	"github.com/ledgergate/ledgergate/internal/domain"
)

// Memory is the in-memory store used by tests and by dev mode when no
// DATABASE_URL is configured.
type Memory struct {
	mu            sync.RWMutex
	apiKeys       map[string]*domain.APIKey // keyed by token hash
	providerKeys  map[string][]*domain.ProviderKey
	projects      map[string]*domain.Project
	organizations map[string]*domain.Organization
	logs          map[string]domain.LogRecord
	billed        map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		apiKeys:       make(map[string]*domain.APIKey),
		providerKeys:  make(map[string][]*domain.ProviderKey),
		projects:      make(map[string]*domain.Project),
		organizations: make(map[string]*domain.Organization),
		logs:          make(map[string]domain.LogRecord),
		billed:        make(map[string]bool),
	}
}

// Store exposes the typed collaborator views. Projects and Organizations
// share the GetByID name, so each gets a thin wrapper type.
func (m *Memory) Store() *Store {
	return &Store{
		APIKeys:       m,
		ProviderKeys:  m,
		Projects:      (*memProjects)(m),
		Organizations: (*memOrgs)(m),
		Logs:          m,
	}
}

type (
	memProjects Memory
	memOrgs     Memory
)

func (m *Memory) AddAPIKey(k *domain.APIKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[crypto.HashToken(k.Token)] = k
}

func (m *Memory) AddProviderKey(k *domain.ProviderKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerKeys[k.ProjectID] = append(m.providerKeys[k.ProjectID], k)
}

func (m *Memory) AddProject(p *domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *Memory) AddOrganization(o *domain.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.organizations[o.ID] = o
}

func (m *Memory) GetByToken(ctx context.Context, token string) (*domain.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.apiKeys[crypto.HashToken(token)]
	if !ok || !k.Active {
		return nil, domain.ErrInvalidAPIKey
	}
	return k, nil
}

func (m *Memory) GetForProject(ctx context.Context, projectID, provider string) (*domain.ProviderKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.providerKeys[projectID] {
		if k.Provider == provider && k.Active {
			return k, nil
		}
	}
	return nil, domain.ErrNoProviderKey
}

func (p *memProjects) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	m := (*Memory)(p)
	m.mu.RLock()
	defer m.mu.RUnlock()
	proj, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrInvalidRequest
	}
	return proj, nil
}

func (m *Memory) getOrg(id string) (*domain.Organization, bool) {
	o, ok := m.organizations[id]
	return o, ok
}

func (o *memOrgs) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	m := (*Memory)(o)
	m.mu.RLock()
	defer m.mu.RUnlock()
	org, ok := m.getOrg(id)
	if !ok {
		return nil, domain.ErrInvalidRequest
	}
	cp := *org
	return &cp, nil
}

func (o *memOrgs) DebitForLog(ctx context.Context, orgID, logID string, amount float64) (bool, error) {
	return (*Memory)(o).DebitForLog(ctx, orgID, logID, amount)
}

func (o *memOrgs) MarkTopUpTriggered(ctx context.Context, orgID string, at time.Time, cooldown time.Duration) (bool, error) {
	return (*Memory)(o).MarkTopUpTriggered(ctx, orgID, at, cooldown)
}

func (o *memOrgs) CreditTopUp(ctx context.Context, orgID string, amount float64) error {
	return (*Memory)(o).CreditTopUp(ctx, orgID, amount)
}

func (m *Memory) DebitForLog(ctx context.Context, orgID, logID string, amount float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.billed[logID] {
		return false, nil
	}
	o, ok := m.getOrg(orgID)
	if !ok {
		return false, domain.ErrInvalidRequest
	}
	m.billed[logID] = true
	o.Credits -= amount
	o.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) MarkTopUpTriggered(ctx context.Context, orgID string, at time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.getOrg(orgID)
	if !ok {
		return false, domain.ErrInvalidRequest
	}
	if !o.LastTopUpAt.IsZero() && at.Sub(o.LastTopUpAt) < cooldown {
		return false, nil
	}
	o.LastTopUpAt = at
	return true, nil
}

func (m *Memory) CreditTopUp(ctx context.Context, orgID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.getOrg(orgID)
	if !ok {
		return domain.ErrInvalidRequest
	}
	o.Credits += amount
	o.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) InsertBatch(ctx context.Context, records []domain.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if _, exists := m.logs[r.ID]; exists {
			continue
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		m.logs[r.ID] = r
	}
	return nil
}

// Logs returns a snapshot of persisted records, for tests.
func (m *Memory) LogRecords() []domain.LogRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.LogRecord, 0, len(m.logs))
	for _, r := range m.logs {
		out = append(out, r)
	}
	return out
}
