// Package store defines the persistence collaborators the gateway reads and
// the worker writes. Key/project/organization CRUD itself lives in another
// service; the gateway only consumes these read models and the log/ledger
// write path.
package store

import (
	"context"
	"time"

	"github.com/ledgergate/ledgergate/internal/domain"
)

type APIKeys interface {
	// GetByToken resolves a bearer token to an active API key.
	// Returns domain.ErrInvalidAPIKey when the token is unknown or inactive.
	GetByToken(ctx context.Context, token string) (*domain.APIKey, error)
}

type ProviderKeys interface {
	// GetForProject returns the project's active credential for a provider.
	// Returns domain.ErrNoProviderKey when the project holds none.
	GetForProject(ctx context.Context, projectID, provider string) (*domain.ProviderKey, error)
}

type Projects interface {
	GetByID(ctx context.Context, id string) (*domain.Project, error)
}

type Organizations interface {
	GetByID(ctx context.Context, id string) (*domain.Organization, error)

	// DebitForLog debits the organization balance for one LogRecord. The
	// debit is idempotent per log id: replaying a record returns (false,
	// nil) and the balance is untouched.
	DebitForLog(ctx context.Context, orgID, logID string, amount float64) (bool, error)

	// MarkTopUpTriggered claims the auto-top-up slot if at least cooldown
	// has passed since the last trigger. At most one caller wins per window.
	MarkTopUpTriggered(ctx context.Context, orgID string, at time.Time, cooldown time.Duration) (bool, error)

	// CreditTopUp adds purchased credits after a successful charge.
	CreditTopUp(ctx context.Context, orgID string, amount float64) error
}

type Logs interface {
	// InsertBatch upserts log rows by id. At-least-once queue delivery means
	// the same id may arrive twice; the second write must be a no-op.
	InsertBatch(ctx context.Context, records []domain.LogRecord) error
}

// Payments is the external payment collaborator.
type Payments interface {
	ChargeDefaultPaymentMethod(ctx context.Context, orgID string, amount float64) error
}

// Store bundles the collaborator interfaces a deployment wires together.
type Store struct {
	APIKeys       APIKeys
	ProviderKeys  ProviderKeys
	Projects      Projects
	Organizations Organizations
	Logs          Logs
}
