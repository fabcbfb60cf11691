package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ledgergate/ledgergate/internal/crypto"
	"github.com/ledgergate/ledgergate/internal/domain"
)

// Postgres backs every collaborator interface with one *sql.DB. Provider
// credentials are sealed at rest and opened on read.
type Postgres struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

func NewPostgres(db *sql.DB, sealer *crypto.Sealer) *Postgres {
	return &Postgres{db: db, sealer: sealer}
}

func (p *Postgres) Store() *Store {
	return &Store{
		APIKeys:       (*pgAPIKeys)(p),
		ProviderKeys:  (*pgProviderKeys)(p),
		Projects:      (*pgProjects)(p),
		Organizations: (*pgOrgs)(p),
		Logs:          (*pgLogs)(p),
	}
}

type (
	pgAPIKeys      Postgres
	pgProviderKeys Postgres
	pgProjects     Postgres
	pgOrgs         Postgres
	pgLogs         Postgres
)

func (s *pgAPIKeys) GetByToken(ctx context.Context, token string) (*domain.APIKey, error) {
	query := `
		SELECT id, project_id, description, created_at
		FROM api_keys
		WHERE token_hash = $1 AND status = 'active'
	`

	var key domain.APIKey
	err := s.db.QueryRowContext(ctx, query, crypto.HashToken(token)).Scan(
		&key.ID,
		&key.ProjectID,
		&key.Description,
		&key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("query api key: %w", err)
	}

	key.Active = true
	return &key, nil
}

func (s *pgProviderKeys) GetForProject(ctx context.Context, projectID, provider string) (*domain.ProviderKey, error) {
	query := `
		SELECT id, provider, token, base_url, project_id, organization_id, created_at
		FROM provider_keys
		WHERE project_id = $1 AND provider = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`

	var key domain.ProviderKey
	var baseURL sql.NullString
	err := s.db.QueryRowContext(ctx, query, projectID, provider).Scan(
		&key.ID,
		&key.Provider,
		&key.Token,
		&baseURL,
		&key.ProjectID,
		&key.OrganizationID,
		&key.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoProviderKey
	}
	if err != nil {
		return nil, fmt.Errorf("query provider key: %w", err)
	}

	if baseURL.Valid {
		key.BaseURL = baseURL.String
	}
	if s.sealer != nil {
		token, err := s.sealer.Open(key.Token)
		if err != nil {
			return nil, fmt.Errorf("open provider key %s: %w", key.ID, err)
		}
		key.Token = token
	}

	key.Active = true
	return &key, nil
}

func (s *pgProjects) GetByID(ctx context.Context, id string) (*domain.Project, error) {
	query := `
		SELECT id, organization_id, mode, caching_enabled, cache_duration_seconds, created_at, updated_at
		FROM projects
		WHERE id = $1
	`

	var project domain.Project
	var cacheSeconds int
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.OrganizationID,
		&project.Mode,
		&project.CachingEnabled,
		&cacheSeconds,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInvalidRequest
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}

	project.CacheDuration = time.Duration(cacheSeconds) * time.Second
	return &project, nil
}

func (s *pgOrgs) GetByID(ctx context.Context, id string) (*domain.Organization, error) {
	query := `
		SELECT id, credits, auto_top_up_enabled, auto_top_up_trigger, auto_top_up_amount,
		       COALESCE(last_top_up_at, 'epoch'::timestamptz), created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	var org domain.Organization
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Credits,
		&org.AutoTopUpEnabled,
		&org.AutoTopUpTrigger,
		&org.AutoTopUpAmount,
		&org.LastTopUpAt,
		&org.CreatedAt,
		&org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrInvalidRequest
	}
	if err != nil {
		return nil, fmt.Errorf("query organization: %w", err)
	}

	return &org, nil
}

// DebitForLog writes a ledger entry keyed by log id and decrements the
// balance in one transaction. The unique key makes replays no-ops, so a
// record is never billed twice even under queue redelivery, and the
// decrement is atomic at the store so concurrent workers are safe.
func (s *pgOrgs) DebitForLog(ctx context.Context, orgID, logID string, amount float64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (log_id, organization_id, amount, kind, created_at)
		VALUES ($1, $2, $3, 'debit', now())
		ON CONFLICT (log_id) DO NOTHING
	`, logID, orgID, amount)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Already billed for this log record.
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE organizations SET credits = credits - $2, updated_at = now() WHERE id = $1
	`, orgID, amount)
	if err != nil {
		return false, fmt.Errorf("debit credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit debit tx: %w", err)
	}
	return true, nil
}

// MarkTopUpTriggered claims the per-organization cooldown slot. The guarded
// UPDATE lets at most one worker win per window.
func (s *pgOrgs) MarkTopUpTriggered(ctx context.Context, orgID string, at time.Time, cooldown time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE organizations
		SET last_top_up_at = $2
		WHERE id = $1 AND (last_top_up_at IS NULL OR last_top_up_at <= $3)
	`, orgID, at, at.Add(-cooldown))
	if err != nil {
		return false, fmt.Errorf("mark top-up: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (s *pgOrgs) CreditTopUp(ctx context.Context, orgID string, amount float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET credits = credits + $2, updated_at = now() WHERE id = $1
	`, orgID, amount)
	if err != nil {
		return fmt.Errorf("credit top-up: %w", err)
	}
	return nil
}

func (s *pgLogs) InsertBatch(ctx context.Context, records []domain.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	// Redelivered records share ids with already-persisted rows, so a plain
	// COPY would abort the whole batch; the conflict clause makes replays
	// no-ops instead.
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO logs (
			id, request_id, project_id, api_key_id, provider_key_id, organization_id,
			requested_model, requested_provider, used_model, used_provider,
			finish_reason, has_error, error_details, canceled, streamed, cached,
			prompt_tokens, completion_tokens, total_tokens,
			cost, input_cost, output_cost, duration_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.RequestID, r.ProjectID, r.APIKeyID, r.ProviderKeyID, r.OrganizationID,
			r.RequestedModel, r.RequestedProvider, r.UsedModel, r.UsedProvider,
			r.FinishReason, r.HasError, r.ErrorDetails, r.Canceled, r.Streamed, r.Cached,
			r.PromptTokens, r.CompletionTokens, r.TotalTokens,
			r.Cost, r.InputCost, r.OutputCost, r.DurationMs, createdAt,
		); err != nil {
			return fmt.Errorf("insert log row %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert tx: %w", err)
	}
	return nil
}
