// Package worker drains the log queue: it persists records, debits credits
// for billable usage, and triggers auto-top-ups when a balance crosses its
// threshold. Everything here is asynchronous to the request path; a slow or
// failing worker never blocks a response.
package worker

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/logqueue"
	"github.com/ledgergate/ledgergate/internal/metrics"
	"github.com/ledgergate/ledgergate/internal/notify"
	"github.com/ledgergate/ledgergate/internal/store"
	"github.com/ledgergate/ledgergate/internal/telemetry"
)

const (
	defaultBatchSize     = 50
	defaultPollInterval  = time.Second
	defaultFeeMultiplier = 1.05
	defaultTopUpCooldown = time.Hour
)

type Config struct {
	BatchSize    int
	PollInterval time.Duration

	// ServiceFeeMultiplier marks up provider cost before debiting. 1.05
	// means a 5% service fee.
	ServiceFeeMultiplier float64

	// TopUpCooldown is the minimum gap between auto-top-up attempts for one
	// organization.
	TopUpCooldown time.Duration
}

func (c *Config) fill() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ServiceFeeMultiplier <= 0 {
		c.ServiceFeeMultiplier = defaultFeeMultiplier
	}
	if c.TopUpCooldown <= 0 {
		c.TopUpCooldown = defaultTopUpCooldown
	}
}

type Worker struct {
	cfg      Config
	queue    logqueue.Queue
	store    *store.Store
	payments store.Payments
	notifier notify.Notifier
	logger   *slog.Logger

	now func() time.Time
}

func New(cfg Config, queue logqueue.Queue, st *store.Store, payments store.Payments, notifier notify.Notifier, logger *slog.Logger) *Worker {
	cfg.fill()
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		store:    st,
		payments: payments,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("billing worker started",
		"batch_size", w.cfg.BatchSize,
		"poll_interval", w.cfg.PollInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("billing worker stopped")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("process log batch", "error", err)
			}
		}
	}
}

// ProcessOnce drains and handles a single batch. Exposed so tests can drive
// the worker without the ticker.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	records, err := w.queue.DequeueBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	metrics.WorkerBatches.Inc()

	ctx, span := telemetry.Tracer().Start(ctx, "billing.process_batch",
		trace.WithAttributes(attribute.Int("batch.size", len(records))))
	defer span.End()

	if err := w.store.Logs.InsertBatch(ctx, records); err != nil {
		span.RecordError(err)
		// Put the batch back so nothing is lost; ids make the eventual
		// replay harmless.
		for _, r := range records {
			if qerr := w.queue.Enqueue(ctx, r); qerr != nil {
				w.logger.Error("re-enqueue log record", "log_id", r.ID, "error", qerr)
			}
		}
		return err
	}

	for _, r := range records {
		w.bill(ctx, r)
	}
	return nil
}

// bill debits one record's cost plus service fee, then checks whether the
// organization needs a top-up. Cached hits, zero-cost records and
// bring-your-own-key projects are never billed.
func (w *Worker) bill(ctx context.Context, r domain.LogRecord) {
	if r.Cached || r.Cost <= 0 || r.OrganizationID == "" {
		return
	}

	project, err := w.store.Projects.GetByID(ctx, r.ProjectID)
	if err != nil {
		w.logger.Error("load project for billing", "log_id", r.ID, "project_id", r.ProjectID, "error", err)
		metrics.WorkerBillingErrors.Inc()
		return
	}
	if project.Mode != domain.CreditsMode {
		return
	}

	amount := r.Cost * w.cfg.ServiceFeeMultiplier
	debited, err := w.store.Organizations.DebitForLog(ctx, r.OrganizationID, r.ID, amount)
	if err != nil {
		w.logger.Error("debit credits", "log_id", r.ID, "organization_id", r.OrganizationID, "error", err)
		metrics.WorkerBillingErrors.Inc()
		return
	}
	if !debited {
		// Redelivered record, already billed.
		return
	}

	metrics.CreditsDebited.WithLabelValues(r.OrganizationID).Add(amount)
	w.publish(ctx, notify.Event{
		Type:           notify.EventCreditsDebited,
		OrganizationID: r.OrganizationID,
		Amount:         amount,
		At:             w.now(),
	})

	w.maybeTopUp(ctx, r.OrganizationID)
}

func (w *Worker) maybeTopUp(ctx context.Context, orgID string) {
	org, err := w.store.Organizations.GetByID(ctx, orgID)
	if err != nil {
		w.logger.Error("load organization", "organization_id", orgID, "error", err)
		return
	}
	if !org.AutoTopUpEnabled || org.Credits > org.AutoTopUpTrigger {
		return
	}

	// No collaborator means no charge can happen; checked before claiming so
	// the cooldown slot stays free for a replica that can charge.
	if w.payments == nil {
		w.logger.Warn("auto-top-up skipped, no payment collaborator", "organization_id", orgID)
		metrics.TopUpsTriggered.WithLabelValues("skipped").Inc()
		return
	}

	claimed, err := w.store.Organizations.MarkTopUpTriggered(ctx, orgID, w.now(), w.cfg.TopUpCooldown)
	if err != nil {
		w.logger.Error("claim top-up slot", "organization_id", orgID, "error", err)
		return
	}
	if !claimed {
		// Another worker won, or the cooldown is still running.
		return
	}

	if err := w.payments.ChargeDefaultPaymentMethod(ctx, orgID, org.AutoTopUpAmount); err != nil {
		w.logger.Error("auto-top-up charge failed",
			"organization_id", orgID,
			"amount", org.AutoTopUpAmount,
			"error", err,
		)
		metrics.TopUpsTriggered.WithLabelValues("failed").Inc()
		w.publish(ctx, notify.Event{
			Type:           notify.EventTopUpFailed,
			OrganizationID: orgID,
			Amount:         org.AutoTopUpAmount,
			At:             w.now(),
		})
		return
	}

	if err := w.store.Organizations.CreditTopUp(ctx, orgID, org.AutoTopUpAmount); err != nil {
		w.logger.Error("credit top-up", "organization_id", orgID, "error", err)
		return
	}

	w.logger.Info("auto-top-up charged",
		"organization_id", orgID,
		"amount", org.AutoTopUpAmount,
	)
	metrics.TopUpsTriggered.WithLabelValues("charged").Inc()
	w.publish(ctx, notify.Event{
		Type:           notify.EventTopUpCharged,
		OrganizationID: orgID,
		Amount:         org.AutoTopUpAmount,
		At:             w.now(),
	})
}

func (w *Worker) publish(ctx context.Context, event notify.Event) {
	if err := w.notifier.Publish(ctx, event); err != nil {
		w.logger.Warn("publish billing event", "type", event.Type, "error", err)
	}
}
