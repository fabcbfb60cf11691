package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/logqueue"
	"github.com/ledgergate/ledgergate/internal/notify"
	"github.com/ledgergate/ledgergate/internal/store"
)

type mockPayments struct {
	ChargeFunc func(ctx context.Context, orgID string, amount float64) error
	calls      int
}

func (m *mockPayments) ChargeDefaultPaymentMethod(ctx context.Context, orgID string, amount float64) error {
	m.calls++
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, orgID, amount)
	}
	return nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Publish(ctx context.Context, event notify.Event) error {
	n.events = append(n.events, event)
	return nil
}

func billingFixture(org *domain.Organization, mode string) (*store.Memory, *logqueue.MemoryQueue) {
	m := store.NewMemory()
	m.AddOrganization(org)
	m.AddProject(&domain.Project{ID: "proj-1", OrganizationID: org.ID, Mode: mode})
	return m, logqueue.NewMemoryQueue()
}

func record(id string, cost float64) domain.LogRecord {
	return domain.LogRecord{
		ID:             id,
		ProjectID:      "proj-1",
		OrganizationID: "org-1",
		UsedProvider:   "openai",
		UsedModel:      "gpt-4o",
		Cost:           cost,
	}
}

func TestWorkerBillsWithServiceFee(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{ID: "org-1", Credits: 100}, domain.CreditsMode)
	w := New(Config{ServiceFeeMultiplier: 1.05}, q, mem.Store(), nil, nil, slog.Default())
	ctx := context.Background()

	q.Enqueue(ctx, record("log-1", 10))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
	want := 100 - 10*1.05
	if org.Credits != want {
		t.Errorf("credits = %v, want %v", org.Credits, want)
	}
	if len(mem.LogRecords()) != 1 {
		t.Errorf("records persisted = %d, want 1", len(mem.LogRecords()))
	}
}

func TestWorkerRedeliveryBilledOnce(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{ID: "org-1", Credits: 100}, domain.CreditsMode)
	w := New(Config{}, q, mem.Store(), nil, nil, slog.Default())
	ctx := context.Background()

	// The queue is at-least-once: the same record can arrive twice.
	q.Enqueue(ctx, record("log-1", 10))
	q.Enqueue(ctx, record("log-1", 10))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
	if org.Credits != 100-10*1.05 {
		t.Errorf("credits = %v, redelivery must not double-bill", org.Credits)
	}
}

func TestWorkerSkipsNonBillable(t *testing.T) {
	tests := []struct {
		name string
		mode string
		rec  domain.LogRecord
	}{
		{"cached hit", domain.CreditsMode, func() domain.LogRecord { r := record("log-1", 10); r.Cached = true; return r }()},
		{"zero cost", domain.CreditsMode, record("log-2", 0)},
		{"byok project", domain.APIKeysMode, record("log-3", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, q := billingFixture(&domain.Organization{ID: "org-1", Credits: 100}, tt.mode)
			w := New(Config{}, q, mem.Store(), nil, nil, slog.Default())
			ctx := context.Background()

			q.Enqueue(ctx, tt.rec)
			if err := w.ProcessOnce(ctx); err != nil {
				t.Fatalf("ProcessOnce: %v", err)
			}

			org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
			if org.Credits != 100 {
				t.Errorf("credits = %v, record must not be billed", org.Credits)
			}
		})
	}
}

func TestWorkerAutoTopUp(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{
		ID:               "org-1",
		Credits:          12,
		AutoTopUpEnabled: true,
		AutoTopUpTrigger: 5,
		AutoTopUpAmount:  50,
	}, domain.CreditsMode)

	payments := &mockPayments{}
	notifier := &recordingNotifier{}
	w := New(Config{}, q, mem.Store(), payments, notifier, slog.Default())
	ctx := context.Background()

	// Debiting 10*1.05 drops the balance to 1.5, below the trigger.
	q.Enqueue(ctx, record("log-1", 10))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	if payments.calls != 1 {
		t.Fatalf("charge calls = %d, want 1", payments.calls)
	}
	org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
	if org.Credits != 12-10*1.05+50 {
		t.Errorf("credits = %v after top-up", org.Credits)
	}

	var charged bool
	for _, ev := range notifier.events {
		if ev.Type == notify.EventTopUpCharged {
			charged = true
		}
	}
	if !charged {
		t.Error("top_up.charged event not published")
	}
}

func TestWorkerTopUpCooldown(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{
		ID:               "org-1",
		Credits:          3,
		AutoTopUpEnabled: true,
		AutoTopUpTrigger: 5,
		AutoTopUpAmount:  1, // stays under the trigger so every debit re-checks
	}, domain.CreditsMode)

	payments := &mockPayments{}
	w := New(Config{TopUpCooldown: time.Hour}, q, mem.Store(), payments, nil, slog.Default())
	ctx := context.Background()

	base := time.Now()
	w.now = func() time.Time { return base }

	q.Enqueue(ctx, record("log-1", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if payments.calls != 1 {
		t.Fatalf("charge calls = %d, want 1", payments.calls)
	}

	// A second billable record inside the cooldown window must not charge.
	w.now = func() time.Time { return base.Add(10 * time.Minute) }
	q.Enqueue(ctx, record("log-2", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if payments.calls != 1 {
		t.Errorf("charge calls = %d, cooldown must hold", payments.calls)
	}

	// After the window it may charge again.
	w.now = func() time.Time { return base.Add(2 * time.Hour) }
	q.Enqueue(ctx, record("log-3", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if payments.calls != 2 {
		t.Errorf("charge calls = %d, want 2 after cooldown", payments.calls)
	}
}

func TestWorkerTopUpWithoutPaymentsLeavesSlotFree(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{
		ID:               "org-1",
		Credits:          3,
		AutoTopUpEnabled: true,
		AutoTopUpTrigger: 5,
		AutoTopUpAmount:  50,
	}, domain.CreditsMode)
	ctx := context.Background()

	// No payment collaborator: nothing to charge with, and the cooldown slot
	// must stay unclaimed for a replica that has one.
	w := New(Config{TopUpCooldown: time.Hour}, q, mem.Store(), nil, nil, slog.Default())
	q.Enqueue(ctx, record("log-1", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
	if !org.LastTopUpAt.IsZero() {
		t.Fatal("cooldown slot claimed without a payment collaborator")
	}

	// A worker with payments wired charges immediately, window unburned.
	payments := &mockPayments{}
	w = New(Config{TopUpCooldown: time.Hour}, q, mem.Store(), payments, nil, slog.Default())
	q.Enqueue(ctx, record("log-2", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	if payments.calls != 1 {
		t.Errorf("charge calls = %d, want 1", payments.calls)
	}
}

func TestWorkerBatchTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	mem, q := billingFixture(&domain.Organization{ID: "org-1", Credits: 100}, domain.CreditsMode)
	w := New(Config{}, q, mem.Store(), nil, nil, slog.Default())
	ctx := context.Background()

	q.Enqueue(ctx, record("log-1", 10))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() != "billing.process_batch" {
			continue
		}
		found = true
		for _, attr := range span.Attributes() {
			if attr.Key == "batch.size" && attr.Value.AsInt64() != 1 {
				t.Errorf("batch.size = %d", attr.Value.AsInt64())
			}
		}
	}
	if !found {
		t.Error("no billing.process_batch span recorded")
	}
}

func TestWorkerTopUpChargeFailure(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{
		ID:               "org-1",
		Credits:          3,
		AutoTopUpEnabled: true,
		AutoTopUpTrigger: 5,
		AutoTopUpAmount:  50,
	}, domain.CreditsMode)

	payments := &mockPayments{
		ChargeFunc: func(ctx context.Context, orgID string, amount float64) error {
			return errors.New("card declined")
		},
	}
	notifier := &recordingNotifier{}
	w := New(Config{}, q, mem.Store(), payments, notifier, slog.Default())
	ctx := context.Background()

	q.Enqueue(ctx, record("log-1", 1))
	if err := w.ProcessOnce(ctx); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}

	org, _ := mem.Store().Organizations.GetByID(ctx, "org-1")
	if org.Credits != 3-1*1.05 {
		t.Errorf("credits = %v, failed charge must not credit", org.Credits)
	}

	var failed bool
	for _, ev := range notifier.events {
		if ev.Type == notify.EventTopUpFailed {
			failed = true
		}
	}
	if !failed {
		t.Error("top_up.failed event not published")
	}
}

type failingLogs struct{}

func (failingLogs) InsertBatch(ctx context.Context, records []domain.LogRecord) error {
	return errors.New("database down")
}

func TestWorkerReenqueuesOnInsertFailure(t *testing.T) {
	mem, q := billingFixture(&domain.Organization{ID: "org-1", Credits: 100}, domain.CreditsMode)
	st := mem.Store()
	st.Logs = failingLogs{}

	w := New(Config{}, q, st, nil, nil, slog.Default())
	ctx := context.Background()

	q.Enqueue(ctx, record("log-1", 10))
	if err := w.ProcessOnce(ctx); err == nil {
		t.Fatal("expected insert error")
	}

	if q.Len() != 1 {
		t.Errorf("queue len = %d, failed batch must be re-enqueued", q.Len())
	}
	org, _ := st.Organizations.GetByID(ctx, "org-1")
	if org.Credits != 100 {
		t.Errorf("credits = %v, unpersisted records must not be billed", org.Credits)
	}
}
