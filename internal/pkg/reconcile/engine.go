// Package reconcile compares the local payment ledger with Square and records
// every difference as a ReconciliationRecord for human follow-up.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/metrics"
	"github.com/ManuelReschke/PayRelay/internal/pkg/payments"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	lookupFailedPrefix  = "lookup failed: "
	// precedes the last failed lookup in a kept record's Details
	lookupNoteSeparator = "; last lookup failed: "
)

// ErrBatchRunning is returned when a batch is started while another one runs
var ErrBatchRunning = errors.New("reconcile: a batch is already running")

// TimeRange is a half-open window [From, To)
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the window is non-empty
func (r TimeRange) Valid() bool {
	return !r.From.IsZero() && r.To.After(r.From)
}

// WindowEndingBefore returns the last complete window of size that ends at or
// before now. Windows are aligned so repeated runs reuse the same record keys.
func WindowEndingBefore(now time.Time, size time.Duration) TimeRange {
	to := now.UTC().Truncate(size)
	return TimeRange{From: to.Add(-size), To: to}
}

// Ledger is the remote source of truth
type Ledger interface {
	GetPayment(ctx context.Context, paymentID string) (*square.Payment, error)
}

// Archiver stores a finished batch summary
type Archiver interface {
	StoreReport(ctx context.Context, batchID string, startedAt time.Time, body []byte) (string, error)
}

// Summary reports one batch
type Summary struct {
	BatchID       string         `json:"batch_id"`
	Window        TimeRange      `json:"window"`
	Total         int            `json:"total"`
	Matched       int            `json:"matched"`
	Unmatched     int            `json:"unmatched"`
	Discrepancies int            `json:"discrepancies"`
	LookupFailed  int            `json:"lookup_failed"`
	Findings      []Finding      `json:"findings,omitempty"`
	ArchiveKey    string         `json:"archive_key,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	ByDiscrepancy map[string]int `json:"by_discrepancy,omitempty"`
}

// Finding is the part of a non-matched record worth putting in a report
type Finding struct {
	RecordID        uint   `json:"record_id"`
	SquarePaymentID string `json:"square_payment_id"`
	Status          string `json:"status"`
	DiscrepancyType string `json:"discrepancy_type"`
	Expected        *int64 `json:"expected,omitempty"`
	Actual          *int64 `json:"actual,omitempty"`
	Difference      *int64 `json:"difference,omitempty"`
}

// Engine runs reconciliation batches
type Engine struct {
	repos      *repository.Repositories
	ledger     Ledger
	archiver   Archiver
	now        func() time.Time
	newBatchID func() string

	mu      sync.Mutex
	running bool
}

// NewEngine creates an engine. archiver may be nil.
func NewEngine(repos *repository.Repositories, ledger Ledger, archiver Archiver) *Engine {
	return &Engine{
		repos:      repos,
		ledger:     ledger,
		archiver:   archiver,
		now:        func() time.Time { return time.Now().UTC() },
		newBatchID: uuid.NewString,
	}
}

// RecordKey is the idempotency key of a payment's record for window
func RecordKey(paymentID uint, window TimeRange) string {
	return fmt.Sprintf("payment:%d:%s:%s", paymentID,
		window.From.UTC().Format(time.RFC3339), window.To.UTC().Format(time.RFC3339))
}

// RunBatch reconciles every local payment synced inside window. A failed
// remote lookup is recorded and the batch continues; only local store errors
// abort it.
func (e *Engine) RunBatch(ctx context.Context, window TimeRange) (*Summary, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("reconcile: invalid window %s - %s", window.From, window.To)
	}
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrBatchRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ctx, span := metrics.StartSpan(ctx, "reconcile.batch",
		attribute.String("window.from", window.From.Format(time.RFC3339)),
		attribute.String("window.to", window.To.Format(time.RFC3339)))
	defer span.End()

	summary := &Summary{
		BatchID:       e.newBatchID(),
		Window:        window,
		StartedAt:     e.now(),
		ByDiscrepancy: map[string]int{},
	}
	run := &models.ReconciliationRun{
		BatchID:     summary.BatchID,
		WindowStart: window.From,
		WindowEnd:   window.To,
		StartedAt:   summary.StartedAt,
	}
	if err := e.repos.Reconciliation.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	local, err := e.repos.Payment.ListSyncedBetween(ctx, window.From, window.To)
	if err != nil {
		return nil, e.abort(ctx, run, summary, fmt.Errorf("list payments: %w", err))
	}
	log.Infof("[Reconcile] Batch %s: %d payments in %s - %s", summary.BatchID, len(local), window.From.Format(time.RFC3339), window.To.Format(time.RFC3339))

	for i := range local {
		if err := ctx.Err(); err != nil {
			return nil, e.abort(ctx, run, summary, err)
		}
		record, lookupFailed, err := e.reconcilePayment(ctx, summary.BatchID, window, &local[i])
		if err != nil {
			return nil, e.abort(ctx, run, summary, err)
		}
		summary.count(record, lookupFailed)
	}

	summary.FinishedAt = e.now()
	e.archive(ctx, summary)

	summary.fill(run)
	run.ArchiveKey = summary.ArchiveKey
	if err := e.repos.Reconciliation.SaveRun(ctx, run); err != nil {
		return summary, fmt.Errorf("save run: %w", err)
	}

	log.Infof("[Reconcile] Batch %s done: %d matched, %d unmatched, %d discrepancies, %d lookups failed",
		summary.BatchID, summary.Matched, summary.Unmatched, summary.Discrepancies, summary.LookupFailed)
	return summary, nil
}

// abort closes run with cause so an interrupted batch is not left open
func (e *Engine) abort(ctx context.Context, run *models.ReconciliationRun, summary *Summary, cause error) error {
	summary.FinishedAt = e.now()
	summary.fill(run)
	run.Error = cause.Error()
	if err := e.repos.Reconciliation.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		log.Errorf("[Reconcile] Failed to close aborted batch %s: %v", run.BatchID, err)
	}
	log.Errorf("[Reconcile] Batch %s aborted after %d payments: %v", run.BatchID, summary.Total, cause)
	return cause
}

func (s *Summary) fill(run *models.ReconciliationRun) {
	run.Total = s.Total
	run.Matched = s.Matched
	run.Unmatched = s.Unmatched
	run.Discrepancies = s.Discrepancies
	run.LookupFailed = s.LookupFailed
	finished := s.FinishedAt
	run.FinishedAt = &finished
}

// count adds r to the totals. A failed lookup is counted as such even when
// the stored record kept an earlier classification.
func (s *Summary) count(r *models.ReconciliationRecord, lookupFailed bool) {
	s.Total++
	discrepancy := r.DiscrepancyType
	switch {
	case lookupFailed:
		s.LookupFailed++
		discrepancy = models.DiscrepancyLookupFailed
	case r.Status == models.ReconStatusMatched:
		s.Matched++
	case r.Status == models.ReconStatusUnmatched:
		s.Unmatched++
	case r.Status == models.ReconStatusDiscrepancy:
		s.Discrepancies++
	}
	if discrepancy != models.DiscrepancyNone {
		s.ByDiscrepancy[discrepancy]++
	}
	if lookupFailed || r.Status != models.ReconStatusMatched {
		s.Findings = append(s.Findings, Finding{
			RecordID:        r.ID,
			SquarePaymentID: r.SquarePaymentID,
			Status:          r.Status,
			DiscrepancyType: discrepancy,
			Expected:        r.ExpectedAmount,
			Actual:          r.ActualAmount,
			Difference:      r.DifferenceAmount,
		})
	}
}

func (e *Engine) reconcilePayment(ctx context.Context, batchID string, window TimeRange, p *models.Payment) (*models.ReconciliationRecord, bool, error) {
	remote, lookupErr := e.ledger.GetPayment(ctx, p.SquarePaymentID)
	fresh := Classify(p, remote, lookupErr)
	lookupFailed := fresh.DiscrepancyType == models.DiscrepancyLookupFailed

	fresh.RecordKey = RecordKey(p.ID, window)
	fresh.BatchID = batchID
	fresh.PaymentID = &p.ID
	fresh.SquarePaymentID = p.SquarePaymentID
	fresh.Currency = p.Currency
	from, to := window.From, window.To
	fresh.WindowStart = &from
	fresh.WindowEnd = &to

	existing, err := e.repos.Reconciliation.GetByKey(ctx, fresh.RecordKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("load record %s: %w", fresh.RecordKey, err)
	}
	record := fresh
	if existing != nil {
		record = merge(existing, fresh)
		err = e.repos.Reconciliation.Save(ctx, record)
	} else {
		err = e.repos.Reconciliation.Create(ctx, record)
	}
	if err != nil {
		return nil, false, fmt.Errorf("store record %s: %w", fresh.RecordKey, err)
	}
	metrics.ReconciliationRecord(ctx, fresh.Status, fresh.DiscrepancyType)

	if lookupFailed {
		// nothing was learned about the payment; keep its sync state
		log.Warnf("[Reconcile] Payment %s: %s", p.SquarePaymentID, fresh.Details)
		return record, true, nil
	}

	syncStatus := models.SyncStatusSynced
	if record.Status != models.ReconStatusMatched && record.Status != models.ReconStatusResolved {
		syncStatus = models.SyncStatusError
	}
	if err := e.repos.Payment.MarkReconciled(ctx, p.ID, syncStatus, e.now()); err != nil {
		log.Warnf("[Reconcile] Failed to mark payment %s reconciled: %v", p.SquarePaymentID, err)
	}
	if record.Status != models.ReconStatusMatched {
		log.Warnf("[Reconcile] Payment %s: %s %s", p.SquarePaymentID, record.Status, record.DiscrepancyType)
	}
	return record, false, nil
}

// merge applies a fresh classification to a stored record. A human
// resolution survives as long as the classification did not change. A failed
// lookup changes nothing but the batch and a note in Details.
func merge(existing, fresh *models.ReconciliationRecord) *models.ReconciliationRecord {
	out := *existing
	if fresh.DiscrepancyType == models.DiscrepancyLookupFailed && existing.DiscrepancyType != models.DiscrepancyLookupFailed {
		base, _, _ := strings.Cut(existing.Details, lookupNoteSeparator)
		out.BatchID = fresh.BatchID
		out.Details = base + lookupNoteSeparator + strings.TrimPrefix(fresh.Details, lookupFailedPrefix)
		return &out
	}
	sameClass := existing.DiscrepancyType == fresh.DiscrepancyType &&
		(existing.Status == fresh.Status || existing.Status == models.ReconStatusResolved)

	out.BatchID = fresh.BatchID
	out.ExpectedAmount = fresh.ExpectedAmount
	out.ActualAmount = fresh.ActualAmount
	out.Details = fresh.Details
	if sameClass {
		return &out
	}
	out.Status = fresh.Status
	out.DiscrepancyType = fresh.DiscrepancyType
	out.ResolutionStatus = fresh.ResolutionStatus
	out.ResolvedBy = ""
	out.ResolvedAt = nil
	out.ResolutionNotes = ""
	return &out
}

// Classify compares one local payment with its remote counterpart. remote is
// nil when lookupErr is set. Any non-zero difference is a discrepancy.
func Classify(local *models.Payment, remote *square.Payment, lookupErr error) *models.ReconciliationRecord {
	rec := &models.ReconciliationRecord{
		Type:             models.ReconTypePayment,
		ResolutionStatus: models.ResolutionPending,
		ExpectedAmount:   models.Int64Ptr(local.TotalMoney),
	}

	switch {
	case errors.Is(lookupErr, square.ErrNotFound):
		rec.Status = models.ReconStatusUnmatched
		rec.DiscrepancyType = models.DiscrepancyNotFound
		rec.Details = "payment not found in Square"
		return rec
	case lookupErr != nil:
		rec.Status = models.ReconStatusDiscrepancy
		rec.DiscrepancyType = models.DiscrepancyLookupFailed
		rec.Details = lookupFailedPrefix + lookupErr.Error()
		return rec
	case remote == nil:
		rec.Status = models.ReconStatusUnmatched
		rec.DiscrepancyType = models.DiscrepancyNotFound
		return rec
	}

	remoteTotal := square.AmountOf(remote.AmountMoney) + square.AmountOf(remote.TipMoney)
	if remote.TotalMoney != nil {
		remoteTotal = remote.TotalMoney.Amount
	}
	if remoteTotal != local.TotalMoney {
		rec.Status = models.ReconStatusDiscrepancy
		rec.DiscrepancyType = models.DiscrepancyAmountMismatch
		rec.ActualAmount = models.Int64Ptr(remoteTotal)
		rec.Details = fmt.Sprintf("total local=%d remote=%d", local.TotalMoney, remoteTotal)
		return rec
	}

	remoteRefunded := square.AmountOf(remote.RefundedMoney)
	if remoteRefunded != local.RefundedMoney {
		rec.Status = models.ReconStatusDiscrepancy
		rec.DiscrepancyType = models.DiscrepancyRefundMismatch
		rec.ExpectedAmount = models.Int64Ptr(local.RefundedMoney)
		rec.ActualAmount = models.Int64Ptr(remoteRefunded)
		rec.Details = fmt.Sprintf("refunded local=%d remote=%d", local.RefundedMoney, remoteRefunded)
		return rec
	}

	remoteStatus, _ := payments.MapPaymentStatus(remote.Status)
	if remoteStatus != local.Status {
		expected := settled(local.Status, local.TotalMoney, local.RefundedMoney)
		actual := settled(remoteStatus, remoteTotal, remoteRefunded)
		rec.ExpectedAmount = models.Int64Ptr(expected)
		// the actual amount stays unset when the settled money agrees, so
		// Recompute cannot turn a status disagreement into a match
		if expected != actual {
			rec.ActualAmount = models.Int64Ptr(actual)
		}
		rec.Details = fmt.Sprintf("status local=%s remote=%s", local.Status, remote.Status)
		rec.Status = models.ReconStatusDiscrepancy
		rec.DiscrepancyType = models.DiscrepancyStatusMismatch
		return rec
	}

	rec.Status = models.ReconStatusMatched
	rec.ActualAmount = models.Int64Ptr(remoteTotal)
	rec.ResolutionStatus = models.ResolutionResolved
	return rec
}

// settled is the money a payment in status actually keeps
func settled(status string, total, refunded int64) int64 {
	if status == models.PaymentStatusCompleted {
		return total - refunded
	}
	return 0
}

func (e *Engine) archive(ctx context.Context, summary *Summary) {
	if e.archiver == nil {
		return
	}
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Errorf("[Reconcile] Failed to encode summary %s: %v", summary.BatchID, err)
		return
	}
	key, err := e.archiver.StoreReport(ctx, summary.BatchID, summary.StartedAt, body)
	if err != nil {
		log.Errorf("[Reconcile] Failed to archive summary %s: %v", summary.BatchID, err)
		return
	}
	summary.ArchiveKey = key
}
