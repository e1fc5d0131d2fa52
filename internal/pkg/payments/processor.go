package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"gorm.io/gorm"
)

// Result is the outcome of one Process call. Err nil with Applied false means
// the event changed nothing (stale, duplicate or a rejected transition); Note
// says why and Kind classifies it when it is a warning.
type Result struct {
	Applied bool
	Err     error
	Kind    Kind
	Note    string
}

func applied() Result {
	return Result{Applied: true}
}

func skipped(kind Kind, format string, args ...interface{}) Result {
	return Result{Kind: kind, Note: fmt.Sprintf(format, args...)}
}

func failed(kind Kind, err error) Result {
	return Result{Err: err, Kind: kind}
}

// storeFailure classifies a repository error. Lost version races and
// duplicate inserts from racing creators are retried.
func storeFailure(op string, err error) Result {
	switch {
	case errors.Is(err, repository.ErrStaleVersion):
		return failed(KindTransient, fmt.Errorf("%s: concurrent update: %w", op, err))
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return failed(KindTransient, fmt.Errorf("%s: concurrent insert: %w", op, err))
	case errors.Is(err, context.DeadlineExceeded):
		return failed(KindTimeout, fmt.Errorf("%s: %w", op, err))
	default:
		return failed(KindTransient, fmt.Errorf("%s: %w", op, err))
	}
}

// Processor applies one typed webhook event to the local ledger
type Processor interface {
	Process(ctx context.Context, event webhook.Event) Result
}

// PaymentObserver is told about every payment whose status was written. The
// registration linker implements it; its failures never undo the payment.
type PaymentObserver interface {
	OnPaymentStatusChanged(ctx context.Context, payment *models.Payment) error
}

// Registry maps every known event type to its processor
type Registry struct {
	processors map[webhook.EventType]Processor
}

// Lookup returns the processor for t
func (r *Registry) Lookup(t webhook.EventType) (Processor, bool) {
	p, ok := r.processors[t]
	return p, ok
}

// Register sets the processor for t, replacing any previous one
func (r *Registry) Register(t webhook.EventType, p Processor) {
	r.processors[t] = p
}

// Processors bundles the four event processors sharing one set of repositories
type Processors struct {
	Payment  *PaymentProcessor
	Refund   *RefundProcessor
	Customer *CustomerProcessor
	Dispute  *DisputeProcessor
}

// NewProcessors builds all processors. observer may be nil.
func NewProcessors(repos *repository.Repositories, observer PaymentObserver) *Processors {
	now := func() time.Time { return time.Now().UTC() }
	return &Processors{
		Payment:  &PaymentProcessor{repos: repos, observer: observer, now: now},
		Refund:   &RefundProcessor{repos: repos, now: now},
		Customer: &CustomerProcessor{repos: repos, now: now},
		Dispute:  &DisputeProcessor{repos: repos, now: now},
	}
}

// Registry returns a registry covering every known event type
func (p *Processors) Registry() *Registry {
	r := &Registry{processors: map[webhook.EventType]Processor{}}
	for _, t := range webhook.KnownEventTypes() {
		switch t.Category() {
		case webhook.CategoryPayment:
			r.Register(t, p.Payment)
		case webhook.CategoryRefund:
			r.Register(t, p.Refund)
		case webhook.CategoryCustomer:
			r.Register(t, p.Customer)
		case webhook.CategoryDispute:
			r.Register(t, p.Dispute)
		}
	}
	return r
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
