// Package memrepo provides in-memory implementations of the repository
// interfaces. They follow the gorm implementations' contracts (not-found and
// duplicate-key errors, optimistic versions) and are used by service tests and
// local tooling.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"gorm.io/gorm"
)

// Store holds every table behind one mutex.
type Store struct {
	mu sync.Mutex

	nextID uint

	events    map[string]models.WebhookEvent
	attempts  []models.WebhookAttempt
	audits    []models.SecurityAuditEvent
	payments  map[uint]models.Payment
	refunds   map[uint]models.Refund
	customers map[uint]models.Customer
	records   map[uint]models.ReconciliationRecord
	runs      map[string]models.ReconciliationRun
	regs      map[string]models.Registration
	links     map[string]models.PendingRegistrationLink

	// FailWrites makes every write return the given error when set.
	FailWrites error
	// FailRecordWrites only fails reconciliation record writes.
	FailRecordWrites error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		events:    map[string]models.WebhookEvent{},
		payments:  map[uint]models.Payment{},
		refunds:   map[uint]models.Refund{},
		customers: map[uint]models.Customer{},
		records:   map[uint]models.ReconciliationRecord{},
		runs:      map[string]models.ReconciliationRun{},
		regs:      map[string]models.Registration{},
		links:     map[string]models.PendingRegistrationLink{},
	}
}

// Repositories wires all in-memory repositories onto the store.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		WebhookEvent:   &WebhookEvents{s},
		WebhookAttempt: &WebhookAttempts{s},
		SecurityAudit:  &SecurityAudits{s},
		Payment:        &Payments{s},
		Refund:         &Refunds{s},
		Customer:       &Customers{s},
		Reconciliation: &Reconciliations{s},
		Registration:   &Registrations{s},
		PendingLink:    &PendingLinks{s},
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// AddRegistration seeds a row owned by the registration service.
func (s *Store) AddRegistration(registrationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[registrationID] = models.Registration{RegistrationID: registrationID}
}

// AuditEvents returns a copy of the security audit log.
func (s *Store) AuditEvents() []models.SecurityAuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SecurityAuditEvent(nil), s.audits...)
}

// AllPayments returns all payments ordered by id.
func (s *Store) AllPayments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllCustomers returns all customers (deleted included) ordered by id.
func (s *Store) AllCustomers() []models.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllRecords returns all reconciliation records ordered by id.
func (s *Store) AllRecords() []models.ReconciliationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ReconciliationRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WebhookEvents implements repository.WebhookEventRepository.
type WebhookEvents struct{ s *Store }

func (r *WebhookEvents) CreateIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return false, nil, r.s.FailWrites
	}
	if stored, ok := r.s.events[event.EventID]; ok {
		return false, &stored, nil
	}
	event.ID = r.s.id()
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	r.s.events[event.EventID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *WebhookEvents) GetByEventID(_ context.Context, eventID string) (*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &e, nil
}

func (r *WebhookEvents) UpdateStatus(_ context.Context, eventID string, update models.WebhookEventUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	e, ok := r.s.events[eventID]
	if !ok {
		return nil
	}
	e.Status = update.Status
	e.LastError = update.LastError
	e.ErrorKind = update.ErrorKind
	if update.ProcessedAt != nil {
		e.ProcessedAt = update.ProcessedAt
	}
	e.UpdatedAt = time.Now()
	r.s.events[eventID] = e
	return nil
}

func (r *WebhookEvents) ListStaleReceived(_ context.Context, receivedBefore time.Time, limit int) ([]models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range r.s.events {
		if e.Status == models.WebhookStatusReceived && e.ReceivedAt.Before(receivedBefore) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *WebhookEvents) CountByStatus(_ context.Context) (map[string]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := map[string]int64{}
	for _, e := range r.s.events {
		counts[e.Status]++
	}
	return counts, nil
}

// WebhookAttempts implements repository.WebhookAttemptRepository.
type WebhookAttempts struct{ s *Store }

func (r *WebhookAttempts) Start(_ context.Context, attempt *models.WebhookAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	n := 0
	for _, a := range r.s.attempts {
		if a.EventID == attempt.EventID {
			n++
		}
	}
	attempt.ID = r.s.id()
	attempt.Attempt = n + 1
	if attempt.Outcome == "" {
		attempt.Outcome = models.AttemptOutcomeRunning
	}
	attempt.CreatedAt = time.Now()
	r.s.attempts = append(r.s.attempts, *attempt)
	return nil
}

func (r *WebhookAttempts) Finish(_ context.Context, id uint, outcome, errMsg, errKind string, finishedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.attempts {
		if r.s.attempts[i].ID == id {
			r.s.attempts[i].Outcome = outcome
			r.s.attempts[i].Error = errMsg
			r.s.attempts[i].ErrorKind = errKind
			f := finishedAt
			r.s.attempts[i].FinishedAt = &f
		}
	}
	return nil
}

func (r *WebhookAttempts) CountByEventID(_ context.Context, eventID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, a := range r.s.attempts {
		if a.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (r *WebhookAttempts) ListByEventID(_ context.Context, eventID string) ([]models.WebhookAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.WebhookAttempt
	for _, a := range r.s.attempts {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out, nil
}

// SecurityAudits implements repository.SecurityAuditRepository.
type SecurityAudits struct{ s *Store }

func (r *SecurityAudits) Create(_ context.Context, event *models.SecurityAuditEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	event.ID = r.s.id()
	r.s.audits = append(r.s.audits, *event)
	return nil
}
