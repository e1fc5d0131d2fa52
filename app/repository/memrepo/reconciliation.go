package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"gorm.io/gorm"
)

// Reconciliations implements repository.ReconciliationRepository. Writes run
// the record's BeforeSave hook like gorm does.
type Reconciliations struct{ s *Store }

func (s *Store) recordWriteErr() error {
	if s.FailWrites != nil {
		return s.FailWrites
	}
	return s.FailRecordWrites
}

func (r *Reconciliations) Create(_ context.Context, record *models.ReconciliationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.recordWriteErr(); err != nil {
		return err
	}
	for _, existing := range r.s.records {
		if existing.RecordKey == record.RecordKey {
			return gorm.ErrDuplicatedKey
		}
	}
	if err := record.BeforeSave(nil); err != nil {
		return err
	}
	record.ID = r.s.id()
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	r.s.records[record.ID] = *record
	return nil
}

func (r *Reconciliations) Save(ctx context.Context, record *models.ReconciliationRecord) error {
	if record.ID == 0 {
		return r.Create(ctx, record)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.recordWriteErr(); err != nil {
		return err
	}
	if err := record.BeforeSave(nil); err != nil {
		return err
	}
	record.UpdatedAt = time.Now()
	r.s.records[record.ID] = *record
	return nil
}

func (r *Reconciliations) GetByID(_ context.Context, id uint) (*models.ReconciliationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &rec, nil
}

func (r *Reconciliations) GetByKey(_ context.Context, recordKey string) (*models.ReconciliationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rec := range r.s.records {
		if rec.RecordKey == recordKey {
			return &rec, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Reconciliations) List(_ context.Context, filter repository.ReconciliationFilter, offset, limit int) ([]models.ReconciliationRecord, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var matched []models.ReconciliationRecord
	for _, rec := range r.s.records {
		if filter.Type != "" && rec.Type != filter.Type {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.BatchID != "" && rec.BatchID != filter.BatchID {
			continue
		}
		if filter.ResolutionStatus != "" && rec.ResolutionStatus != filter.ResolutionStatus {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.ReconciliationRecord{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *Reconciliations) CreateRun(_ context.Context, run *models.ReconciliationRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	if _, ok := r.s.runs[run.BatchID]; ok {
		return gorm.ErrDuplicatedKey
	}
	run.ID = r.s.id()
	run.CreatedAt = time.Now()
	r.s.runs[run.BatchID] = *run
	return nil
}

func (r *Reconciliations) SaveRun(_ context.Context, run *models.ReconciliationRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	r.s.runs[run.BatchID] = *run
	return nil
}

func (r *Reconciliations) GetRunByBatchID(_ context.Context, batchID string) (*models.ReconciliationRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[batchID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

// Registrations implements repository.RegistrationRepository.
type Registrations struct{ s *Store }

func (r *Registrations) GetByID(_ context.Context, registrationID string) (*models.Registration, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	reg, ok := r.s.regs[registrationID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &reg, nil
}

func (r *Registrations) UpdatePayment(_ context.Context, registrationID, paymentStatus, squarePaymentID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	reg, ok := r.s.regs[registrationID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	reg.PaymentStatus = paymentStatus
	reg.SquarePaymentID = squarePaymentID
	reg.PaymentUpdatedAt = &at
	r.s.regs[registrationID] = reg
	return nil
}

// PendingLinks implements repository.PendingLinkRepository.
type PendingLinks struct{ s *Store }

func (r *PendingLinks) Upsert(_ context.Context, link *models.PendingRegistrationLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	if existing, ok := r.s.links[link.SquarePaymentID]; ok {
		existing.RegistrationID = link.RegistrationID
		existing.PaymentStatus = link.PaymentStatus
		existing.LastError = link.LastError
		existing.UpdatedAt = time.Now()
		r.s.links[link.SquarePaymentID] = existing
		*link = existing
		return nil
	}
	link.ID = r.s.id()
	if link.Status == "" {
		link.Status = models.PendingLinkStatusPending
	}
	link.CreatedAt = time.Now()
	link.UpdatedAt = link.CreatedAt
	r.s.links[link.SquarePaymentID] = *link
	return nil
}

func (r *PendingLinks) Save(_ context.Context, link *models.PendingRegistrationLink) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	link.UpdatedAt = time.Now()
	r.s.links[link.SquarePaymentID] = *link
	return nil
}

func (r *PendingLinks) ListPendingByRegistration(_ context.Context, registrationID string) ([]models.PendingRegistrationLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.PendingRegistrationLink
	for _, l := range r.s.links {
		if l.RegistrationID == registrationID && l.Status == models.PendingLinkStatusPending {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *PendingLinks) ListPending(_ context.Context, limit int) ([]models.PendingRegistrationLink, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.PendingRegistrationLink
	for _, l := range r.s.links {
		if l.Status == models.PendingLinkStatusPending {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
