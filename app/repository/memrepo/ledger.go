package memrepo

import (
	"context"
	"sort"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"gorm.io/gorm"
)

// Payments implements repository.PaymentRepository.
type Payments struct{ s *Store }

func (r *Payments) Create(_ context.Context, payment *models.Payment) error {
	if err := payment.CheckAmounts(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	for _, p := range r.s.payments {
		if p.SquarePaymentID == payment.SquarePaymentID {
			return gorm.ErrDuplicatedKey
		}
	}
	payment.ID = r.s.id()
	if payment.Version == 0 {
		payment.Version = 1
	}
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	r.s.payments[payment.ID] = *payment
	return nil
}

func (r *Payments) GetByID(_ context.Context, id uint) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *Payments) GetBySquareID(_ context.Context, squarePaymentID string) (*models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.SquarePaymentID == squarePaymentID {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Payments) UpdateVersioned(_ context.Context, payment *models.Payment) error {
	if err := payment.CheckAmounts(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	stored, ok := r.s.payments[payment.ID]
	if !ok || stored.Version != payment.Version {
		return repository.ErrStaleVersion
	}
	payment.Version++
	payment.CreatedAt = stored.CreatedAt
	payment.UpdatedAt = time.Now()
	r.s.payments[payment.ID] = *payment
	return nil
}

func (r *Payments) ListSyncedBetween(_ context.Context, from, to time.Time) ([]models.Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Payment
	for _, p := range r.s.payments {
		if p.SyncedAt != nil && !p.SyncedAt.Before(from) && p.SyncedAt.Before(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Payments) MarkReconciled(_ context.Context, id uint, syncStatus string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.payments[id]
	if !ok {
		return nil
	}
	p.SyncStatus = syncStatus
	p.LastReconciledAt = &at
	r.s.payments[id] = p
	return nil
}

// Refunds implements repository.RefundRepository.
type Refunds struct{ s *Store }

func (r *Refunds) Create(_ context.Context, refund *models.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	for _, existing := range r.s.refunds {
		if existing.SquareRefundID == refund.SquareRefundID {
			return gorm.ErrDuplicatedKey
		}
	}
	refund.ID = r.s.id()
	refund.CreatedAt = time.Now()
	refund.UpdatedAt = refund.CreatedAt
	r.s.refunds[refund.ID] = *refund
	return nil
}

func (r *Refunds) GetBySquareID(_ context.Context, squareRefundID string) (*models.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, refund := range r.s.refunds {
		if refund.SquareRefundID == squareRefundID {
			return &refund, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Refunds) Update(_ context.Context, refund *models.Refund) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	refund.UpdatedAt = time.Now()
	r.s.refunds[refund.ID] = *refund
	return nil
}

func (r *Refunds) ListByPaymentID(_ context.Context, paymentID uint) ([]models.Refund, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Refund
	for _, refund := range r.s.refunds {
		if refund.PaymentID == paymentID {
			out = append(out, refund)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Customers implements repository.CustomerRepository.
type Customers struct{ s *Store }

func (r *Customers) conflicts(c *models.Customer) bool {
	for _, existing := range r.s.customers {
		if existing.ID == c.ID {
			continue
		}
		if existing.SquareCustomerID == c.SquareCustomerID {
			return true
		}
		if c.Email != nil && existing.Email != nil && *existing.Email == *c.Email {
			return true
		}
	}
	return false
}

func (r *Customers) Create(_ context.Context, customer *models.Customer) error {
	customer.SetEmail(customer.EmailAddress())
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	if r.conflicts(customer) {
		return gorm.ErrDuplicatedKey
	}
	customer.ID = r.s.id()
	if customer.Version == 0 {
		customer.Version = 1
	}
	customer.CreatedAt = time.Now()
	customer.UpdatedAt = customer.CreatedAt
	r.s.customers[customer.ID] = *customer
	return nil
}

func (r *Customers) GetByID(_ context.Context, id uint) (*models.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok || c.DeletedAt.Valid {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (r *Customers) GetBySquareID(_ context.Context, squareCustomerID string) (*models.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.customers {
		if c.SquareCustomerID == squareCustomerID {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Customers) GetByEmail(_ context.Context, email string) (*models.Customer, error) {
	email = models.NormalizeEmail(email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.customers {
		if c.Email != nil && *c.Email == email {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *Customers) UpdateVersioned(_ context.Context, customer *models.Customer) error {
	customer.SetEmail(customer.EmailAddress())
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailWrites != nil {
		return r.s.FailWrites
	}
	stored, ok := r.s.customers[customer.ID]
	if !ok || stored.Version != customer.Version {
		return repository.ErrStaleVersion
	}
	if r.conflicts(customer) {
		return gorm.ErrDuplicatedKey
	}
	customer.Version++
	customer.CreatedAt = stored.CreatedAt
	customer.UpdatedAt = time.Now()
	r.s.customers[customer.ID] = *customer
	return nil
}
