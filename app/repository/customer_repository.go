package repository

import (
	"context"

	"github.com/ManuelReschke/PayRelay/app/models"
	"gorm.io/gorm"
)

// customerRepository implements the CustomerRepository interface
type customerRepository struct {
	db *gorm.DB
}

// NewCustomerRepository creates a new customer repository instance
func NewCustomerRepository(db *gorm.DB) CustomerRepository {
	return &customerRepository{db: db}
}

func (r *customerRepository) Create(ctx context.Context, customer *models.Customer) error {
	customer.SetEmail(customer.EmailAddress())
	if customer.Version == 0 {
		customer.Version = 1
	}
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *customerRepository) GetByID(ctx context.Context, id uint) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).First(&customer, id).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetBySquareID includes soft-deleted rows so late events for a deleted profile stay idempotent.
func (r *customerRepository) GetBySquareID(ctx context.Context, squareCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).Unscoped().Where("square_customer_id = ?", squareCustomerID).First(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *customerRepository) GetByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).Unscoped().Where("email = ?", models.NormalizeEmail(email)).First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// UpdateVersioned writes all columns, including deleted_at, under an optimistic version check.
func (r *customerRepository) UpdateVersioned(ctx context.Context, customer *models.Customer) error {
	customer.SetEmail(customer.EmailAddress())
	current := customer.Version
	customer.Version = current + 1
	res := r.db.WithContext(ctx).Unscoped().Model(&models.Customer{}).
		Where("id = ? AND version = ?", customer.ID, current).
		Select("*").Omit("id", "created_at").
		Updates(customer)
	if res.Error != nil {
		customer.Version = current
		return res.Error
	}
	if res.RowsAffected == 0 {
		customer.Version = current
		return ErrStaleVersion
	}
	return nil
}
