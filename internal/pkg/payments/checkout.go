package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/cache"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

var (
	// ErrRemoteFailed is returned when Square did not complete the charge
	ErrRemoteFailed = errors.New("payment could not be completed, please retry")
	// ErrCheckoutInProgress is returned for a second request with an idempotency key still being processed
	ErrCheckoutInProgress = errors.New("a payment with this idempotency key is in progress")
	// ErrInvalidRequest wraps every validation failure of a checkout body
	ErrInvalidRequest = errors.New("invalid payment request")
)

const (
	checkoutKeyPrefix = "checkout:"
	checkoutPending   = "pending"
	checkoutKeyTTL    = 24 * time.Hour
)

// Gateway is the part of the Square API checkout needs
type Gateway interface {
	CreatePayment(ctx context.Context, req square.CreatePaymentRequest) (*square.Payment, error)
	CreateCustomer(ctx context.Context, req square.CreateCustomerRequest) (*square.Customer, error)
}

// IdempotencyStore remembers which Square payment an idempotency key produced
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// CacheStore is the IdempotencyStore on the shared Redis cache
type CacheStore struct{}

func (CacheStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	return cache.SetNX(ctx, key, value, ttl)
}

func (CacheStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return cache.Set(ctx, key, value, ttl)
}

func (CacheStore) Get(ctx context.Context, key string) (string, error) {
	return cache.Get(ctx, key)
}

func (CacheStore) Delete(ctx context.Context, key string) error {
	return cache.Delete(ctx, key)
}

// CheckoutRequest is the body of POST /api/payments
type CheckoutRequest struct {
	AmountMoney    square.Money  `json:"amountMoney"`
	TipMoney       *square.Money `json:"tipMoney,omitempty"`
	SourceToken    string        `json:"sourceToken" validate:"required"`
	BuyerEmail     string        `json:"buyerEmail" validate:"required,email"`
	RegistrationID string        `json:"registrationId,omitempty" validate:"omitempty,max=191"`
	IdempotencyKey string        `json:"idempotencyKey,omitempty" validate:"omitempty,max=45"`
}

// CheckoutResult is the public view of a created payment
type CheckoutResult struct {
	PaymentID      string `json:"paymentId"`
	Status         string `json:"status"`
	AmountMoney    int64  `json:"amountMoney"`
	TipMoney       int64  `json:"tipMoney"`
	TotalMoney     int64  `json:"totalMoney"`
	Currency       string `json:"currency"`
	ReceiptNumber  string `json:"receiptNumber,omitempty"`
	ReceiptURL     string `json:"receiptUrl,omitempty"`
	RegistrationID string `json:"registrationId,omitempty"`
	IdempotencyKey string `json:"idempotencyKey"`
	Replayed       bool   `json:"replayed,omitempty"`
}

var validate = validator.New()

// Checkout charges a buyer through Square and records the payment locally
// through the same processors the webhooks use.
type Checkout struct {
	repos     *repository.Repositories
	gateway   Gateway
	payments  *PaymentProcessor
	customers *CustomerProcessor
	store     IdempotencyStore
}

func NewCheckout(repos *repository.Repositories, gateway Gateway, processors *Processors, store IdempotencyStore) *Checkout {
	return &Checkout{
		repos:     repos,
		gateway:   gateway,
		payments:  processors.Payment,
		customers: processors.Customer,
		store:     store,
	}
}

// Validate checks a request body
func (c *Checkout) Validate(req *CheckoutRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.AmountMoney.Amount <= 0 {
		return fmt.Errorf("%w: amountMoney.amount must be positive", ErrInvalidRequest)
	}
	if req.TipMoney != nil && req.TipMoney.Currency != "" && req.AmountMoney.Currency != "" &&
		!strings.EqualFold(req.TipMoney.Currency, req.AmountMoney.Currency) {
		return fmt.Errorf("%w: tipMoney currency must match amountMoney", ErrInvalidRequest)
	}
	return nil
}

// CreatePayment runs one checkout. Repeating a request with the same
// idempotency key returns the first result without charging again.
func (c *Checkout) CreatePayment(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := c.Validate(&req); err != nil {
		return nil, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	cacheKey := checkoutKeyPrefix + key

	// resumed: Square already charged this key but the local row is missing.
	// Repeating the call with the same key returns the original payment.
	resumed := false
	if prior, err := c.store.Get(ctx, cacheKey); err == nil {
		if prior == checkoutPending {
			return nil, ErrCheckoutInProgress
		}
		existing, err := c.repos.Payment.GetBySquareID(ctx, prior)
		if err == nil {
			res := resultFrom(existing, key)
			res.Replayed = true
			return res, nil
		}
		log.Warnf("[Payments] Payment %s for key %s missing locally, resuming: %v", prior, key, err)
		resumed = true
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Warnf("[Payments] Idempotency lookup failed, relying on Square idempotency: %v", err)
	}
	if !resumed {
		if ok, err := c.store.SetNX(ctx, cacheKey, checkoutPending, checkoutKeyTTL); err == nil && !ok {
			return nil, ErrCheckoutInProgress
		}
	}

	customerID, err := c.squareCustomerFor(ctx, req.BuyerEmail, key)
	if err != nil {
		log.Warnf("[Payments] Continuing checkout without customer profile: %v", err)
	}

	currency := strings.ToUpper(req.AmountMoney.Currency)
	if currency == "" {
		currency = "USD"
	}
	payReq := square.CreatePaymentRequest{
		SourceID:          req.SourceToken,
		IdempotencyKey:    key,
		AmountMoney:       square.Money{Amount: req.AmountMoney.Amount, Currency: currency},
		CustomerID:        customerID,
		ReferenceID:       req.RegistrationID,
		BuyerEmailAddress: models.NormalizeEmail(req.BuyerEmail),
		Autocomplete:      true,
	}
	if req.TipMoney != nil && req.TipMoney.Amount > 0 {
		payReq.TipMoney = &square.Money{Amount: req.TipMoney.Amount, Currency: currency}
	}

	remote, err := c.gateway.CreatePayment(ctx, payReq)
	if err != nil {
		if !resumed {
			_ = c.store.Delete(ctx, cacheKey)
		}
		log.Errorf("[Payments] Square payment failed for key %s: %v", key, err)
		return nil, fmt.Errorf("%w: %v", ErrRemoteFailed, err)
	}

	if res := c.payments.Apply(ctx, remote); res.Err != nil {
		// the charge went through; the payment webhook will bring the ledger in line
		log.Errorf("[Payments] Local record of payment %s failed: %v", remote.ID, res.Err)
	}
	if err := c.store.Set(ctx, cacheKey, remote.ID, checkoutKeyTTL); err != nil {
		log.Warnf("[Payments] Failed to store idempotency result for %s: %v", key, err)
	}

	if local, err := c.repos.Payment.GetBySquareID(ctx, remote.ID); err == nil {
		res := resultFrom(local, key)
		res.Replayed = resumed
		return res, nil
	}
	status, _ := MapPaymentStatus(remote.Status)
	amount, tip := square.AmountOf(remote.AmountMoney), square.AmountOf(remote.TipMoney)
	return &CheckoutResult{
		PaymentID:      remote.ID,
		Status:         status,
		AmountMoney:    amount,
		TipMoney:       tip,
		TotalMoney:     amount + tip,
		Currency:       currency,
		ReceiptNumber:  remote.ReceiptNumber,
		ReceiptURL:     remote.ReceiptURL,
		RegistrationID: req.RegistrationID,
		IdempotencyKey: key,
		Replayed:       resumed,
	}, nil
}

// squareCustomerFor returns the Square customer id for email, creating the
// profile remotely and locally when it is not known yet.
func (c *Checkout) squareCustomerFor(ctx context.Context, email, key string) (string, error) {
	existing, err := c.repos.Customer.GetByEmail(ctx, email)
	if err == nil && !existing.DeletedAt.Valid {
		return existing.SquareCustomerID, nil
	}
	if err != nil && !isNotFound(err) {
		return "", err
	}

	remote, err := c.gateway.CreateCustomer(ctx, square.CreateCustomerRequest{
		IdempotencyKey: key + "-customer",
		EmailAddress:   models.NormalizeEmail(email),
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	if res, _ := c.customers.Upsert(ctx, remote); res.Err != nil {
		log.Warnf("[Payments] Local record of customer %s failed: %v", remote.ID, res.Err)
	}
	return remote.ID, nil
}

func resultFrom(p *models.Payment, key string) *CheckoutResult {
	res := &CheckoutResult{
		PaymentID:      p.SquarePaymentID,
		Status:         p.Status,
		AmountMoney:    p.AmountMoney,
		TipMoney:       p.TipMoney,
		TotalMoney:     p.TotalMoney,
		Currency:       p.Currency,
		ReceiptNumber:  p.ReceiptNumber,
		ReceiptURL:     p.ReceiptURL,
		IdempotencyKey: key,
	}
	if p.RegistrationID != nil {
		res.RegistrationID = *p.RegistrationID
	}
	return res
}
