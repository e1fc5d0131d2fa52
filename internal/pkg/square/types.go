package square

import "time"

// Money is an amount in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount" validate:"gte=0"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// AmountOf returns m.Amount or 0 for a nil money object
func AmountOf(m *Money) int64 {
	if m == nil {
		return 0
	}
	return m.Amount
}

type ProcessingFee struct {
	AmountMoney Money  `json:"amount_money"`
	Type        string `json:"type"`
}

type Card struct {
	CardBrand   string `json:"card_brand"`
	Last4       string `json:"last_4"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
	Fingerprint string `json:"fingerprint"`
}

type CardDetails struct {
	Status string `json:"status"`
	Card   Card   `json:"card"`
}

// Square payment states
const (
	PaymentApproved  = "APPROVED"
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentCanceled  = "CANCELED"
	PaymentFailed    = "FAILED"
)

// Payment is the subset of Square's Payment object this service reads.
type Payment struct {
	ID                  string                 `json:"id" validate:"required"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	AmountMoney         *Money                 `json:"amount_money" validate:"required"`
	TipMoney            *Money                 `json:"tip_money,omitempty"`
	TotalMoney          *Money                 `json:"total_money,omitempty"`
	RefundedMoney       *Money                 `json:"refunded_money,omitempty"`
	ProcessingFee       []ProcessingFee        `json:"processing_fee,omitempty"`
	Status              string                 `json:"status" validate:"required,oneof=APPROVED PENDING COMPLETED CANCELED FAILED"`
	SourceType          string                 `json:"source_type"`
	CardDetails         *CardDetails           `json:"card_details,omitempty"`
	LocationID          string                 `json:"location_id"`
	OrderID             string                 `json:"order_id"`
	CustomerID          string                 `json:"customer_id"`
	ReferenceID         string                 `json:"reference_id"`
	BuyerEmailAddress   string                 `json:"buyer_email_address"`
	RiskEvaluation      map[string]interface{} `json:"risk_evaluation,omitempty"`
	VerificationResults map[string]interface{} `json:"verification_results,omitempty"`
	ReceiptNumber       string                 `json:"receipt_number"`
	ReceiptURL          string                 `json:"receipt_url"`
	VersionToken        string                 `json:"version_token"`
}

// TotalFee sums all processing fee entries
func (p *Payment) TotalFee() int64 {
	var total int64
	for _, f := range p.ProcessingFee {
		total += f.AmountMoney.Amount
	}
	return total
}

// Square refund states
const (
	RefundPending   = "PENDING"
	RefundCompleted = "COMPLETED"
	RefundFailed    = "FAILED"
	RefundRejected  = "REJECTED"
)

type Refund struct {
	ID            string          `json:"id" validate:"required"`
	Status        string          `json:"status" validate:"required,oneof=PENDING COMPLETED FAILED REJECTED"`
	AmountMoney   Money           `json:"amount_money"`
	PaymentID     string          `json:"payment_id" validate:"required"`
	OrderID       string          `json:"order_id"`
	LocationID    string          `json:"location_id"`
	Reason        string          `json:"reason"`
	ProcessingFee []ProcessingFee `json:"processing_fee,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Address struct {
	AddressLine1                 string `json:"address_line_1"`
	AddressLine2                 string `json:"address_line_2"`
	Locality                     string `json:"locality"`
	AdministrativeDistrictLevel1 string `json:"administrative_district_level_1"`
	PostalCode                   string `json:"postal_code"`
	Country                      string `json:"country"`
}

type Customer struct {
	ID           string    `json:"id" validate:"required"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	GivenName    string    `json:"given_name"`
	FamilyName   string    `json:"family_name"`
	CompanyName  string    `json:"company_name"`
	EmailAddress string    `json:"email_address" validate:"omitempty,email"`
	PhoneNumber  string    `json:"phone_number"`
	Address      *Address  `json:"address,omitempty"`
	ReferenceID  string    `json:"reference_id"`
	Version      int64     `json:"version"`
}

type DisputedPayment struct {
	PaymentID string `json:"payment_id"`
}

type Dispute struct {
	ID              string           `json:"id"`
	DisputeID       string           `json:"dispute_id"`
	AmountMoney     *Money           `json:"amount_money,omitempty"`
	Reason          string           `json:"reason"`
	State           string           `json:"state" validate:"required"`
	DisputedPayment *DisputedPayment `json:"disputed_payment,omitempty"`
	DueAt           string           `json:"due_at"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Identifier returns the dispute id regardless of which field carries it
func (d *Dispute) Identifier() string {
	if d.DisputeID != "" {
		return d.DisputeID
	}
	return d.ID
}

// PaymentID returns the disputed payment id or ""
func (d *Dispute) PaymentID() string {
	if d.DisputedPayment == nil {
		return ""
	}
	return d.DisputedPayment.PaymentID
}

// APIError is one entry of Square's errors array
type APIError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field,omitempty"`
}

// CreatePaymentRequest is the body of POST /v2/payments
type CreatePaymentRequest struct {
	SourceID          string `json:"source_id"`
	IdempotencyKey    string `json:"idempotency_key"`
	AmountMoney       Money  `json:"amount_money"`
	TipMoney          *Money `json:"tip_money,omitempty"`
	CustomerID        string `json:"customer_id,omitempty"`
	LocationID        string `json:"location_id,omitempty"`
	ReferenceID       string `json:"reference_id,omitempty"`
	BuyerEmailAddress string `json:"buyer_email_address,omitempty"`
	Autocomplete      bool   `json:"autocomplete"`
}

// CreateCustomerRequest is the body of POST /v2/customers
type CreateCustomerRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	EmailAddress   string `json:"email_address"`
	GivenName      string `json:"given_name,omitempty"`
	FamilyName     string `json:"family_name,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
}
