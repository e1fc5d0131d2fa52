package webhook

import (
	"strings"
	"time"

	"github.com/ManuelReschke/PayRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
)

// EventType is a Square webhook event type this service understands.
type EventType string

const (
	EventPaymentCreated      EventType = "payment.created"
	EventPaymentUpdated      EventType = "payment.updated"
	EventRefundCreated       EventType = "refund.created"
	EventRefundUpdated       EventType = "refund.updated"
	EventCustomerCreated     EventType = "customer.created"
	EventCustomerUpdated     EventType = "customer.updated"
	EventCustomerDeleted     EventType = "customer.deleted"
	EventDisputeCreated      EventType = "dispute.created"
	EventDisputeStateUpdated EventType = "dispute.state.updated"
)

// Category is the object family an event carries.
type Category string

const (
	CategoryPayment  Category = "payment"
	CategoryRefund   Category = "refund"
	CategoryCustomer Category = "customer"
	CategoryDispute  Category = "dispute"
)

type eventTypeInfo struct {
	category Category
	priority jobqueue.Priority
}

// knownTypes is the closed set of accepted event types.
var knownTypes = map[EventType]eventTypeInfo{
	EventPaymentCreated:      {CategoryPayment, jobqueue.PriorityHigh},
	EventPaymentUpdated:      {CategoryPayment, jobqueue.PriorityHigh},
	EventRefundCreated:       {CategoryRefund, jobqueue.PriorityNormal},
	EventRefundUpdated:       {CategoryRefund, jobqueue.PriorityNormal},
	EventCustomerCreated:     {CategoryCustomer, jobqueue.PriorityLow},
	EventCustomerUpdated:     {CategoryCustomer, jobqueue.PriorityLow},
	EventCustomerDeleted:     {CategoryCustomer, jobqueue.PriorityLow},
	EventDisputeCreated:      {CategoryDispute, jobqueue.PriorityCritical},
	EventDisputeStateUpdated: {CategoryDispute, jobqueue.PriorityCritical},
}

// KnownEventTypes returns every accepted event type
func KnownEventTypes() []EventType {
	out := make([]EventType, 0, len(knownTypes))
	for t := range knownTypes {
		out = append(out, t)
	}
	return out
}

// Known reports whether t is in the accepted set
func (t EventType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Category returns the object family or "" for unknown types
func (t EventType) Category() Category {
	return knownTypes[t].category
}

// PriorityFor returns the queue tier for t. Unknown types fall back on their
// prefix so they still drain in a sensible order before being rejected.
func PriorityFor(t EventType) jobqueue.Priority {
	if info, ok := knownTypes[t]; ok {
		return info.priority
	}
	switch {
	case strings.HasPrefix(string(t), "dispute."):
		return jobqueue.PriorityCritical
	case strings.HasPrefix(string(t), "payment."):
		return jobqueue.PriorityHigh
	case strings.HasPrefix(string(t), "refund."):
		return jobqueue.PriorityNormal
	default:
		return jobqueue.PriorityLow
	}
}

// Envelope is the common part of every Square webhook delivery
type Envelope struct {
	MerchantID string    `json:"merchant_id"`
	LocationID string    `json:"location_id"`
	Type       EventType `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Event is implemented by PaymentEvent, RefundEvent, CustomerEvent and DisputeEvent.
type Event interface {
	Meta() Envelope
}

type PaymentEvent struct {
	Envelope
	Payment square.Payment
}

func (e *PaymentEvent) Meta() Envelope { return e.Envelope }

type RefundEvent struct {
	Envelope
	Refund square.Refund
}

func (e *RefundEvent) Meta() Envelope { return e.Envelope }

type CustomerEvent struct {
	Envelope
	Customer square.Customer
	Deleted  bool
}

func (e *CustomerEvent) Meta() Envelope { return e.Envelope }

type DisputeEvent struct {
	Envelope
	Dispute square.Dispute
}

func (e *DisputeEvent) Meta() Envelope { return e.Envelope }
