package webhook

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/envelope.schema.json
var envelopeSchemaJSON string

const envelopeSchemaURL = "https://payrelay.local/schemas/webhook-envelope.json"

var (
	// ErrInvalidPayload marks a delivery whose shape can never be processed.
	ErrInvalidPayload = errors.New("webhook: invalid payload")
	// ErrUnknownEventType marks a well-formed delivery of a type outside the known set.
	ErrUnknownEventType = errors.New("webhook: unknown event type")
)

var (
	schemaOnce     sync.Once
	envelopeSchema *jsonschema.Schema
	schemaErr      error

	validate = validator.New()
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("envelope schema load failed: %w", err)
			return
		}
		envelopeSchema, schemaErr = c.Compile(envelopeSchemaURL)
	})
	return envelopeSchema, schemaErr
}

type rawEnvelope struct {
	Envelope
	Data struct {
		Type    string                     `json:"type"`
		ID      string                     `json:"id"`
		Deleted bool                       `json:"deleted"`
		Object  map[string]json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseEnvelope decodes only the header fields. It is used at intake, before
// the full shape is checked by ParseEvent in the worker.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &env, nil
}

// ParseEvent validates raw against the envelope schema and decodes data.object
// into the typed event for its type.
func ParseEvent(raw []byte) (Event, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !env.Type.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}

	var event Event
	switch env.Type.Category() {
	case CategoryPayment:
		e := &PaymentEvent{Envelope: env.Envelope}
		err = decodeObject(env.Data.Object, "payment", &e.Payment)
		event = e
	case CategoryRefund:
		e := &RefundEvent{Envelope: env.Envelope}
		err = decodeObject(env.Data.Object, "refund", &e.Refund)
		event = e
	case CategoryCustomer:
		e := &CustomerEvent{Envelope: env.Envelope, Deleted: env.Type == EventCustomerDeleted || env.Data.Deleted}
		err = decodeObject(env.Data.Object, "customer", &e.Customer)
		if err == nil && e.Customer.ID == "" {
			// deletion payloads may only carry the id at data.id
			e.Customer.ID = env.Data.ID
		}
		event = e
	case CategoryDispute:
		e := &DisputeEvent{Envelope: env.Envelope}
		err = decodeObject(env.Data.Object, "dispute", &e.Dispute)
		if err == nil && e.Dispute.Identifier() == "" {
			e.Dispute.ID = env.Data.ID
		}
		event = e
	}
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return event, nil
}

func decodeObject(objects map[string]json.RawMessage, key string, dst interface{}) error {
	raw, ok := objects[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: data.object.%s is missing", ErrInvalidPayload, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: data.object.%s: %v", ErrInvalidPayload, key, err)
	}
	return nil
}

// CanonicalID derives an event id from the RFC 8785 canonical form of raw so
// redeliveries that differ only in formatting collapse onto one id.
func CanonicalID(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	sum := sha256.Sum256(canonical)
	return "jcs:" + hex.EncodeToString(sum[:]), nil
}

// RawHash is the hex sha256 of the bytes as received
func RawHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
