package webhook

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// Rejection reasons written to the security audit log
const (
	ReasonMissingSignature = "missing_signature"
	ReasonInvalidSignature = "invalid_signature"
	ReasonMissingSecret    = "missing_secret"
)

// Rejection describes a delivery that failed authentication
type Rejection struct {
	Path            string
	RemoteIP        string
	SignatureHeader string
	Body            []byte
	Reason          string
	ReceivedAt      time.Time
}

// Auditor writes rejected deliveries to the security audit log
type Auditor struct {
	repo repository.SecurityAuditRepository
}

func NewAuditor(repo repository.SecurityAuditRepository) *Auditor {
	return &Auditor{repo: repo}
}

// Reject records r. Audit failures are logged and never change the response.
func (a *Auditor) Reject(ctx context.Context, r Rejection) {
	header := r.SignatureHeader
	if len(header) > 255 {
		header = header[:255]
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	event := &models.SecurityAuditEvent{
		Path:            r.Path,
		RemoteIP:        r.RemoteIP,
		SignatureHeader: header,
		BodySHA256:      RawHash(r.Body),
		BodySize:        len(r.Body),
		Reason:          r.Reason,
		ReceivedAt:      r.ReceivedAt,
	}
	log.Warnf("[Webhook] Rejected delivery on %s from %s: %s", r.Path, r.RemoteIP, r.Reason)
	if err := a.repo.Create(ctx, event); err != nil {
		log.Errorf("[Webhook] Failed to write security audit event: %v", err)
	}
}
