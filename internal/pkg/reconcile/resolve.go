package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound    = errors.New("reconciliation record not found")
	ErrInvalidResolution = errors.New("resolution must be resolved or escalated")
	ErrResolverRequired  = errors.New("resolver is required")
	ErrAlreadyResolved   = errors.New("reconciliation record is already resolved")
	ErrNothingToResolve  = errors.New("matched records need no resolution")
)

// Resolve records a human decision on a record. Escalation keeps the record
// open; resolving closes it for good.
func (e *Engine) Resolve(ctx context.Context, id uint, resolution, resolver, notes string) (*models.ReconciliationRecord, error) {
	resolver = strings.TrimSpace(resolver)
	if resolver == "" {
		return nil, ErrResolverRequired
	}
	if resolution != models.ResolutionResolved && resolution != models.ResolutionEscalated {
		return nil, ErrInvalidResolution
	}

	record, err := e.repos.Reconciliation.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load record %d: %w", id, err)
	}
	if record.Status == models.ReconStatusMatched {
		return nil, ErrNothingToResolve
	}
	if record.ResolutionStatus == models.ResolutionResolved || record.Status == models.ReconStatusResolved {
		return nil, ErrAlreadyResolved
	}

	now := e.now()
	record.ResolutionStatus = resolution
	record.ResolvedBy = resolver
	record.ResolvedAt = &now
	record.ResolutionNotes = strings.TrimSpace(notes)
	if resolution == models.ResolutionResolved {
		record.Status = models.ReconStatusResolved
	}
	if err := e.repos.Reconciliation.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("save record %d: %w", id, err)
	}
	log.Infof("[Reconcile] Record %d %s by %s", id, resolution, resolver)
	return record, nil
}
