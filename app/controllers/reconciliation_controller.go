package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/reconcile"
	"github.com/ManuelReschke/PayRelay/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// ReconciliationController serves reconciliation records and runs
type ReconciliationController struct {
	records repository.ReconciliationRepository
	engine  *reconcile.Engine
	window  time.Duration
}

// NewReconciliationController creates a new reconciliation controller. window
// is the size of manually started batches without an explicit range.
func NewReconciliationController(repos *repository.Repositories, engine *reconcile.Engine, window time.Duration) *ReconciliationController {
	return &ReconciliationController{
		records: repos.Reconciliation,
		engine:  engine,
		window:  window,
	}
}

// HandleList returns one page of records
func (rc *ReconciliationController) HandleList(c *fiber.Ctx) error {
	page, perPage, offset := pagination(c)
	filter := repository.ReconciliationFilter{
		Type:             c.Query("type"),
		Status:           c.Query("status"),
		BatchID:          c.Query("batchId"),
		ResolutionStatus: c.Query("resolution"),
	}
	records, total, err := rc.records.List(c.UserContext(), filter, offset, perPage)
	if err != nil {
		log.Errorf("[Reconcile] Listing records failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	return c.JSON(fiber.Map{
		"data":     records,
		"page":     page,
		"per_page": perPage,
		"total":    total,
	})
}

// HandleGetRun returns one batch
func (rc *ReconciliationController) HandleGetRun(c *fiber.Ctx) error {
	run, err := rc.records.GetRunByBatchID(c.UserContext(), c.Params("batchId"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "")
		}
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	return c.JSON(run)
}

type startRunRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// HandleStartRun runs one batch synchronously. Without a range the last
// complete window is reconciled.
func (rc *ReconciliationController) HandleStartRun(c *fiber.Ctx) error {
	var req startRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", "from and to must be RFC 3339 timestamps")
		}
	}
	window := reconcile.WindowEndingBefore(time.Now(), rc.window)
	if req.From != nil && req.To != nil {
		window = reconcile.TimeRange{From: req.From.UTC(), To: req.To.UTC()}
	} else if req.From != nil || req.To != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "from and to must be given together")
	}
	if !window.Valid() {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "to must be after from")
	}

	summary, err := rc.engine.RunBatch(c.UserContext(), window)
	switch {
	case errors.Is(err, reconcile.ErrBatchRunning):
		return errorJSON(c, fiber.StatusConflict, "batch_running", err.Error())
	case err != nil:
		log.Errorf("[Reconcile] Manual batch failed: %v", err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	log.Infof("[Reconcile] Batch %s started by %s", summary.BatchID, usercontext.GetOperator(c).Subject)
	return c.Status(fiber.StatusCreated).JSON(summary)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}

// HandleResolve records the operator's decision. The resolver is the token
// subject, never a body field.
func (rc *ReconciliationController) HandleResolve(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "id must be a positive integer")
	}
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", "")
	}

	record, err := rc.engine.Resolve(c.UserContext(), uint(id), req.Resolution, usercontext.GetOperator(c).Subject, req.Notes)
	switch {
	case errors.Is(err, reconcile.ErrRecordNotFound):
		return errorJSON(c, fiber.StatusNotFound, "not_found", "")
	case errors.Is(err, reconcile.ErrInvalidResolution), errors.Is(err, reconcile.ErrResolverRequired):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, reconcile.ErrAlreadyResolved), errors.Is(err, reconcile.ErrNothingToResolve):
		return errorJSON(c, fiber.StatusConflict, "conflict", err.Error())
	case err != nil:
		log.Errorf("[Reconcile] Resolve of %d failed: %v", id, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "")
	}
	return c.JSON(record)
}
