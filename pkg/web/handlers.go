package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/durable/pkg/marker"
	"github.com/dukex/durable/pkg/models"
	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	store          persistence.EventStore
	markers        *marker.Protocol
	resumeTemplate string
	validator      *validator.Validate
	logger         *slog.Logger
}

func NewAPIHandlers(
	store persistence.EventStore,
	markers *marker.Protocol,
	resumeTemplate string,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		store:          store,
		markers:        markers,
		resumeTemplate: resumeTemplate,
		validator:      validate,
		logger:         logger.With("module", "web"),
	}
}

// Routes registers the workflow endpoints on router.
func (h *APIHandlers) Routes(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/events", h.GetWorkflowEvents)
	w.Get("/:id/resume", h.GetResumeInfo)
	w.Get("/:id/verify", h.VerifyWorkflow)
	w.Get("/:id/markers/:stepId", h.GetMarker)
	w.Post("/:id/cancel", h.CancelWorkflow)

	router.Get("/health", h.HealthCheck)
}

// GetWorkflows lists resumable workflows, or every workflow with ?all=true. The
// status query parameter narrows the list further.
func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	all := false

	if allStr := c.Query("all"); allStr != "" {
		parsed, err := strconv.ParseBool(allStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		all = parsed
	}

	var status *models.WorkflowStatus

	if statusStr := c.Query("status"); statusStr != "" {
		s := models.WorkflowStatus(statusStr)
		if !s.Valid() {
			return badRequest(c, "Invalid query parameters: unknown status "+statusStr)
		}

		status = &s
		all = all || !s.IsResumable()
	}

	handles, err := h.handles(c, all)
	if err != nil {
		return handleStoreError(c, err)
	}

	if status != nil {
		filtered := handles[:0]

		for _, handle := range handles {
			if handle.Status == *status {
				filtered = append(filtered, handle)
			}
		}

		handles = filtered
	}

	return c.JSON(fiber.Map{
		"workflows":   handles,
		"total_count": len(handles),
	})
}

func (h *APIHandlers) handles(c fiber.Ctx, all bool) ([]models.ResumeHandle, error) {
	if !all {
		return h.store.ResumableWorkflows(c.Context())
	}

	ids, err := h.store.ListWorkflows(c.Context())
	if err != nil {
		return nil, err
	}

	handles := make([]models.ResumeHandle, 0, len(ids))

	for _, id := range ids {
		cp, err := h.store.LoadCheckpoint(c.Context(), id)
		if err != nil {
			h.logger.Warn("Skipping workflow with unreadable checkpoint", "workflow_id", id, "error", err)

			continue
		}

		if cp != nil {
			handles = append(handles, cp.Handle())
		}
	}

	return handles, nil
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	cp, err := h.checkpoint(c)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(WorkflowResponse{
		Checkpoint: cp,
		Resume:     workflow.ResumeInfoFor(cp, h.resumeTemplate),
	})
}

func (h *APIHandlers) checkpoint(c fiber.Ctx) (*models.WorkflowCheckpoint, error) {
	id := c.Params("id")

	cp, err := h.store.LoadCheckpoint(c.Context(), id)
	if err != nil {
		return nil, err
	}

	if cp == nil {
		return nil, persistence.NewWorkflowError("LoadCheckpoint", id, persistence.ErrWorkflowNotFound)
	}

	return cp, nil
}

// GetWorkflowEvents returns the event log. ?after=N skips events up to sequence N,
// so a poller can fetch only what is new.
func (h *APIHandlers) GetWorkflowEvents(c fiber.Ctx) error {
	id := c.Params("id")

	var after int64

	if afterStr := c.Query("after"); afterStr != "" {
		parsed, err := strconv.ParseInt(afterStr, 10, 64)
		if err != nil {
			return badRequest(c, "Invalid query parameters: "+err.Error())
		}

		after = parsed
	}

	events, err := h.store.ReadAll(c.Context(), id)
	if err != nil {
		return handleStoreError(c, err)
	}

	if len(events) == 0 {
		return notFound(c, "workflow_not_found", "workflow not found")
	}

	filtered := make([]*models.WorkflowEvent, 0, len(events))

	for _, event := range events {
		if event.SequenceNumber > after {
			filtered = append(filtered, event)
		}
	}

	return c.JSON(fiber.Map{
		"events":        filtered,
		"last_sequence": events[len(events)-1].SequenceNumber,
	})
}

func (h *APIHandlers) GetResumeInfo(c fiber.Ctx) error {
	info, err := workflow.GetResumeInfo(c.Context(), h.store, c.Params("id"), h.resumeTemplate)
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(info)
}

func (h *APIHandlers) VerifyWorkflow(c fiber.Ctx) error {
	cp, err := h.checkpoint(c)
	if err != nil {
		return handleStoreError(c, err)
	}

	events, err := h.store.ReadAll(c.Context(), cp.WorkflowID)
	if err != nil {
		return handleStoreError(c, err)
	}

	replayed, err := workflow.ReplayUntil(cp.WorkflowID, events, cp.SequenceNumber)
	if err != nil {
		return handleStoreError(c, err)
	}

	diffs := workflow.Diff(cp, replayed)
	if diffs == nil {
		diffs = []string{}
	}

	return c.JSON(VerifyResponse{
		WorkflowID: cp.WorkflowID,
		Events:     len(events),
		Consistent: len(diffs) == 0,
		Diffs:      diffs,
	})
}

func (h *APIHandlers) GetMarker(c fiber.Ctx) error {
	res, err := h.markers.Resolve(c.Context(), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if res == nil {
		return notFound(c, "marker_not_found", "no completion marker for this step")
	}

	return c.JSON(MarkerResponse{Status: res.Status, Marker: res.Marker, Superseded: res.Superseded})
}

// CancelWorkflow records a cancellation. A process driving the workflow observes it
// before its next step.
func (h *APIHandlers) CancelWorkflow(c fiber.Ctx) error {
	var req CancelWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf, err := workflow.LoadFromCheckpoint(c.Context(), h.store, c.Params("id"), h.logger)
	if err != nil {
		return handleStoreError(c, err)
	}

	if err := wf.Cancel(c.Context(), req.Reason); err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(wf.Checkpoint())
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "state directory is readable"
	httpStatus := http.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = err.Error()
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
