package web

import (
	"errors"

	"github.com/dukex/durable/pkg/persistence"
	"github.com/dukex/durable/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleStoreError maps persistence and lifecycle errors to problem responses.
func handleStoreError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsInvalidID(err):
		return badRequest(c, err.Error())

	case persistence.IsWorkflowNotFound(err), errors.Is(err, workflow.ErrNotResumable):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsMarkerNotFound(err):
		return notFound(c, "marker_not_found", "no completion marker for this step")

	case workflow.IsIllegalTransition(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("illegal_transition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case persistence.IsCorrupt(err):
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("corrupt_state").
			WithDetail(err.Error())

		return c.Status(fiber.StatusInternalServerError).JSON(problem)

	default:
		return internalError(c, err)
	}
}
