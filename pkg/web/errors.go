package web

import (
	"github.com/dukex/taskflow/pkg/engine"
	"github.com/dukex/taskflow/pkg/templates"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusUnauthorized).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusNotFound).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError translates engine errors into problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsValidationError(err):
		return badRequest(c, err.Error())

	case engine.IsPermissionError(err):
		problem := problems.NewStatusProblem(fiber.StatusForbidden).
			WithInstance(c.Path()).
			WithType("permission_denied").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case engine.IsNotFound(err):
		return notFound(c, err.Error())

	case engine.IsConflictError(err):
		problem := problems.NewStatusProblem(fiber.StatusConflict).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}

func handleTemplateError(c fiber.Ctx, err error) error {
	switch {
	case templates.IsValidationError(err):
		return badRequest(c, err.Error())
	case templates.IsNotFound(err):
		return notFound(c, err.Error())
	default:
		return internalError(c, err)
	}
}
