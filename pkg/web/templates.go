package web

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
)

// ImportTemplate stores a raw template document for the account in the header.
func (h *APIHandlers) ImportTemplate(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	var owner struct {
		AccountID int64 `json:"account_id"`
	}

	if err := json.Unmarshal(c.Body(), &owner); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if owner.AccountID != accountID {
		return badRequest(c, "Template account does not match the request account")
	}

	template, err := h.templates.Import(c.Context(), c.Body())
	if err != nil {
		return handleTemplateError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) GetTemplates(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	list, err := h.templates.List(c.Context(), accountID)
	if err != nil {
		return handleTemplateError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates":   list,
		"total_count": len(list),
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	template, err := h.templates.Get(c.Context(), accountID, c.Params("id"))
	if err != nil {
		return handleTemplateError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	accountID, err := headerID(c, AccountIDHeader)
	if err != nil {
		return unauthorized(c, "Account is required")
	}

	if err := h.templates.Delete(c.Context(), accountID, c.Params("id")); err != nil {
		return handleTemplateError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
