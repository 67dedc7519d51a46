package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/transport/http/dto"
)

type TimelineHandler struct {
	repo ports.TimelineRepository
}

func NewTimelineHandler(repo ports.TimelineRepository) *TimelineHandler {
	return &TimelineHandler{repo: repo}
}

func (h *TimelineHandler) GetEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid limit"})
	}

	if host := c.Query("host"); host != "" {
		events, err := h.repo.GetByHost(c.UserContext(), host, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(events)
	}

	events, err := h.repo.GetAll(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(events)
}

func (h *TimelineHandler) GetEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid event id"})
	}

	event, err := h.repo.GetByID(c.UserContext(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "event not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(event)
}
