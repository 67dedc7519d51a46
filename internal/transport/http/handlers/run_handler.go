package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/core/services"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/internal/transport/http/dto"
)

type RunHandler struct {
	runs     ports.RunService
	deploy   ports.DeployService
	timeline ports.TimelineRepository
	known    map[string]bool
	logger   *logger.Logger
}

func NewRunHandler(runs ports.RunService, deploy ports.DeployService, timeline ports.TimelineRepository, tasks []ports.TaskInfo, logger *logger.Logger) *RunHandler {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.Name] = true
	}
	return &RunHandler{runs: runs, deploy: deploy, timeline: timeline, known: known, logger: logger}
}

func (h *RunHandler) CreateRun(c *fiber.Ctx) error {
	var req dto.CreateRunRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("run_create_body_parse_failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
		})
	}

	details := req.Validate()
	for _, inv := range req.Invocations() {
		if inv.Task != "" && !h.known[inv.Task] {
			details = append(details, "unknown task: "+inv.Task)
		}
	}
	if len(details) > 0 {
		h.logger.Warnw("run_create_validation_failed", "details", details)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Details: details,
		})
	}

	run, err := h.runs.StartRun(c.UserContext(), ports.DeployRequest{
		Hosts:       req.Hosts,
		Invocations: req.Invocations(),
		Overrides:   req.Overrides,
	})
	if err != nil {
		h.logger.Errorw("run_create_failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	h.logger.Infow("run_create_ok", "run_id", run.ID)
	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.runs.GetRun(c.Params("id"))
	if err != nil {
		return h.notFound(c, err)
	}
	return c.JSON(run)
}

// GetEvents returns the run's journal. Without a database the in-memory
// progress events are returned instead.
func (h *RunHandler) GetEvents(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.runs.GetRun(id); err != nil {
		return h.notFound(c, err)
	}

	if h.timeline != nil {
		events, err := h.timeline.GetByRun(c.UserContext(), id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		if len(events) > 0 {
			return c.JSON(events)
		}
	}

	events, err := h.runs.Events(id)
	if err != nil {
		return h.notFound(c, err)
	}
	return c.JSON(events)
}

func (h *RunHandler) Check(c *fiber.Ctx) error {
	var req dto.CheckRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: "invalid request body",
			})
		}
	}

	results, err := h.deploy.Check(c.UserContext(), req.Hosts, req.Overrides)
	if errors.Is(err, services.ErrNoHosts) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	resp := dto.CheckResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.OK {
			resp.Passed++
		}
	}
	if err != nil {
		h.logger.Warnw("check_partial_failure", "error", err)
		resp.Error = err.Error()
	}
	return c.JSON(resp)
}

func (h *RunHandler) notFound(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrRunNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "run not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
}
