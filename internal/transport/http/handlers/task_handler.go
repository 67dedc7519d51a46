package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stackbuild/stackbuild/internal/core/ports"
)

type TaskHandler struct {
	tasks []ports.TaskInfo
}

func NewTaskHandler(tasks []ports.TaskInfo) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

func (h *TaskHandler) ListTasks(c *fiber.Ctx) error {
	return c.JSON(h.tasks)
}
