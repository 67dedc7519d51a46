package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stackbuild/stackbuild/internal/config"
	"github.com/stackbuild/stackbuild/internal/core/ports"
	"github.com/stackbuild/stackbuild/internal/infrastructure/logger"
	"github.com/stackbuild/stackbuild/internal/transport/http/handlers"
	httpmw "github.com/stackbuild/stackbuild/internal/transport/http/middleware"
)

type RouterConfig struct {
	Logger   *logger.Logger
	Config   *config.Config
	Tasks    []ports.TaskInfo
	Runs     ports.RunService
	Deploy   ports.DeployService
	Timeline ports.TimelineRepository
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(cfg.Tasks)
	runHandler := handlers.NewRunHandler(cfg.Runs, cfg.Deploy, cfg.Timeline, cfg.Tasks, cfg.Logger)
	timelineHandler := handlers.NewTimelineHandler(cfg.Timeline)
	streamHandler := handlers.NewStreamHandler(cfg.Runs, cfg.Logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// API v1 routes
	api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config))

	api.Get("/tasks", taskHandler.ListTasks)
	api.Post("/checks", runHandler.Check)

	runs := api.Group("/runs")
	runs.Post("/", runHandler.CreateRun)
	runs.Get("/:id", runHandler.GetRun)
	runs.Get("/:id/events", runHandler.GetEvents)

	runs.Use("/:id/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	runs.Get("/:id/stream", websocket.New(streamHandler.Handle))

	// Timeline routes
	api.Get("/timeline", timelineHandler.GetEvents)
	api.Get("/timeline/:id", timelineHandler.GetEvent)
}
