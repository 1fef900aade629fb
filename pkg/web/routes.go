package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the template and workflow endpoints.
func RegisterRoutes(router fiber.Router, handlers *APIHandlers) {
	router.Get("/health", handlers.HealthCheck)

	t := router.Group("/templates")
	t.Get("/", handlers.GetTemplates)
	t.Post("/", handlers.ImportTemplate)
	t.Get("/:id", handlers.GetTemplate)
	t.Delete("/:id", handlers.DeleteTemplate)

	w := router.Group("/workflows")
	w.Post("/", handlers.StartWorkflow)
	w.Get("/:id", handlers.GetWorkflow)

	// Commands run as the user in the actor header.
	actor := handlers.RequireActor
	w.Delete("/:id", actor, handlers.TerminateWorkflow)
	w.Post("/:id/revert", actor, handlers.RevertWorkflow)
	w.Post("/:id/complete", actor, handlers.ForceComplete)
	w.Post("/:id/delay", actor, handlers.DelayWorkflow)
	w.Post("/:id/resume", actor, handlers.ResumeWorkflow)
	w.Put("/:id/urgent", actor, handlers.SetUrgent)
	w.Post("/:id/tasks/:number/complete", actor, handlers.CompleteTask)
	w.Post("/:id/tasks/:number/return", actor, handlers.ReturnToTask)
	w.Post("/:id/tasks/:number/delay", actor, handlers.DelayTask)
	w.Post("/:id/tasks/:number/performers", actor, handlers.AddPerformer)
	w.Delete("/:id/tasks/:number/performers/:type/:performerId", actor, handlers.RemovePerformer)
}
