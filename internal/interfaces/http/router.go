package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/contingency"
	"github.com/jhoicas/Facturacion-api/internal/application/webhook"
	"github.com/jhoicas/Facturacion-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Issuance    *billing.IssuanceCoordinator
	NonFiscal   *billing.NonFiscalUseCase
	Webhooks    *webhook.Ingestor
	Engine      *contingency.Engine
	Scheduler   *contingency.Scheduler
	DeadLetters DeadLetterLister
	JWTSecret   string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Webhook del proveedor (HMAC, sin JWT)
	app.Post("/webhooks/provider", NewWebhookHandler(deps.Webhooks).Receive)

	// Rutas protegidas (requieren Bearer Token)
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))
	issuers := RequireRole(jwt.RoleAdmin, jwt.RoleCashier)
	readers := RequireRole(jwt.RoleAdmin, jwt.RoleCashier, jwt.RoleAuditor)

	fiscal := api.Group("/fiscal-documents")
	fiscalHandler := NewFiscalDocumentHandler(deps.Issuance)
	fiscal.Post("/", issuers, fiscalHandler.Issue)
	fiscal.Get("/:id", readers, fiscalHandler.GetByID)
	fiscal.Get("/:id/files/:version", readers, fiscalHandler.Download)

	nonFiscal := api.Group("/non-fiscal-documents")
	nonFiscalHandler := NewNonFiscalHandler(deps.NonFiscal)
	nonFiscal.Post("/", issuers, nonFiscalHandler.Create)
	nonFiscal.Get("/:id", readers, nonFiscalHandler.GetByID)
	nonFiscal.Get("/:id/file", readers, nonFiscalHandler.Download)

	ops := api.Group("/contingency", RequireRole(jwt.RoleAdmin))
	contingencyHandler := NewContingencyHandler(deps.Engine, deps.Scheduler, deps.DeadLetters)
	ops.Get("/stats", contingencyHandler.Stats)
	ops.Post("/run", contingencyHandler.Run)
	ops.Get("/dead-letters", contingencyHandler.DeadLetters)
}
