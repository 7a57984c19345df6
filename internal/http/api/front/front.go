package front

import (
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/http/api/front/handlers"
	"github.com/casedesk/casedesk-api/internal/identity"
	"github.com/casedesk/casedesk-api/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RegisterFrontRoutes registers the authenticated tenant API under /v1.
func RegisterFrontRoutes(r *gin.Engine, deps api.Deps) {
	subscription := handlers.NewSubscriptionHandler(deps)
	clients := handlers.NewClientHandler(deps)
	cases := handlers.NewCaseHandler(deps)
	documents := handlers.NewDocumentHandler(deps)
	invoices := handlers.NewInvoiceHandler(deps)
	billing := handlers.NewBillingHandler(deps)

	authed := r.Group("/v1")
	authed.Use(identity.Middleware(deps.Verifier), ratelimit.Middleware(deps.Limiter), api.ProfileMiddleware(deps.Profiles))
	{
		authed.GET("/me/subscription", subscription.Get)
		authed.POST("/admission", subscription.Admission)

		authed.POST("/clients", clients.Create)
		authed.GET("/clients", clients.List)
		authed.GET("/clients/:id", clients.Get)
		authed.PUT("/clients/:id", clients.Update)
		authed.DELETE("/clients/:id", clients.Delete)

		authed.POST("/cases", cases.Create)
		authed.GET("/cases", cases.List)
		authed.GET("/cases/:id", cases.Get)
		authed.PUT("/cases/:id", cases.Update)
		authed.DELETE("/cases/:id", cases.Delete)

		authed.POST("/documents", documents.Create)
		authed.GET("/documents", documents.List)
		authed.GET("/documents/:id", documents.Get)
		authed.DELETE("/documents/:id", documents.Delete)

		authed.POST("/invoices", invoices.Create)
		authed.GET("/invoices", invoices.List)
		authed.GET("/invoices/:id", invoices.Get)
		authed.PUT("/invoices/:id", invoices.Update)
		authed.DELETE("/invoices/:id", invoices.Delete)

		authed.POST("/billing/checkout", billing.Checkout)
		authed.POST("/billing/portal", billing.Portal)
	}
}
