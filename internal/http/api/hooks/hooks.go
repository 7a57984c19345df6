package hooks

import (
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/http/api/hooks/handlers"
	"github.com/gin-gonic/gin"
)

// RegisterHookRoutes registers machine-to-machine endpoints. Each authenticates
// with its own secret rather than a user token.
func RegisterHookRoutes(r *gin.Engine, deps api.Deps) {
	cfg := deps.Config
	authSecret, webhookSecret, cronSecret, plan := "", "", "", ""
	if cfg != nil {
		authSecret = cfg.Identity.AuthHookSecret
		webhookSecret = cfg.Stripe.WebhookSecret
		cronSecret = cfg.Cron.Secret
		plan = cfg.Stripe.DefaultPlan
	}

	authEvents := handlers.NewAuthEventHandler(deps, authSecret)
	stripeEvents := handlers.NewStripeWebhookHandler(deps, webhookSecret, plan)
	cron := handlers.NewCronHandler(deps.Sweeper, cronSecret)

	v1 := r.Group("/v1")
	{
		v1.POST("/hooks/auth", authEvents.Handle)
		v1.POST("/hooks/stripe", stripeEvents.Handle)
		v1.POST("/cron/sweep", cron.Sweep)
	}
}
