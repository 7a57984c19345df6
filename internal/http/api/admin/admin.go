package admin

import (
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/http/api/admin/handlers"
	"github.com/casedesk/casedesk-api/internal/identity"
	"github.com/gin-gonic/gin"
)

// RegisterAdminRoutes registers operator endpoints. Callers need a valid token and
// a stored admin role.
func RegisterAdminRoutes(r *gin.Engine, deps api.Deps) {
	if r == nil || deps.Profiles == nil {
		return
	}
	profiles := handlers.NewProfileHandler(deps)
	sweeps := handlers.NewSweepHandler(deps)

	authed := r.Group("/v1/admin")
	authed.Use(identity.Middleware(deps.Verifier), api.ProfileMiddleware(deps.Profiles), api.RequireAdmin())
	{
		authed.GET("/profiles", profiles.List)
		authed.GET("/profiles/:id", profiles.Get)
		authed.POST("/profiles/:id/override", profiles.Override)

		authed.GET("/sweeps", sweeps.List)
		authed.GET("/sweeps/:run_id", sweeps.Get)
		authed.POST("/sweeps/run", sweeps.Run)
	}
}
