package handlers

import (
	"errors"
	"net/http"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/sweeper"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// CronHandler lets an external scheduler trigger the billing sweep.
type CronHandler struct {
	sweeper *sweeper.Sweeper
	secret  string
}

// NewCronHandler constructs a CronHandler.
func NewCronHandler(s *sweeper.Sweeper, secret string) *CronHandler {
	return &CronHandler{sweeper: s, secret: secret}
}

// Sweep runs one billing sweep and reports per-profile results. It answers 200
// when every profile converted, 207 when some failed and 500 when the sweep
// could not start.
func (h *CronHandler) Sweep(c *gin.Context) {
	if !secretMatches(h.secret, bearerToken(c.GetHeader("Authorization"))) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.sweeper == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweeper not configured"})
		return
	}
	ctx := sweeper.WithTrigger(c.Request.Context(), sweeper.TriggerHTTP)
	report, errSweep := h.sweeper.RunNow(ctx)
	if errSweep != nil {
		if errors.Is(errSweep, sweeper.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
			return
		}
		log.WithError(errSweep).Error("cron sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	api.WriteSweepReport(c, report)
}
