package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/sweeper"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SweepHandler exposes the sweep audit log and manual runs.
type SweepHandler struct {
	deps api.Deps
}

// NewSweepHandler constructs a SweepHandler.
func NewSweepHandler(deps api.Deps) *SweepHandler {
	return &SweepHandler{deps: deps}
}

// List returns recent sweep runs.
func (h *SweepHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, errList := h.deps.Sweeps.List(c.Request.Context(), limit)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list sweeps failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweeps": rows})
}

// Get returns one sweep run.
func (h *SweepHandler) Get(c *gin.Context) {
	row, errGet := h.deps.Sweeps.Get(c.Request.Context(), c.Param("run_id"))
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "sweep not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load sweep failed"})
		return
	}
	c.JSON(http.StatusOK, row)
}

// Run starts a sweep immediately.
func (h *SweepHandler) Run(c *gin.Context) {
	if h.deps.Sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweeper not configured"})
		return
	}
	ctx := sweeper.WithTrigger(c.Request.Context(), sweeper.TriggerAdmin)
	report, errSweep := h.deps.Sweeper.RunNow(ctx)
	if errSweep != nil {
		if errors.Is(errSweep, sweeper.ErrSweepRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
			return
		}
		log.WithError(errSweep).Error("admin sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	api.WriteSweepReport(c, report)
}
