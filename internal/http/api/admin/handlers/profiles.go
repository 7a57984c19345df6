package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ProfileHandler lets operators inspect and override tenant subscriptions.
type ProfileHandler struct {
	deps api.Deps
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(deps api.Deps) *ProfileHandler {
	return &ProfileHandler{deps: deps}
}

func (h *ProfileHandler) view(p models.Profile) gin.H {
	return gin.H{
		"id":                     p.ID,
		"email":                  p.Email,
		"role":                   p.Role,
		"status":                 p.SubscriptionStatus,
		"effective_status":       trial.DeriveStatus(p, h.deps.Clock()),
		"plan":                   p.SubscriptionPlan,
		"trial_expires_at":       p.TrialExpiresAt,
		"trial_limit":            p.TrialLimit,
		"stripe_customer_id":     p.StripeCustomerID,
		"stripe_subscription_id": p.StripeSubscriptionID,
		"created_at":             p.CreatedAt,
		"updated_at":             p.UpdatedAt,
	}
}

// List returns profiles filtered by stored status and email fragment.
func (h *ProfileHandler) List(c *gin.Context) {
	filter := store.ProfileFilter{Email: c.Query("email")}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, errParse := models.ParseSubscriptionStatus(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = status
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	if offset, errParse := strconv.Atoi(c.Query("offset")); errParse == nil && offset > 0 {
		filter.Offset = offset
	}

	rows, total, errList := h.deps.Profiles.List(c.Request.Context(), filter)
	if errList != nil {
		log.WithError(errList).Error("list profiles failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list profiles failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, p := range rows {
		out = append(out, h.view(p))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out, "total": total})
}

// Get returns one profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	profile, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(profile))
}

type overrideRequest struct {
	Status         string `json:"status" binding:"required,override_status"`
	Plan           string `json:"plan" binding:"max=64"`
	SubscriptionID string `json:"subscription_id" binding:"max=255"`
}

// Override forces a profile to active or inactive.
func (h *ProfileHandler) Override(c *gin.Context) {
	var body overrideRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	profile, ok := h.load(c)
	if !ok {
		return
	}
	tr, errApply := h.deps.Engine.Apply(profile, trial.Input{
		Event:          trial.EventAdminOverride,
		Target:         models.SubscriptionStatus(body.Status),
		Plan:           body.Plan,
		SubscriptionID: body.SubscriptionID,
	}, h.deps.Clock())
	if errApply != nil {
		c.JSON(http.StatusConflict, gin.H{"error": errApply.Error()})
		return
	}
	if errPersist := h.deps.Profiles.ApplyTransition(c.Request.Context(), tr); errPersist != nil {
		if errors.Is(errPersist, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "profile changed concurrently"})
			return
		}
		log.WithError(errPersist).Error("override subscription failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "override failed"})
		return
	}
	if !tr.NoOp {
		h.deps.Metrics.ObserveTransition(string(tr.Event), string(tr.From), string(tr.To))
		admin, _ := api.CurrentProfile(c)
		log.WithFields(log.Fields{
			"profile_id": profile.ID,
			"admin_id":   admin.ID,
			"from":       tr.From,
			"to":         tr.To,
		}).Info("subscription overridden")
	}
	c.JSON(http.StatusOK, h.view(tr.Next))
}

func (h *ProfileHandler) load(c *gin.Context) (models.Profile, bool) {
	profile, errGet := h.deps.Profiles.Get(c.Request.Context(), c.Param("id"))
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return models.Profile{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return models.Profile{}, false
	}
	return profile, true
}
