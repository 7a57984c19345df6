package handlers

import (
	"net/http"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SubscriptionHandler serves the caller's subscription state.
type SubscriptionHandler struct {
	deps api.Deps
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(deps api.Deps) *SubscriptionHandler {
	return &SubscriptionHandler{deps: deps}
}

// Get returns the derived status, plan, trial expiry and per-kind usage.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	profile, ok := api.CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return
	}
	now := h.deps.Clock()
	counts, errCounts := h.deps.Entities.Counts(c.Request.Context(), profile.ID)
	if errCounts != nil {
		log.WithError(errCounts).Error("count usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load usage failed"})
		return
	}

	usageOut := gin.H{}
	for _, kind := range usage.Kinds() {
		count := counts[kind]
		entry := gin.H{
			"count":     count,
			"remaining": usage.Remaining(profile, count, now),
		}
		if trial.DeriveStatus(profile, now) == models.StatusTrialing {
			entry["limit"] = profile.TrialLimit
		}
		usageOut[string(kind)] = entry
	}

	status := trial.DeriveStatus(profile, now)
	c.JSON(http.StatusOK, gin.H{
		"profile_id":       profile.ID,
		"email":            profile.Email,
		"role":             profile.Role,
		"status":           status,
		"plan":             profile.SubscriptionPlan,
		"trial_expires_at": profile.TrialExpiresAt,
		"trial_limit":      profile.TrialLimit,
		"can_write":        usage.CanWrite(profile, now).Allowed,
		"upgrade_required": status == models.StatusTrialExpired || status == models.StatusInactive,
		"usage":            usageOut,
	})
}

type admissionRequest struct {
	Kind string `json:"kind" binding:"required,entity_kind"`
}

// Admission answers whether the caller may create one more record of a kind.
func (h *SubscriptionHandler) Admission(c *gin.Context) {
	var body admissionRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	profile, ok := api.CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return
	}
	kind := usage.EntityKind(body.Kind)
	count, errCount := h.deps.Entities.Count(c.Request.Context(), profile.ID, kind)
	if errCount != nil {
		log.WithError(errCount).Error("count usage failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admission check failed"})
		return
	}
	decision := usage.CanCreate(profile, count, h.deps.Clock())
	c.JSON(http.StatusOK, gin.H{
		"allowed":          decision.Allowed,
		"reason":           decision.Reason,
		"upgrade_required": decision.Reason.UpgradeRequired(),
	})
}
