package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// AuthHookSecretHeader carries the shared secret on identity provider hooks.
const AuthHookSecretHeader = "X-Hook-Secret"

// Auth event types sent by the identity provider.
const (
	AuthEventSignup         = "signup"
	AuthEventEmailConfirmed = "email_confirmed"
)

// AuthEventHandler applies identity provider lifecycle events to profiles.
type AuthEventHandler struct {
	deps   api.Deps
	secret string
}

// NewAuthEventHandler constructs an AuthEventHandler.
func NewAuthEventHandler(deps api.Deps, secret string) *AuthEventHandler {
	return &AuthEventHandler{deps: deps, secret: secret}
}

type authEventRequest struct {
	Type   string `json:"type" binding:"required,oneof=signup email_confirmed"`
	UserID string `json:"user_id" binding:"required,max=64"`
	Email  string `json:"email" binding:"omitempty,email,max=320"`
}

// Handle processes one auth event.
func (h *AuthEventHandler) Handle(c *gin.Context) {
	if !secretMatches(h.secret, c.GetHeader(AuthHookSecretHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid hook secret"})
		return
	}
	var body authEventRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	body.UserID = strings.TrimSpace(body.UserID)
	h.deps.Metrics.ObserveWebhook("auth", body.Type)

	switch body.Type {
	case AuthEventSignup:
		h.signup(c, body)
	case AuthEventEmailConfirmed:
		h.confirm(c, body)
	}
}

func (h *AuthEventHandler) signup(c *gin.Context, body authEventRequest) {
	if strings.TrimSpace(body.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}
	profile, errNew := trial.NewProfile(body.UserID, body.Email, h.deps.Clock())
	if errNew != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signup"})
		return
	}
	created, errCreate := h.deps.Profiles.Create(c.Request.Context(), profile)
	if errCreate != nil {
		if errors.Is(errCreate, store.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		log.WithError(errCreate).Error("auth hook: create profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create profile failed"})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.WithField("profile_id", profile.ID).Info("profile created")
	}
	c.JSON(status, gin.H{"profile_id": profile.ID, "created": created})
}

func (h *AuthEventHandler) confirm(c *gin.Context, body authEventRequest) {
	ctx := c.Request.Context()
	now := h.deps.Clock()

	profile, errGet := h.deps.Profiles.Get(ctx, body.UserID)
	if errors.Is(errGet, store.ErrNotFound) && strings.TrimSpace(body.Email) != "" {
		// Confirmation arrived before the signup event.
		fresh, errNew := trial.NewProfile(body.UserID, body.Email, now)
		if errNew == nil {
			if _, errCreate := h.deps.Profiles.Create(ctx, fresh); errCreate == nil {
				profile, errGet = h.deps.Profiles.Get(ctx, body.UserID)
			}
		}
	}
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		log.WithError(errGet).Error("auth hook: load profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
		return
	}

	tr, errApply := h.deps.Engine.Apply(profile, trial.Input{Event: trial.EventEmailConfirmed}, now)
	if errApply != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "transition not allowed"})
		return
	}
	if errPersist := h.deps.Profiles.ApplyTransition(ctx, tr); errPersist != nil {
		if errors.Is(errPersist, store.ErrConflict) {
			// A concurrent delivery confirmed the profile first.
			c.JSON(http.StatusOK, gin.H{"profile_id": profile.ID, "status": models.StatusTrialing})
			return
		}
		log.WithError(errPersist).Error("auth hook: persist confirmation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update profile failed"})
		return
	}
	if !tr.NoOp {
		h.deps.Metrics.ObserveTransition(string(tr.Event), string(tr.From), string(tr.To))
		log.WithField("profile_id", profile.ID).Info("trial started")
		if tr.Next.TrialExpiresAt != nil {
			if errNotify := h.deps.Notifier.TrialStarted(ctx, tr.Next.Email, *tr.Next.TrialExpiresAt, tr.Next.TrialLimit); errNotify != nil {
				h.deps.Metrics.ObserveNotificationError()
				log.WithError(errNotify).Warn("auth hook: trial email failed")
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"profile_id":       tr.Next.ID,
		"status":           tr.Next.SubscriptionStatus,
		"trial_expires_at": tr.Next.TrialExpiresAt,
	})
}
