package handlers

import (
	"errors"
	"net/http"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/payment"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// BillingHandler starts hosted checkout and billing portal sessions.
type BillingHandler struct {
	deps api.Deps
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(deps api.Deps) *BillingHandler {
	return &BillingHandler{deps: deps}
}

// Checkout returns a hosted checkout URL for the paid plan.
func (h *BillingHandler) Checkout(c *gin.Context) {
	profile, ok := api.CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return
	}
	if h.deps.Sessions == nil || h.deps.Config == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	if profile.IsDemo() || profile.SubscriptionStatus == models.StatusUnconfirmed {
		c.JSON(http.StatusForbidden, gin.H{"error": "checkout not available for this account"})
		return
	}
	if profile.SubscriptionStatus == models.StatusActive {
		c.JSON(http.StatusConflict, gin.H{"error": "subscription already active"})
		return
	}
	cfg := h.deps.Config.Stripe
	url, errURL := h.deps.Sessions.CheckoutURL(c.Request.Context(), payment.CheckoutRequest{
		CustomerID: models.StringValue(profile.StripeCustomerID),
		Email:      profile.Email,
		PriceID:    cfg.PriceBasic,
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		Metadata:   map[string]string{"profile_id": profile.ID, "plan": cfg.DefaultPlan},
	})
	if errURL != nil {
		if errors.Is(errURL, payment.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
			return
		}
		log.WithError(errURL).WithField("profile_id", profile.ID).Error("create checkout session failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "create checkout session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Portal returns a billing portal URL for callers with a payment customer.
func (h *BillingHandler) Portal(c *gin.Context) {
	profile, ok := api.CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return
	}
	if h.deps.Sessions == nil || h.deps.Config == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	customerID := models.StringValue(profile.StripeCustomerID)
	if customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no billing account yet"})
		return
	}
	url, errURL := h.deps.Sessions.PortalURL(c.Request.Context(), customerID, h.deps.Config.Stripe.PortalReturnURL)
	if errURL != nil {
		log.WithError(errURL).WithField("profile_id", profile.ID).Error("create portal session failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "create portal session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
