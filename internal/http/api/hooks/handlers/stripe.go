package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const maxWebhookBody = 1 << 16

// StripeWebhookHandler turns payment provider events into lifecycle transitions.
type StripeWebhookHandler struct {
	deps        api.Deps
	secret      string
	defaultPlan string
}

// NewStripeWebhookHandler constructs a StripeWebhookHandler.
func NewStripeWebhookHandler(deps api.Deps, secret, defaultPlan string) *StripeWebhookHandler {
	return &StripeWebhookHandler{deps: deps, secret: strings.TrimSpace(secret), defaultPlan: defaultPlan}
}

// Handle verifies and applies one webhook event. Events that do not apply to a
// known profile are acknowledged so the provider stops retrying them.
func (h *StripeWebhookHandler) Handle(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	event, errEvent := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if errEvent != nil {
		log.WithError(errEvent).Warn("stripe webhook: signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}
	h.deps.Metrics.ObserveWebhook("stripe", string(event.Type))

	var errHandle error
	switch event.Type {
	case "checkout.session.completed":
		errHandle = h.checkoutCompleted(c, event)
	case "customer.subscription.deleted":
		errHandle = h.subscriptionChanged(c, event, true)
	case "customer.subscription.updated":
		errHandle = h.subscriptionChanged(c, event, false)
	}
	if errHandle != nil {
		var bad badPayloadError
		if errors.As(errHandle, &bad) {
			c.JSON(http.StatusBadRequest, gin.H{"error": bad.msg})
			return
		}
		log.WithError(errHandle).WithField("event_id", event.ID).Error("stripe webhook: handling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type badPayloadError struct{ msg string }

func (e badPayloadError) Error() string { return e.msg }

func (h *StripeWebhookHandler) checkoutCompleted(c *gin.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if errUnmarshal := json.Unmarshal(event.Data.Raw, &sess); errUnmarshal != nil {
		return badPayloadError{msg: "invalid session payload"}
	}
	if sess.Mode != "" && sess.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}
	subscriptionID := ""
	if sess.Subscription != nil {
		subscriptionID = sess.Subscription.ID
	}
	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if subscriptionID == "" {
		return badPayloadError{msg: "missing subscription id"}
	}

	ctx := c.Request.Context()
	profile, errFind := h.profileForSession(c, sess, customerID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			log.WithField("event_id", event.ID).Warn("stripe webhook: no profile for checkout session")
			return nil
		}
		return errFind
	}

	plan := sess.Metadata["plan"]
	if plan == "" {
		plan = h.defaultPlan
	}
	return h.apply(c, profile, trial.Input{
		Event:          trial.EventPaymentConverted,
		CustomerID:     customerID,
		SubscriptionID: subscriptionID,
		Plan:           plan,
	}, func(next models.Profile) {
		if errNotify := h.deps.Notifier.SubscriptionActivated(ctx, next.Email, plan); errNotify != nil {
			h.deps.Metrics.ObserveNotificationError()
			log.WithError(errNotify).Warn("stripe webhook: activation email failed")
		}
	})
}

func (h *StripeWebhookHandler) profileForSession(c *gin.Context, sess stripe.CheckoutSession, customerID string) (models.Profile, error) {
	ctx := c.Request.Context()
	if ref := strings.TrimSpace(sess.ClientReferenceID); ref != "" {
		return h.deps.Profiles.Get(ctx, ref)
	}
	if ref := strings.TrimSpace(sess.Metadata["profile_id"]); ref != "" {
		return h.deps.Profiles.Get(ctx, ref)
	}
	if customerID != "" {
		return h.deps.Profiles.FindByStripeCustomerID(ctx, customerID)
	}
	return models.Profile{}, store.ErrNotFound
}

// subscriptionChanged ends access for canceled or unpaid subscriptions and
// restores it when a known subscription is active again.
func (h *StripeWebhookHandler) subscriptionChanged(c *gin.Context, event stripe.Event, deleted bool) error {
	var sub stripe.Subscription
	if errUnmarshal := json.Unmarshal(event.Data.Raw, &sub); errUnmarshal != nil {
		return badPayloadError{msg: "invalid subscription payload"}
	}
	ended := deleted || sub.Status == stripe.SubscriptionStatusCanceled || sub.Status == stripe.SubscriptionStatusUnpaid
	if !ended && sub.Status != stripe.SubscriptionStatusActive {
		return nil
	}
	if sub.ID == "" {
		return badPayloadError{msg: "missing subscription id"}
	}
	ctx := c.Request.Context()
	profile, errFind := h.deps.Profiles.FindByStripeSubscriptionID(ctx, sub.ID)
	if errFind != nil {
		if errors.Is(errFind, store.ErrNotFound) {
			return nil
		}
		return errFind
	}

	if ended {
		return h.apply(c, profile, trial.Input{Event: trial.EventPaymentCanceled}, func(next models.Profile) {
			if errNotify := h.deps.Notifier.SubscriptionEnded(ctx, next.Email); errNotify != nil {
				h.deps.Metrics.ObserveNotificationError()
				log.WithError(errNotify).Warn("stripe webhook: cancellation email failed")
			}
		})
	}
	plan := sub.Metadata["plan"]
	if plan == "" {
		plan = models.StringValue(profile.SubscriptionPlan)
	}
	if plan == "" {
		plan = h.defaultPlan
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return h.apply(c, profile, trial.Input{
		Event:          trial.EventPaymentConverted,
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		Plan:           plan,
	}, func(next models.Profile) {
		if errNotify := h.deps.Notifier.SubscriptionActivated(ctx, next.Email, plan); errNotify != nil {
			h.deps.Metrics.ObserveNotificationError()
			log.WithError(errNotify).Warn("stripe webhook: reactivation email failed")
		}
	})
}

// apply runs one transition. Illegal transitions are logged and acknowledged;
// storage failures, including a lost conditional update, are returned so the
// provider retries against the fresh state.
func (h *StripeWebhookHandler) apply(c *gin.Context, profile models.Profile, in trial.Input, after func(models.Profile)) error {
	tr, errApply := h.deps.Engine.Apply(profile, in, h.deps.Clock())
	if errApply != nil {
		log.WithError(errApply).WithField("profile_id", profile.ID).Warn("stripe webhook: transition rejected")
		return nil
	}
	if errPersist := h.deps.Profiles.ApplyTransition(c.Request.Context(), tr); errPersist != nil {
		return errPersist
	}
	if tr.NoOp {
		return nil
	}
	h.deps.Metrics.ObserveTransition(string(tr.Event), string(tr.From), string(tr.To))
	log.WithFields(log.Fields{
		"profile_id": profile.ID,
		"event":      tr.Event,
		"to":         tr.To,
	}).Info("subscription updated from webhook")
	if after != nil {
		after(tr.Next)
	}
	return nil
}
