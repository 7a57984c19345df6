// Package api holds what the admin, front and hook route groups share.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/casedesk/casedesk-api/internal/config"
	"github.com/casedesk/casedesk-api/internal/identity"
	"github.com/casedesk/casedesk-api/internal/metrics"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/notify"
	"github.com/casedesk/casedesk-api/internal/payment"
	"github.com/casedesk/casedesk-api/internal/ratelimit"
	"github.com/casedesk/casedesk-api/internal/store"
	"github.com/casedesk/casedesk-api/internal/sweeper"
	"github.com/casedesk/casedesk-api/internal/trial"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const ginProfileKey = "profile"

// Deps are the collaborators handed to every route group.
type Deps struct {
	DB       *gorm.DB
	Profiles *store.ProfileStore
	Entities *store.EntityStore
	Sweeps   *store.SweepRunStore
	Engine   *trial.Engine
	Sweeper  *sweeper.Sweeper
	Sessions payment.SessionProvider
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Verifier *identity.Verifier
	Limiter  *ratelimit.Manager
	Config   *config.Config
	Now      func() time.Time
}

// Clock returns the configured clock or time.Now.
func (d Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// ProfileMiddleware loads the caller's profile. It must run after identity.Middleware.
func ProfileMiddleware(profiles *store.ProfileStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.Current(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		profile, errGet := profiles.Get(c.Request.Context(), id.UserID)
		if errGet != nil {
			if errors.Is(errGet, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "profile not found"})
				return
			}
			log.WithError(errGet).Error("load profile failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load profile failed"})
			return
		}
		c.Set(ginProfileKey, profile)
		c.Next()
	}
}

// RequireAdmin rejects callers whose stored role is not admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := CurrentProfile(c)
		if !ok || profile.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

// CurrentProfile returns the profile loaded by ProfileMiddleware.
func CurrentProfile(c *gin.Context) (models.Profile, bool) {
	v, ok := c.Get(ginProfileKey)
	if !ok {
		return models.Profile{}, false
	}
	p, ok := v.(models.Profile)
	return p, ok
}

// DenialStatus maps a denial reason to its HTTP status: 402 when paying lifts
// the denial on a trial, 403 otherwise.
func DenialStatus(reason usage.Reason) int {
	switch reason {
	case usage.ReasonLimitReached, usage.ReasonTrialExpired:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

// RespondDenial writes the denial body when err is an admission denial and reports
// whether it did.
func RespondDenial(c *gin.Context, m *metrics.Metrics, kind string, err error) bool {
	reason, ok := usage.ReasonOf(err)
	if !ok {
		return false
	}
	m.ObserveDenial(kind, string(reason))
	c.JSON(DenialStatus(reason), gin.H{
		"error":            denialMessage(reason),
		"reason":           reason,
		"upgrade_required": reason.UpgradeRequired(),
	})
	return true
}

func denialMessage(reason usage.Reason) string {
	switch reason {
	case usage.ReasonLimitReached:
		return "trial limit reached"
	case usage.ReasonTrialExpired:
		return "trial expired"
	case usage.ReasonInactive:
		return "subscription inactive"
	case usage.ReasonReadOnly:
		return "account is read-only"
	case usage.ReasonUnconfirmed:
		return "email not confirmed"
	default:
		return "not allowed"
	}
}

// RequireWrite writes a denial and returns false when the caller may not modify records.
func RequireWrite(c *gin.Context, d Deps, kind string) bool {
	profile, ok := CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return false
	}
	if errWrite := usage.CanWrite(profile, d.Clock()).Err(); errWrite != nil {
		RespondDenial(c, d.Metrics, kind, errWrite)
		return false
	}
	return true
}

// CreateLimited admits and inserts record for the caller. It writes the error
// response itself and returns false on any failure.
func CreateLimited(c *gin.Context, d Deps, kind usage.EntityKind, record any) bool {
	profile, ok := CurrentProfile(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing profile"})
		return false
	}
	ctx := c.Request.Context()
	now := d.Clock()

	count, errCount := d.Entities.Count(ctx, profile.ID, kind)
	if errCount != nil {
		log.WithError(errCount).Error("count records failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return false
	}
	if errAdmit := usage.CanCreate(profile, count, now).Err(); errAdmit != nil {
		RespondDenial(c, d.Metrics, string(kind), errAdmit)
		return false
	}
	if errCreate := d.Entities.CreateWithinLimit(ctx, profile.ID, kind, now, record); errCreate != nil {
		if RespondDenial(c, d.Metrics, string(kind), errCreate) {
			return false
		}
		log.WithError(errCreate).Error("create record failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return false
	}
	return true
}

// WriteSweepReport renders a sweep report: 200 when every profile converted and
// 207 when some failed.
func WriteSweepReport(c *gin.Context, report sweeper.Report) {
	results := report.Results
	if results == nil {
		results = []sweeper.Result{}
	}
	status := http.StatusOK
	message := "sweep completed"
	if report.Failed() > 0 {
		status = http.StatusMultiStatus
		message = "sweep completed with failures"
	}
	c.JSON(status, gin.H{
		"message":   message,
		"run_id":    report.RunID,
		"trigger":   report.Trigger,
		"succeeded": report.Succeeded(),
		"failed":    report.Failed(),
		"expired":   report.Expired,
		"results":   results,
	})
}
