package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	dbutil "github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ClientHandler manages the caller's clients.
type ClientHandler struct {
	deps api.Deps
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(deps api.Deps) *ClientHandler {
	return &ClientHandler{deps: deps}
}

type clientRequest struct {
	Name    string `json:"name" binding:"required,max=255"`
	Email   string `json:"email" binding:"omitempty,email,max=320"`
	Phone   string `json:"phone" binding:"max=64"`
	Company string `json:"company" binding:"max=255"`
	Notes   string `json:"notes"`
}

// Create creates a client within the caller's trial limit.
func (h *ClientHandler) Create(c *gin.Context) {
	var body clientRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	profile, _ := api.CurrentProfile(c)
	client := models.Client{
		ProfileID: profile.ID,
		Name:      strings.TrimSpace(body.Name),
		Email:     strings.TrimSpace(body.Email),
		Phone:     strings.TrimSpace(body.Phone),
		Company:   strings.TrimSpace(body.Company),
		Notes:     body.Notes,
	}
	if !api.CreateLimited(c, h.deps, usage.KindClient, &client) {
		return
	}
	c.JSON(http.StatusCreated, client)
}

// List returns the caller's clients, optionally filtered by search.
func (h *ClientHandler) List(c *gin.Context) {
	profile, _ := api.CurrentProfile(c)
	limit, offset := pageParams(c)

	q := h.deps.DB.WithContext(c.Request.Context()).Model(&models.Client{}).Where("profile_id = ?", profile.ID)
	if expr, args := dbutil.MatchAny(h.deps.DB, c.Query("search"), "name", "email", "company"); expr != "" {
		q = q.Where(expr, args...)
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	var rows []models.Client
	if errFind := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list clients failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": rows, "total": total})
}

// Get returns one client.
func (h *ClientHandler) Get(c *gin.Context) {
	client, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, client)
}

type updateClientRequest struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=255"`
	Email   *string `json:"email" binding:"omitempty,max=320"`
	Phone   *string `json:"phone" binding:"omitempty,max=64"`
	Company *string `json:"company" binding:"omitempty,max=255"`
	Notes   *string `json:"notes"`
}

// Update changes client fields.
func (h *ClientHandler) Update(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, string(usage.KindClient)) {
		return
	}
	client, ok := h.load(c)
	if !ok {
		return
	}
	var body updateClientRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.Email != nil {
		updates["email"] = strings.TrimSpace(*body.Email)
	}
	if body.Phone != nil {
		updates["phone"] = strings.TrimSpace(*body.Phone)
	}
	if body.Company != nil {
		updates["company"] = strings.TrimSpace(*body.Company)
	}
	if body.Notes != nil {
		updates["notes"] = *body.Notes
	}
	if errUpdate := h.deps.DB.WithContext(c.Request.Context()).Model(&client).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update client failed"})
		return
	}
	h.Get(c)
}

// Delete removes a client.
func (h *ClientHandler) Delete(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, string(usage.KindClient)) {
		return
	}
	client, ok := h.load(c)
	if !ok {
		return
	}
	if errDelete := h.deps.DB.WithContext(c.Request.Context()).Delete(&client).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete client failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ClientHandler) load(c *gin.Context) (models.Client, bool) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return models.Client{}, false
	}
	profile, _ := api.CurrentProfile(c)
	var client models.Client
	if errFind := h.deps.DB.WithContext(c.Request.Context()).
		Where("id = ? AND profile_id = ?", id, profile.ID).
		Take(&client).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return models.Client{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
		return models.Client{}, false
	}
	return client, true
}
