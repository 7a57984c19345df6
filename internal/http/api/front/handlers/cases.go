package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CaseHandler manages the caller's cases.
type CaseHandler struct {
	deps api.Deps
}

// NewCaseHandler constructs a CaseHandler.
func NewCaseHandler(deps api.Deps) *CaseHandler {
	return &CaseHandler{deps: deps}
}

type caseRequest struct {
	Title       string     `json:"title" binding:"required,max=255"`
	ClientID    *uint64    `json:"client_id"`
	Reference   string     `json:"reference" binding:"max=128"`
	Status      string     `json:"status" binding:"case_status"`
	Description string     `json:"description"`
	OpenedAt    *time.Time `json:"opened_at"`
}

// Create opens a case within the caller's trial limit.
func (h *CaseHandler) Create(c *gin.Context) {
	var body caseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	profile, _ := api.CurrentProfile(c)
	if !h.checkClient(c, profile.ID, body.ClientID) {
		return
	}
	status := models.CaseStatus(body.Status)
	if status == "" {
		status = models.CaseStatusOpen
	}
	openedAt := h.deps.Clock()
	if body.OpenedAt != nil {
		openedAt = body.OpenedAt.UTC()
	}
	record := models.Case{
		ProfileID:   profile.ID,
		ClientID:    body.ClientID,
		Title:       strings.TrimSpace(body.Title),
		Reference:   strings.TrimSpace(body.Reference),
		Status:      status,
		Description: body.Description,
		OpenedAt:    openedAt,
	}
	if status == models.CaseStatusClosed {
		closedAt := h.deps.Clock()
		record.ClosedAt = &closedAt
	}
	if !api.CreateLimited(c, h.deps, usage.KindCase, &record) {
		return
	}
	c.JSON(http.StatusCreated, record)
}

// List returns the caller's cases, optionally filtered by status or client.
func (h *CaseHandler) List(c *gin.Context) {
	profile, _ := api.CurrentProfile(c)
	limit, offset := pageParams(c)

	q := h.deps.DB.WithContext(c.Request.Context()).Model(&models.Case{}).Where("profile_id = ?", profile.ID)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !models.CaseStatus(status).Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		q = q.Where("status = ?", status)
	}
	if clientID := strings.TrimSpace(c.Query("client_id")); clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cases failed"})
		return
	}
	var rows []models.Case
	if errFind := q.Order("opened_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cases failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cases": rows, "total": total})
}

// Get returns one case.
func (h *CaseHandler) Get(c *gin.Context) {
	record, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, record)
}

type updateCaseRequest struct {
	Title       *string `json:"title" binding:"omitempty,min=1,max=255"`
	ClientID    *uint64 `json:"client_id"`
	Reference   *string `json:"reference" binding:"omitempty,max=128"`
	Status      *string `json:"status" binding:"omitempty,case_status"`
	Description *string `json:"description"`
}

// Update changes case fields. Moving to closed stamps closed_at.
func (h *CaseHandler) Update(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, string(usage.KindCase)) {
		return
	}
	record, ok := h.load(c)
	if !ok {
		return
	}
	var body updateCaseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.checkClient(c, record.ProfileID, body.ClientID) {
		return
	}
	now := time.Now().UTC()
	updates := map[string]any{"updated_at": now}
	if body.Title != nil {
		updates["title"] = strings.TrimSpace(*body.Title)
	}
	if body.ClientID != nil {
		updates["client_id"] = *body.ClientID
	}
	if body.Reference != nil {
		updates["reference"] = strings.TrimSpace(*body.Reference)
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.Status != nil {
		status := models.CaseStatus(*body.Status)
		updates["status"] = status
		if status == models.CaseStatusClosed && record.Status != models.CaseStatusClosed {
			updates["closed_at"] = now
		} else if status != models.CaseStatusClosed {
			updates["closed_at"] = nil
		}
	}
	if errUpdate := h.deps.DB.WithContext(c.Request.Context()).Model(&record).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update case failed"})
		return
	}
	h.Get(c)
}

// Delete removes a case.
func (h *CaseHandler) Delete(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, string(usage.KindCase)) {
		return
	}
	record, ok := h.load(c)
	if !ok {
		return
	}
	if errDelete := h.deps.DB.WithContext(c.Request.Context()).Delete(&record).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete case failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CaseHandler) checkClient(c *gin.Context, profileID string, clientID *uint64) bool {
	if clientID == nil {
		return true
	}
	owned, errOwned := ownsRecord(c.Request.Context(), h.deps.DB, &models.Client{}, profileID, *clientID)
	if errOwned != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
		return false
	}
	if !owned {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown client"})
		return false
	}
	return true
}

func (h *CaseHandler) load(c *gin.Context) (models.Case, bool) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return models.Case{}, false
	}
	profile, _ := api.CurrentProfile(c)
	var record models.Case
	if errFind := h.deps.DB.WithContext(c.Request.Context()).
		Where("id = ? AND profile_id = ?", id, profile.ID).
		Take(&record).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return models.Case{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load case failed"})
		return models.Case{}, false
	}
	return record, true
}
