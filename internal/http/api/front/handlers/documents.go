package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	dbutil "github.com/casedesk/casedesk-api/internal/db"
	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/casedesk/casedesk-api/internal/usage"
	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DocumentHandler manages document metadata for the caller.
type DocumentHandler struct {
	deps api.Deps
}

// NewDocumentHandler constructs a DocumentHandler.
func NewDocumentHandler(deps api.Deps) *DocumentHandler {
	return &DocumentHandler{deps: deps}
}

type documentRequest struct {
	Name        string   `json:"name" binding:"required,max=255"`
	CaseID      *uint64  `json:"case_id"`
	ContentType string   `json:"content_type" binding:"max=128"`
	SizeBytes   int64    `json:"size_bytes" binding:"gte=0"`
	StorageKey  string   `json:"storage_key" binding:"required,max=512"`
	Tags        []string `json:"tags" binding:"max=32,dive,min=1,max=64"`
}

// Create records a document within the caller's trial limit.
func (h *DocumentHandler) Create(c *gin.Context) {
	var body documentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	profile, _ := api.CurrentProfile(c)
	if body.CaseID != nil {
		owned, errOwned := ownsRecord(c.Request.Context(), h.deps.DB, &models.Case{}, profile.ID, *body.CaseID)
		if errOwned != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load case failed"})
			return
		}
		if !owned {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown case"})
			return
		}
	}
	tags := make([]string, 0, len(body.Tags))
	for _, tag := range body.Tags {
		if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
			tags = append(tags, tag)
		}
	}
	rawTags, errTags := json.Marshal(tags)
	if errTags != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tags"})
		return
	}
	doc := models.Document{
		ProfileID:   profile.ID,
		CaseID:      body.CaseID,
		Name:        strings.TrimSpace(body.Name),
		ContentType: strings.TrimSpace(body.ContentType),
		SizeBytes:   body.SizeBytes,
		StorageKey:  strings.TrimSpace(body.StorageKey),
		Tags:        datatypes.JSON(rawTags),
	}
	if !api.CreateLimited(c, h.deps, usage.KindDocument, &doc) {
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// List returns the caller's documents, optionally filtered by case or tag.
func (h *DocumentHandler) List(c *gin.Context) {
	profile, _ := api.CurrentProfile(c)
	limit, offset := pageParams(c)

	q := h.deps.DB.WithContext(c.Request.Context()).Model(&models.Document{}).Where("profile_id = ?", profile.ID)
	if caseID := strings.TrimSpace(c.Query("case_id")); caseID != "" {
		q = q.Where("case_id = ?", caseID)
	}
	if tag := strings.ToLower(strings.TrimSpace(c.Query("tag"))); tag != "" {
		expr, arg := dbutil.HasTag(h.deps.DB, "tags", tag)
		q = q.Where(expr, arg)
	}
	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list documents failed"})
		return
	}
	var rows []models.Document
	if errFind := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list documents failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": rows, "total": total})
}

// Get returns one document.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Delete removes a document record.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, string(usage.KindDocument)) {
		return
	}
	doc, ok := h.load(c)
	if !ok {
		return
	}
	if errDelete := h.deps.DB.WithContext(c.Request.Context()).Delete(&doc).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete document failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) load(c *gin.Context) (models.Document, bool) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return models.Document{}, false
	}
	profile, _ := api.CurrentProfile(c)
	var doc models.Document
	if errFind := h.deps.DB.WithContext(c.Request.Context()).
		Where("id = ? AND profile_id = ?", id, profile.ID).
		Take(&doc).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return models.Document{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load document failed"})
		return models.Document{}, false
	}
	return doc, true
}
