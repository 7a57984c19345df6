package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/casedesk/casedesk-api/internal/http/api"
	"github.com/casedesk/casedesk-api/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const invoiceKind = "invoice"

// InvoiceHandler manages invoices. Invoices are not trial-limited, but writing
// them still needs write access.
type InvoiceHandler struct {
	deps api.Deps
}

// NewInvoiceHandler constructs an InvoiceHandler.
func NewInvoiceHandler(deps api.Deps) *InvoiceHandler {
	return &InvoiceHandler{deps: deps}
}

type invoiceRequest struct {
	ClientID    uint64     `json:"client_id" binding:"required"`
	CaseID      *uint64    `json:"case_id"`
	Number      string     `json:"number" binding:"required,max=64"`
	AmountCents int64      `json:"amount_cents" binding:"gte=0"`
	Currency    string     `json:"currency" binding:"omitempty,len=3,alpha"`
	Status      string     `json:"status" binding:"invoice_status"`
	IssuedAt    *time.Time `json:"issued_at"`
	DueAt       *time.Time `json:"due_at"`
}

// Create issues an invoice.
func (h *InvoiceHandler) Create(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, invoiceKind) {
		return
	}
	var body invoiceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	profile, _ := api.CurrentProfile(c)
	if !h.checkRefs(c, profile.ID, &body.ClientID, body.CaseID) {
		return
	}
	currency := strings.ToLower(strings.TrimSpace(body.Currency))
	if currency == "" {
		currency = "usd"
	}
	status := models.InvoiceStatus(body.Status)
	if status == "" {
		status = models.InvoiceStatusDraft
	}
	issuedAt := h.deps.Clock()
	if body.IssuedAt != nil {
		issuedAt = body.IssuedAt.UTC()
	}
	invoice := models.Invoice{
		ProfileID:   profile.ID,
		ClientID:    body.ClientID,
		CaseID:      body.CaseID,
		Number:      strings.TrimSpace(body.Number),
		AmountCents: body.AmountCents,
		Currency:    currency,
		Status:      status,
		IssuedAt:    issuedAt,
		DueAt:       body.DueAt,
	}
	if errCreate := h.deps.DB.WithContext(c.Request.Context()).Create(&invoice).Error; errCreate != nil {
		log.WithError(errCreate).Error("create invoice failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create invoice failed"})
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

// List returns the caller's invoices, optionally filtered by status or client.
func (h *InvoiceHandler) List(c *gin.Context) {
	profile, _ := api.CurrentProfile(c)
	limit, offset := pageParams(c)

	q := h.deps.DB.WithContext(c.Request.Context()).Model(&models.Invoice{}).Where("profile_id = ?", profile.ID)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		if !models.InvoiceStatus(status).Valid() {
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
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list invoices failed"})
		return
	}
	var rows []models.Invoice
	if errFind := q.Order("issued_at DESC").Limit(limit).Offset(offset).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list invoices failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": rows, "total": total})
}

// Get returns one invoice.
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, invoice)
}

type updateInvoiceRequest struct {
	CaseID      *uint64    `json:"case_id"`
	AmountCents *int64     `json:"amount_cents" binding:"omitempty,gte=0"`
	Status      *string    `json:"status" binding:"omitempty,invoice_status"`
	DueAt       *time.Time `json:"due_at"`
}

// Update changes invoice fields.
func (h *InvoiceHandler) Update(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, invoiceKind) {
		return
	}
	invoice, ok := h.load(c)
	if !ok {
		return
	}
	var body updateInvoiceRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !h.checkRefs(c, invoice.ProfileID, nil, body.CaseID) {
		return
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.CaseID != nil {
		updates["case_id"] = *body.CaseID
	}
	if body.AmountCents != nil {
		updates["amount_cents"] = *body.AmountCents
	}
	if body.Status != nil {
		updates["status"] = *body.Status
	}
	if body.DueAt != nil {
		updates["due_at"] = body.DueAt.UTC()
	}
	if errUpdate := h.deps.DB.WithContext(c.Request.Context()).Model(&invoice).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update invoice failed"})
		return
	}
	h.Get(c)
}

// Delete removes an invoice.
func (h *InvoiceHandler) Delete(c *gin.Context) {
	if !api.RequireWrite(c, h.deps, invoiceKind) {
		return
	}
	invoice, ok := h.load(c)
	if !ok {
		return
	}
	if errDelete := h.deps.DB.WithContext(c.Request.Context()).Delete(&invoice).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete invoice failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *InvoiceHandler) checkRefs(c *gin.Context, profileID string, clientID, caseID *uint64) bool {
	ctx := c.Request.Context()
	if clientID != nil {
		owned, errOwned := ownsRecord(ctx, h.deps.DB, &models.Client{}, profileID, *clientID)
		if errOwned != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load client failed"})
			return false
		}
		if !owned {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown client"})
			return false
		}
	}
	if caseID != nil {
		owned, errOwned := ownsRecord(ctx, h.deps.DB, &models.Case{}, profileID, *caseID)
		if errOwned != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load case failed"})
			return false
		}
		if !owned {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown case"})
			return false
		}
	}
	return true
}

func (h *InvoiceHandler) load(c *gin.Context) (models.Invoice, bool) {
	id, ok := parseID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return models.Invoice{}, false
	}
	profile, _ := api.CurrentProfile(c)
	var invoice models.Invoice
	if errFind := h.deps.DB.WithContext(c.Request.Context()).
		Where("id = ? AND profile_id = ?", id, profile.ID).
		Take(&invoice).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return models.Invoice{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load invoice failed"})
		return models.Invoice{}, false
	}
	return invoice, true
}
