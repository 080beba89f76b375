package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"dealflow/internal/repository"
	"dealflow/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const defaultListLimit = 50

// ExtractorQuerier runs one ad-hoc extraction query; satisfied by
// extractor.Client.
type ExtractorQuerier interface {
	Query(ctx context.Context, criteria map[string]any) (json.RawMessage, error)
}

// OpsHandler exposes the operator surface: inspect queue entries and inbound
// messages, retry or cancel entries, read worker liveness, tune settings.
type OpsHandler struct {
	db           *gorm.DB
	queueRepo    repository.QueueInterface
	messageRepo  repository.MessageInterface
	statusRepo   repository.StatusInterface
	settingsRepo repository.SettingsInterface
	settings     *service.SettingsStore
	pipeline     *service.Pipeline
	extractor    ExtractorQuerier
}

func NewOpsHandler(
	db *gorm.DB,
	queueRepo repository.QueueInterface,
	messageRepo repository.MessageInterface,
	statusRepo repository.StatusInterface,
	settingsRepo repository.SettingsInterface,
	settings *service.SettingsStore,
	pipeline *service.Pipeline,
	ext ExtractorQuerier,
) *OpsHandler {
	return &OpsHandler{
		db:           db,
		queueRepo:    queueRepo,
		messageRepo:  messageRepo,
		statusRepo:   statusRepo,
		settingsRepo: settingsRepo,
		settings:     settings,
		pipeline:     pipeline,
		extractor:    ext,
	}
}

func (h *OpsHandler) HealthCheck(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *OpsHandler) ListQueue(c *gin.Context) {
	limit := intQuery(c, "limit", defaultListLimit)
	entries, err := h.queueRepo.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *OpsHandler) GetQueueEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entry, err := h.queueRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue entry not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// RetryQueueEntry resets a failed entry to pending with a clean attempt
// count and error.
func (h *OpsHandler) RetryQueueEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.queueRepo.Retry(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			c.JSON(http.StatusConflict, gin.H{"error": "only failed entries can be retried"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}

// CancelQueueEntry cancels a pending or scheduled entry. Entries in any
// other state are left alone.
func (h *OpsHandler) CancelQueueEntry(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.queueRepo.Cancel(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotClaimable) {
			c.JSON(http.StatusConflict, gin.H{"error": "only pending or scheduled entries can be cancelled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *OpsHandler) WorkerStatus(c *gin.Context) {
	status, err := h.statusRepo.Get(c.Request.Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker has never run"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *OpsHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

type putSettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// PutSetting writes one key and reloads the snapshot so the change takes
// effect without waiting for the next periodic reload.
func (h *OpsHandler) PutSetting(c *gin.Context) {
	var r putSettingRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}
	key := service.SettingsPrefix + c.Param("key")
	if err := h.settingsRepo.Put(c.Request.Context(), key, string(r.Value)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.settings.Reload(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.settings.Snapshot())
}

func (h *OpsHandler) ListInbound(c *gin.Context) {
	limit := intQuery(c, "limit", defaultListLimit)
	needsReview := c.Query("needs_review") == "true"
	msgs, err := h.messageRepo.List(c.Request.Context(), needsReview, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

type intakeRequest struct {
	Sender     string     `json:"sender" binding:"required"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	ReceivedAt *time.Time `json:"received_at"`
}

// IntakeInbound stores one raw reply, matched to a contact by sender. The
// classify trigger picks the stored row up on its next tick.
func (h *OpsHandler) IntakeInbound(c *gin.Context) {
	var r intakeRequest
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}
	received := time.Now()
	if r.ReceivedAt != nil {
		received = *r.ReceivedAt
	}
	msg, err := h.pipeline.Intake(c.Request.Context(), r.Sender, r.Subject, r.Body, received)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// QueryExtractor forwards one criteria query to the extraction service and
// returns its rows untouched.
func (h *OpsHandler) QueryExtractor(c *gin.Context) {
	var criteria map[string]any
	if err := c.ShouldBindJSON(&criteria); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON format error"})
		return
	}
	rows, err := h.extractor.Query(c.Request.Context(), criteria)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", rows)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
