package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type AuditHandler struct {
	audit  store.AuditLog
	logger *zap.Logger
}

func NewAuditHandler(audit store.AuditLog, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditResponse struct {
	Kind       string      `json:"kind"`
	WorkflowID string      `json:"workflow_id"`
	RunID      *string     `json:"run_id,omitempty"`
	EventID    *string     `json:"event_id,omitempty"`
	StepIndex  *int        `json:"step_index,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	Payload    model.JSONB `json:"payload,omitempty"`
	CreatedAt  string      `json:"created_at"`
}

func (h *AuditHandler) Query(c *gin.Context) {
	var filter store.AuditFilter

	if raw := c.Query("workflow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow_id"})
			return
		}
		filter.WorkflowID = &id
	}
	if raw := c.Query("run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run_id"})
			return
		}
		filter.RunID = &id
	}
	if raw := c.Query("kind"); raw != "" {
		kind := model.AuditKind(raw)
		filter.Kind = &kind
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		filter.Since = &since
	}
	filter.Limit = parseLimit(c.Query("limit"), 200)

	entries, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit log", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit log"})
		return
	}

	responses := make([]auditResponse, 0, len(entries))
	for _, entry := range entries {
		resp := auditResponse{
			Kind:       string(entry.Kind),
			WorkflowID: entry.WorkflowID.String(),
			StepIndex:  entry.StepIndex,
			Detail:     entry.Detail,
			Payload:    entry.Payload,
			CreatedAt:  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if entry.RunID != nil {
			id := entry.RunID.String()
			resp.RunID = &id
		}
		if entry.EventID != nil {
			id := entry.EventID.String()
			resp.EventID = &id
		}
		responses = append(responses, resp)
	}

	c.JSON(http.StatusOK, gin.H{"entries": responses})
}
