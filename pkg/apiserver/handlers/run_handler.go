package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/engine"
	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type RunHandler struct {
	engine *engine.Engine
	runs   store.RunStore
	logger *zap.Logger
}

func NewRunHandler(eng *engine.Engine, runs store.RunStore, logger *zap.Logger) *RunHandler {
	return &RunHandler{engine: eng, runs: runs, logger: logger}
}

type runResponse struct {
	ID                string            `json:"id"`
	WorkflowID        string            `json:"workflow_id"`
	SubjectEntityType string            `json:"subject_entity_type"`
	SubjectEntityID   string            `json:"subject_entity_id"`
	Status            string            `json:"status"`
	Cursor            int               `json:"cursor"`
	StepCount         int               `json:"step_count"`
	StepResults       model.StepResults `json:"step_results"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ScheduledResumeAt *string           `json:"scheduled_resume_at,omitempty"`
	CreatedAt         string            `json:"created_at"`
	CompletedAt       *string           `json:"completed_at,omitempty"`
}

func toRunResponse(r *model.WorkflowRun) runResponse {
	return runResponse{
		ID:                r.ID.String(),
		WorkflowID:        r.WorkflowID.String(),
		SubjectEntityType: r.SubjectEntityType,
		SubjectEntityID:   r.SubjectEntityID,
		Status:            string(r.Status),
		Cursor:            r.Cursor,
		StepCount:         len(r.StepsSnapshot),
		StepResults:       r.StepResults,
		ErrorMessage:      r.ErrorMessage,
		ScheduledResumeAt: formatTime(r.ScheduledResumeAt),
		CreatedAt:         *formatTime(&r.CreatedAt),
		CompletedAt:       formatTime(r.CompletedAt),
	}
}

func (h *RunHandler) List(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	offset := parseOffset(c.Query("offset"))

	workflowID := uuid.Nil
	if raw := c.Query("workflow_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow_id"})
			return
		}
		workflowID = parsed
	}

	var status *model.RunStatus
	if raw := c.Query("status"); raw != "" {
		parsed := model.RunStatus(raw)
		status = &parsed
	}

	runs, total, err := h.engine.ListRuns(c.Request.Context(), workflowID, status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	responses := make([]runResponse, 0, len(runs))
	for i := range runs {
		responses = append(responses, toRunResponse(&runs[i]))
	}

	c.JSON(http.StatusOK, gin.H{"runs": responses, "total": total})
}

func (h *RunHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	run, err := h.runs.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}

	c.JSON(http.StatusOK, toRunResponse(run))
}

func (h *RunHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	err = h.engine.Cancel(c.Request.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	case errors.Is(err, engine.ErrRunTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "run already terminal"})
	case err != nil:
		h.logger.Error("failed to cancel run", zap.String("run_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel run"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}
