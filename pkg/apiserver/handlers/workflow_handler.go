package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type WorkflowHandler struct {
	workflows store.WorkflowStore
	logger    *zap.Logger
}

func NewWorkflowHandler(workflows store.WorkflowStore, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, logger: logger}
}

type stepRequest struct {
	ActionType   string                 `json:"action_type" binding:"required"`
	ActionConfig map[string]interface{} `json:"action_config"`
}

type workflowRequest struct {
	Name          string                 `json:"name" binding:"required"`
	Description   string                 `json:"description"`
	Active        bool                   `json:"active"`
	TriggerType   string                 `json:"trigger_type" binding:"required"`
	TriggerConfig map[string]interface{} `json:"trigger_config" binding:"required"`
	Steps         []stepRequest          `json:"steps" binding:"required"`
	Tags          []string               `json:"tags"`
}

type workflowResponse struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Active         bool         `json:"active"`
	TriggerType    string       `json:"trigger_type"`
	TriggerConfig  model.JSONB  `json:"trigger_config"`
	Steps          []model.Step `json:"steps"`
	ExecutionCount int64        `json:"execution_count"`
	Tags           []string     `json:"tags,omitempty"`
	CreatedAt      string       `json:"created_at"`
}

func toWorkflowResponse(w *model.Workflow) workflowResponse {
	return workflowResponse{
		ID:             w.ID.String(),
		Name:           w.Name,
		Description:    w.Description,
		Active:         w.Active,
		TriggerType:    string(w.TriggerType),
		TriggerConfig:  w.TriggerConfig,
		Steps:          w.Steps,
		ExecutionCount: w.ExecutionCount,
		Tags:           w.Tags,
		CreatedAt:      w.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// buildWorkflow validates the request into a model. ValidationErrors
// are rejected here, at save time; the engine never sees a malformed
// definition.
func (h *WorkflowHandler) buildWorkflow(req workflowRequest, into *model.Workflow) error {
	triggerType, err := model.ParseTriggerType(req.TriggerType)
	if err != nil {
		return err
	}

	steps := make(model.Steps, 0, len(req.Steps))
	for _, s := range req.Steps {
		actionType, err := model.ParseActionType(s.ActionType)
		if err != nil {
			return err
		}
		steps = append(steps, model.Step{
			ActionType:   actionType,
			ActionConfig: model.JSONB(s.ActionConfig),
		})
	}

	into.Name = req.Name
	into.Description = req.Description
	into.Active = req.Active
	into.TriggerType = triggerType
	into.TriggerConfig = model.JSONB(req.TriggerConfig)
	into.Steps = steps
	into.Tags = pq.StringArray(req.Tags)

	return into.Validate()
}

func (h *WorkflowHandler) Create(c *gin.Context) {
	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	workflow := model.Workflow{ID: uuid.New()}
	if err := h.buildWorkflow(req, &workflow); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow", "details": err.Error()})
		return
	}
	workflow.CreatedBy = c.GetString("operator_id")

	if err := h.workflows.Save(c.Request.Context(), &workflow); err != nil {
		h.logger.Error("failed to save workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save workflow"})
		return
	}

	c.JSON(http.StatusCreated, toWorkflowResponse(&workflow))
}

func (h *WorkflowHandler) List(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)
	offset := parseOffset(c.Query("offset"))
	activeOnly := c.Query("active") == "true"

	workflows, total, err := h.workflows.List(c.Request.Context(), activeOnly, limit, offset)
	if err != nil {
		h.logger.Error("failed to list workflows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workflows"})
		return
	}

	responses := make([]workflowResponse, 0, len(workflows))
	for i := range workflows {
		responses = append(responses, toWorkflowResponse(&workflows[i]))
	}

	c.JSON(http.StatusOK, gin.H{"workflows": responses, "total": total})
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	workflow, err := h.workflows.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow"})
		return
	}

	c.JSON(http.StatusOK, toWorkflowResponse(workflow))
}

func (h *WorkflowHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var req workflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	workflow, err := h.workflows.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow"})
		return
	}

	// Runs in flight keep their snapshot; edits only shape future runs.
	if err := h.buildWorkflow(req, workflow); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow", "details": err.Error()})
		return
	}

	if err := h.workflows.Save(c.Request.Context(), workflow); err != nil {
		h.logger.Error("failed to save workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save workflow"})
		return
	}

	c.JSON(http.StatusOK, toWorkflowResponse(workflow))
}

func (h *WorkflowHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	if err := h.workflows.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		h.logger.Error("failed to delete workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete workflow"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *WorkflowHandler) SetActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
			return
		}

		// Deactivation stops new runs only; runs in flight are never
		// implicitly cancelled.
		if err := h.workflows.SetActive(c.Request.Context(), id, active); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
				return
			}
			h.logger.Error("failed to toggle workflow", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle workflow"})
			return
		}

		workflow, err := h.workflows.Get(c.Request.Context(), id)
		if err != nil {
			h.logger.Error("failed to load workflow", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow"})
			return
		}

		c.JSON(http.StatusOK, toWorkflowResponse(workflow))
	}
}
