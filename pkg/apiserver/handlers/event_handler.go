package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/eventbus"
	"github.com/salesloop/salesloop/pkg/model"
)

type EventHandler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewEventHandler(bus *eventbus.Bus, logger *zap.Logger) *EventHandler {
	return &EventHandler{bus: bus, logger: logger}
}

type eventRequest struct {
	ID         string                 `json:"id"`
	Category   string                 `json:"category" binding:"required"`
	EntityType string                 `json:"entity_type" binding:"required"`
	EntityID   string                 `json:"entity_id" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt *time.Time             `json:"occurred_at"`
}

// Publish ingests a domain event from an external service onto the bus.
// Callers that can replay should send a stable event id; the engine
// dedupes on it.
func (h *EventHandler) Publish(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	category, err := model.ParseTriggerType(req.Category)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if category == model.TriggerDateBased {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date_based events are synthesized by the engine"})
		return
	}

	eventID := uuid.New()
	if req.ID != "" {
		parsed, err := uuid.Parse(req.ID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
			return
		}
		eventID = parsed
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	event := model.Event{
		ID:         eventID,
		Category:   category,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Payload:    model.JSONB(req.Payload),
		OccurredAt: occurredAt,
	}

	if err := h.bus.Publish(c.Request.Context(), event); err != nil {
		h.logger.Error("failed to publish event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish event"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"event_id": event.ID.String()})
}
