package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, channel string, event eventbus.Event) error
}

type LinkVerifier interface {
	VerifyLink(token string) (uuid.UUID, string, error)
}

// EventHandler accepts webhooks and tracking hits and forwards them to the
// scheduler process over the bus.
type EventHandler struct {
	bus    EventPublisher
	links  LinkVerifier
	logger *zap.Logger
}

func NewEventHandler(bus EventPublisher, links LinkVerifier, logger *zap.Logger) *EventHandler {
	return &EventHandler{bus: bus, links: links, logger: logger}
}

func (h *EventHandler) Ingest(c *gin.Context) {
	var event events.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if !events.Supported(event.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": events.ErrUnsupportedEvent.Error(), "details": event.Type})
		return
	}
	event.OwnerID = owner(c)

	if err := h.forward(c.Request.Context(), event); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus unavailable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// 1x1 transparent gif
var pixel, _ = base64.StdEncoding.DecodeString("R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")

// TrackOpen always answers with the pixel so mail clients never show a
// broken image.
func (h *EventHandler) TrackOpen(c *gin.Context) {
	if id, err := uuid.Parse(c.Param("enrollment_id")); err == nil {
		_ = h.forward(c.Request.Context(), events.Event{Type: events.TypeOpen, EnrollmentID: id})
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/gif", pixel)
}

// TrackClick redirects only to targets signed for the enrollment in the
// path.
func (h *EventHandler) TrackClick(c *gin.Context) {
	id, err := uuid.Parse(c.Param("enrollment_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid enrollment id"})
		return
	}
	signedFor, target, err := h.links.VerifyLink(c.Query("t"))
	if err != nil || signedFor != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid link"})
		return
	}
	_ = h.forward(c.Request.Context(), events.Event{Type: events.TypeClick, EnrollmentID: id})
	c.Redirect(http.StatusFound, target)
}

func (h *EventHandler) forward(ctx context.Context, event events.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	msg, err := eventbus.NewEvent(event.Type, event)
	if err != nil {
		return err
	}
	if err := h.bus.Publish(ctx, eventbus.ChannelInbound, msg); err != nil {
		h.logger.Error("failed to publish inbound event",
			zap.String("type", event.Type),
			zap.String("enrollment_id", event.EnrollmentID.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}
