package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nyashahama/respiria-backend/internal/analysis"
	"github.com/nyashahama/respiria-backend/internal/worker"
)

// ReadingHandler decodes readings and hands them to the worker pool. It runs
// on paho's callback goroutine, so it only decodes and enqueues.
type ReadingHandler struct {
	filter string
	enq    worker.Enqueuer
	logger *slog.Logger
}

// NewReadingHandler returns a handler for messages matching filter.
func NewReadingHandler(filter string, enq worker.Enqueuer, logger *slog.Logger) *ReadingHandler {
	return &ReadingHandler{filter: filter, enq: enq, logger: logger}
}

// Handle satisfies MessageHandler. Device firmware may send extra fields, so
// unlike the HTTP API unknown fields are ignored here.
func (h *ReadingHandler) Handle(topic string, payload []byte) error {
	var reading analysis.SensorReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("decode reading: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return err
	}

	userID := reading.UserIDOr("")
	if userID == "" {
		userID = UserFromTopic(h.filter, topic)
	}
	if userID == "" {
		userID = "unknown"
	}
	reading.UserID = analysis.String(userID)

	if err := h.enq.Enqueue(context.Background(), worker.Task{UserID: userID, Reading: reading}); err != nil {
		return fmt.Errorf("enqueue reading for %s: %w", userID, err)
	}

	h.logger.Debug("mqtt: reading queued", "topic", topic, "user_id", userID)
	return nil
}
