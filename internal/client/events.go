package client

import (
	"encoding/json"
	"fmt"

	"github.com/fleetmsg/fleetmsg/internal/models"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// Push-stream event types.
const (
	EventTypeThreads = "threads"
	EventTypeMessage = "message"
)

// DecodeThreadsEvent unpacks a directory-stream delta. The payload carries
// partial conversation objects; only the fields that changed are set.
func DecodeThreadsEvent(evt transport.Event) ([]models.Conversation, error) {
	if evt.Type != EventTypeThreads {
		return nil, fmt.Errorf("unexpected event type %q", evt.Type)
	}
	var payload struct {
		Threads []models.Conversation `json:"threads"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode threads event: %w", err)
	}
	return stampKind(payload.Threads, models.KindThread), nil
}

// DecodeMessageEvent unpacks a detail-stream message event.
func DecodeMessageEvent(evt transport.Event) (models.Message, error) {
	if evt.Type != EventTypeMessage {
		return models.Message{}, fmt.Errorf("unexpected event type %q", evt.Type)
	}
	var payload struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return models.Message{}, fmt.Errorf("decode message event: %w", err)
	}
	return payload.Message, nil
}
