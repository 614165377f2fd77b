package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"FinStore/internal/domain/models"
)

// EventHandler purges the read cache on store events published by other hosts. It implements
// the kafka consumer's MessageHandler.
type EventHandler struct {
	topic  string
	target Invalidator
}

func NewEventHandler(topic string, target Invalidator) *EventHandler {
	return &EventHandler{topic: topic, target: target}
}

func (h *EventHandler) Topic() string { return h.topic }

func (h *EventHandler) Handle(_ context.Context, data []byte) error {
	var ev models.StoreEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode store event: %w", err)
	}
	switch ev.Type {
	case models.EventStoreUpdated, models.EventSnapshotSaved, models.EventCompactionFinished:
		h.target.Purge(ev.Type + " " + ev.Resource + ev.Date)
	}
	return nil
}
