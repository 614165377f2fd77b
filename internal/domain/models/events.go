package models

import "time"

// Store event types published to the events topic.
const (
	EventStoreUpdated       = "store.updated"
	EventStoreRejected      = "store.rejected"
	EventSnapshotSaved      = "snapshot.saved"
	EventCompactionFinished = "compaction.completed"
)

// StoreEvent notifies other processes that on-disk state changed.
type StoreEvent struct {
	Type     string    `json:"type"`
	Resource string    `json:"resource,omitempty"`
	Version  int64     `json:"version,omitempty"`
	Date     string    `json:"date,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Host     string    `json:"host,omitempty"`
	At       time.Time `json:"at"`
}
