package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one fire-and-forget audit record. Writing it must never
// fail the operation being audited.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	ActorID   string         `json:"actor_id,omitempty"`
	SaccoID   *uuid.UUID     `json:"sacco_id,omitempty"`
	Diff      map[string]any `json:"diff,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Metric is one pipeline counter sample consumed by the backlog monitor.
type Metric struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Dimensions map[string]any `json:"dimensions,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}
