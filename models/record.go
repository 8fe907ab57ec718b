package models

import (
	"strconv"
	"time"
)

// QueueRecord is the persisted form of a ChangeEvent: one row in the durable
// sync queue. Rows are inserted by the capture triggers inside the source
// transaction and retained after processing as an audit trail.
type QueueRecord struct {
	ID            int64          `json:"id"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Kind          ChangeKind     `json:"change_kind"`
	Data          map[string]any `json:"data"`
	PreviousData  map[string]any `json:"previous_data"`
	ChangedFields []string       `json:"changed_fields"`
	CreatedAt     time.Time      `json:"created_at"`

	// ProcessedAt is nil while the row is pending. It is set by the claim
	// statement itself, not on apply success; a failed apply therefore
	// leaves the row claimed with Error populated.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	Error   *string `json:"error,omitempty"`
	Retries int     `json:"retries"`
}

// Event reconstructs the in-flight ChangeEvent this record was captured from.
func (r *QueueRecord) Event() *ChangeEvent {
	return &ChangeEvent{
		ID:            strconv.FormatInt(r.ID, 10),
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Kind:          r.Kind,
		Data:          r.Data,
		PreviousData:  r.PreviousData,
		ChangedFields: r.ChangedFields,
	}
}

// RelationshipDescriptor describes one graph edge implied by a non-null
// foreign-key field on a source row. Derived on demand, never persisted.
type RelationshipDescriptor struct {
	SourceTable string `json:"source_table"`
	SourceID    string `json:"source_id"`
	TargetTable string `json:"target_table"`
	TargetID    string `json:"target_id"`

	// Name is the edge type: the uppercased foreign-key column name.
	Name string `json:"relationship_name"`

	SourceField string `json:"source_field"`
	TargetField string `json:"target_field"`
}
