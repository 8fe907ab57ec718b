package models

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"
)

// ChangeKind is the kind of row mutation a ChangeEvent describes.
type ChangeKind string

const (
	KindCreate ChangeKind = "create"
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

func ParseChangeKind(s string) (ChangeKind, error) {
	switch ChangeKind(strings.ToLower(s)) {
	case KindCreate:
		return KindCreate, nil
	case KindUpdate:
		return KindUpdate, nil
	case KindDelete:
		return KindDelete, nil
	default:
		return "", fmt.Errorf("unknown change kind: %q", s)
	}
}

// ChangeEvent describes one row mutation captured from the source database.
// It is constructed once, at capture time, and never mutated afterwards.
type ChangeEvent struct {
	// ID is a trace identifier for the event. The durable path derives it
	// from the queue row id; the in-memory path assigns a UUID on enqueue.
	ID string `json:"id,omitempty"`

	// EntityType is the source table name.
	EntityType string `json:"entity_type"`

	// EntityID is the primary key of the affected row, as text.
	EntityID string `json:"entity_id"`

	Kind ChangeKind `json:"change_kind"`

	// Data holds the post-mutation row image. Empty for DELETE.
	Data map[string]any `json:"data,omitempty"`

	// PreviousData holds the pre-mutation row image. Empty for CREATE.
	PreviousData map[string]any `json:"previous_data,omitempty"`

	// ChangedFields lists the fields whose value differs between Data and
	// PreviousData. Populated for UPDATE only.
	ChangedFields []string `json:"changed_fields,omitempty"`
}

// NodeLabel returns the graph label for the event's entity type.
func (e *ChangeEvent) NodeLabel() string {
	return NodeLabel(e.EntityType)
}

// NodeLabel converts a snake_case table name into a PascalCase graph label,
// e.g. "sales_order" becomes "SalesOrder". Characters that are not letters
// or digits act as word separators and are dropped.
func NodeLabel(entityType string) string {
	var b strings.Builder
	upper := true
	for _, r := range entityType {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DiffFields returns the names of the keys present in both row images whose
// values differ, sorted. Keys present in only one image are not reported;
// the row images of an UPDATE always carry the full column set, so a key
// missing from one side means a TOAST-style omission, not a change we can
// claim.
func DiffFields(data, previous map[string]any) []string {
	var changed []string
	for key, val := range data {
		prev, ok := previous[key]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(val, prev) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
