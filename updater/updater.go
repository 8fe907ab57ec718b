package updater

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/samber/lo"

	"github.com/web3tea/graphmirror/graph"
	"github.com/web3tea/graphmirror/models"
	"github.com/web3tea/graphmirror/pkg/log"
)

// SchemaResolver is the slice of schema.Resolver the updater needs.
type SchemaResolver interface {
	RelationshipFields(ctx context.Context, entityType string) ([]string, error)
	EntityRelationships(ctx context.Context, entityType, entityID string) ([]models.RelationshipDescriptor, error)
}

// Updater applies one ChangeEvent as the minimal set of graph mutations:
// node upsert, relationship rebuild only when a relationship-relevant field
// changed, or a cascading delete. When the executor supports transactions,
// each event's full mutation sequence runs inside one.
type Updater struct {
	exec   graph.Executor
	schema SchemaResolver
	logger log.Logger
}

func New(exec graph.Executor, schema SchemaResolver, logger log.Logger) *Updater {
	if logger == nil {
		logger = log.Nop
	}
	return &Updater{exec: exec, schema: schema, logger: logger}
}

// Apply dispatches on the event's change kind. Any graph failure propagates
// to the caller; the consumption loop isolates it to the event's queue row.
func (u *Updater) Apply(ctx context.Context, event *models.ChangeEvent) error {
	apply := func(exec graph.Executor) error {
		switch event.Kind {
		case models.KindCreate:
			return u.applyCreate(ctx, exec, event)
		case models.KindUpdate:
			return u.applyUpdate(ctx, exec, event)
		case models.KindDelete:
			return u.applyDelete(ctx, exec, event)
		default:
			return fmt.Errorf("unknown change kind: %q", event.Kind)
		}
	}

	if tx, ok := u.exec.(graph.TxExecutor); ok {
		return tx.InTx(ctx, apply)
	}
	return apply(u.exec)
}

func (u *Updater) applyCreate(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	if err := u.upsertNode(ctx, exec, event); err != nil {
		return err
	}
	return u.createRelationships(ctx, exec, event)
}

func (u *Updater) applyUpdate(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	if err := u.upsertNode(ctx, exec, event); err != nil {
		return err
	}

	fields, err := u.schema.RelationshipFields(ctx, event.EntityType)
	if err != nil {
		return err
	}
	if len(lo.Intersect(fields, event.ChangedFields)) == 0 {
		return nil
	}

	// A relationship-relevant field changed: drop every outgoing edge and
	// recreate the full set from the current foreign-key values. Replace-all
	// is self-healing against drift and fan-out per entity is small.
	if err := u.deleteOutgoingEdges(ctx, exec, event); err != nil {
		return err
	}
	return u.createRelationships(ctx, exec, event)
}

func (u *Updater) applyDelete(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	query := fmt.Sprintf("MATCH (n:%s {id: $id}) DETACH DELETE n", event.NodeLabel())
	if _, err := exec.Execute(ctx, query, map[string]any{"id": event.EntityID}); err != nil {
		return fmt.Errorf("delete node %s/%s: %w", event.EntityType, event.EntityID, err)
	}
	return nil
}

// upsertNode replaces the node's full property set from the event data.
func (u *Updater) upsertNode(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	query := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n = $props SET n.id = $id", event.NodeLabel())
	params := map[string]any{
		"id":    event.EntityID,
		"props": nodeProperties(event.Data),
	}
	if _, err := exec.Execute(ctx, query, params); err != nil {
		return fmt.Errorf("upsert node %s/%s: %w", event.EntityType, event.EntityID, err)
	}
	return nil
}

func (u *Updater) deleteOutgoingEdges(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	query := fmt.Sprintf("MATCH (n:%s {id: $id})-[r]->() DELETE r", event.NodeLabel())
	if _, err := exec.Execute(ctx, query, map[string]any{"id": event.EntityID}); err != nil {
		return fmt.Errorf("delete outgoing edges of %s/%s: %w", event.EntityType, event.EntityID, err)
	}
	return nil
}

// createRelationships merges one edge per current non-null foreign key. Both
// endpoints are matched by label+id; when the target node does not exist yet
// the MATCH is empty and the edge is skipped, to be healed by the target's
// own create or a later relationship rebuild.
func (u *Updater) createRelationships(ctx context.Context, exec graph.Executor, event *models.ChangeEvent) error {
	descriptors, err := u.schema.EntityRelationships(ctx, event.EntityType, event.EntityID)
	if err != nil {
		return err
	}

	for _, d := range descriptors {
		query := fmt.Sprintf("MATCH (a:%s {id: $source}) MATCH (b:%s {id: $target}) MERGE (a)-[:%s]->(b)",
			models.NodeLabel(d.SourceTable), models.NodeLabel(d.TargetTable), edgeType(d.Name))
		params := map[string]any{
			"source": d.SourceID,
			"target": d.TargetID,
		}
		if _, err := exec.Execute(ctx, query, params); err != nil {
			return fmt.Errorf("create relationship %s from %s/%s: %w", d.Name, d.SourceTable, d.SourceID, err)
		}
	}
	return nil
}

// nodeProperties copies the row image into graph node properties: the id
// key is held by the node key property instead, and timestamps become their
// canonical RFC3339 text form.
func nodeProperties(data map[string]any) map[string]any {
	props := make(map[string]any, len(data))
	for key, val := range data {
		if key == "id" {
			continue
		}
		switch v := val.(type) {
		case time.Time:
			props[key] = v.UTC().Format(time.RFC3339)
		case *time.Time:
			if v != nil {
				props[key] = v.UTC().Format(time.RFC3339)
			} else {
				props[key] = nil
			}
		default:
			props[key] = val
		}
	}
	return props
}

// edgeType sanitizes a relationship name for interpolation into the query
// text; edge types cannot be parameterized.
func edgeType(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return unicode.ToUpper(r)
		}
		return '_'
	}, name)
}
