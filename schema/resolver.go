package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/web3tea/graphmirror/models"
	"github.com/web3tea/graphmirror/pkg/log"
)

// Resolver memoizes the relationship structure of watched entity types and
// derives relationship descriptors from current row state. Field sets are
// written at most once per entity type and never mutated afterwards, so
// reads after warm-up are plain map lookups.
type Resolver struct {
	catalog Catalog
	source  Source
	logger  log.Logger

	mu      sync.RWMutex
	fields  map[string][]string
	pkCache map[string]string
}

func NewResolver(catalog Catalog, source Source, logger log.Logger) *Resolver {
	if logger == nil {
		logger = log.Nop
	}
	return &Resolver{
		catalog: catalog,
		source:  source,
		logger:  logger,
		fields:  make(map[string][]string),
		pkCache: make(map[string]string),
	}
}

// RelationshipFields returns the foreign-key column names of entityType.
// The first call pays the catalog introspection cost; later calls are pure
// lookups until Invalidate.
func (r *Resolver) RelationshipFields(ctx context.Context, entityType string) ([]string, error) {
	r.mu.RLock()
	cached, ok := r.fields[entityType]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	columns, err := r.catalog.ForeignKeyColumns(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("relationship fields of %s: %w", entityType, err)
	}
	if columns == nil {
		columns = []string{}
	}

	r.mu.Lock()
	r.fields[entityType] = columns
	r.mu.Unlock()
	return columns, nil
}

// PrimaryKeyColumn returns the memoized primary-key column of entityType.
func (r *Resolver) PrimaryKeyColumn(ctx context.Context, entityType string) (string, error) {
	r.mu.RLock()
	cached, ok := r.pkCache[entityType]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	column, err := r.catalog.PrimaryKeyColumn(ctx, entityType)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.pkCache[entityType] = column
	r.mu.Unlock()
	return column, nil
}

// EntityRelationships re-reads the current row of the entity and yields one
// descriptor per non-null foreign-key field. A failed target lookup for a
// single field degrades that field to "no relationship" and is logged; it
// never fails the whole call.
func (r *Resolver) EntityRelationships(ctx context.Context, entityType, entityID string) ([]models.RelationshipDescriptor, error) {
	fields, err := r.RelationshipFields(ctx, entityType)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	pk, err := r.PrimaryKeyColumn(ctx, entityType)
	if err != nil {
		return nil, err
	}

	row, err := r.source.ReadRow(ctx, entityType, pk, entityID)
	if err != nil {
		return nil, fmt.Errorf("relationships of %s/%s: %w", entityType, entityID, err)
	}
	if row == nil {
		return nil, nil
	}

	var descriptors []models.RelationshipDescriptor
	for _, field := range fields {
		value, ok := row[field]
		if !ok || value == nil {
			continue
		}

		target, err := r.catalog.ForeignKeyTarget(ctx, entityType, field)
		if err != nil {
			r.logger.Warnf("skipping relationship %s.%s of %s: %v", entityType, field, entityID, err)
			continue
		}
		if target == "" {
			continue
		}

		targetField, err := r.PrimaryKeyColumn(ctx, target)
		if err != nil {
			r.logger.Warnf("skipping relationship %s.%s: no primary key on %s: %v", entityType, field, target, err)
			continue
		}

		descriptors = append(descriptors, models.RelationshipDescriptor{
			SourceTable: entityType,
			SourceID:    entityID,
			TargetTable: target,
			TargetID:    stringify(value),
			Name:        strings.ToUpper(field),
			SourceField: field,
			TargetField: targetField,
		})
	}
	return descriptors, nil
}

// stringify renders a foreign-key value as the text form the graph uses for
// node ids. JSON decoding hands numeric keys over as float64; %v would print
// large ones in exponent notation.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Invalidate drops memoized entries. With no arguments the whole cache is
// reset; otherwise only the named entity types.
func (r *Resolver) Invalidate(entityTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(entityTypes) == 0 {
		r.fields = make(map[string][]string)
		r.pkCache = make(map[string]string)
		return
	}
	for _, t := range entityTypes {
		delete(r.fields, t)
		delete(r.pkCache, t)
	}
}
