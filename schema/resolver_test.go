package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3tea/graphmirror/models"
)

type fakeCatalog struct {
	fkColumns map[string][]string
	fkTargets map[string]string // "table.column" -> target table
	pks       map[string]string
	failOn    map[string]error // "table.column" -> error

	fkColumnCalls int
}

func (f *fakeCatalog) ForeignKeyColumns(_ context.Context, table string) ([]string, error) {
	f.fkColumnCalls++
	cols, ok := f.fkColumns[table]
	if !ok {
		return nil, nil
	}
	return cols, nil
}

func (f *fakeCatalog) ForeignKeyTarget(_ context.Context, table, column string) (string, error) {
	if err, ok := f.failOn[table+"."+column]; ok {
		return "", err
	}
	return f.fkTargets[table+"."+column], nil
}

func (f *fakeCatalog) PrimaryKeyColumn(_ context.Context, table string) (string, error) {
	if pk, ok := f.pks[table]; ok {
		return pk, nil
	}
	return "id", nil
}

type fakeSource struct {
	rows map[string]map[string]any // "table/id" -> row
}

func (f *fakeSource) ReadRow(_ context.Context, table, pkColumn, id string) (map[string]any, error) {
	return f.rows[table+"/"+id], nil
}

func orderCatalog() *fakeCatalog {
	return &fakeCatalog{
		fkColumns: map[string][]string{"orders": {"customer_id", "warehouse_id"}},
		fkTargets: map[string]string{
			"orders.customer_id":  "customers",
			"orders.warehouse_id": "warehouses",
		},
		pks: map[string]string{"orders": "id", "customers": "id", "warehouses": "id"},
	}
}

func TestRelationshipFieldsMemoized(t *testing.T) {
	catalog := orderCatalog()
	r := NewResolver(catalog, &fakeSource{}, nil)
	ctx := context.Background()

	first, err := r.RelationshipFields(ctx, "orders")
	require.NoError(t, err)
	second, err := r.RelationshipFields(ctx, "orders")
	require.NoError(t, err)

	assert.Equal(t, []string{"customer_id", "warehouse_id"}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, catalog.fkColumnCalls, "second call must be a pure lookup")
}

func TestRelationshipFieldsEmptyIsCachedToo(t *testing.T) {
	catalog := &fakeCatalog{}
	r := NewResolver(catalog, &fakeSource{}, nil)
	ctx := context.Background()

	fields, err := r.RelationshipFields(ctx, "plain_table")
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = r.RelationshipFields(ctx, "plain_table")
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.fkColumnCalls)
}

func TestInvalidateResetsCache(t *testing.T) {
	catalog := orderCatalog()
	r := NewResolver(catalog, &fakeSource{}, nil)
	ctx := context.Background()

	_, err := r.RelationshipFields(ctx, "orders")
	require.NoError(t, err)

	r.Invalidate("orders")
	_, err = r.RelationshipFields(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.fkColumnCalls)

	r.Invalidate()
	_, err = r.RelationshipFields(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 3, catalog.fkColumnCalls)
}

func TestEntityRelationships(t *testing.T) {
	source := &fakeSource{rows: map[string]map[string]any{
		"orders/o1": {"id": "o1", "customer_id": "c1", "warehouse_id": float64(7)},
	}}
	r := NewResolver(orderCatalog(), source, nil)

	descriptors, err := r.EntityRelationships(context.Background(), "orders", "o1")
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, models.RelationshipDescriptor{
		SourceTable: "orders",
		SourceID:    "o1",
		TargetTable: "customers",
		TargetID:    "c1",
		Name:        "CUSTOMER_ID",
		SourceField: "customer_id",
		TargetField: "id",
	}, descriptors[0])

	assert.Equal(t, "7", descriptors[1].TargetID, "numeric keys render without exponent")
	assert.Equal(t, "WAREHOUSE_ID", descriptors[1].Name)
}

func TestEntityRelationshipsSkipsNullForeignKeys(t *testing.T) {
	source := &fakeSource{rows: map[string]map[string]any{
		"orders/o1": {"id": "o1", "customer_id": nil, "warehouse_id": "w1"},
	}}
	r := NewResolver(orderCatalog(), source, nil)

	descriptors, err := r.EntityRelationships(context.Background(), "orders", "o1")
	require.NoError(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "warehouses", descriptors[0].TargetTable)
}

func TestEntityRelationshipsDegradesOnCatalogFailure(t *testing.T) {
	catalog := orderCatalog()
	catalog.failOn = map[string]error{"orders.customer_id": errors.New("catalog offline")}
	source := &fakeSource{rows: map[string]map[string]any{
		"orders/o1": {"id": "o1", "customer_id": "c1", "warehouse_id": "w1"},
	}}
	r := NewResolver(catalog, source, nil)

	descriptors, err := r.EntityRelationships(context.Background(), "orders", "o1")
	require.NoError(t, err, "one unresolvable edge must not fail the call")
	require.Len(t, descriptors, 1)
	assert.Equal(t, "warehouses", descriptors[0].TargetTable)
}

func TestEntityRelationshipsRowGone(t *testing.T) {
	r := NewResolver(orderCatalog(), &fakeSource{}, nil)

	descriptors, err := r.EntityRelationships(context.Background(), "orders", "missing")
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}

func TestEntityRelationshipsNoForeignKeys(t *testing.T) {
	source := &fakeSource{rows: map[string]map[string]any{
		"plain_table/p1": {"id": "p1"},
	}}
	r := NewResolver(&fakeCatalog{}, source, nil)

	descriptors, err := r.EntityRelationships(context.Background(), "plain_table", "p1")
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}
