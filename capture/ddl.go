package capture

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// DefaultQueueTable is the durable sync queue's backing table.
const DefaultQueueTable = "graph_sync_queue"

// FunctionName returns the deterministic name of the capture trigger
// function generated for table.
func FunctionName(table string) string {
	return baseName(table) + "_graph_capture"
}

// TriggerName returns the deterministic name of the per-operation trigger,
// where op is one of "insert", "update", "delete".
func TriggerName(table, op string) string {
	return fmt.Sprintf("%s_graph_capture_%s", baseName(table), op)
}

func baseName(table string) string {
	if idx := strings.LastIndex(table, "."); idx >= 0 {
		return table[idx+1:]
	}
	return table
}

func quoteTable(table string) string {
	if idx := strings.Index(table, "."); idx >= 0 {
		return pq.QuoteIdentifier(table[:idx]) + "." + pq.QuoteIdentifier(table[idx+1:])
	}
	return pq.QuoteIdentifier(table)
}

// queueStorageDDL creates the queue table and its pending-rows partial
// index. Both statements are idempotent.
func queueStorageDDL(queueTable string) []string {
	quoted := quoteTable(queueTable)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id bigserial PRIMARY KEY,
    entity_type text NOT NULL,
    entity_id text NOT NULL,
    change_kind text NOT NULL,
    data jsonb NOT NULL DEFAULT '{}'::jsonb,
    previous_data jsonb NOT NULL DEFAULT '{}'::jsonb,
    changed_fields text[] NOT NULL DEFAULT '{}',
    created_at timestamptz NOT NULL DEFAULT now(),
    processed_at timestamptz,
    error text,
    retries integer NOT NULL DEFAULT 0
)`, quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (created_at) WHERE processed_at IS NULL`,
			pq.QuoteIdentifier(baseName(queueTable)+"_pending_idx"), quoted),
	}
}

// captureFunctionDDL generates the PL/pgSQL trigger function for table. The
// function computes the change kind from TG_OP, the entity id from the row's
// primary key, and, for updates, the changed-field set as the keys present
// in both row images with differing values. The queue insert shares the
// source transaction, so an aborted row write never leaves an orphan event.
func captureFunctionDDL(table, pkColumn, queueTable string) string {
	fn := pq.QuoteIdentifier(FunctionName(table))
	pk := pq.QuoteIdentifier(pkColumn)
	queue := quoteTable(queueTable)

	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $graph_capture$
DECLARE
    changed text[] := '{}';
BEGIN
    IF TG_OP = 'INSERT' THEN
        INSERT INTO %s (entity_type, entity_id, change_kind, data, previous_data, changed_fields)
        VALUES (TG_TABLE_NAME, NEW.%s::text, 'create', to_jsonb(NEW), '{}'::jsonb, '{}');
        RETURN NEW;
    ELSIF TG_OP = 'UPDATE' THEN
        SELECT coalesce(array_agg(n.key ORDER BY n.key), '{}') INTO changed
        FROM jsonb_each(to_jsonb(NEW)) n
        JOIN jsonb_each(to_jsonb(OLD)) o ON o.key = n.key
        WHERE n.value IS DISTINCT FROM o.value;
        INSERT INTO %s (entity_type, entity_id, change_kind, data, previous_data, changed_fields)
        VALUES (TG_TABLE_NAME, NEW.%s::text, 'update', to_jsonb(NEW), to_jsonb(OLD), changed);
        RETURN NEW;
    ELSE
        INSERT INTO %s (entity_type, entity_id, change_kind, data, previous_data, changed_fields)
        VALUES (TG_TABLE_NAME, OLD.%s::text, 'delete', '{}'::jsonb, to_jsonb(OLD), '{}');
        RETURN OLD;
    END IF;
END;
$graph_capture$ LANGUAGE plpgsql`, fn, queue, pk, queue, pk, queue, pk)
}

// triggerDDL generates the drop/create pair for one operation's trigger.
// DROP IF EXISTS followed by CREATE keeps installation repeatable.
func triggerDDL(table, op string) []string {
	trigger := pq.QuoteIdentifier(TriggerName(table, op))
	quoted := quoteTable(table)
	fn := pq.QuoteIdentifier(FunctionName(table))

	return []string{
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, quoted),
		fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
			trigger, strings.ToUpper(op), quoted, fn),
	}
}
