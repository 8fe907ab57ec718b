package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jExecutor runs queries against a Neo4j database over bolt. It
// implements TxExecutor, so the updater applies each event inside a single
// managed write transaction.
type Neo4jExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

type Neo4jConfig struct {
	URI      string `json:"uri" yaml:"uri" toml:"uri"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	Database string `json:"database" yaml:"database" toml:"database"`
}

func NewNeo4jExecutor(ctx context.Context, cfg Neo4jConfig) (*Neo4jExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Neo4jExecutor{driver: driver, database: cfg.Database}, nil
}

func (e *Neo4jExecutor) Execute(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	session := e.newSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run graph query: %w", err)
	}
	return collect(ctx, result)
}

func (e *Neo4jExecutor) InTx(ctx context.Context, fn func(Executor) error) error {
	session := e.newSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&txExecutor{tx: tx})
	})
	return err
}

func (e *Neo4jExecutor) Close(ctx context.Context) error {
	return e.driver.Close(ctx)
}

func (e *Neo4jExecutor) newSession(ctx context.Context) neo4j.SessionWithContext {
	return e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
}

type txExecutor struct {
	tx neo4j.ManagedTransaction
}

func (t *txExecutor) Execute(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run graph query: %w", err)
	}
	return collect(ctx, result)
}

func collect(ctx context.Context, result neo4j.ResultWithContext) ([]Row, error) {
	var rows []Row
	for result.Next(ctx) {
		rows = append(rows, Row(result.Record().AsMap()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read graph result: %w", err)
	}
	return rows, nil
}

var (
	_ Executor   = (*Neo4jExecutor)(nil)
	_ TxExecutor = (*Neo4jExecutor)(nil)
	_ Executor   = (*txExecutor)(nil)
)
