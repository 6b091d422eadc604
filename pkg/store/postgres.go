// Package store binds the query core to a concrete Postgres-backed graph
// store: two tables (nodes, edges) with JSONB properties, addressed through
// a pgxpool connection pool.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cyquery/graphcore/pkg/cypher"
)

// schemaStatements creates the graph schema idempotently: nodes/edges
// tables, their indexes (including a GIN index on properties for the
// translator's property predicates), and the concat_or_add() helper the
// translator emits for Cypher's overloaded '+' operator (see
// pkg/cypher/translate.go, ListConcatExpr).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS nodes (
		id uuid PRIMARY KEY,
		label text NOT NULL,
		properties jsonb NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS nodes_label_idx ON nodes (label)`,
	`CREATE INDEX IF NOT EXISTS nodes_properties_gin_idx ON nodes USING gin (properties)`,
	`CREATE TABLE IF NOT EXISTS edges (
		id uuid PRIMARY KEY,
		type text NOT NULL,
		source_id uuid NOT NULL REFERENCES nodes (id),
		target_id uuid NOT NULL REFERENCES nodes (id),
		properties jsonb NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS edges_type_idx ON edges (type)`,
	`CREATE INDEX IF NOT EXISTS edges_source_id_idx ON edges (source_id)`,
	`CREATE INDEX IF NOT EXISTS edges_target_id_idx ON edges (target_id)`,
	`CREATE INDEX IF NOT EXISTS edges_properties_gin_idx ON edges USING gin (properties)`,
	`CREATE OR REPLACE FUNCTION concat_or_add(a jsonb, b jsonb) RETURNS jsonb AS $$
	BEGIN
		IF jsonb_typeof(a) = 'number' AND jsonb_typeof(b) = 'number' THEN
			RETURN to_jsonb((a::text)::numeric + (b::text)::numeric);
		ELSIF jsonb_typeof(a) = 'array' AND jsonb_typeof(b) = 'array' THEN
			RETURN a || b;
		ELSIF jsonb_typeof(a) = 'string' AND jsonb_typeof(b) = 'string' THEN
			RETURN to_jsonb((a #>> '{}') || (b #>> '{}'));
		ELSE
			RETURN COALESCE(b, a);
		END IF;
	END;
	$$ LANGUAGE plpgsql IMMUTABLE`,
}

// PostgresStore implements cypher.Store over a pgxpool connection pool. One
// PostgresStore addresses one project/environment's graph (see
// pkg/registry, which owns a pool of these keyed by (project, env)).
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to dsn and returns a ready PostgresStore. It does not run
// Initialize; callers that need the schema created call Initialize
// explicitly (the registry does this once per freshly opened store).
// maxConns<=0 leaves pgxpool's own default pool size in place.
func Open(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing store dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Initialize idempotently creates the graph schema (§4.5, "Store
// interface").
func (s *PostgresStore) Initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// WithTransaction runs fn inside one Postgres transaction, committing on a
// nil return and rolling back otherwise — the unit a compiled Plan's
// Statements execute within (§5, "Shared-resource policy").
func (s *PostgresStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx cypher.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(ctx, &postgresTx{tx: pgTx}); err != nil {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			s.logger.ErrorContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// postgresTx adapts a pgx.Tx to cypher.Tx.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Query(ctx context.Context, sql string, args []any) ([]map[string]any, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

func (t *postgresTx) Exec(ctx context.Context, sql string, args []any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("exec failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
