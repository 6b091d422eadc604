package cypher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/cyquery/graphcore/pkg/cypher")

// Store is the narrow persistence surface the executor drives. A
// transaction runs every Statement of one Plan; Store implementations
// (pkg/store) decide how that maps onto an actual database connection.
type Store interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a single transaction's query surface.
type Tx interface {
	// Query runs sql and returns its rows as maps keyed by column name.
	Query(ctx context.Context, sql string, args []any) ([]map[string]any, error)
	// Exec runs a statement that doesn't return rows, reporting rows affected.
	Exec(ctx context.Context, sql string, args []any) (rowsAffected int64, err error)
}

// QueryStats tallies the side effects of one Execute call (§4.4,
// "ExecutionResult").
type QueryStats struct {
	NodesCreated      int
	NodesDeleted      int
	RelationshipsMade int
	RelationshipsDel  int
	PropertiesSet     int
}

// ResultMeta carries the summary fields every ExecutionResult reports
// alongside its rows (§6, "Result-object shape contract").
type ResultMeta struct {
	// Count is the number of rows in Data (0 for a query with no RETURN).
	Count int
	// TimeMs is how long Execute took end to end, in milliseconds.
	TimeMs int64
}

// ResultError carries a failed Execute call's error in the result-object
// shape contract's {message, position, line, column} form, so callers can
// read structured failure detail off ExecutionResult instead of having to
// type-assert the Go error returned alongside it. Populated from a
// *ParseError when the failure is a syntax error; Position/Line/Column are
// zero for semantic or store errors, which have no source position.
type ResultError struct {
	Message  string
	Position int
	Line     int
	Column   int
}

// ExecutionResult is what Execute returns: the shaped rows of the query's
// final RETURN (if any), a tally of what it changed, and summary/error
// metadata (§6, "Result-object shape contract").
type ExecutionResult struct {
	Columns []string
	Data    []map[string]any
	Stats   QueryStats
	Meta    ResultMeta
	Error   *ResultError
}

// Executor parses, translates and runs Cypher text against a Store.
type Executor struct {
	store  Store
	logger *slog.Logger
	cache  *PlanCache
}

// NewExecutor builds an Executor. A nil logger falls back to slog's default
// handler; a nil cache disables plan caching.
func NewExecutor(store Store, logger *slog.Logger, cache *PlanCache) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger, cache: cache}
}

// Execute parses cypher, translates it against params, and runs the
// resulting Plan inside one store transaction (§4.4, "Execute").
func (ex *Executor) Execute(ctx context.Context, cypher string, params map[string]any) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "cypher.execute", trace.WithAttributes(
		attribute.Int("cypher.text_length", len(cypher)),
	))
	defer span.End()
	start := time.Now()

	plan, err := ex.planFor(ctx, cypher, params)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		ex.logger.ErrorContext(ctx, "cypher plan failed", "error", err)
		return errorResult(err, start), err
	}

	result := &ExecutionResult{}
	err = ex.store.WithTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return ex.runPlan(ctx, tx, plan, result)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		ex.logger.ErrorContext(ctx, "cypher execution failed", "error", err)
		return errorResult(err, start), err
	}
	if plan.Mutating && ex.cache != nil {
		// A mutating plan is never itself cached (see planFor), but its
		// side effects can invalidate a pure-read plan cached earlier (a
		// MATCH that now sees a new/changed row) — drop the whole local
		// tier rather than try to guess which cached plans it affects.
		ex.cache.Clear()
	}
	result.Meta = ResultMeta{Count: len(result.Data), TimeMs: time.Since(start).Milliseconds()}
	ex.logger.DebugContext(ctx, "cypher executed",
		"nodes_created", result.Stats.NodesCreated,
		"relationships_made", result.Stats.RelationshipsMade,
		"rows", len(result.Data),
	)
	return result, nil
}

// errorResult builds the ExecutionResult returned alongside a non-nil
// error, so callers reading ExecutionResult.Error don't have to also
// type-assert the Go error value. A *ParseError's position survives into
// Error.Position/Line/Column; other errors (semantic, store) carry only a
// message, since they have no source position to report.
func errorResult(err error, start time.Time) *ExecutionResult {
	resErr := &ResultError{Message: err.Error()}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		resErr.Position = parseErr.Pos.Offset
		resErr.Line = parseErr.Pos.Line
		resErr.Column = parseErr.Pos.Column
	}
	return &ExecutionResult{
		Error: resErr,
		Meta:  ResultMeta{TimeMs: time.Since(start).Milliseconds()},
	}
}

func (ex *Executor) planFor(ctx context.Context, cypher string, params map[string]any) (*Plan, error) {
	if ex.cache != nil {
		if plan, ok := ex.cache.Get(ctx, cypher, params); ok {
			return plan, nil
		}
	}
	query, err := Parse(cypher)
	if err != nil {
		return nil, err
	}
	plan, err := Translate(query, params)
	if err != nil {
		return nil, err
	}
	// Only pure-read plans are cache-eligible: a mutating plan embeds
	// Go-generated literal values (a freshly minted node/edge id) straight
	// into its SQL/args, so replaying the identical cached *Plan a second
	// time would reissue that same literal id instead of minting a new one.
	if ex.cache != nil && !plan.Mutating {
		ex.cache.Put(ctx, cypher, params, plan)
	}
	return plan, nil
}

func (ex *Executor) runPlan(ctx context.Context, tx Tx, plan *Plan, result *ExecutionResult) error {
	mergeID := ""
	for i, stmt := range plan.Statements {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := i == len(plan.Statements)-1

		if stmt.Kind == StmtMergeProbe {
			id, err := ex.runMerge(ctx, tx, stmt, result)
			if err != nil {
				return err
			}
			mergeID = id
			continue
		}

		sql, args := substituteMergeID(stmt.SQL, stmt.Args, mergeID)

		if stmt.Kind == StmtSelect && last && plan.HasFinalSelect() {
			rows, err := tx.Query(ctx, sql, args)
			if err != nil {
				return fmt.Errorf("executing final select: %w", err)
			}
			shaped, cols, err := shapeRows(rows, plan.Projections)
			if err != nil {
				return err
			}
			result.Data = shaped
			result.Columns = cols
			continue
		}

		affected, err := tx.Exec(ctx, sql, args)
		if err != nil {
			return fmt.Errorf("executing statement: %w", err)
		}
		applyChangeCount(&result.Stats, stmt.CountsAs, affected)
	}
	return nil
}

// runMerge executes a StmtMergeProbe, then the matching ON CREATE/ON MATCH
// statement list with the resolved id substituted for mergeIDToken (§4.3.2,
// "MERGE"). It returns the resolved id for the plan's later statements.
func (ex *Executor) runMerge(ctx context.Context, tx Tx, stmt Statement, result *ExecutionResult) (string, error) {
	rows, err := tx.Query(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return "", fmt.Errorf("executing merge probe: %w", err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("merge probe returned no rows")
	}
	id, _ := rows[0]["id"].(string)
	created, _ := rows[0]["created"].(bool)

	if created {
		result.Stats.NodesCreated++
	}
	follow := stmt.MergeOnMatch
	if created {
		follow = stmt.MergeOnCreate
	}
	for _, s := range follow {
		sql, args := substituteMergeID(s.SQL, s.Args, id)
		affected, err := tx.Exec(ctx, sql, args)
		if err != nil {
			return "", fmt.Errorf("executing merge follow-up: %w", err)
		}
		applyChangeCount(&result.Stats, s.CountsAs, affected)
	}
	return id, nil
}

// substituteMergeID replaces every occurrence of mergeIDToken in sql with a
// fresh placeholder bound to id, appended as the statement's last arg. A
// statement with no occurrences is returned unchanged.
func substituteMergeID(sql string, args []any, id string) (string, []any) {
	if !strings.Contains(sql, mergeIDToken) {
		return sql, args
	}
	placeholder := fmt.Sprintf("$%d", len(args)+1)
	return strings.ReplaceAll(sql, mergeIDToken, placeholder), append(append([]any(nil), args...), id)
}

func applyChangeCount(stats *QueryStats, kind ChangeKind, affected int64) {
	n := int(affected)
	switch kind {
	case ChangeNodesCreated:
		stats.NodesCreated += n
	case ChangeNodesDeleted:
		stats.NodesDeleted += n
	case ChangeEdgesCreated:
		stats.RelationshipsMade += n
	case ChangeEdgesDeleted:
		stats.RelationshipsDel += n
	case ChangePropertiesSet:
		stats.PropertiesSet += n
	}
}

// shapeRows turns a final SELECT's raw rows into RETURN-shaped maps: a
// ProjNode/ProjEdge column's jsonb envelope (see compileProjectionExpr)
// becomes {id, label|type, <properties...>}; everything else passes
// through, decoding jsonb text columns along the way.
func shapeRows(rows []map[string]any, projections []ProjectionPlan) ([]map[string]any, []string, error) {
	cols := make([]string, len(projections))
	for i, p := range projections {
		cols[i] = p.Name
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		shaped := make(map[string]any, len(projections))
		for _, p := range projections {
			val := row[p.Name]
			switch p.Kind {
			case ProjNode:
				shaped[p.Name] = shapeEntity(val, "__label", "label")
			case ProjEdge:
				shaped[p.Name] = shapeEntity(val, "__type", "type")
			case ProjJSON:
				shaped[p.Name] = decodeJSONish(val)
			default:
				shaped[p.Name] = val
			}
		}
		out[i] = shaped
	}
	return out, cols, nil
}

func shapeEntity(val any, kindKey, kindOutName string) any {
	if val == nil {
		return nil
	}
	m, ok := decodeJSONish(val).(map[string]any)
	if !ok {
		return nil
	}
	doc := map[string]any{"id": m["__id"], kindOutName: m[kindKey]}
	if props, ok := m["__properties"].(map[string]any); ok {
		for k, v := range props {
			doc[k] = v
		}
	}
	return doc
}

// decodeJSONish normalises a driver-returned jsonb value (raw []byte/string
// from pgx, or already-decoded Go value) into plain Go types.
func decodeJSONish(val any) any {
	switch v := val.(type) {
	case []byte:
		var out any
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
		return string(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[' || trimmed[0] == '"') {
			var out any
			if err := json.Unmarshal(v, &out); err == nil {
				return out
			}
		}
		return v
	default:
		return v
	}
}
