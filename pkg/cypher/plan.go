package cypher

// StatementKind classifies a compiled Statement for the executor: SELECT
// statements produce rows; the rest contribute to ExecutionResult's change
// counters.
type StatementKind int

const (
	StmtSelect StatementKind = iota
	StmtInsert
	StmtUpdate
	StmtDelete
	// StmtMergeProbe is the combined insert-if-absent/lookup statement
	// emitted for MERGE (§4.3.2, "MERGE"). It always returns exactly one row
	// (id text, created bool); the executor runs MergeOnCreate or
	// MergeOnMatch depending on that flag, substituting the literal token
	// mergeIDToken in their SQL (and any later statement's SQL) with the
	// resolved id.
	StmtMergeProbe
)

// mergeIDToken is substituted by the executor with a bound placeholder for
// the id resolved by a StmtMergeProbe statement.
const mergeIDToken = "$MERGE_ID"

// Statement is one parameterised SQL statement emitted by the translator.
// Args are positional and bound with Postgres `$1, $2, ...` placeholders.
type Statement struct {
	Kind StatementKind
	SQL  string
	Args []any

	// CountsAs labels which QueryStats counter a non-SELECT statement's
	// affected-row count feeds (see ExecutionResult.Stats).
	CountsAs ChangeKind

	// probeOnly is not set by the translator. A MERGE probe's changes are
	// counted by Executor.runMerge: one created node when the probe
	// inserted, plus each ON CREATE/ON MATCH SET statement it runs.
	probeOnly bool

	// MergeOnCreate/MergeOnMatch are only set on a StmtMergeProbe statement:
	// the SET statements to run depending on whether the probe inserted a
	// new row or found an existing one.
	MergeOnCreate []Statement
	MergeOnMatch  []Statement
}

// ChangeKind identifies what a mutating statement changed, for
// ExecutionResult.Stats.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeNodesCreated
	ChangeNodesDeleted
	ChangeEdgesCreated
	ChangeEdgesDeleted
	ChangePropertiesSet
)

// ProjectionKind tells the row shaper how to turn a single returned column
// into a Go value.
type ProjectionKind int

const (
	ProjScalar    ProjectionKind = iota // already the right Go type (text/num/bool)
	ProjJSON                            // column is JSONB text/bytes; decode it
	ProjNode                            // column is a whole node row; shape as {id, label, properties...}
	ProjEdge                            // column is a whole edge row; shape as {id, type, properties...}
)

// ProjectionPlan describes one output column of the final SELECT.
type ProjectionPlan struct {
	Name     string
	Kind     ProjectionKind
	Nullable bool // true if this column's source alias may be LEFT JOIN-null
}

// Plan is the translator's output: an ordered list of Statements to run
// inside one transaction, plus enough metadata for the executor to shape
// the final SELECT's rows.
type Plan struct {
	Statements  []Statement
	Projections []ProjectionPlan
	Distinct    bool

	// Mutating is true if any Statement changes store state (INSERT/
	// UPDATE/DELETE, or a MERGE probe). Such a plan embeds Go-generated
	// literal values (e.g. a freshly minted node id) directly into its SQL
	// text/args, so replaying the very same *Plan a second time would
	// reissue that same literal id and collide rather than create a second
	// row. The plan cache (pkg/cypher/cache.go) and Executor.planFor use
	// this to keep mutating plans out of the cache entirely.
	Mutating bool
}

// HasFinalSelect reports whether the plan's last statement is a SELECT
// whose rows should be shaped into ExecutionResult.Data.
func (p *Plan) HasFinalSelect() bool {
	return len(p.Statements) > 0 && p.Statements[len(p.Statements)-1].Kind == StmtSelect
}

// statementsAreMutating reports whether any statement in stmts is
// something other than a plain SELECT (INSERT/UPDATE/DELETE, or the
// insert-if-absent probe emitted for MERGE).
func statementsAreMutating(stmts []Statement) bool {
	for _, s := range stmts {
		if s.Kind != StmtSelect {
			return true
		}
	}
	return false
}
