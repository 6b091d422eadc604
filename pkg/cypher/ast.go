// Package cypher implements a lexer, recursive-descent/Pratt parser,
// relational translator and executor for a practical subset of the Cypher
// graph query language, compiled against a Postgres-backed property graph
// (nodes/edges tables with JSONB properties).
//
// Query Processing Pipeline:
//
//  1. Lex: Cypher text becomes a stream of positioned Tokens.
//  2. Parse: tokens become a Query AST (ordered Clauses).
//  3. Translate: the AST becomes a Plan (ordered parameterised Statements)
//     against a TranslationScope that tracks variable bindings, aliases and
//     nullability across clause boundaries.
//  4. Execute: the Plan runs inside one store transaction; rows are shaped
//     into an ExecutionResult.
//
// Example Usage:
//
//	exec := cypher.NewExecutor(store, nil, nil)
//	result, err := exec.Execute(ctx, `
//		MATCH (a:Person {name:$name})-[:KNOWS]->(b)
//		RETURN b.name
//	`, map[string]any{"name": "Alice"})
package cypher

// Query is an ordered sequence of clauses, optionally combined with UNION.
type Query struct {
	Statements []Statement_ // one per UNION branch; len==1 for a plain query
}

// Statement_ is one UNION branch: an ordered list of clauses plus whether it
// is combined with the following branch via UNION ALL.
//
// (named with a trailing underscore to avoid colliding with the planner's
// own Statement type, which represents a compiled SQL statement.)
type Statement_ struct {
	Clauses []Clause
	UnionAll bool // true if this branch is followed by "UNION ALL"; ignored on the last branch
}

// Clause is implemented by every clause AST node.
type Clause interface {
	clauseNode()
}

type CreateClause struct{ Patterns []Pattern }
type MatchClause struct {
	Patterns []Pattern
	Optional bool
	Where    Predicate // nil if absent
}
type MergeClause struct {
	Pattern  Pattern
	OnCreate []SetItem
	OnMatch  []SetItem
}
type SetClause struct{ Items []SetItem }
type DeleteClause struct {
	Variables []string
	Detach    bool
}
type ReturnClause struct {
	Distinct bool
	Items    []ProjectionItem
	OrderBy  []OrderItem
	Skip     Expression
	Limit    Expression
}
type WithClause struct {
	Distinct bool
	Items    []ProjectionItem
	OrderBy  []OrderItem
	Skip     Expression
	Limit    Expression
	Where    Predicate
}
type UnwindClause struct {
	Expr     Expression
	Variable string
}
type CallClause struct {
	Name  string // dotted, e.g. "db.labels"
	Args  []Expression
	Yield []string // nil if no YIELD
	Where Predicate
}

func (*CreateClause) clauseNode() {}
func (*MatchClause) clauseNode()  {}
func (*MergeClause) clauseNode()  {}
func (*SetClause) clauseNode()    {}
func (*DeleteClause) clauseNode() {}
func (*ReturnClause) clauseNode() {}
func (*WithClause) clauseNode()   {}
func (*UnwindClause) clauseNode() {}
func (*CallClause) clauseNode()   {}

// SetItem is one `variable.property = expr` (or `variable:Label`) assignment.
type SetItem struct {
	Variable  string
	Property  string   // empty when this is a label assignment
	AddLabels []string // set when Property == "" and this assigns labels
	Value     Expression
}

// ProjectionItem is one RETURN/WITH projection, e.g. `n.name AS alias`.
type ProjectionItem struct {
	Expr  Expression
	Alias string // empty => synthesise a name, see translator §4.3.3
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Expr       Expression
	Descending bool
}

// Pattern is a chain of nodes connected by relationship steps. A bare node
// pattern has zero Steps.
type Pattern struct {
	Variable string // pattern-level variable, e.g. `p = (a)-[]->(b)`; usually empty
	Source   NodePattern
	Steps    []PatternStep
}

type PatternStep struct {
	Edge EdgeSpec
	Node NodePattern
}

type NodePattern struct {
	Variable   string
	Labels     []string
	Properties []PropertyAssignment
}

type PropertyAssignment struct {
	Key   string
	Value Expression
}

type EdgeDirection int

const (
	DirRight EdgeDirection = iota
	DirLeft
	DirNone
)

type EdgeSpec struct {
	Variable   string
	Type       string // empty if untyped
	Direction  EdgeDirection
	Properties []PropertyAssignment
	MinHops    *int // nil when no variable-length spec is present
	MaxHops    *int // nil means unbounded (subject to the safety cap)
}

// IsVariableLength reports whether this edge uses `*` variable-length syntax.
func (e EdgeSpec) IsVariableLength() bool { return e.MinHops != nil || e.MaxHops != nil }

// --- Expressions ---

// Expression is implemented by every expression AST node.
type Expression interface {
	exprNode()
}

type LiteralExpr struct{ Value any } // scalar, []any, or map[string]any
type ParameterExpr struct{ Name string }
type VariableExpr struct{ Name string }
type PropertyExpr struct {
	Variable string
	Property string
}
type FunctionExpr struct {
	Name string
	Args []Expression
}
type AggregateExpr struct {
	Name     string // count, sum, avg, min, max, collect
	Arg      Expression // nil for count(*)
	Star     bool
	Distinct bool
}
type CaseExpr struct {
	Subject Expression // nil for the generic CASE WHEN cond form
	Whens   []CaseWhen
	Else    Expression // nil if absent
}
type CaseWhen struct {
	Cond   Expression // predicate-as-expression when Subject==nil
	Result Expression
}
type ListConcatExpr struct{ Left, Right Expression }
type ListLiteralExpr struct{ Items []Expression }
type MapLiteralExpr struct{ Entries []PropertyAssignment }
type ExistsExpr struct{ Pattern Pattern }
type IDExpr struct{ Variable string } // id(n)

func (*LiteralExpr) exprNode()     {}
func (*ParameterExpr) exprNode()   {}
func (*VariableExpr) exprNode()    {}
func (*PropertyExpr) exprNode()    {}
func (*FunctionExpr) exprNode()    {}
func (*AggregateExpr) exprNode()   {}
func (*CaseExpr) exprNode()        {}
func (*ListConcatExpr) exprNode()  {}
func (*ListLiteralExpr) exprNode() {}
func (*MapLiteralExpr) exprNode()  {}
func (*ExistsExpr) exprNode()      {}
func (*IDExpr) exprNode()          {}

// --- Predicates (WHERE) ---

// Predicate is implemented by every WHERE-clause boolean node. Predicates
// and Expressions are kept distinct (rather than folding booleans into
// Expression) because the translator compiles them into different SQL
// contexts: predicates always yield a boolean SQL fragment, expressions
// yield a value fragment.
type Predicate interface {
	predicateNode()
}

type ComparisonPredicate struct {
	Left     Expression
	Operator string // = <> < <= > >=
	Right    Expression
}
type AndPredicate struct{ Operands []Predicate }
type OrPredicate struct{ Operands []Predicate }
type NotPredicate struct{ Operand Predicate }
type ContainsPredicate struct{ Left, Right Expression }
type StartsWithPredicate struct{ Left, Right Expression }
type EndsWithPredicate struct{ Left, Right Expression }
type IsNullPredicate struct {
	Operand Expression
	Negated bool
}
type InPredicate struct {
	Left  Expression
	Right Expression // list literal, parameter, or variable
}
type ExistsPredicate struct{ Pattern Pattern }
type ExprPredicate struct{ Expr Expression } // a bare boolean expression/variable used as a predicate

func (*ComparisonPredicate) predicateNode() {}
func (*AndPredicate) predicateNode()        {}
func (*OrPredicate) predicateNode()         {}
func (*NotPredicate) predicateNode()        {}
func (*ContainsPredicate) predicateNode()   {}
func (*StartsWithPredicate) predicateNode() {}
func (*EndsWithPredicate) predicateNode()   {}
func (*IsNullPredicate) predicateNode()     {}
func (*InPredicate) predicateNode()         {}
func (*ExistsPredicate) predicateNode()     {}
func (*ExprPredicate) predicateNode()       {}
