package cypher

import (
	"encoding/json"
	"fmt"
	"strings"
)

// bindingKind tells the expression/predicate compiler what a variable
// currently refers to.
type bindingKind int

const (
	bindNode bindingKind = iota
	bindEdge
	bindValue // a WITH/UNWIND-projected scalar, list or map
)

// varBinding is one entry of the translation scope's symbol table (§3,
// "Translation scope").
type varBinding struct {
	kind     bindingKind
	alias    string // table alias for bindNode/bindEdge
	sqlExpr  string // the SQL fragment yielding this variable's value, for bindValue
	nullable bool   // true once introduced under an OPTIONAL MATCH whose join may not match

	// literalID/literalDoc are set for a node or edge just created by CREATE
	// or MERGE within this same branch: rather than re-querying the store,
	// later expressions/RETURN items referencing this variable read these
	// Go-level values directly (see propertiesDocExpr, compileExpr's
	// VariableExpr/PropertyExpr/IDExpr cases).
	literalID    string
	literalDoc   map[string]any
	literalLabel string // node label or relationship type, paired with literalID
}

// fromEntry is one FROM/JOIN source in the level currently being built.
type fromEntry struct {
	table    string // "nodes" or "edges"; empty for a non-table join (e.g. UNWIND row source)
	alias    string
	join     string // "", "JOIN", "LEFT JOIN"
	on       string // join condition; empty for the first (base) entry
	rawJoin  string // full custom join SQL overriding table/alias/join/on (UNWIND, recursive CTE)
}

// level holds everything accumulated for one SQL query level. A new level
// is opened at the start of a branch and whenever a WITH clause closes the
// previous level (§4.3.2, "WITH").
type level struct {
	from  []fromEntry
	where []string
	vars  map[string]*varBinding
	args  []any
}

func newLevel() *level {
	return &level{vars: make(map[string]*varBinding)}
}

// bindArg appends v to the level's args, returning its Postgres "$n" placeholder.
func (lv *level) bindArg(v any) string {
	lv.args = append(lv.args, v)
	return fmt.Sprintf("$%d", len(lv.args))
}

// Scope is the translator's state for one branch of a query (one side of a
// UNION). It owns alias allocation and the sequence of mutation statements
// emitted so far.
type Scope struct {
	aliasCounter int
	params       map[string]any
	current *level
	stmts   []Statement
}

func newScope(params map[string]any) *Scope {
	return &Scope{current: newLevel(), params: params}
}

// nextAlias allocates a deterministic table alias: n0, n1, n2, ... for
// nodes and e0, e1, e2, ... for edges, numbered from one shared counter so
// generated SQL is stable and comparable across runs (§9 "Alias
// allocation").
func (s *Scope) nextAlias(prefix string) string {
	a := fmt.Sprintf("%s%d", prefix, s.aliasCounter)
	s.aliasCounter++
	return a
}

func (s *Scope) emit(stmt Statement) {
	s.stmts = append(s.stmts, stmt)
}

// resolveParam looks up a bound query parameter by name.
func (s *Scope) resolveParam(name string) (any, error) {
	v, ok := s.params[name]
	if !ok {
		return nil, newSemanticError(ErrUndefinedVariable, "parameter $"+name)
	}
	return v, nil
}

func (s *Scope) lookup(name string) (*varBinding, error) {
	if b, ok := s.current.vars[name]; ok {
		return b, nil
	}
	return nil, newSemanticError(ErrUndefinedVariable, name)
}

// --- expression compilation ---

// compileExprText compiles an Expression for use in a WHERE/ORDER BY
// comparison context: property access uses the coerced text accessor
// (->>) per §4.3.5.
func (s *Scope) compileExprText(lv *level, e Expression) (string, error) {
	return s.compileExpr(lv, e, false)
}

// compileExprJSON compiles an Expression for use in a projection context:
// property access uses the JSON-native accessor (->) so booleans, numbers
// and nulls round-trip (§4.3.3, §4.3.5).
func (s *Scope) compileExprJSON(lv *level, e Expression) (string, error) {
	return s.compileExpr(lv, e, true)
}

func (s *Scope) compileExpr(lv *level, e Expression, jsonNative bool) (string, error) {
	switch ex := e.(type) {
	case *LiteralExpr:
		return s.compileLiteral(lv, ex.Value)
	case *ParameterExpr:
		v, err := s.resolveParam(ex.Name)
		if err != nil {
			return "", err
		}
		return lv.bindArg(v), nil
	case *VariableExpr:
		b, err := s.lookup(ex.Name)
		if err != nil {
			return "", err
		}
		if b.literalDoc != nil {
			text, err := marshalJSONArg(b.literalDoc)
			if err != nil {
				return "", err
			}
			return lv.bindArg(text) + "::jsonb", nil
		}
		switch b.kind {
		case bindNode, bindEdge:
			return s.propertiesDocExpr(b), nil
		default:
			return b.sqlExpr, nil
		}
	case *IDExpr:
		b, err := s.lookup(ex.Variable)
		if err != nil {
			return "", err
		}
		if b.literalID != "" {
			return lv.bindArg(b.literalID), nil
		}
		return b.alias + ".id", nil
	case *PropertyExpr:
		b, err := s.lookup(ex.Variable)
		if err != nil {
			return "", err
		}
		if b.literalDoc != nil {
			return lv.bindArg(b.literalDoc[ex.Property]), nil
		}
		accessor := "properties->>"
		if jsonNative {
			accessor = "properties->"
		}
		var base string
		switch b.kind {
		case bindNode, bindEdge:
			base = b.alias + "." + accessor + quoteJSONKey(ex.Property)
		default:
			// a WITH-projected map-like value: b.sqlExpr is already a jsonb
			// expression, so index it directly instead of qualifying with an
			// alias.
			base = b.sqlExpr + "->" + quoteJSONKey(ex.Property)
			if !jsonNative {
				base = b.sqlExpr + "->>" + quoteJSONKey(ex.Property)
			}
		}
		return base, nil
	case *FunctionExpr:
		return s.compileFunction(lv, ex, jsonNative)
	case *AggregateExpr:
		return s.compileAggregate(lv, ex)
	case *ListConcatExpr:
		left, err := s.compileExpr(lv, ex.Left, jsonNative)
		if err != nil {
			return "", err
		}
		right, err := s.compileExpr(lv, ex.Right, jsonNative)
		if err != nil {
			return "", err
		}
		// concat_or_add() is a small scalar helper installed by Store.Initialize
		// (see pkg/store) that adds numerics and concatenates jsonb arrays,
		// mirroring Cypher's overloaded '+' at runtime rather than at parse time.
		return fmt.Sprintf("concat_or_add(%s, %s)", left, right), nil
	case *ListLiteralExpr:
		parts := make([]string, len(ex.Items))
		for i, item := range ex.Items {
			p, err := s.compileExpr(lv, item, true)
			if err != nil {
				return "", err
			}
			parts[i] = p
		}
		return fmt.Sprintf("jsonb_build_array(%s)", strings.Join(parts, ", ")), nil
	case *MapLiteralExpr:
		parts := make([]string, len(ex.Entries))
		for i, entry := range ex.Entries {
			v, err := s.compileExpr(lv, entry.Value, true)
			if err != nil {
				return "", err
			}
			parts[i] = fmt.Sprintf("%s, %s", quoteLiteral(entry.Key), v)
		}
		return fmt.Sprintf("jsonb_build_object(%s)", strings.Join(parts, ", ")), nil
	case *CaseExpr:
		return s.compileCase(lv, ex)
	case *predicateAsExpr:
		cond, err := s.compilePredicate(lv, ex.Pred)
		if err != nil {
			return "", err
		}
		return "(" + cond + ")", nil
	case *ExistsExpr:
		sub, err := s.compileExistsSQL(lv, ex.Pattern)
		if err != nil {
			return "", err
		}
		return sub, nil
	default:
		return "", fmt.Errorf("%w: unsupported expression type %T", ErrUnsupportedClause, e)
	}
}

func (s *Scope) compileLiteral(lv *level, v any) (string, error) {
	return lv.bindArg(v), nil
}

// propertiesDocExpr returns the SQL fragment that projects a bound
// node/edge variable as its full document (§4.3.3): the properties object
// with `label`/`type` and `id` folded in by the row shaper, not by SQL —
// here we just select the raw jsonb properties column; for RETURN,
// compileProjectionExpr builds the ProjNode/ProjEdge column the shaper
// assembles the final object from.
func (s *Scope) propertiesDocExpr(b *varBinding) string {
	return b.alias + ".properties"
}

func quoteJSONKey(key string) string {
	return quoteLiteral(key)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// marshalJSONArg JSON-encodes a Go value for binding into a jsonb column
// (used for CREATE/MERGE property maps and for a CREATE-bound variable's
// whole document; SET binds its compiled value expression as is).
func marshalJSONArg(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding property value: %w", err)
	}
	return string(b), nil
}
