package cypher

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Translate compiles a parsed Query into a Plan against the given bound
// query parameters (§4.3.1, "Translation entry point"). Each UNION branch
// is compiled independently and combined textually; see translateBranch for
// the single-branch compiler that does the real work.
func Translate(query *Query, params map[string]any) (*Plan, error) {
	if len(query.Statements) == 0 {
		return &Plan{}, nil
	}
	if len(query.Statements) == 1 {
		return translateBranch(query.Statements[0].Clauses, params)
	}

	var stmts []Statement
	var selects []string
	var combinedArgs []any
	var projections []ProjectionPlan
	for i, branch := range query.Statements {
		plan, err := translateBranch(branch.Clauses, params)
		if err != nil {
			return nil, fmt.Errorf("union branch %d: %w", i+1, err)
		}
		if !plan.HasFinalSelect() {
			return nil, fmt.Errorf("%w: every UNION branch must end in RETURN", ErrUnsupportedClause)
		}
		last := plan.Statements[len(plan.Statements)-1]
		stmts = append(stmts, plan.Statements[:len(plan.Statements)-1]...)
		renumbered := renumberArgs(last.SQL, len(combinedArgs))
		selects = append(selects, renumbered)
		combinedArgs = append(combinedArgs, last.Args...)
		if i == 0 {
			projections = plan.Projections
		}
	}
	joiner := " UNION "
	if len(query.Statements) > 0 && query.Statements[0].UnionAll {
		joiner = " UNION ALL "
	}
	stmts = append(stmts, Statement{Kind: StmtSelect, SQL: strings.Join(selects, joiner), Args: combinedArgs})
	return &Plan{Statements: stmts, Projections: projections, Mutating: statementsAreMutating(stmts)}, nil
}

// translateBranch compiles one UNION branch (or a whole non-UNION query)
// clause by clause, threading one Scope through MATCH/CREATE/MERGE/SET/
// DELETE/WITH/UNWIND/CALL and finishing with RETURN, if present.
func translateBranch(clauses []Clause, params map[string]any) (*Plan, error) {
	s := newScope(params)
	var finalCols []compiledColumn
	distinct := false
	sawReturn := false

	for _, c := range clauses {
		switch cl := c.(type) {
		case *MatchClause:
			if err := s.compileMatchClause(cl); err != nil {
				return nil, err
			}
		case *CreateClause:
			if err := s.compileCreate(cl); err != nil {
				return nil, err
			}
		case *MergeClause:
			if err := s.compileMerge(cl); err != nil {
				return nil, err
			}
		case *SetClause:
			if err := s.compileSet(cl); err != nil {
				return nil, err
			}
		case *DeleteClause:
			if err := s.compileDelete(cl); err != nil {
				return nil, err
			}
		case *UnwindClause:
			if err := s.compileUnwind(cl); err != nil {
				return nil, err
			}
		case *CallClause:
			if err := s.compileCall(cl); err != nil {
				return nil, err
			}
		case *WithClause:
			if err := s.compileWith(cl); err != nil {
				return nil, err
			}
		case *ReturnClause:
			cols, err := s.compileReturn(cl)
			if err != nil {
				return nil, err
			}
			finalCols = cols
			distinct = cl.Distinct
			sawReturn = true
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedClause, c)
		}
	}

	plan := &Plan{Statements: s.stmts, Mutating: statementsAreMutating(s.stmts)}
	if sawReturn {
		plan.Distinct = distinct
		plan.Projections = make([]ProjectionPlan, len(finalCols))
		for i, c := range finalCols {
			plan.Projections[i] = ProjectionPlan{Name: c.Name, Kind: c.Kind, Nullable: c.Nullable}
		}
	}
	return plan, nil
}

func (s *Scope) compileMatchClause(cl *MatchClause) error {
	for _, pat := range cl.Patterns {
		if err := s.compilePatternInto(s.current, pat, cl.Optional); err != nil {
			return err
		}
	}
	if cl.Where != nil {
		cond, err := s.compilePredicate(s.current, cl.Where)
		if err != nil {
			return err
		}
		s.addCondition(s.current, cond, cl.Optional)
	}
	return nil
}

// --- CREATE ---

// nodeRef is how a just-created (or reused) node's id flows into a
// following edge INSERT: either a Go-level literal (freshly created this
// statement) or a correlated subquery against the current level's
// MATCH-built FROM/WHERE (an already-bound variable).
type nodeRef struct {
	literal string
	sub     string
	subArgs []any
}

func (s *Scope) compileCreate(cl *CreateClause) error {
	for _, pat := range cl.Patterns {
		if err := s.compileCreatePattern(pat); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scope) compileCreatePattern(pat Pattern) error {
	prev, err := s.resolveOrCreateNode(pat.Source)
	if err != nil {
		return err
	}
	for _, step := range pat.Steps {
		next, err := s.resolveOrCreateNode(step.Node)
		if err != nil {
			return err
		}
		if err := s.createEdge(step.Edge, prev, next); err != nil {
			return err
		}
		prev = next
	}
	return nil
}

func (s *Scope) resolveOrCreateNode(np NodePattern) (nodeRef, error) {
	if np.Variable != "" {
		if b, ok := s.current.vars[np.Variable]; ok {
			switch {
			case b.literalID != "":
				return nodeRef{literal: b.literalID}, nil
			case b.kind == bindNode:
				sub, args, err := s.buildAliasIDSubquery(b.alias)
				if err != nil {
					return nodeRef{}, err
				}
				return nodeRef{sub: sub, subArgs: args}, nil
			default:
				return nodeRef{}, fmt.Errorf("%w: %s is not a node", ErrUnsupportedClause, np.Variable)
			}
		}
	}

	id := uuid.New().String()
	label := ""
	if len(np.Labels) > 0 {
		label = np.Labels[0]
	}
	props, err := s.literalPropsFromAssignments(np.Properties)
	if err != nil {
		return nodeRef{}, err
	}
	propsJSON, err := marshalJSONArg(props)
	if err != nil {
		return nodeRef{}, err
	}
	ml := newLevel()
	sql := fmt.Sprintf("INSERT INTO nodes (id, label, properties) VALUES (%s, %s, %s::jsonb)",
		ml.bindArg(id), ml.bindArg(label), ml.bindArg(propsJSON))
	s.emit(Statement{Kind: StmtInsert, CountsAs: ChangeNodesCreated, SQL: sql, Args: ml.args})

	if np.Variable != "" {
		s.current.vars[np.Variable] = &varBinding{kind: bindNode, literalID: id, literalDoc: props, literalLabel: label}
	}
	return nodeRef{literal: id}, nil
}

func (s *Scope) createEdge(edge EdgeSpec, prev, next nodeRef) error {
	id := uuid.New().String()
	props, err := s.literalPropsFromAssignments(edge.Properties)
	if err != nil {
		return err
	}
	propsJSON, err := marshalJSONArg(props)
	if err != nil {
		return err
	}
	ml := newLevel()
	idArg := ml.bindArg(id)
	typeArg := ml.bindArg(edge.Type)
	propsArg := ml.bindArg(propsJSON)

	resolve := func(ref nodeRef) (string, error) {
		if ref.literal != "" {
			return ml.bindArg(ref.literal), nil
		}
		text := renumberArgs(ref.sub, len(ml.args))
		ml.args = append(ml.args, ref.subArgs...)
		return text, nil
	}

	sourceRef, targetRef := prev, next
	if edge.Direction == DirLeft {
		sourceRef, targetRef = next, prev
	}
	sourceExpr, err := resolve(sourceRef)
	if err != nil {
		return err
	}
	targetExpr, err := resolve(targetRef)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("INSERT INTO edges (id, type, properties, source_id, target_id) VALUES (%s, %s, %s::jsonb, %s, %s)",
		idArg, typeArg, propsArg, sourceExpr, targetExpr)
	s.emit(Statement{Kind: StmtInsert, CountsAs: ChangeEdgesCreated, SQL: sql, Args: ml.args})

	if edge.Variable != "" {
		s.current.vars[edge.Variable] = &varBinding{kind: bindEdge, literalID: id, literalDoc: props, literalLabel: edge.Type}
	}
	return nil
}

// buildAliasIDSubquery returns a self-contained "(SELECT alias.id FROM ...
// WHERE ... LIMIT 1)" reusing the current level's already-compiled
// FROM/WHERE, for referencing a matched (not newly created) variable's id
// from a separately-numbered statement.
func (s *Scope) buildAliasIDSubquery(alias string) (string, []any, error) {
	fromSQL, err := s.renderFrom(s.current.from)
	if err != nil {
		return "", nil, err
	}
	where := ""
	if len(s.current.where) > 0 {
		where = " WHERE " + strings.Join(s.current.where, " AND ")
	}
	sql := fmt.Sprintf("(SELECT %s.id %s%s LIMIT 1)", alias, fromSQL, where)
	return sql, append([]any(nil), s.current.args...), nil
}

// literalPropsFromAssignments Go-evaluates a property map for CREATE/MERGE.
// Only literals and bound parameters are supported: a newly inserted row's
// properties cannot depend on data the store hasn't returned yet.
func (s *Scope) literalPropsFromAssignments(assignments []PropertyAssignment) (map[string]any, error) {
	out := make(map[string]any, len(assignments))
	for _, pa := range assignments {
		v, err := s.evalLiteral(pa.Value)
		if err != nil {
			return nil, err
		}
		out[pa.Key] = v
	}
	return out, nil
}

func (s *Scope) evalLiteral(e Expression) (any, error) {
	switch v := e.(type) {
	case *LiteralExpr:
		return v.Value, nil
	case *ParameterExpr:
		return s.resolveParam(v.Name)
	case *ListLiteralExpr:
		items := make([]any, len(v.Items))
		for i, item := range v.Items {
			val, err := s.evalLiteral(item)
			if err != nil {
				return nil, err
			}
			items[i] = val
		}
		return items, nil
	case *MapLiteralExpr:
		m := make(map[string]any, len(v.Entries))
		for _, entry := range v.Entries {
			val, err := s.evalLiteral(entry.Value)
			if err != nil {
				return nil, err
			}
			m[entry.Key] = val
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: CREATE/MERGE property values must be literals or parameters", ErrUnsupportedClause)
	}
}

// --- MERGE ---

func (s *Scope) compileMerge(cl *MergeClause) error {
	if len(cl.Pattern.Steps) > 0 {
		return fmt.Errorf("%w: MERGE on a relationship pattern", ErrUnsupportedClause)
	}
	np := cl.Pattern.Source
	label := ""
	if len(np.Labels) > 0 {
		label = np.Labels[0]
	}
	props, err := s.literalPropsFromAssignments(np.Properties)
	if err != nil {
		return err
	}
	propsJSON, err := marshalJSONArg(props)
	if err != nil {
		return err
	}
	newID := uuid.New().String()

	ml := newLevel()
	idArg := ml.bindArg(newID)
	labelArg := ml.bindArg(label)
	propsArg := ml.bindArg(propsJSON)
	sql := fmt.Sprintf(`WITH ins AS (
	INSERT INTO nodes (id, label, properties) SELECT %s, %s, %s::jsonb
	WHERE NOT EXISTS (SELECT 1 FROM nodes WHERE label = %s AND properties @> %s::jsonb)
	RETURNING id::text AS id, true AS created
), existing AS (
	SELECT id::text AS id, false AS created FROM nodes
	WHERE label = %s AND properties @> %s::jsonb AND NOT EXISTS (SELECT 1 FROM ins)
)
SELECT id, created FROM ins UNION ALL SELECT id, created FROM existing`,
		idArg, labelArg, propsArg, labelArg, propsArg, labelArg, propsArg)

	onCreate, err := s.compileMergeSets("nodes", cl.OnCreate)
	if err != nil {
		return err
	}
	onMatch, err := s.compileMergeSets("nodes", cl.OnMatch)
	if err != nil {
		return err
	}
	s.emit(Statement{
		Kind: StmtMergeProbe, SQL: sql, Args: ml.args, CountsAs: ChangeNodesCreated,
		MergeOnCreate: onCreate, MergeOnMatch: onMatch,
	})

	if np.Variable != "" {
		alias := s.nextAlias("n")
		cond := fmt.Sprintf("%s.id = %s", alias, mergeIDToken)
		if len(s.current.from) == 0 {
			// a base entry has no ON, so the id filter goes to WHERE
			s.current.from = append(s.current.from, fromEntry{table: "nodes", alias: alias})
			s.current.where = append(s.current.where, cond)
		} else {
			s.current.from = append(s.current.from, fromEntry{table: "nodes", alias: alias, join: "JOIN", on: cond})
		}
		s.current.vars[np.Variable] = &varBinding{kind: bindNode, alias: alias}
	}
	return nil
}

// compileMergeSets compiles an ON CREATE/ON MATCH SET item list into
// standalone UPDATE statements whose WHERE references the literal
// mergeIDToken, substituted by the executor once the probe's id is known.
func (s *Scope) compileMergeSets(table string, items []SetItem) ([]Statement, error) {
	if len(items) == 0 {
		return nil, nil
	}
	var stmts []Statement
	for _, item := range items {
		ml := newLevel()
		// the merge variable's own properties, if referenced in the SET
		// value, read back via a correlated subquery against the resolved id.
		ml.vars = map[string]*varBinding{
			item.Variable: {kind: bindValue, sqlExpr: fmt.Sprintf("(SELECT properties FROM %s WHERE id = %s)", table, mergeIDToken)},
		}
		saved := s.current
		s.current = ml
		var sql string
		if item.Property != "" {
			val, err := s.compileExpr(ml, item.Value, true)
			if err != nil {
				s.current = saved
				return nil, err
			}
			keyArg := ml.bindArg(item.Property)
			sql = fmt.Sprintf("UPDATE %s SET properties = jsonb_set(properties, ARRAY[%s]::text[], %s, true) WHERE id = %s",
				table, keyArg, val, mergeIDToken)
		} else if len(item.AddLabels) > 0 {
			sql = fmt.Sprintf("UPDATE %s SET label = %s WHERE id = %s", table, ml.bindArg(item.AddLabels[0]), mergeIDToken)
		}
		s.current = saved
		stmts = append(stmts, Statement{Kind: StmtUpdate, CountsAs: ChangePropertiesSet, SQL: sql, Args: ml.args})
	}
	return stmts, nil
}

// --- SET ---

func (s *Scope) compileSet(cl *SetClause) error {
	order := make([]string, 0, len(cl.Items))
	grouped := map[string][]SetItem{}
	for _, item := range cl.Items {
		if _, ok := grouped[item.Variable]; !ok {
			order = append(order, item.Variable)
		}
		grouped[item.Variable] = append(grouped[item.Variable], item)
	}
	for _, varName := range order {
		if err := s.compileSetForVariable(varName, grouped[varName]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scope) compileSetForVariable(varName string, items []SetItem) error {
	b, err := s.lookup(varName)
	if err != nil {
		return err
	}
	if b.kind != bindNode && b.kind != bindEdge {
		return fmt.Errorf("%w: SET target %s is not a node or relationship", ErrUnsupportedClause, varName)
	}
	table := "nodes"
	if b.kind == bindEdge {
		table = "edges"
	}
	target := b.alias

	ml := newLevel()
	ml.args = append(ml.args, s.current.args...)
	var whereParts []string
	var fromParts []string
	for _, e := range s.current.from {
		if e.rawJoin != "" {
			continue
		}
		if e.alias != target {
			fromParts = append(fromParts, fmt.Sprintf("%s %s", e.table, e.alias))
		}
		if e.on != "" {
			whereParts = append(whereParts, e.on)
		}
	}
	whereParts = append(whereParts, s.current.where...)

	var propExpr string
	var labelArg string
	for _, item := range items {
		if item.Property != "" {
			val, err := s.compileExpr(ml, item.Value, true)
			if err != nil {
				return err
			}
			base := target + ".properties"
			if propExpr != "" {
				base = propExpr
			}
			propExpr = fmt.Sprintf("jsonb_set(%s, ARRAY[%s]::text[], %s, true)", base, ml.bindArg(item.Property), val)
		} else if len(item.AddLabels) > 0 {
			labelArg = ml.bindArg(item.AddLabels[0])
		}
	}

	var assigns []string
	if propExpr != "" {
		assigns = append(assigns, "properties = "+propExpr)
	}
	if labelArg != "" {
		assigns = append(assigns, "label = "+labelArg)
	}
	if len(assigns) == 0 {
		return nil
	}

	sql := fmt.Sprintf("UPDATE %s %s SET %s", table, target, strings.Join(assigns, ", "))
	if len(fromParts) > 0 {
		sql += " FROM " + strings.Join(fromParts, ", ")
	}
	if len(whereParts) > 0 {
		sql += " WHERE " + strings.Join(whereParts, " AND ")
	}
	s.emit(Statement{Kind: StmtUpdate, CountsAs: ChangePropertiesSet, SQL: sql, Args: ml.args})
	return nil
}

// --- DELETE ---

func (s *Scope) compileDelete(cl *DeleteClause) error {
	for _, varName := range cl.Variables {
		b, err := s.lookup(varName)
		if err != nil {
			return err
		}
		table := "nodes"
		countsAs := ChangeNodesDeleted
		if b.kind == bindEdge {
			table = "edges"
			countsAs = ChangeEdgesDeleted
		}
		// every matched row is deleted, so unlike buildAliasIDSubquery this
		// id subquery has no LIMIT
		fromSQL, err := s.renderFrom(s.current.from)
		if err != nil {
			return err
		}
		where := ""
		if len(s.current.where) > 0 {
			where = " WHERE " + strings.Join(s.current.where, " AND ")
		}
		sub := fmt.Sprintf("(SELECT %s.id %s%s)", b.alias, fromSQL, where)
		ml := newLevel()
		ml.args = append(ml.args, s.current.args...)

		if table == "nodes" {
			if cl.Detach {
				edgeSQL := fmt.Sprintf("DELETE FROM edges WHERE source_id IN %s OR target_id IN %s", sub, sub)
				s.emit(Statement{Kind: StmtDelete, CountsAs: ChangeEdgesDeleted, SQL: edgeSQL, Args: ml.args})
			} else {
				// a node that still has relationships fails the edges foreign
				// keys, which rolls back the whole plan
				sql := fmt.Sprintf("DELETE FROM nodes WHERE id IN %s", sub)
				s.emit(Statement{Kind: StmtDelete, CountsAs: countsAs, SQL: sql, Args: ml.args})
				continue
			}
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE id IN %s", table, sub)
		s.emit(Statement{Kind: StmtDelete, CountsAs: countsAs, SQL: sql, Args: ml.args})
	}
	return nil
}

// --- UNWIND ---

func (s *Scope) compileUnwind(cl *UnwindClause) error {
	exprSQL, err := s.compileExprJSON(s.current, cl.Expr)
	if err != nil {
		return err
	}
	alias := s.nextAlias("u")
	join := "JOIN"
	if len(s.current.from) == 0 {
		join = ""
	}
	s.current.from = append(s.current.from, fromEntry{
		table: fmt.Sprintf("jsonb_array_elements(%s)", exprSQL), alias: alias, join: join, on: "TRUE",
	})
	s.current.vars[cl.Variable] = &varBinding{kind: bindValue, sqlExpr: alias + ".value"}
	return nil
}

// --- CALL ---

func (s *Scope) compileCall(cl *CallClause) error {
	var innerSQL, colName string
	switch strings.ToLower(cl.Name) {
	case "db.labels":
		innerSQL, colName = "SELECT DISTINCT label AS label FROM nodes", "label"
	case "db.relationshiptypes":
		innerSQL, colName = "SELECT DISTINCT type AS type FROM edges", "relationshipType"
	case "db.propertykeys":
		innerSQL = "SELECT DISTINCT key FROM (SELECT jsonb_object_keys(properties) AS key FROM nodes UNION SELECT jsonb_object_keys(properties) AS key FROM edges) keys"
		colName = "propertyKey"
	default:
		return fmt.Errorf("%w: %s", ErrUnknownProcedure, cl.Name)
	}
	yieldName := colName
	if len(cl.Yield) > 0 {
		yieldName = cl.Yield[0]
	}
	alias := s.nextAlias("call")
	finalSQL, err := s.wrapSelectWithFilter(innerSQL, alias, cl.Where, []string{colName})
	if err != nil {
		return err
	}
	join := "JOIN"
	if len(s.current.from) == 0 {
		join = ""
	}
	s.current.from = append(s.current.from, fromEntry{table: "(" + finalSQL + ")", alias: alias, join: join, on: "TRUE"})
	s.current.vars[yieldName] = &varBinding{kind: bindValue, sqlExpr: alias + "." + quoteIdent(colName)}
	return nil
}

// wrapSelectWithFilter wraps a derived table's SELECT in an outer
// `SELECT * FROM (inner) alias WHERE pred` when pred is non-nil, resolving
// pred's variables against the derived table's own output columns.
func (s *Scope) wrapSelectWithFilter(innerSQL, alias string, pred Predicate, colNames []string) (string, error) {
	if pred == nil {
		return innerSQL, nil
	}
	tmp := newLevel()
	for _, name := range colNames {
		tmp.vars[name] = &varBinding{kind: bindValue, sqlExpr: alias + "." + quoteIdent(name)}
	}
	saved := s.current
	s.current = tmp
	cond, err := s.compilePredicate(tmp, pred)
	s.current = saved
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT * FROM (%s) %s WHERE %s", innerSQL, alias, cond), nil
}

// --- WITH ---

func (s *Scope) compileWith(cl *WithClause) error {
	old := s.current
	cols, err := s.compileProjectionItems(old, cl.Items)
	if err != nil {
		return err
	}
	selectSQL, err := s.finalizeSelect(old, cols, cl.Distinct, cl.OrderBy, cl.Skip, cl.Limit)
	if err != nil {
		return err
	}
	alias := s.nextAlias("w")
	colNames := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = c.Name
	}
	finalSQL, err := s.wrapSelectWithFilter(selectSQL, alias, cl.Where, colNames)
	if err != nil {
		return err
	}

	next := newLevel()
	next.from = []fromEntry{{table: "(" + finalSQL + ")", alias: alias}}
	for _, c := range cols {
		next.vars[c.Name] = &varBinding{kind: bindValue, sqlExpr: alias + "." + quoteIdent(c.Name), nullable: c.Nullable}
	}
	s.current = next
	return nil
}

// --- RETURN ---

func (s *Scope) compileReturn(cl *ReturnClause) ([]compiledColumn, error) {
	cols, err := s.compileProjectionItems(s.current, cl.Items)
	if err != nil {
		return nil, err
	}
	sql, err := s.finalizeSelect(s.current, cols, cl.Distinct, cl.OrderBy, cl.Skip, cl.Limit)
	if err != nil {
		return nil, err
	}
	s.emit(Statement{Kind: StmtSelect, SQL: sql, Args: s.current.args})
	return cols, nil
}

// compiledColumn is one projected output column, produced by
// compileProjectionItems and shared by RETURN and WITH.
type compiledColumn struct {
	Name      string
	SQL       string
	Kind      ProjectionKind
	Nullable  bool
	Aggregate bool // true if this column's expression contains an aggregate call
}

func (s *Scope) compileProjectionItems(lv *level, items []ProjectionItem) ([]compiledColumn, error) {
	cols := make([]compiledColumn, 0, len(items))
	literals := 0
	for i, item := range items {
		name := item.Alias
		var kind ProjectionKind = ProjJSON
		nullable := false
		if v, ok := item.Expr.(*VariableExpr); ok {
			if name == "" {
				name = v.Name
			}
			if b, err := s.lookup(v.Name); err == nil {
				nullable = b.nullable
			}
		}
		if name == "" {
			switch ex := item.Expr.(type) {
			case *PropertyExpr:
				name = ex.Variable + "_" + ex.Property
			case *AggregateExpr:
				if strings.ToLower(ex.Name) == "count" {
					name = "count"
				}
			case *LiteralExpr, *ListLiteralExpr, *MapLiteralExpr:
				if name = "expr"; literals > 0 {
					name = fmt.Sprintf("expr_%d", literals)
				}
				literals++
			}
		}
		if name == "" {
			name = fmt.Sprintf("col%d", i+1)
		}
		sql, projKind, err := s.compileProjectionExpr(lv, item.Expr)
		if err != nil {
			return nil, err
		}
		if projKind != ProjJSON {
			kind = projKind
		}
		cols = append(cols, compiledColumn{Name: name, SQL: sql, Kind: kind, Nullable: nullable, Aggregate: containsAggregate(item.Expr)})
	}
	return cols, nil
}

// containsAggregate reports whether e contains an AggregateExpr anywhere in
// its tree, so finalizeSelect knows whether a RETURN/WITH projection list
// mixing aggregate and non-aggregate columns needs an implicit GROUP BY
// (§4.3.2: "If any projection is aggregate, implicit grouping is by all
// non-aggregate projections").
func containsAggregate(e Expression) bool {
	switch ex := e.(type) {
	case nil:
		return false
	case *AggregateExpr:
		return true
	case *FunctionExpr:
		for _, a := range ex.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case *CaseExpr:
		if containsAggregate(ex.Subject) || containsAggregate(ex.Else) {
			return true
		}
		for _, w := range ex.Whens {
			if containsAggregate(w.Cond) || containsAggregate(w.Result) {
				return true
			}
		}
	case *ListConcatExpr:
		return containsAggregate(ex.Left) || containsAggregate(ex.Right)
	case *ListLiteralExpr:
		for _, item := range ex.Items {
			if containsAggregate(item) {
				return true
			}
		}
	case *MapLiteralExpr:
		for _, entry := range ex.Entries {
			if containsAggregate(entry.Value) {
				return true
			}
		}
	}
	return false
}

// compileProjectionExpr is compileExprJSON plus whole-node/edge shaping: a
// bare node or relationship variable projects as a small jsonb envelope the
// executor's row shaper decodes into {label/type, properties..., id}
// (§4.3.3, "Returning nodes and relationships").
func (s *Scope) compileProjectionExpr(lv *level, e Expression) (string, ProjectionKind, error) {
	if v, ok := e.(*VariableExpr); ok {
		if b, err := s.lookup(v.Name); err == nil {
			switch {
			case b.literalDoc != nil && b.kind == bindNode:
				text, err := marshalJSONArg(b.literalDoc)
				if err != nil {
					return "", ProjJSON, err
				}
				sql := fmt.Sprintf("jsonb_build_object('__id', %s, '__label', %s, '__properties', %s::jsonb)",
					lv.bindArg(b.literalID), lv.bindArg(b.literalLabel), lv.bindArg(text))
				return sql, ProjNode, nil
			case b.literalDoc != nil && b.kind == bindEdge:
				text, err := marshalJSONArg(b.literalDoc)
				if err != nil {
					return "", ProjJSON, err
				}
				sql := fmt.Sprintf("jsonb_build_object('__id', %s, '__type', %s, '__properties', %s::jsonb)",
					lv.bindArg(b.literalID), lv.bindArg(b.literalLabel), lv.bindArg(text))
				return sql, ProjEdge, nil
			case b.kind == bindNode:
				return fmt.Sprintf("jsonb_build_object('__id', %s.id, '__label', %s.label, '__properties', %s.properties)", b.alias, b.alias, b.alias), ProjNode, nil
			case b.kind == bindEdge:
				return fmt.Sprintf("jsonb_build_object('__id', %s.id, '__type', %s.type, '__properties', %s.properties)", b.alias, b.alias, b.alias), ProjEdge, nil
			}
		}
	}
	sql, err := s.compileExprJSON(lv, e)
	return sql, ProjJSON, err
}

// finalizeSelect assembles one SELECT statement text from an accumulated
// level and a compiled projection list, applying DISTINCT/ORDER BY/SKIP/
// LIMIT (§4.3.2 "RETURN"/"WITH").
func (s *Scope) finalizeSelect(lv *level, cols []compiledColumn, distinct bool, orderBy []OrderItem, skip, limit Expression) (string, error) {
	fromSQL, err := s.renderFrom(lv.from)
	if err != nil {
		return "", err
	}
	whereSQL := ""
	if len(lv.where) > 0 {
		whereSQL = " WHERE " + strings.Join(lv.where, " AND ")
	}
	selectCols := make([]string, len(cols))
	for i, c := range cols {
		selectCols[i] = fmt.Sprintf("%s AS %s", c.SQL, quoteIdent(c.Name))
	}
	distinctKw := ""
	if distinct {
		distinctKw = "DISTINCT "
	}
	sql := "SELECT " + distinctKw + strings.Join(selectCols, ", ")
	if fromSQL != "" {
		sql += " " + fromSQL
	}
	sql += whereSQL
	sql += groupByClause(cols)

	if len(orderBy) > 0 {
		parts := make([]string, len(orderBy))
		for i, ord := range orderBy {
			e, err := s.compileExprText(lv, ord.Expr)
			if err != nil {
				return "", err
			}
			dir := "ASC"
			if ord.Descending {
				dir = "DESC"
			}
			parts[i] = e + " " + dir
		}
		sql += " ORDER BY " + strings.Join(parts, ", ")
	}
	if limit != nil {
		n, err := s.evalIntLiteralOrParam(limit)
		if err != nil {
			return "", err
		}
		sql += fmt.Sprintf(" LIMIT %d", n)
	}
	if skip != nil {
		n, err := s.evalIntLiteralOrParam(skip)
		if err != nil {
			return "", err
		}
		sql += fmt.Sprintf(" OFFSET %d", n)
	}
	return sql, nil
}

// groupByClause returns a " GROUP BY ..." clause over cols' non-aggregate
// expressions when the projection list mixes aggregate and non-aggregate
// columns, and "" otherwise (no aggregates present, or every column is
// aggregate). Grouping by the column's own SQL expression rather than its
// output alias keeps this correct even when two columns share an alias-like
// name.
func groupByClause(cols []compiledColumn) string {
	var aggregate, plain bool
	for _, c := range cols {
		if c.Aggregate {
			aggregate = true
		} else {
			plain = true
		}
	}
	if !aggregate || !plain {
		return ""
	}
	var group []string
	for _, c := range cols {
		if !c.Aggregate {
			group = append(group, c.SQL)
		}
	}
	return " GROUP BY " + strings.Join(group, ", ")
}

func (s *Scope) evalIntLiteralOrParam(e Expression) (int, error) {
	var v any
	switch ex := e.(type) {
	case *LiteralExpr:
		v = ex.Value
	case *ParameterExpr:
		val, err := s.resolveParam(ex.Name)
		if err != nil {
			return 0, err
		}
		v = val
	default:
		return 0, fmt.Errorf("%w: SKIP/LIMIT must be a literal or parameter", ErrNotNumeric)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, ErrNotNumeric
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
