package cypher

import (
	"fmt"
	"strings"
)

const defaultVarLenCap = 15 // safety cap on unbounded variable-length paths, §4.3.2 "Variable-length relationships"

// compilePatternInto adds the FROM/JOIN entries and WHERE/ON conditions
// needed to match one Pattern chain, binding every named node/edge
// variable into lv.vars. optional selects LEFT JOIN (and folds filters
// into the join's ON clause, not WHERE) so a non-match produces NULLs
// instead of eliminating rows already matched by prior clauses (§4.3.2,
// "OPTIONAL MATCH").
func (s *Scope) compilePatternInto(lv *level, pat Pattern, optional bool) error {
	prevAlias, _, err := s.bindOrJoinNode(lv, pat.Source, optional, nil)
	if err != nil {
		return err
	}
	for _, step := range pat.Steps {
		if step.Edge.IsVariableLength() {
			nextAlias, err := s.bindVarLenEdge(lv, step.Edge, prevAlias, step.Node, optional)
			if err != nil {
				return err
			}
			prevAlias = nextAlias
			continue
		}
		edgeAlias, err := s.bindOrJoinEdge(lv, step.Edge, prevAlias, optional)
		if err != nil {
			return err
		}
		nextAlias, _, err := s.bindOrJoinNode(lv, step.Node, optional, &edgeLink{alias: edgeAlias, edge: step.Edge})
		if err != nil {
			return err
		}
		prevAlias = nextAlias
	}
	return nil
}

// edgeLink tells bindOrJoinNode that the node being bound is the far
// endpoint of an already-joined edge, and which column links them.
type edgeLink struct {
	alias string
	edge  EdgeSpec
}

// bindOrJoinNode binds a NodePattern's variable to a "nodes" row. If the
// variable already refers to a node from an earlier clause, it is reused
// as-is (the pattern only adds filters, not a new join); otherwise a new
// alias is allocated and joined, linked via via (nil for a pattern's first
// node).
func (s *Scope) bindOrJoinNode(lv *level, np NodePattern, optional bool, via *edgeLink) (string, bool, error) {
	if np.Variable != "" {
		if existing, ok := lv.vars[np.Variable]; ok && existing.kind == bindNode {
			if via != nil {
				cond, err := s.nodeLinkCondition(existing.alias, via)
				if err != nil {
					return "", false, err
				}
				s.addCondition(lv, cond, optional)
			}
			if err := s.addNodeFilters(lv, existing.alias, np, optional); err != nil {
				return "", false, err
			}
			return existing.alias, false, nil
		}
	}

	alias := s.nextAlias("n")
	join := "JOIN"
	if optional {
		join = "LEFT JOIN"
	} else if len(lv.from) == 0 {
		join = ""
	}
	var onParts []string
	if via != nil {
		cond, err := s.nodeLinkCondition(alias, via)
		if err != nil {
			return "", false, err
		}
		onParts = append(onParts, cond)
	}
	if optional {
		filters, err := s.nodeFilterConditions(lv, alias, np)
		if err != nil {
			return "", false, err
		}
		onParts = append(onParts, filters...)
	}
	on := strings.Join(onParts, " AND ")
	lv.from = append(lv.from, fromEntry{table: "nodes", alias: alias, join: join, on: on})
	if np.Variable != "" {
		lv.vars[np.Variable] = &varBinding{kind: bindNode, alias: alias, nullable: optional}
	}
	if !optional {
		if err := s.addNodeFilters(lv, alias, np, optional); err != nil {
			return "", false, err
		}
	}
	return alias, true, nil
}

// nodeLinkCondition returns the SQL joining a node alias to the edge it's
// an endpoint of, honoring direction; DirNone (undirected) accepts either
// endpoint.
func (s *Scope) nodeLinkCondition(nodeAlias string, via *edgeLink) (string, error) {
	switch via.edge.Direction {
	case DirRight:
		return fmt.Sprintf("%s.id = %s.target_id", nodeAlias, via.alias), nil
	case DirLeft:
		return fmt.Sprintf("%s.id = %s.source_id", nodeAlias, via.alias), nil
	case DirNone:
		return fmt.Sprintf("(%s.id = %s.source_id OR %s.id = %s.target_id)", nodeAlias, via.alias, nodeAlias, via.alias), nil
	default:
		return "", fmt.Errorf("%w: unknown edge direction", ErrUnsupportedClause)
	}
}

func (s *Scope) addNodeFilters(lv *level, alias string, np NodePattern, optional bool) error {
	conds, err := s.nodeFilterConditions(lv, alias, np)
	if err != nil {
		return err
	}
	for _, c := range conds {
		s.addCondition(lv, c, optional)
	}
	return nil
}

func (s *Scope) nodeFilterConditions(lv *level, alias string, np NodePattern) ([]string, error) {
	var conds []string
	if len(np.Labels) > 0 {
		conds = append(conds, fmt.Sprintf("%s.label = %s", alias, lv.bindArg(np.Labels[0])))
	}
	for _, pa := range np.Properties {
		val, err := s.compileExprText(lv, pa.Value)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fmt.Sprintf("%s.properties->>%s = %s", alias, quoteJSONKey(pa.Key), val))
	}
	return conds, nil
}

// addCondition routes a compiled condition to the current from-entry's ON
// clause (when optional, so it doesn't eliminate the LEFT JOIN's
// null-producing rows) or to the level's WHERE list.
func (s *Scope) addCondition(lv *level, cond string, optional bool) {
	if optional && len(lv.from) > 0 {
		last := &lv.from[len(lv.from)-1]
		if last.on == "" {
			last.on = cond
		} else {
			last.on += " AND " + cond
		}
		return
	}
	lv.where = append(lv.where, cond)
}

// bindOrJoinEdge adds the "edges" join connecting prevAlias to the edge
// variable, applying its type and property filters.
func (s *Scope) bindOrJoinEdge(lv *level, edge EdgeSpec, prevAlias string, optional bool) (string, error) {
	if edge.Variable != "" {
		if existing, ok := lv.vars[edge.Variable]; ok && existing.kind == bindEdge {
			return existing.alias, nil
		}
	}
	alias := s.nextAlias("e")
	join := "JOIN"
	if optional {
		join = "LEFT JOIN"
	}
	var onParts []string
	switch edge.Direction {
	case DirRight:
		onParts = append(onParts, fmt.Sprintf("%s.source_id = %s.id", alias, prevAlias))
	case DirLeft:
		onParts = append(onParts, fmt.Sprintf("%s.target_id = %s.id", alias, prevAlias))
	case DirNone:
		onParts = append(onParts, fmt.Sprintf("(%s.source_id = %s.id OR %s.target_id = %s.id)", alias, prevAlias, alias, prevAlias))
	}
	if edge.Type != "" {
		onParts = append(onParts, fmt.Sprintf("%s.type = %s", alias, lv.bindArg(edge.Type)))
	}
	for _, pa := range edge.Properties {
		val, err := s.compileExprText(lv, pa.Value)
		if err != nil {
			return "", err
		}
		onParts = append(onParts, fmt.Sprintf("%s.properties->>%s = %s", alias, quoteJSONKey(pa.Key), val))
	}
	lv.from = append(lv.from, fromEntry{table: "edges", alias: alias, join: join, on: strings.Join(onParts, " AND ")})
	if edge.Variable != "" {
		lv.vars[edge.Variable] = &varBinding{kind: bindEdge, alias: alias, nullable: optional}
	}
	return alias, nil
}

// bindVarLenEdge compiles a `*min..max` relationship into a recursive CTE
// yielding (start_id, end_id, depth, visited)
// (§4.3.2, "Variable-length relationships"; §9, "Recursive traversal").
// The CTE is appended to lv.from as a rawJoin entry, which renderFrom
// hoists into a leading WITH RECURSIVE; the CTE does not reference
// prevAlias, and is then joined by name on start_id = prevAlias.id.
func (s *Scope) bindVarLenEdge(lv *level, edge EdgeSpec, prevAlias string, targetNode NodePattern, optional bool) (string, error) {
	min := 1
	if edge.MinHops != nil {
		min = *edge.MinHops
	}
	max := defaultVarLenCap
	if edge.MaxHops != nil {
		max = *edge.MaxHops
	}
	cteAlias := s.nextAlias("vp")
	targetAlias := s.nextAlias("n")

	typeFilter := ""
	if edge.Type != "" {
		typeFilter = fmt.Sprintf(" AND e.type = %s", lv.bindArg(edge.Type))
	}
	// startCol/endCol name which edges column is the "from" and "to" side of
	// one hop; DirLeft walks the edges table backwards (target -> source).
	startCol, endCol := "e.source_id", "e.target_id"
	if edge.Direction == DirLeft {
		startCol, endCol = "e.target_id", "e.source_id"
	}

	base := fmt.Sprintf(
		"SELECT %s AS start_id, %s AS end_id, 1 AS depth, ARRAY[%s, %s] AS visited FROM edges e WHERE TRUE%s",
		startCol, endCol, startCol, endCol, typeFilter)
	if min == 0 {
		// `*0..n` matches the source as its own target (identity step): seed
		// the CTE with a zero-hop row per node in place of the one-hop base
		// case, which the recursive step then produces from it exactly once.
		base = "SELECT id AS start_id, id AS end_id, 0 AS depth, ARRAY[id] AS visited FROM nodes"
	}
	recursive := fmt.Sprintf(
		"SELECT %s.start_id, %s AS end_id, %s.depth + 1, %s.visited || %s FROM %s JOIN edges e ON %s = %s.end_id WHERE %s.depth < %d%s AND NOT (%s = ANY(%s.visited))",
		cteAlias, endCol, cteAlias, cteAlias, endCol, cteAlias, startCol, cteAlias, cteAlias, max, typeFilter, endCol, cteAlias)
	cte := fmt.Sprintf("%s AS (%s UNION ALL %s)", cteAlias, base, recursive)
	lv.from = append(lv.from, fromEntry{rawJoin: "WITH RECURSIVE " + cte, alias: cteAlias})
	join := "JOIN"
	if optional {
		join = "LEFT JOIN"
	}
	// Join the CTE itself like any other relation (Postgres allows JOINing a
	// WITH RECURSIVE name directly), carrying its start/depth conditions,
	// then join the target node off its end_id.
	cteOn := fmt.Sprintf("%s.start_id = %s.id AND %s.depth >= %d", cteAlias, prevAlias, cteAlias, min)
	lv.from = append(lv.from, fromEntry{table: cteAlias, alias: cteAlias, join: join, on: cteOn})
	nodeOn := fmt.Sprintf("%s.id = %s.end_id", targetAlias, cteAlias)
	lv.from = append(lv.from, fromEntry{table: "nodes", alias: targetAlias, join: join, on: nodeOn})
	if targetNode.Variable != "" {
		lv.vars[targetNode.Variable] = &varBinding{kind: bindNode, alias: targetAlias, nullable: optional}
	}
	if err := s.addNodeFilters(lv, targetAlias, targetNode, optional); err != nil {
		return "", err
	}
	return targetAlias, nil
}

// renderFrom assembles a level's from entries into a "FROM ... JOIN ..."
// SQL fragment, including any leading WITH RECURSIVE CTEs collected in
// rawJoin entries.
func (s *Scope) renderFrom(entries []fromEntry) (string, error) {
	var ctes []string
	var sb strings.Builder
	first := true
	for _, e := range entries {
		if e.rawJoin != "" {
			ctes = append(ctes, strings.TrimPrefix(e.rawJoin, "WITH RECURSIVE "))
			continue
		}
		if first {
			sb.WriteString(fmt.Sprintf("FROM %s %s", e.table, e.alias))
			first = false
			continue
		}
		join := e.join
		if join == "" {
			join = "JOIN"
		}
		sb.WriteString(fmt.Sprintf(" %s %s %s", join, e.table, e.alias))
		if e.on != "" {
			sb.WriteString(" ON " + e.on)
		}
	}
	prefix := ""
	if len(ctes) > 0 {
		prefix = "WITH RECURSIVE " + strings.Join(ctes, ", ") + " "
	}
	return prefix + sb.String(), nil
}
