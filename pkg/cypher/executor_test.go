//go:build integration
// +build integration

// Run with: CYQLCORE_TEST_DSN=postgres://... go test -tags=integration ./pkg/cypher/...
package cypher_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyquery/graphcore/pkg/cypher"
	"github.com/cyquery/graphcore/pkg/store"
)

// newTestExecutor stands up a disposable schema against CYQLCORE_TEST_DSN and
// returns an Executor driving it. Every node and relationship is deleted
// after the test so scenarios never see another test's rows.
func newTestExecutor(t *testing.T) *cypher.Executor {
	t.Helper()
	dsn := os.Getenv("CYQLCORE_TEST_DSN")
	if dsn == "" {
		t.Skip("set CYQLCORE_TEST_DSN to run integration tests against a real Postgres instance")
	}

	ctx := context.Background()
	s, err := store.Open(ctx, dsn, 0, nil)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(ctx))

	t.Cleanup(func() {
		exec := cypher.NewExecutor(s, nil, nil)
		_, _ = exec.Execute(ctx, `MATCH (n) DETACH DELETE n`, nil)
		s.Close()
	})

	return cypher.NewExecutor(s, nil, cypher.NewPlanCache(64))
}

// Scenario 1 (§8): CREATE then MATCH round-trips a node's properties.
func TestExecutorCreateThenMatchRoundTrip(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, `CREATE (n:Person {name:'Alice', age:30})`, nil)
	require.NoError(t, err)

	result, err := exec.Execute(ctx, `MATCH (n:Person) RETURN n.name AS name, n.age AS age`, nil)
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	require.Equal(t, "Alice", result.Data[0]["name"])
	require.EqualValues(t, 30, result.Data[0]["age"])
	require.Equal(t, 1, result.Meta.Count)
	require.Nil(t, result.Error)
}

// Scenario 2 (§8): a directed relationship traversal.
func TestExecutorTraversal(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, `CREATE (a:Person {name:'Alice'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `CREATE (b:Person {name:'Bob'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) CREATE (a)-[:KNOWS]->(b)`, nil)
	require.NoError(t, err)

	result, err := exec.Execute(ctx, `MATCH (a:Person {name:'Alice'})-[:KNOWS]->(b) RETURN b.name AS name`, nil)
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	require.Equal(t, "Bob", result.Data[0]["name"])
}

// Scenario 3 (§8): IS NULL / false filtering over three customers.
func TestExecutorIsNullFiltering(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, `CREATE (n:Person {name:'A'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `CREATE (n:Person {name:'B', archived:false})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `CREATE (n:Person {name:'C', archived:true})`, nil)
	require.NoError(t, err)

	result, err := exec.Execute(ctx, `MATCH (n:Person) WHERE n.archived IS NULL OR n.archived = false RETURN n.name AS name`, nil)
	require.NoError(t, err)
	require.Len(t, result.Data, 2)
	names := []any{result.Data[0]["name"], result.Data[1]["name"]}
	require.Contains(t, names, "A")
	require.Contains(t, names, "B")
	require.NotContains(t, names, "C")
}

// Scenario 4 (§8): MERGE is idempotent; ON CREATE/ON MATCH fire correctly
// across two runs of the identical statement (also exercises the plan cache
// skipping a mutating plan — a second cached-and-replayed CREATE would
// collide on its literal id, but MERGE's probe re-resolves per run).
func TestExecutorMergeIdempotent(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	cypherText := `MERGE (u:User {id:'u1'}) ON CREATE SET u.created = true ON MATCH SET u.created = false`

	_, err := exec.Execute(ctx, cypherText, nil)
	require.NoError(t, err)
	result, err := exec.Execute(ctx, `MATCH (u:User {id:'u1'}) RETURN u.created AS created`, nil)
	require.NoError(t, err)
	require.Equal(t, true, result.Data[0]["created"])

	_, err = exec.Execute(ctx, cypherText, nil)
	require.NoError(t, err)
	result, err = exec.Execute(ctx, `MATCH (u:User {id:'u1'}) RETURN u.created AS created`, nil)
	require.NoError(t, err)
	require.Equal(t, false, result.Data[0]["created"])

	countResult, err := exec.Execute(ctx, `MATCH (u:User {id:'u1'}) RETURN count(u) AS c`, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, countResult.Data[0]["c"])
}

// Scenario 5 (§8): a *1..2 variable-length path over a A→B→C→D chain.
func TestExecutorVariableLengthPath(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := exec.Execute(ctx, `CREATE (n:Node {name:$name})`, map[string]any{"name": name})
		require.NoError(t, err)
	}
	chain := [][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}}
	for _, hop := range chain {
		_, err := exec.Execute(ctx,
			`MATCH (a:Node {name:$from}), (b:Node {name:$to}) CREATE (a)-[:NEXT]->(b)`,
			map[string]any{"from": hop[0], "to": hop[1]})
		require.NoError(t, err)
	}

	result, err := exec.Execute(ctx, `MATCH (a:Node {name:'A'})-[:NEXT*1..2]->(t) RETURN t.name AS name`, nil)
	require.NoError(t, err)
	names := make([]any, len(result.Data))
	for i, row := range result.Data {
		names[i] = row["name"]
	}
	require.ElementsMatch(t, []any{"B", "C"}, names)
}

// Variable-length path with a 0-lower-bound includes the source as its own
// target (the identity step, §4.3.1).
func TestExecutorVariableLengthPathIdentityStep(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, `CREATE (a:Node {name:'A'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `CREATE (b:Node {name:'B'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `MATCH (a:Node {name:'A'}), (b:Node {name:'B'}) CREATE (a)-[:NEXT]->(b)`, nil)
	require.NoError(t, err)

	result, err := exec.Execute(ctx, `MATCH (a:Node {name:'A'})-[:NEXT*0..1]->(t) RETURN t.name AS name`, nil)
	require.NoError(t, err)
	names := make([]any, len(result.Data))
	for i, row := range result.Data {
		names[i] = row["name"]
	}
	require.ElementsMatch(t, []any{"A", "B"}, names)
}

// Scenario 6 (§8): UNWIND feeding an aggregate.
func TestExecutorUnwindAggregation(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	result, err := exec.Execute(ctx, `UNWIND [1,2,3] AS x RETURN sum(x) AS s`, nil)
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	require.EqualValues(t, 6, result.Data[0]["s"])
}

// Scenario 7 (§8): UNION dedups, UNION ALL preserves duplicates.
func TestExecutorUnionDedup(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	_, err := exec.Execute(ctx, `CREATE (a:Person {name:'Alice'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `CREATE (b:Person {name:'Bob'})`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) CREATE (a)-[:KNOWS]->(b)`, nil)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, `MATCH (a:Person {name:'Alice'}), (b:Person {name:'Bob'}) CREATE (a)-[:WORKS_WITH]->(b)`, nil)
	require.NoError(t, err)

	deduped, err := exec.Execute(ctx,
		`MATCH (n:Person)-[:KNOWS]->(m) RETURN m.name AS name UNION MATCH (n:Person)-[:WORKS_WITH]->(m) RETURN m.name AS name`, nil)
	require.NoError(t, err)
	require.Len(t, deduped.Data, 1)

	all, err := exec.Execute(ctx,
		`MATCH (n:Person)-[:KNOWS]->(m) RETURN m.name AS name UNION ALL MATCH (n:Person)-[:WORKS_WITH]->(m) RETURN m.name AS name`, nil)
	require.NoError(t, err)
	require.Len(t, all.Data, 2)
}

// Scenario 8 (§8): the overloaded '+' concatenates two lists.
func TestExecutorListConcat(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	result, err := exec.Execute(ctx, `RETURN [1,2] + [3] AS a`, nil)
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	require.Equal(t, []any{float64(1), float64(2), float64(3)}, result.Data[0]["a"])
}

// A mutating plan is never served from the cache: re-running the identical
// CREATE text+params a second time must mint a second node rather than
// replaying the first node's literal id.
func TestExecutorCachedCreatePlanMintsDistinctIDs(t *testing.T) {
	exec := newTestExecutor(t)
	ctx := context.Background()

	cypherText := `CREATE (n:Person {name:$name})`
	params := map[string]any{"name": "Dup"}

	_, err := exec.Execute(ctx, cypherText, params)
	require.NoError(t, err)
	_, err = exec.Execute(ctx, cypherText, params)
	require.NoError(t, err)

	result, err := exec.Execute(ctx, `MATCH (n:Person {name:'Dup'}) RETURN count(n) AS c`, nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.Data[0]["c"])
}
