package cypher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTranslate(t *testing.T, text string, params map[string]any) *Plan {
	t.Helper()
	q, err := Parse(text)
	require.NoError(t, err)
	plan, err := Translate(q, params)
	require.NoError(t, err)
	return plan
}

func TestTranslateMatchReturn(t *testing.T) {
	plan := mustTranslate(t, "MATCH (n:Person) RETURN n", nil)
	require.True(t, plan.HasFinalSelect())
	last := plan.Statements[len(plan.Statements)-1]
	assert.Equal(t, StmtSelect, last.Kind)
	assert.Contains(t, last.SQL, "nodes")
	require.Len(t, plan.Projections, 1)
	assert.Equal(t, ProjNode, plan.Projections[0].Kind)
}

func TestTranslateMatchWhereParam(t *testing.T) {
	plan := mustTranslate(t, "MATCH (n:Person) WHERE n.age > $minAge RETURN n.name", map[string]any{"minAge": 21})
	last := plan.Statements[len(plan.Statements)-1]
	assert.Contains(t, last.SQL, "WHERE")
	require.NotEmpty(t, last.Args)
	assert.Contains(t, last.Args, 21)
}

func TestTranslateCreateNodeEmitsInsert(t *testing.T) {
	plan := mustTranslate(t, "CREATE (n:Person {name: $name}) RETURN n", map[string]any{"name": "Ada"})
	require.NotEmpty(t, plan.Statements)
	first := plan.Statements[0]
	assert.Equal(t, StmtInsert, first.Kind)
	assert.Equal(t, ChangeNodesCreated, first.CountsAs)
	assert.Contains(t, first.SQL, "INSERT INTO nodes")
}

func TestTranslateCreateRelationship(t *testing.T) {
	plan := mustTranslate(t, `MATCH (a:Person), (b:Person) WHERE id(a) = $src AND id(b) = $dst
		CREATE (a)-[r:KNOWS]->(b) RETURN r`, map[string]any{"src": "id-a", "dst": "id-b"})
	var sawEdgeInsert bool
	for _, s := range plan.Statements {
		if s.Kind == StmtInsert && strings.Contains(s.SQL, "INSERT INTO edges") {
			sawEdgeInsert = true
		}
	}
	assert.True(t, sawEdgeInsert, "expected an edges insert statement")
}

func TestTranslateUnwindProducesRows(t *testing.T) {
	plan := mustTranslate(t, "UNWIND [1, 2, 3] AS x RETURN x", nil)
	require.True(t, plan.HasFinalSelect())
	require.Len(t, plan.Projections, 1)
	assert.Equal(t, "x", plan.Projections[0].Name)
}

func TestTranslateUndefinedVariableFails(t *testing.T) {
	q, err := Parse("MATCH (n:Person) RETURN m")
	require.NoError(t, err)
	_, err = Translate(q, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndefinedVariable)
}

func TestTranslateUnionCombinesBranches(t *testing.T) {
	plan := mustTranslate(t, "MATCH (n:Person) RETURN n.name AS name UNION MATCH (n:Company) RETURN n.name AS name", nil)
	last := plan.Statements[len(plan.Statements)-1]
	assert.Contains(t, last.SQL, " UNION ")
	require.Len(t, plan.Projections, 1)
	assert.Equal(t, "name", plan.Projections[0].Name)
}

func TestTranslateMergeEmitsProbeStatement(t *testing.T) {
	plan := mustTranslate(t, "MERGE (n:Person {name: $name}) RETURN n", map[string]any{"name": "Grace"})
	var sawProbe bool
	for _, s := range plan.Statements {
		if s.Kind == StmtMergeProbe {
			sawProbe = true
		}
	}
	assert.True(t, sawProbe, "expected a MERGE probe statement")
}

func TestParseRejectsBacktickIdentifiers(t *testing.T) {
	_, err := Parse("MATCH (n:`Person`) RETURN n")
	assert.Error(t, err)
}

func TestParseRejectsPropertyAccessOnParameter(t *testing.T) {
	_, err := Parse("RETURN $props.name")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property access requires a variable")
}
