package cypher

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCacheLocalHitMiss(t *testing.T) {
	c := NewPlanCache(2)
	ctx := context.Background()
	plan := &Plan{Statements: []Statement{{Kind: StmtSelect, SQL: "SELECT 1"}}}

	_, ok := c.Get(ctx, "MATCH (n) RETURN n", nil)
	assert.False(t, ok)

	c.Put(ctx, "MATCH (n) RETURN n", nil, plan)
	got, ok := c.Get(ctx, "MATCH (n) RETURN n", nil)
	require.True(t, ok)
	assert.Same(t, plan, got)

	hits, misses, size := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, size)
}

func TestPlanCacheDifferentParamsDifferentEntry(t *testing.T) {
	c := NewPlanCache(10)
	ctx := context.Background()
	planA := &Plan{Statements: []Statement{{Kind: StmtSelect, SQL: "SELECT 1"}}}
	planB := &Plan{Statements: []Statement{{Kind: StmtSelect, SQL: "SELECT 2"}}}

	c.Put(ctx, "MATCH (n) WHERE n.id = $id RETURN n", map[string]any{"id": "a"}, planA)
	c.Put(ctx, "MATCH (n) WHERE n.id = $id RETURN n", map[string]any{"id": "b"}, planB)

	got, ok := c.Get(ctx, "MATCH (n) WHERE n.id = $id RETURN n", map[string]any{"id": "a"})
	require.True(t, ok)
	assert.Same(t, planA, got)

	got, ok = c.Get(ctx, "MATCH (n) WHERE n.id = $id RETURN n", map[string]any{"id": "b"})
	require.True(t, ok)
	assert.Same(t, planB, got)
}

func TestPlanCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewPlanCache(2)
	ctx := context.Background()
	p1 := &Plan{Statements: []Statement{{SQL: "1"}}}
	p2 := &Plan{Statements: []Statement{{SQL: "2"}}}
	p3 := &Plan{Statements: []Statement{{SQL: "3"}}}

	c.Put(ctx, "q1", nil, p1)
	c.Put(ctx, "q2", nil, p2)
	c.Put(ctx, "q3", nil, p3) // evicts q1, the least recently touched

	_, ok := c.Get(ctx, "q1", nil)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "q2", nil)
	assert.True(t, ok)
	_, ok = c.Get(ctx, "q3", nil)
	assert.True(t, ok)
}

func TestPlanCacheRemoteTierRoundTrips(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	writer := NewPlanCache(10)
	writer.AttachRemote(client, 0, nil)
	plan := &Plan{
		Statements: []Statement{{
			Kind:     StmtSelect,
			SQL:      "SELECT * FROM nodes WHERE label = $1",
			Args:     []any{"Person"},
			CountsAs: ChangeNone,
		}},
		Projections: []ProjectionPlan{{Name: "n", Kind: ProjNode}},
	}
	ctx := context.Background()
	writer.Put(ctx, "MATCH (n:Person) RETURN n", nil, plan)

	// A fresh cache with no local entry should find it via the shared
	// remote tier and populate its own local copy on the way.
	reader := NewPlanCache(10)
	reader.AttachRemote(client, 0, nil)
	got, ok := reader.Get(ctx, "MATCH (n:Person) RETURN n", nil)
	require.True(t, ok)
	require.Len(t, got.Statements, 1)
	assert.Equal(t, plan.Statements[0].SQL, got.Statements[0].SQL)
	assert.Equal(t, plan.Statements[0].Args, got.Statements[0].Args)

	got2, ok := reader.Get(ctx, "MATCH (n:Person) RETURN n", nil)
	require.True(t, ok)
	assert.Same(t, got, got2, "second read should hit the now-warm local tier")
}

func TestPlanCacheClear(t *testing.T) {
	c := NewPlanCache(10)
	ctx := context.Background()
	c.Put(ctx, "q", nil, &Plan{})
	c.Clear()
	_, ok := c.Get(ctx, "q", nil)
	assert.False(t, ok)
}
