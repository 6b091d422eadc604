package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaStatementsCreateExpectedObjects(t *testing.T) {
	joined := strings.Join(schemaStatements, "\n")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS nodes")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS edges")
	assert.Contains(t, joined, "nodes_properties_gin_idx")
	assert.Contains(t, joined, "edges_properties_gin_idx")
	assert.Contains(t, joined, "concat_or_add")
	assert.Contains(t, joined, "REFERENCES nodes")
}

func TestSchemaStatementsAreIdempotent(t *testing.T) {
	for _, stmt := range schemaStatements {
		upper := strings.ToUpper(stmt)
		isCreateOrReplace := strings.Contains(upper, "CREATE OR REPLACE")
		isIfNotExists := strings.Contains(upper, "IF NOT EXISTS")
		assert.True(t, isCreateOrReplace || isIfNotExists, "statement must be safe to run repeatedly: %s", stmt)
	}
}
