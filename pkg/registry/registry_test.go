package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantKey(t *testing.T) {
	assert.Equal(t, "prod/acme", tenantKey("acme", "prod"))
	assert.Equal(t, "staging/acme", tenantKey("acme", "staging"))
	assert.NotEqual(t, tenantKey("a", "b"), tenantKey("b", "a"))
}

func TestNewDefaultsLogger(t *testing.T) {
	r := New("postgres://x/%s_%s", 5, nil)
	a := assert.New(t)
	a.NotNil(r.logger)
	a.Equal(int32(5), r.maxConns)
	a.Empty(r.tenants)
}

func TestCloseOnEmptyRegistryIsNoop(t *testing.T) {
	r := New("postgres://x/%s_%s", 5, nil)
	assert.NotPanics(t, r.Close)
	assert.Empty(t, r.tenants)
}
