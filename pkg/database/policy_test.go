package database

import (
	"regexp"
	"strings"
	"testing"

	"tenant-service/pkg/tenantctx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDPattern(t *testing.T) {
	re := regexp.MustCompile(uuidPattern)

	t.Run("matches tenant ids", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			id := uuid.New().String()
			assert.True(t, re.MatchString(id), id)
		}
		assert.True(t, re.MatchString("4B1F3A0E-8A2D-4C61-9F5E-2D7B8C9A0E11"))
	})

	t.Run("never matches non-tenant values", func(t *testing.T) {
		for _, v := range []string{
			"",
			tenantctx.BypassSentinel,
			"ADMIN_BYPASS",
			"Admin_Bypass",
			"not-a-uuid",
			"4b1f3a0e-8a2d-4c61-9f5e",
			"4b1f3a0e-8a2d-4c61-9f5e-2d7b8c9a0e11; DROP TABLE items",
		} {
			assert.False(t, re.MatchString(v), v)
		}
	})

	t.Run("bypass sentinel is not uuid-shaped", func(t *testing.T) {
		// The bypass rule is a plain equality check; the sentinel must
		// stay textually outside the tenant id space.
		assert.False(t, re.MatchString(tenantctx.BypassSentinel))
	})
}

func TestPolicyStatements(t *testing.T) {
	stmts := policyStatements("items")
	joined := strings.Join(stmts, "\n")

	t.Run("enables row level security", func(t *testing.T) {
		assert.Contains(t, joined, "ALTER TABLE items ENABLE ROW LEVEL SECURITY")
	})

	t.Run("isolation rule guards the uuid cast", func(t *testing.T) {
		require.Contains(t, joined, "tenant_isolation_policy")
		// The regex check must precede the ::uuid cast so malformed
		// session values deny instead of raising.
		idx := strings.Index(joined, "~ '"+uuidPattern+"'")
		castIdx := strings.Index(joined, "::uuid")
		require.NotEqual(t, -1, idx)
		require.NotEqual(t, -1, castIdx)
		assert.Less(t, idx, castIdx)
	})

	t.Run("bypass rule uses the sentinel literally", func(t *testing.T) {
		assert.Contains(t, joined, "admin_bypass_policy")
		assert.Contains(t, joined, "= '"+tenantctx.BypassSentinel+"'")
	})

	t.Run("both read and write sides are covered", func(t *testing.T) {
		assert.Equal(t, 2, strings.Count(joined, "WITH CHECK"))
	})
}

func TestProtectedTables(t *testing.T) {
	assert.Contains(t, protectedTables, "items")
	assert.Contains(t, protectedTables, "users")
	// Tenants must stay resolvable before any context exists.
	assert.NotContains(t, protectedTables, "tenants")
}
