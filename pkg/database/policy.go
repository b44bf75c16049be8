package database

import (
	"fmt"

	"tenant-service/pkg/tenantctx"

	"gorm.io/gorm"
)

// SettingKey is the session-local configuration parameter the row
// isolation policies read at query time.
const SettingKey = "app.current_tenant"

// uuidPattern is the regex the isolation policy applies to the session
// value before casting it to uuid. Values that do not match (the empty
// string, the bypass sentinel, malformed input) fail the check instead
// of raising a cast error, so malformed input denies rather than throws.
const uuidPattern = `^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`

// protectedTables are subject to the row isolation policy. The tenants
// table is deliberately absent: slug resolution must work before any
// tenant context exists.
var protectedTables = []string{"items", "users"}

// EnableRowIsolation enables row level security on every protected table
// and installs two policies per table:
//
//   - tenant_isolation_policy: a row is visible iff the session value
//     looks like a UUID and equals the row's tenant_id
//   - admin_bypass_policy: a row is visible iff the session value equals
//     the bypass sentinel
//
// With no policy matching (session value unset or malformed) Postgres
// denies every row, so an unset context fails closed.
func EnableRowIsolation(db *gorm.DB) error {
	for _, table := range protectedTables {
		for _, stmt := range policyStatements(table) {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("applying policy on %s: %w", table, err)
			}
		}
	}
	return nil
}

func policyStatements(table string) []string {
	isolation := fmt.Sprintf(
		"current_setting('%s', true) ~ '%s' AND tenant_id = current_setting('%s', true)::uuid",
		SettingKey, uuidPattern, SettingKey,
	)
	bypass := fmt.Sprintf(
		"current_setting('%s', true) = '%s'",
		SettingKey, tenantctx.BypassSentinel,
	)

	return []string{
		fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table),
		fmt.Sprintf("DROP POLICY IF EXISTS tenant_isolation_policy ON %s", table),
		fmt.Sprintf(
			"CREATE POLICY tenant_isolation_policy ON %s FOR ALL USING (%s) WITH CHECK (%s)",
			table, isolation, isolation,
		),
		fmt.Sprintf("DROP POLICY IF EXISTS admin_bypass_policy ON %s", table),
		fmt.Sprintf(
			"CREATE POLICY admin_bypass_policy ON %s FOR ALL USING (%s) WITH CHECK (%s)",
			table, bypass, bypass,
		),
	}
}
