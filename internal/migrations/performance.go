package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(db *sql.DB) error {
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_hosts_state ON hosts(state)",
					"CREATE INDEX IF NOT EXISTS idx_hosts_address ON hosts(address)",
					"CREATE INDEX IF NOT EXISTS idx_leases_expires_at ON address_leases(expires_at)",
					"CREATE INDEX IF NOT EXISTS idx_attempts_mac ON install_attempts(mac)",
					"CREATE INDEX IF NOT EXISTS idx_attempts_outcome ON install_attempts(outcome)",
					"CREATE INDEX IF NOT EXISTS idx_profiles_name ON boot_profiles(name)",
					"CREATE INDEX IF NOT EXISTS idx_audit_log_mac ON audit_log(mac)",
				}

				for _, indexSQL := range indices {
					if _, err := db.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(db *sql.DB) error {
				indices := []string{
					"DROP INDEX IF EXISTS idx_hosts_state",
					"DROP INDEX IF EXISTS idx_hosts_address",
					"DROP INDEX IF EXISTS idx_leases_expires_at",
					"DROP INDEX IF EXISTS idx_attempts_mac",
					"DROP INDEX IF EXISTS idx_attempts_outcome",
					"DROP INDEX IF EXISTS idx_profiles_name",
					"DROP INDEX IF EXISTS idx_audit_log_mac",
				}

				for _, dropSQL := range indices {
					if _, err := db.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
