package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_initial_tables",
			Up: func(db *sql.DB) error {
				// Create hosts table
				_, err := db.Exec(`
					CREATE TABLE IF NOT EXISTS hosts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						mac TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL DEFAULT '',
						address TEXT NOT NULL DEFAULT '',
						profile_name TEXT NOT NULL DEFAULT '',
						state TEXT NOT NULL DEFAULT 'discovered',
						failure_count INTEGER NOT NULL DEFAULT 0,
						failure_reason TEXT NOT NULL DEFAULT '',
						last_seen_at TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT '',
						updated_at TEXT NOT NULL DEFAULT ''
					)
				`)
				if err != nil {
					return err
				}

				// Create address_leases table. One active lease per address
				// and per host is enforced here, not just in code.
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS address_leases (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						mac TEXT NOT NULL UNIQUE,
						address TEXT NOT NULL UNIQUE,
						starts_at TEXT NOT NULL,
						expires_at TEXT NOT NULL,
						renew_count INTEGER NOT NULL DEFAULT 0
					)
				`)
				if err != nil {
					return err
				}

				// Create boot_profiles table; versions are append-only
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS boot_profiles (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						version INTEGER NOT NULL DEFAULT 1,
						target_os TEXT NOT NULL DEFAULT '',
						partition_policy TEXT NOT NULL DEFAULT '',
						install_source TEXT NOT NULL DEFAULT '',
						kernel_args TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT '',
						UNIQUE(name, version)
					)
				`)
				if err != nil {
					return err
				}

				// Create install_attempts table (append-only)
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS install_attempts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						attempt_id TEXT NOT NULL UNIQUE,
						mac TEXT NOT NULL,
						started_at TEXT NOT NULL,
						ended_at TEXT NOT NULL DEFAULT '',
						outcome TEXT NOT NULL DEFAULT 'pending',
						error_detail TEXT NOT NULL DEFAULT '',
						FOREIGN KEY (mac) REFERENCES hosts(mac)
					)
				`)
				if err != nil {
					return err
				}

				// Create audit_log table (append-only)
				_, err = db.Exec(`
					CREATE TABLE IF NOT EXISTS audit_log (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						mac TEXT NOT NULL,
						old_state TEXT NOT NULL,
						new_state TEXT NOT NULL,
						reason TEXT NOT NULL DEFAULT '',
						created_at TEXT NOT NULL DEFAULT ''
					)
				`)
				return err
			},
			Down: func(db *sql.DB) error {
				for _, table := range []string{"audit_log", "install_attempts", "boot_profiles", "address_leases", "hosts"} {
					if _, err := db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version: 2,
			Name:    "add_host_state_changed_at",
			Up: func(db *sql.DB) error {
				// Dwell-time deadlines are measured from state entry, not
				// from the last row update; routine lease renewals touch
				// updated_at but must not reset the clock.
				_, err := db.Exec(`ALTER TABLE hosts ADD COLUMN state_changed_at TEXT NOT NULL DEFAULT ''`)
				return err
			},
			Down: func(db *sql.DB) error {
				_, err := db.Exec(`ALTER TABLE hosts DROP COLUMN state_changed_at`)
				return err
			},
		},
	}
}
