package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ds, err := New("file:TestDatastoreNew?mode=memory&cache=shared")
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.DB.Ping())

	// All tables exist after migrations
	for _, table := range []string{"hosts", "address_leases", "boot_profiles", "install_attempts", "audit_log", "schema_migrations"} {
		var name string
		err := ds.DB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
		assert.Equal(t, table, name)
	}
}

func TestNew_Reopen(t *testing.T) {
	dsn := "file:TestDatastoreReopen?mode=memory&cache=shared"

	ds, err := New(dsn)
	require.NoError(t, err)

	// Opening again re-runs migrations as no-ops
	ds2, err := New(dsn)
	require.NoError(t, err)

	require.NoError(t, ds2.Close())
	require.NoError(t, ds.Close())
}

func TestDatastore_Close(t *testing.T) {
	ds, err := New("file:TestDatastoreClose?mode=memory&cache=shared")
	require.NoError(t, err)

	require.NoError(t, ds.Close())
	assert.Error(t, ds.DB.Ping())
}
