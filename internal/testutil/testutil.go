package testutil

import (
	"fmt"
	"testing"

	"github.com/jbweber/homelab/forge/internal/datastore"
)

// NewTestDSN generates a DSN for an in-memory SQLite database for testing purposes.
func NewTestDSN(testName string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", testName)
}

// SetupDatastore opens a migrated in-memory datastore for a test and closes
// it on cleanup.
func SetupDatastore(t *testing.T, testName string) *datastore.Datastore {
	t.Helper()

	ds, err := datastore.New(NewTestDSN(testName))
	if err != nil {
		t.Fatalf("Failed to open test datastore: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.Close(); err != nil {
			t.Logf("failed to close test datastore: %v", err)
		}
	})

	return ds
}
