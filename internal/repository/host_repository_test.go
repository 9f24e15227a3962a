package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/testutil"
)

func TestHostRepository_Create(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_Create")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	host := domain.Host{
		MAC:        "aa:bb:cc:dd:ee:ff",
		Name:       "rack1-node1",
		LastSeenAt: time.Now(),
	}

	saved, err := repo.Create(ctx, host)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", saved.MAC)
	assert.Equal(t, domain.StateDiscovered, saved.State)
	assert.False(t, saved.CreatedAt.IsZero())
}

func TestHostRepository_Create_RequiresMAC(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_Create_RequiresMAC")

	repo := NewHostRepository(ds.DB)

	_, err := repo.Create(context.Background(), domain.Host{})
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestHostRepository_Create_DuplicateMAC(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_Create_DuplicateMAC")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	// The UNIQUE constraint on mac rejects a second record
	_, err = repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff"})
	assert.Error(t, err)
}

func TestHostRepository_FindByMAC(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_FindByMAC")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	saved, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff", Name: "rack1-node1"})
	require.NoError(t, err)

	found, err := repo.FindByMAC(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, found.ID)
	assert.Equal(t, "rack1-node1", found.Name)

	_, err = repo.FindByMAC(ctx, "00:00:00:00:00:00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHostRepository_Save_Update(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_Save_Update")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	saved, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	saved.State = domain.StateAddressed
	saved.Address = "10.10.10.50"

	updated, err := repo.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)

	found, err := repo.FindByMAC(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAddressed, found.State)
	assert.Equal(t, "10.10.10.50", found.Address)
}

func TestHostRepository_Save_UnknownState(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_Save_UnknownState")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	saved, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	saved.State = "provisioning"
	_, err = repo.Save(ctx, saved)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}

func TestHostRepository_FindByState(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_FindByState")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	_, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:02"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:03", State: domain.StateInstalled})
	require.NoError(t, err)

	discovered, err := repo.FindByState(ctx, domain.StateDiscovered)
	require.NoError(t, err)
	require.Len(t, discovered, 2)
	// Ordered by MAC
	assert.Equal(t, "aa:bb:cc:dd:ee:01", discovered[0].MAC)
	assert.Equal(t, "aa:bb:cc:dd:ee:02", discovered[1].MAC)

	installed, err := repo.FindByState(ctx, domain.StateInstalled)
	require.NoError(t, err)
	require.Len(t, installed, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:03", installed[0].MAC)
}

func TestHostRepository_TimestampsRoundTrip(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_TimestampsRoundTrip")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	seen := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	entered := time.Date(2026, 3, 14, 9, 30, 0, 1, time.UTC)
	saved, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff", LastSeenAt: seen, StateChangedAt: entered})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.True(t, found.LastSeenAt.Equal(seen))
	assert.True(t, found.StateChangedAt.Equal(entered))
	assert.False(t, found.UpdatedAt.IsZero())
}

func TestHostRepository_DeleteByID(t *testing.T) {
	ds := testutil.SetupDatastore(t, "TestHostRepository_DeleteByID")

	repo := NewHostRepository(ds.DB)
	ctx := context.Background()

	saved, err := repo.Create(ctx, domain.Host{MAC: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByID(ctx, saved.ID))

	_, err = repo.FindByID(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.DeleteByID(ctx, saved.ID), ErrNotFound)
}
