package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// ProfileRepository defines domain-specific operations for boot profiles.
// Profiles are versioned: Save of an existing name always creates a new
// version rather than mutating the old one, so a profile referenced by an
// in-progress install never changes underneath it.
type ProfileRepository interface {
	Repository[domain.BootProfile, int64]
	FindLatestByName(ctx context.Context, name string) (domain.BootProfile, error)
	FindByNameAndVersion(ctx context.Context, name string, version int) (domain.BootProfile, error)
	FindLatestVersions(ctx context.Context) ([]domain.BootProfile, error)
}

// profileRepositoryImpl implements ProfileRepository
type profileRepositoryImpl struct {
	db *sql.DB
}

// NewProfileRepository creates a new boot profile repository
func NewProfileRepository(db *sql.DB) ProfileRepository {
	return &profileRepositoryImpl{
		db: db,
	}
}

const profileColumns = `id, name, version, target_os, partition_policy, install_source, kernel_args, created_at`

func scanProfile(row interface{ Scan(...any) error }) (domain.BootProfile, error) {
	var p domain.BootProfile
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.Version, &p.TargetOS, &p.PartitionPolicy,
		&p.InstallSource, &p.KernelArgs, &createdAt)
	if err != nil {
		return domain.BootProfile{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// Save stores a profile. A new name starts at version 1; an existing name
// gets the next version. The caller's Version field is ignored.
func (r *profileRepositoryImpl) Save(ctx context.Context, profile domain.BootProfile) (domain.BootProfile, error) {
	if profile.Name == "" {
		return domain.BootProfile{}, fmt.Errorf("%w: profile name is required", ErrInvalidEntity)
	}
	if profile.InstallSource == "" {
		return domain.BootProfile{}, fmt.Errorf("%w: profile install source is required", ErrInvalidEntity)
	}

	var maxVersion int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM boot_profiles WHERE name = ?`, profile.Name).Scan(&maxVersion)
	if err != nil {
		return domain.BootProfile{}, fmt.Errorf("failed to determine profile version: %w", err)
	}

	profile.Version = maxVersion + 1
	profile.CreatedAt = time.Now()

	query := `
		INSERT INTO boot_profiles (name, version, target_os, partition_policy, install_source, kernel_args, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		profile.Name, profile.Version, profile.TargetOS, profile.PartitionPolicy,
		profile.InstallSource, profile.KernelArgs, formatTime(profile.CreatedAt))
	if err != nil {
		return domain.BootProfile{}, fmt.Errorf("failed to create profile: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.BootProfile{}, fmt.Errorf("failed to get profile ID: %w", err)
	}

	profile.ID = id
	return profile, nil
}

// FindByID finds a profile version by row ID
func (r *profileRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.BootProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM boot_profiles WHERE id = ?`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BootProfile{}, ErrNotFound
		}
		return domain.BootProfile{}, fmt.Errorf("failed to find profile: %w", err)
	}

	return profile, nil
}

// FindLatestByName finds the newest version of a named profile
func (r *profileRepositoryImpl) FindLatestByName(ctx context.Context, name string) (domain.BootProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM boot_profiles WHERE name = ? ORDER BY version DESC LIMIT 1`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BootProfile{}, ErrNotFound
		}
		return domain.BootProfile{}, fmt.Errorf("failed to find profile by name: %w", err)
	}

	return profile, nil
}

// FindByNameAndVersion finds one exact profile version
func (r *profileRepositoryImpl) FindByNameAndVersion(ctx context.Context, name string, version int) (domain.BootProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM boot_profiles WHERE name = ? AND version = ?`

	profile, err := scanProfile(r.db.QueryRowContext(ctx, query, name, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BootProfile{}, ErrNotFound
		}
		return domain.BootProfile{}, fmt.Errorf("failed to find profile version: %w", err)
	}

	return profile, nil
}

// FindAll finds every stored profile version
func (r *profileRepositoryImpl) FindAll(ctx context.Context) ([]domain.BootProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM boot_profiles ORDER BY name, version`
	return r.queryProfiles(ctx, query)
}

// FindLatestVersions finds the newest version of every named profile
func (r *profileRepositoryImpl) FindLatestVersions(ctx context.Context) ([]domain.BootProfile, error) {
	query := `
		SELECT ` + profileColumns + ` FROM boot_profiles
		WHERE (name, version) IN (SELECT name, MAX(version) FROM boot_profiles GROUP BY name)
		ORDER BY name`
	return r.queryProfiles(ctx, query)
}

func (r *profileRepositoryImpl) queryProfiles(ctx context.Context, query string, args ...any) ([]domain.BootProfile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.BootProfile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

// DeleteByID deletes a profile version by row ID
func (r *profileRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM boot_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// ExistsByID checks if a profile version exists by row ID
func (r *profileRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boot_profiles WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check profile existence: %w", err)
	}
	return count > 0, nil
}
