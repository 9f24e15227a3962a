package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// HostRepository defines domain-specific operations for hosts
type HostRepository interface {
	Repository[domain.Host, int64]
	FindByMAC(ctx context.Context, mac string) (domain.Host, error)
	FindByState(ctx context.Context, state domain.HostState) ([]domain.Host, error)
	Create(ctx context.Context, host domain.Host) (domain.Host, error)
}

// hostRepositoryImpl implements HostRepository
type hostRepositoryImpl struct {
	db *sql.DB
}

// NewHostRepository creates a new host repository
func NewHostRepository(db *sql.DB) HostRepository {
	return &hostRepositoryImpl{
		db: db,
	}
}

const hostColumns = `id, mac, name, address, profile_name, state, failure_count, failure_reason, last_seen_at, state_changed_at, created_at, updated_at`

func scanHost(row interface{ Scan(...any) error }) (domain.Host, error) {
	var h domain.Host
	var state, lastSeen, stateChanged, createdAt, updatedAt string
	err := row.Scan(&h.ID, &h.MAC, &h.Name, &h.Address, &h.ProfileName, &state,
		&h.FailureCount, &h.FailureReason, &lastSeen, &stateChanged, &createdAt, &updatedAt)
	if err != nil {
		return domain.Host{}, err
	}
	h.State = domain.HostState(state)
	h.LastSeenAt = parseTime(lastSeen)
	h.StateChangedAt = parseTime(stateChanged)
	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)
	return h, nil
}

// Save creates or updates a host
func (r *hostRepositoryImpl) Save(ctx context.Context, host domain.Host) (domain.Host, error) {
	if host.ID == 0 {
		return r.Create(ctx, host)
	}
	return r.updateHost(ctx, host)
}

// Create inserts a new host record. The MAC must already be normalized.
func (r *hostRepositoryImpl) Create(ctx context.Context, host domain.Host) (domain.Host, error) {
	if host.MAC == "" {
		return domain.Host{}, fmt.Errorf("%w: host MAC is required", ErrInvalidEntity)
	}
	if host.State == "" {
		host.State = domain.StateDiscovered
	}
	if !domain.ValidState(host.State) {
		return domain.Host{}, fmt.Errorf("%w: unknown state %q", ErrInvalidEntity, host.State)
	}

	now := time.Now()
	if host.CreatedAt.IsZero() {
		host.CreatedAt = now
	}
	if host.StateChangedAt.IsZero() {
		host.StateChangedAt = now
	}
	host.UpdatedAt = now

	query := `
		INSERT INTO hosts (mac, name, address, profile_name, state, failure_count, failure_reason, last_seen_at, state_changed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		host.MAC, host.Name, host.Address, host.ProfileName, string(host.State),
		host.FailureCount, host.FailureReason,
		formatTime(host.LastSeenAt), formatTime(host.StateChangedAt), formatTime(host.CreatedAt), formatTime(host.UpdatedAt))
	if err != nil {
		return domain.Host{}, fmt.Errorf("failed to create host: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Host{}, fmt.Errorf("failed to get host ID: %w", err)
	}

	host.ID = id
	return host, nil
}

// updateHost updates an existing host record
func (r *hostRepositoryImpl) updateHost(ctx context.Context, host domain.Host) (domain.Host, error) {
	if host.ID == 0 {
		return domain.Host{}, fmt.Errorf("%w: host ID is required for update", ErrInvalidEntity)
	}
	if !domain.ValidState(host.State) {
		return domain.Host{}, fmt.Errorf("%w: unknown state %q", ErrInvalidEntity, host.State)
	}

	host.UpdatedAt = time.Now()

	query := `
		UPDATE hosts
		SET name = ?, address = ?, profile_name = ?, state = ?, failure_count = ?, failure_reason = ?, last_seen_at = ?, state_changed_at = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		host.Name, host.Address, host.ProfileName, string(host.State),
		host.FailureCount, host.FailureReason,
		formatTime(host.LastSeenAt), formatTime(host.StateChangedAt), formatTime(host.UpdatedAt), host.ID)
	if err != nil {
		return domain.Host{}, fmt.Errorf("failed to update host: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Host{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.Host{}, ErrNotFound
	}

	return host, nil
}

// FindByID finds a host by ID
func (r *hostRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE id = ?`

	host, err := scanHost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Host{}, ErrNotFound
		}
		return domain.Host{}, fmt.Errorf("failed to find host: %w", err)
	}

	return host, nil
}

// FindByMAC finds a host by its hardware address
func (r *hostRepositoryImpl) FindByMAC(ctx context.Context, mac string) (domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE mac = ?`

	host, err := scanHost(r.db.QueryRowContext(ctx, query, mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Host{}, ErrNotFound
		}
		return domain.Host{}, fmt.Errorf("failed to find host by MAC: %w", err)
	}

	return host, nil
}

// FindAll finds all hosts
func (r *hostRepositoryImpl) FindAll(ctx context.Context) ([]domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts ORDER BY mac`
	return r.queryHosts(ctx, query)
}

// FindByState finds all hosts currently in the given state
func (r *hostRepositoryImpl) FindByState(ctx context.Context, state domain.HostState) ([]domain.Host, error) {
	query := `SELECT ` + hostColumns + ` FROM hosts WHERE state = ? ORDER BY mac`
	return r.queryHosts(ctx, query, string(state))
}

func (r *hostRepositoryImpl) queryHosts(ctx context.Context, query string, args ...any) ([]domain.Host, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find hosts: %w", err)
	}
	defer rows.Close()

	var hosts []domain.Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// DeleteByID deletes a host by ID. Hosts are retained for audit; this exists
// for explicit operator removal only.
func (r *hostRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete host: %w", err)
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

// ExistsByID checks if a host exists by ID
func (r *hostRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hosts WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check host existence: %w", err)
	}
	return count > 0, nil
}
