package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// LeaseRepository defines domain-specific operations for address leases
type LeaseRepository interface {
	Repository[domain.AddressLease, int64]
	FindByMAC(ctx context.Context, mac string) (domain.AddressLease, error)
	FindByAddress(ctx context.Context, address string) (domain.AddressLease, error)
	DeleteByAddress(ctx context.Context, address string) error
	DeleteExpired(ctx context.Context, cutoff string) (int64, error)
}

// leaseRepositoryImpl implements LeaseRepository
type leaseRepositoryImpl struct {
	db *sql.DB
}

// NewLeaseRepository creates a new lease repository
func NewLeaseRepository(db *sql.DB) LeaseRepository {
	return &leaseRepositoryImpl{
		db: db,
	}
}

const leaseColumns = `id, mac, address, starts_at, expires_at, renew_count`

func scanLease(row interface{ Scan(...any) error }) (domain.AddressLease, error) {
	var l domain.AddressLease
	var startsAt, expiresAt string
	err := row.Scan(&l.ID, &l.MAC, &l.Address, &startsAt, &expiresAt, &l.RenewCount)
	if err != nil {
		return domain.AddressLease{}, err
	}
	l.StartsAt = parseTime(startsAt)
	l.ExpiresAt = parseTime(expiresAt)
	return l, nil
}

// Save creates or updates an address lease
func (r *leaseRepositoryImpl) Save(ctx context.Context, lease domain.AddressLease) (domain.AddressLease, error) {
	if lease.ID == 0 {
		return r.createLease(ctx, lease)
	}
	return r.updateLease(ctx, lease)
}

// createLease inserts a new lease. The UNIQUE constraints on mac and address
// back up the allocator's single-writer discipline.
func (r *leaseRepositoryImpl) createLease(ctx context.Context, lease domain.AddressLease) (domain.AddressLease, error) {
	if lease.MAC == "" {
		return domain.AddressLease{}, fmt.Errorf("%w: lease MAC is required", ErrInvalidEntity)
	}
	if lease.Address == "" {
		return domain.AddressLease{}, fmt.Errorf("%w: lease address is required", ErrInvalidEntity)
	}
	if lease.ExpiresAt.IsZero() {
		return domain.AddressLease{}, fmt.Errorf("%w: lease expiry is required", ErrInvalidEntity)
	}

	query := `
		INSERT INTO address_leases (mac, address, starts_at, expires_at, renew_count)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		lease.MAC, lease.Address, formatTime(lease.StartsAt), formatTime(lease.ExpiresAt), lease.RenewCount)
	if err != nil {
		return domain.AddressLease{}, fmt.Errorf("failed to create lease: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.AddressLease{}, fmt.Errorf("failed to get lease ID: %w", err)
	}

	lease.ID = id
	return lease, nil
}

// updateLease updates an existing lease
func (r *leaseRepositoryImpl) updateLease(ctx context.Context, lease domain.AddressLease) (domain.AddressLease, error) {
	query := `
		UPDATE address_leases
		SET mac = ?, address = ?, starts_at = ?, expires_at = ?, renew_count = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		lease.MAC, lease.Address, formatTime(lease.StartsAt), formatTime(lease.ExpiresAt), lease.RenewCount, lease.ID)
	if err != nil {
		return domain.AddressLease{}, fmt.Errorf("failed to update lease: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.AddressLease{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.AddressLease{}, ErrNotFound
	}

	return lease, nil
}

// FindByID finds a lease by ID
func (r *leaseRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.AddressLease, error) {
	query := `SELECT ` + leaseColumns + ` FROM address_leases WHERE id = ?`

	lease, err := scanLease(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AddressLease{}, ErrNotFound
		}
		return domain.AddressLease{}, fmt.Errorf("failed to find lease: %w", err)
	}

	return lease, nil
}

// FindByMAC finds the lease held by a host
func (r *leaseRepositoryImpl) FindByMAC(ctx context.Context, mac string) (domain.AddressLease, error) {
	query := `SELECT ` + leaseColumns + ` FROM address_leases WHERE mac = ?`

	lease, err := scanLease(r.db.QueryRowContext(ctx, query, mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AddressLease{}, ErrNotFound
		}
		return domain.AddressLease{}, fmt.Errorf("failed to find lease by MAC: %w", err)
	}

	return lease, nil
}

// FindByAddress finds the lease for an address
func (r *leaseRepositoryImpl) FindByAddress(ctx context.Context, address string) (domain.AddressLease, error) {
	query := `SELECT ` + leaseColumns + ` FROM address_leases WHERE address = ?`

	lease, err := scanLease(r.db.QueryRowContext(ctx, query, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AddressLease{}, ErrNotFound
		}
		return domain.AddressLease{}, fmt.Errorf("failed to find lease by address: %w", err)
	}

	return lease, nil
}

// FindAll finds all leases ordered by address
func (r *leaseRepositoryImpl) FindAll(ctx context.Context) ([]domain.AddressLease, error) {
	query := `SELECT ` + leaseColumns + ` FROM address_leases ORDER BY address`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find leases: %w", err)
	}
	defer rows.Close()

	var leases []domain.AddressLease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, lease)
	}

	return leases, rows.Err()
}

// DeleteByID deletes a lease by ID
func (r *leaseRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM address_leases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
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

// DeleteByAddress deletes the lease holding an address
func (r *leaseRepositoryImpl) DeleteByAddress(ctx context.Context, address string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM address_leases WHERE address = ?`, address)
	if err != nil {
		return fmt.Errorf("failed to delete lease by address: %w", err)
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

// DeleteExpired removes every lease whose expiry is at or before cutoff
// (RFC 3339 text). Returns the number of leases removed.
func (r *leaseRepositoryImpl) DeleteExpired(ctx context.Context, cutoff string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM address_leases WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired leases: %w", err)
	}

	return result.RowsAffected()
}

// ExistsByID checks if a lease exists by ID
func (r *leaseRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM address_leases WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check lease existence: %w", err)
	}
	return count > 0, nil
}
