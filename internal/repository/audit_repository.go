package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// AuditRepository records host state changes. Append-only except for
// operator-driven host removal.
type AuditRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	FindByMAC(ctx context.Context, mac string) ([]domain.AuditEntry, error)
	DeleteByMAC(ctx context.Context, mac string) error
}

// auditRepositoryImpl implements AuditRepository
type auditRepositoryImpl struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepositoryImpl{
		db: db,
	}
}

// Append records one state change
func (r *auditRepositoryImpl) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if entry.MAC == "" {
		return domain.AuditEntry{}, fmt.Errorf("%w: audit MAC is required", ErrInvalidEntity)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_log (mac, old_state, new_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		entry.MAC, string(entry.OldState), string(entry.NewState), entry.Reason, formatTime(entry.CreatedAt))
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return entry, nil
}

// FindByMAC returns all state changes for a host in chronological order
func (r *auditRepositoryImpl) FindByMAC(ctx context.Context, mac string) ([]domain.AuditEntry, error) {
	query := `
		SELECT id, mac, old_state, new_state, reason, created_at
		FROM audit_log
		WHERE mac = ?
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, mac)
	if err != nil {
		return nil, fmt.Errorf("failed to find audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// DeleteByMAC removes the audit trail for a host. Only used when an operator
// removes the host itself.
func (r *auditRepositoryImpl) DeleteByMAC(ctx context.Context, mac string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return nil
}

func scanAuditEntry(rows *sql.Rows) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var oldState, newState, createdAt string
	if err := rows.Scan(&e.ID, &e.MAC, &oldState, &newState, &e.Reason, &createdAt); err != nil {
		return domain.AuditEntry{}, err
	}
	e.OldState = domain.HostState(oldState)
	e.NewState = domain.HostState(newState)
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}
