package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// AttemptRepository defines operations for install attempts. Attempts are
// append-only: they open pending and close exactly once.
type AttemptRepository interface {
	Open(ctx context.Context, mac string) (domain.InstallAttempt, error)
	Close(ctx context.Context, attemptID string, outcome domain.Outcome, detail string) (domain.InstallAttempt, error)
	FindPendingByMAC(ctx context.Context, mac string) (domain.InstallAttempt, error)
	FindByAttemptID(ctx context.Context, attemptID string) (domain.InstallAttempt, error)
	FindByMAC(ctx context.Context, mac string) ([]domain.InstallAttempt, error)
	DeleteByMAC(ctx context.Context, mac string) error
}

// attemptRepositoryImpl implements AttemptRepository
type attemptRepositoryImpl struct {
	db *sql.DB
}

// NewAttemptRepository creates a new install attempt repository
func NewAttemptRepository(db *sql.DB) AttemptRepository {
	return &attemptRepositoryImpl{
		db: db,
	}
}

const attemptColumns = `id, attempt_id, mac, started_at, ended_at, outcome, error_detail`

func scanAttempt(row interface{ Scan(...any) error }) (domain.InstallAttempt, error) {
	var a domain.InstallAttempt
	var startedAt, endedAt, outcome string
	err := row.Scan(&a.ID, &a.AttemptID, &a.MAC, &startedAt, &endedAt, &outcome, &a.ErrorDetail)
	if err != nil {
		return domain.InstallAttempt{}, err
	}
	a.StartedAt = parseTime(startedAt)
	a.EndedAt = parseTime(endedAt)
	a.Outcome = domain.Outcome(outcome)
	return a, nil
}

// Open creates a new pending attempt for a host. At most one attempt per
// host may be pending; a second Open while one is pending returns
// ErrDuplicate.
func (r *attemptRepositoryImpl) Open(ctx context.Context, mac string) (domain.InstallAttempt, error) {
	if mac == "" {
		return domain.InstallAttempt{}, fmt.Errorf("%w: attempt MAC is required", ErrInvalidEntity)
	}

	existing, err := r.FindPendingByMAC(ctx, mac)
	if err == nil {
		return existing, fmt.Errorf("%w: pending attempt %s already open for %s", ErrDuplicate, existing.AttemptID, mac)
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.InstallAttempt{}, err
	}

	attempt := domain.InstallAttempt{
		AttemptID: uuid.NewString(),
		MAC:       mac,
		StartedAt: time.Now(),
		Outcome:   domain.OutcomePending,
	}

	query := `
		INSERT INTO install_attempts (attempt_id, mac, started_at, ended_at, outcome, error_detail)
		VALUES (?, ?, ?, '', ?, '')`

	result, err := r.db.ExecContext(ctx, query,
		attempt.AttemptID, attempt.MAC, formatTime(attempt.StartedAt), string(attempt.Outcome))
	if err != nil {
		return domain.InstallAttempt{}, fmt.Errorf("failed to open install attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.InstallAttempt{}, fmt.Errorf("failed to get attempt ID: %w", err)
	}

	attempt.ID = id
	return attempt, nil
}

// Close finalizes a pending attempt with the given outcome. Closing an
// already-closed attempt returns ErrNotFound so callers can treat duplicate
// installer events as no-ops.
func (r *attemptRepositoryImpl) Close(ctx context.Context, attemptID string, outcome domain.Outcome, detail string) (domain.InstallAttempt, error) {
	if outcome != domain.OutcomeSuccess && outcome != domain.OutcomeFailed {
		return domain.InstallAttempt{}, fmt.Errorf("%w: cannot close attempt with outcome %q", ErrInvalidEntity, outcome)
	}

	query := `
		UPDATE install_attempts
		SET ended_at = ?, outcome = ?, error_detail = ?
		WHERE attempt_id = ? AND outcome = 'pending'`

	result, err := r.db.ExecContext(ctx, query,
		formatTime(time.Now()), string(outcome), detail, attemptID)
	if err != nil {
		return domain.InstallAttempt{}, fmt.Errorf("failed to close install attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.InstallAttempt{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.InstallAttempt{}, ErrNotFound
	}

	return r.FindByAttemptID(ctx, attemptID)
}

// FindPendingByMAC finds the open attempt for a host
func (r *attemptRepositoryImpl) FindPendingByMAC(ctx context.Context, mac string) (domain.InstallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM install_attempts WHERE mac = ? AND outcome = 'pending'`

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InstallAttempt{}, ErrNotFound
		}
		return domain.InstallAttempt{}, fmt.Errorf("failed to find pending attempt: %w", err)
	}

	return attempt, nil
}

// FindByAttemptID finds an attempt by its external identifier
func (r *attemptRepositoryImpl) FindByAttemptID(ctx context.Context, attemptID string) (domain.InstallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM install_attempts WHERE attempt_id = ?`

	attempt, err := scanAttempt(r.db.QueryRowContext(ctx, query, attemptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InstallAttempt{}, ErrNotFound
		}
		return domain.InstallAttempt{}, fmt.Errorf("failed to find attempt: %w", err)
	}

	return attempt, nil
}

// FindByMAC finds all attempts for a host, newest first
func (r *attemptRepositoryImpl) FindByMAC(ctx context.Context, mac string) ([]domain.InstallAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM install_attempts WHERE mac = ? ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, mac)
	if err != nil {
		return nil, fmt.Errorf("failed to find attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.InstallAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}

	return attempts, rows.Err()
}

// DeleteByMAC removes all attempts for a host. Only used when an operator
// removes the host itself; attempt history is otherwise append-only.
func (r *attemptRepositoryImpl) DeleteByMAC(ctx context.Context, mac string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM install_attempts WHERE mac = ?`, mac); err != nil {
		return fmt.Errorf("failed to delete attempts: %w", err)
	}
	return nil
}
