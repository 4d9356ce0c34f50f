package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/liamcoop/flyclaim/lifecycle"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements Store on PostgreSQL using the claims and
// claim_activities tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed claim store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Record, act Activity) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO claims (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = tx.ExecContext(ctx, query,
		r.ID, r.Reference, r.FlightNumber, r.AirlineCode, r.AirlineName, r.FlightDate.UTC(),
		r.RouteFrom, r.RouteTo, string(enc.request), nullJSON(enc.compensation), nullJSON(enc.obligations), r.Status.String(),
		nullTime(r.SubmittedAt), nullTime(r.ResponseDeadline), nullTime(r.EscalatedAt), nullTime(r.ResolvedAt),
		r.ResolutionNotes, r.AmountReceived, r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}

	act.ClaimID = r.ID
	if err := insertPostgresActivity(ctx, tx, act); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE id = $1`
	r, err := scanPostgresRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE reference = $1`
	r, err := scanPostgresRecord(s.db.QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, reference)
	}
	return r, err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status lifecycle.Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE status = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, status.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountReferences(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE reference LIKE $1`, prefix+"%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SaveTransition(ctx context.Context, r *Record, from lifecycle.Status, act Activity) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE claims SET
			status = $2, submitted_at = $3, response_deadline = $4, escalated_at = $5, resolved_at = $6,
			compensation = $7, obligations = $8, resolution_notes = $9, amount_received = $10, updated_at = $11
		WHERE id = $1 AND status = $12`

	result, err := tx.ExecContext(ctx, query,
		r.ID, r.Status.String(), nullTime(r.SubmittedAt), nullTime(r.ResponseDeadline), nullTime(r.EscalatedAt), nullTime(r.ResolvedAt),
		nullJSON(enc.compensation), nullJSON(enc.obligations), r.ResolutionNotes, r.AmountReceived, r.UpdatedAt.UTC(),
		from.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM claims WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check claim existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		return fmt.Errorf("%w: %s is no longer %s", ErrConflict, r.ID, from)
	}

	if err := insertPostgresActivity(ctx, tx, act); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendActivity(ctx context.Context, act Activity) error {
	err := insertPostgresActivity(ctx, s.db, act)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%w: %s", ErrNotFound, act.ClaimID)
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPostgresActivity(ctx context.Context, db execer, act Activity) error {
	meta, err := encodeMetadata(act.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO claim_activities (claim_id, activity_type, description, performed_by, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	created := act.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = db.ExecContext(ctx, query,
		act.ClaimID, string(act.Type), act.Description, act.PerformedBy, nullJSON(meta), created.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) Activities(ctx context.Context, claimID string) ([]Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM claim_activities WHERE claim_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var (
			act     Activity
			actType string
			meta    []byte
		)
		if err := rows.Scan(&act.ID, &act.ClaimID, &actType, &act.Description, &act.PerformedBy, &meta, &act.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		act.Type = ActivityType(actType)
		act.CreatedAt = act.CreatedAt.UTC()
		if act.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(out) == 0 {
		if _, err := s.Get(ctx, claimID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanPostgresRecord(row rowScanner) (*Record, error) {
	var (
		r         Record
		status    string
		enc       encodedRecord
		submitted sql.NullTime
		deadline  sql.NullTime
		escalated sql.NullTime
		resolved  sql.NullTime
	)

	err := row.Scan(
		&r.ID, &r.Reference, &r.FlightNumber, &r.AirlineCode, &r.AirlineName, &r.FlightDate,
		&r.RouteFrom, &r.RouteTo, &enc.request, &enc.compensation, &enc.obligations, &status,
		&submitted, &deadline, &escalated, &resolved,
		&r.ResolutionNotes, &r.AmountReceived, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan claim: %w", err)
	}

	if r.Status, err = parseStoredStatus(r.ID, status); err != nil {
		return nil, err
	}
	if err := enc.decodeInto(&r); err != nil {
		return nil, err
	}

	r.SubmittedAt = timePtr(submitted)
	r.ResponseDeadline = timePtr(deadline)
	r.EscalatedAt = timePtr(escalated)
	r.ResolvedAt = timePtr(resolved)
	r.FlightDate = r.FlightDate.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	return &r, nil
}
