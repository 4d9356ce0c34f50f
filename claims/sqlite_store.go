package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/flyclaim/lifecycle"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database for
// single-node deployments. Timestamps are stored as fixed-width UTC text
// so they sort lexically.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path and prepares
// the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: SQLite serialises writers, and an in-memory
	// database lives only as long as its connection
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// NewSQLiteStore wraps db and creates the tables if they do not exist.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`CREATE TABLE IF NOT EXISTS claims (
			id                TEXT PRIMARY KEY,
			reference         TEXT NOT NULL UNIQUE,
			flight_number     TEXT NOT NULL,
			airline_code      TEXT NOT NULL DEFAULT '',
			airline_name      TEXT NOT NULL DEFAULT '',
			flight_date       TEXT NOT NULL,
			route_from        TEXT NOT NULL DEFAULT '',
			route_to          TEXT NOT NULL DEFAULT '',
			request           TEXT NOT NULL,
			compensation      TEXT,
			obligations       TEXT,
			status            TEXT NOT NULL,
			submitted_at      TEXT,
			response_deadline TEXT,
			escalated_at      TEXT,
			resolved_at       TEXT,
			resolution_notes  TEXT NOT NULL DEFAULT '',
			amount_received   INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_status ON claims (status, submitted_at)`,
		`CREATE TABLE IF NOT EXISTS claim_activities (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			claim_id      TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
			activity_type TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			performed_by  TEXT NOT NULL DEFAULT 'system',
			metadata      TEXT,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claim_activities_claim ON claim_activities (claim_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, r *Record, act Activity) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO claims (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		r.ID, r.Reference, r.FlightNumber, r.AirlineCode, r.AirlineName, formatTime(r.FlightDate),
		r.RouteFrom, r.RouteTo, string(enc.request), nullJSON(enc.compensation), nullJSON(enc.obligations), r.Status.String(),
		formatNullTime(r.SubmittedAt), formatNullTime(r.ResponseDeadline), formatNullTime(r.EscalatedAt), formatNullTime(r.ResolvedAt),
		r.ResolutionNotes, r.AmountReceived, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		if isSQLiteConstraint(err, "UNIQUE") {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}

	act.ClaimID = r.ID
	if err := insertSQLiteActivity(ctx, tx, act); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE id = ?`
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

func (s *SQLiteStore) GetByReference(ctx context.Context, reference string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE reference = ?`
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, query, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, reference)
	}
	return r, err
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status lifecycle.Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM claims WHERE status = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, status.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountReferences(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE substr(reference, 1, ?) = ?`, len(prefix), prefix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) SaveTransition(ctx context.Context, r *Record, from lifecycle.Status, act Activity) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `UPDATE claims SET
			status = ?, submitted_at = ?, response_deadline = ?, escalated_at = ?, resolved_at = ?,
			compensation = ?, obligations = ?, resolution_notes = ?, amount_received = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := tx.ExecContext(ctx, query,
		r.Status.String(), formatNullTime(r.SubmittedAt), formatNullTime(r.ResponseDeadline), formatNullTime(r.EscalatedAt), formatNullTime(r.ResolvedAt),
		nullJSON(enc.compensation), nullJSON(enc.obligations), r.ResolutionNotes, r.AmountReceived, formatTime(r.UpdatedAt),
		r.ID, from.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM claims WHERE id = ?`, r.ID).Scan(&count); err != nil {
			return fmt.Errorf("failed to check claim existence: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
		}
		return fmt.Errorf("%w: %s is no longer %s", ErrConflict, r.ID, from)
	}

	if err := insertSQLiteActivity(ctx, tx, act); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendActivity(ctx context.Context, act Activity) error {
	err := insertSQLiteActivity(ctx, s.db, act)
	if err != nil && isSQLiteConstraint(err, "FOREIGN KEY") {
		return fmt.Errorf("%w: %s", ErrNotFound, act.ClaimID)
	}
	return err
}

func insertSQLiteActivity(ctx context.Context, db execer, act Activity) error {
	meta, err := encodeMetadata(act.Metadata)
	if err != nil {
		return err
	}

	created := act.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO claim_activities (claim_id, activity_type, description, performed_by, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		act.ClaimID, string(act.Type), act.Description, act.PerformedBy, nullJSON(meta), formatTime(created),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Activities(ctx context.Context, claimID string) ([]Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM claim_activities WHERE claim_id = ? ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Activity
	for rows.Next() {
		var (
			act     Activity
			actType string
			meta    sql.NullString
			created string
		)
		if err := rows.Scan(&act.ID, &act.ClaimID, &actType, &act.Description, &act.PerformedBy, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		act.Type = ActivityType(actType)
		if act.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if act.Metadata, err = decodeMetadata([]byte(meta.String)); err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	_ = rows.Close()

	if len(out) == 0 {
		if _, err := s.Get(ctx, claimID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	var (
		r                 Record
		status            string
		request           string
		comp, obligations sql.NullString
		flightDate        string
		created, updated  string
		submitted         sql.NullString
		deadline          sql.NullString
		escalated         sql.NullString
		resolved          sql.NullString
	)

	err := row.Scan(
		&r.ID, &r.Reference, &r.FlightNumber, &r.AirlineCode, &r.AirlineName, &flightDate,
		&r.RouteFrom, &r.RouteTo, &request, &comp, &obligations, &status,
		&submitted, &deadline, &escalated, &resolved,
		&r.ResolutionNotes, &r.AmountReceived, &created, &updated,
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

	enc := encodedRecord{request: []byte(request)}
	if comp.Valid {
		enc.compensation = []byte(comp.String)
	}
	if obligations.Valid {
		enc.obligations = []byte(obligations.String)
	}
	if err := enc.decodeInto(&r); err != nil {
		return nil, err
	}

	if r.FlightDate, err = parseTime(flightDate); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{submitted, &r.SubmittedAt},
		{deadline, &r.ResponseDeadline},
		{escalated, &r.EscalatedAt},
		{resolved, &r.ResolvedAt},
	} {
		if !f.src.Valid {
			continue
		}
		t, err := parseTime(f.src.String)
		if err != nil {
			return nil, err
		}
		*f.dst = &t
	}

	return &r, nil
}

const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func isSQLiteConstraint(err error, kind string) bool {
	return strings.Contains(err.Error(), kind+" constraint failed")
}
