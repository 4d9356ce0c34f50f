package claims

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/flyclaim/lifecycle"
)

var claimColumns = []string{
	"id", "reference", "flight_number", "airline_code", "airline_name", "flight_date",
	"route_from", "route_to", "request", "compensation", "obligations", "status",
	"submitted_at", "response_deadline", "escalated_at", "resolved_at",
	"resolution_notes", "amount_received", "created_at", "updated_at",
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := sampleRecord("c1", "FC-20250410-6E234-0001", lifecycle.SubmittedToAirline, baseTime)

	t.Run("claim and assessment together", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
			WithArgs(anyArgs(20)...).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claim_activities")).
			WithArgs("c1", string(ActivityAssessment), sqlmock.AnyArg(), ActorSystem, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Create(context.Background(), rec, assessment(baseTime)))
	})

	t.Run("duplicate reference", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
			WithArgs(anyArgs(20)...).
			WillReturnError(&pq.Error{Code: pgUniqueViolation, Message: "duplicate key value violates unique constraint"})
		mock.ExpectRollback()

		err := store.Create(context.Background(), rec, assessment(baseTime))
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	})

	t.Run("failed assessment insert rolls the claim back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
			WithArgs(anyArgs(20)...).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claim_activities")).
			WithArgs(anyArgs(6)...).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := store.Create(context.Background(), rec, assessment(baseTime))
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrConflict))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	submitted := baseTime.Add(time.Minute)
	deadline := submitted.Add(lifecycle.ResponseWindow)

	mock.ExpectQuery(regexp.QuoteMeta("FROM claims WHERE id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(
			"c1", "FC-20250410-6E234-0001", "6E234", "6E", "IndiGo", baseTime,
			"DEL", "BOM", []byte(`{"kind":"delay","flightDurationHours":2.5,"international":false,"delayHours":5}`),
			[]byte(`{"eligible":true,"amount":10000,"currency":"INR","kind":"delay","category":"domestic_long","reason":"ok","exemption":{"exempt":false}}`),
			nil, "SUBMITTED_TO_AIRLINE",
			submitted, deadline, nil, nil,
			"", int64(0), baseTime, baseTime,
		))

	rec, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SubmittedToAirline, rec.Status)
	assert.Equal(t, int64(10000), rec.Compensation.Amount)
	assert.Equal(t, 5.0, *rec.Request.DelayHours)
	assert.Nil(t, rec.Obligations)
	assert.Nil(t, rec.EscalatedAt)
	require.NotNil(t, rec.ResponseDeadline)
	assert.True(t, rec.ResponseDeadline.Equal(deadline))

	mock.ExpectQuery(regexp.QuoteMeta("FROM claims WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRejectsUnknownStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM claims WHERE reference = $1")).
		WithArgs("FC-1").
		WillReturnRows(sqlmock.NewRows(claimColumns).AddRow(
			"c1", "FC-1", "6E234", "", "", baseTime, "", "", []byte(`{"kind":"delay"}`), nil, nil, "LOST",
			nil, nil, nil, nil, "", int64(0), baseTime, baseTime,
		))

	_, err = NewPostgresStore(db).GetByReference(context.Background(), "FC-1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	rec := sampleRecord("c1", "FC-20250410-6E234-0001", lifecycle.EscalatedAirSewa, baseTime)
	act := Activity{ClaimID: "c1", Type: ActivityStatusChange, PerformedBy: ActorMonitor, CreatedAt: baseTime}

	updateArgs := anyArgs(12)
	updateArgs[0] = "c1"
	updateArgs[1] = "ESCALATED_AIRSEWA"
	updateArgs[11] = "SUBMITTED_TO_AIRLINE"

	t.Run("applied", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET")).
			WithArgs(updateArgs...).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claim_activities")).
			WithArgs("c1", "status_change", "", ActorMonitor, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.SaveTransition(context.Background(), rec, lifecycle.SubmittedToAirline, act))
	})

	t.Run("status moved on", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET")).
			WithArgs(updateArgs...).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := store.SaveTransition(context.Background(), rec, lifecycle.SubmittedToAirline, act)
		assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	})

	t.Run("missing claim", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET")).
			WithArgs(updateArgs...).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := store.SaveTransition(context.Background(), rec, lifecycle.SubmittedToAirline, act)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Activities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	cols := []string{"id", "claim_id", "activity_type", "description", "performed_by", "metadata", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("FROM claim_activities WHERE claim_id = $1")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), "c1", "assessment", "eligible", "system", []byte(`{"eligible":"true"}`), baseTime).
			AddRow(int64(2), "c1", "reminder_due", "15 days", "monitor", nil, baseTime.Add(time.Hour)))

	acts, err := store.Activities(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, ActivityAssessment, acts[0].Type)
	assert.Equal(t, "true", acts[0].Metadata["eligible"])
	assert.Nil(t, acts[1].Metadata)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claim_activities")).
		WithArgs("ghost", "reminder_due", "", "", nil, sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: pgForeignKeyViolation})
	err = store.AppendActivity(context.Background(), Activity{ClaimID: "ghost", Type: ActivityReminderDue, CreatedAt: baseTime})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountReferences(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM claims WHERE reference LIKE $1")).
		WithArgs("FC-20250410-6E234-%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := NewPostgresStore(db).CountReferences(context.Background(), "FC-20250410-6E234-")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
