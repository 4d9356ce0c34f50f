//go:build integration
// +build integration

package claims

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/flyclaim/compensation"
	"github.com/liamcoop/flyclaim/lifecycle"
	"github.com/liamcoop/flyclaim/monitor"
)

func setupPostgres(t *testing.T) *sql.DB {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "flyclaim_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	db, err := sql.Open("postgres", fmt.Sprintf("host=%s port=%s user=test password=test dbname=flyclaim_test sslmode=disable", host, port.Port()))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestPostgresStore_Contract(t *testing.T) {
	db := setupPostgres(t)

	runStoreContract(t, func(t *testing.T) Store {
		if _, err := db.Exec(`TRUNCATE claims, claim_activities RESTART IDENTITY`); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		return NewPostgresStore(db)
	})
}

func TestPostgresStore_ServiceRoundTrip(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	now := time.Now().UTC().Add(-31 * 24 * time.Hour)
	svc := NewService(NewPostgresStore(db), newDefaultCalculator(t),
		WithClock(func() time.Time { return now }))

	rec, err := svc.Open(ctx, NewClaim{
		FlightNumber: "AI101",
		FlightDate:   now.Add(-24 * time.Hour),
		Request: compensation.DisruptionRequest{
			Kind:                compensation.Cancellation,
			FlightDurationHours: 9,
			International:       true,
		},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if rec.Status != lifecycle.SubmittedToAirline || rec.Compensation.Amount != 20000 {
		t.Fatalf("unexpected claim: status=%s amount=%d", rec.Status, rec.Compensation.Amount)
	}

	sweeper := monitor.NewSweeper(svc, svc)
	report, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Escalated != 1 {
		t.Fatalf("expected 1 escalation, got %+v", report)
	}

	got, err := svc.GetByReference(ctx, rec.Reference)
	if err != nil {
		t.Fatalf("GetByReference failed: %v", err)
	}
	if got.Status != lifecycle.EscalatedAirSewa || got.EscalatedAt == nil {
		t.Errorf("expected escalated claim, got %s", got.Status)
	}

	acts, err := svc.Activities(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Activities failed: %v", err)
	}
	if len(acts) != 2 {
		t.Errorf("expected 2 activities, got %d", len(acts))
	}
}
