package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/liamcoop/flyclaim/internal/logger"
)

// ErrAlreadyHandled is returned by a Dispatcher that has already acted on
// an equivalent notice. The sweep counts it as skipped.
var ErrAlreadyHandled = errors.New("notice already handled")

// Source lists the claims awaiting an airline response.
type Source interface {
	ListSubmitted(ctx context.Context) ([]Snapshot, error)
}

// Dispatcher acts on a notice.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notice) error
}

// Failure records a notice that could not be dispatched.
type Failure struct {
	ClaimID string `json:"claimId"`
	Action  Action `json:"action"`
	Error   string `json:"error"`
}

// SweepReport summarises one sweep.
type SweepReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Scanned    int       `json:"scanned"`
	Notices    []Notice  `json:"notices"`
	Escalated  int       `json:"escalated"`
	Reminded   int       `json:"reminded"`
	Skipped    int       `json:"skipped"`
	Failures   []Failure `json:"failures"`
}

// Sweeper periodically runs Monitor over a Source and hands each notice
// to a Dispatcher.
type Sweeper struct {
	source     Source
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
	log        *slog.Logger

	mu sync.Mutex // one sweep at a time

	sweeps   metric.Int64Counter
	notices  metric.Int64Counter
	failures metric.Int64Counter
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithInterval sets the delay between sweeps in Run.
func WithInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.interval = d }
}

// WithNow sets the sweeper's clock.
func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// WithMeter records sweep metrics on m instead of the global meter.
func WithMeter(m metric.Meter) SweeperOption {
	return func(s *Sweeper) { s.initMetrics(m) }
}

// NewSweeper creates a sweeper. The default interval is one hour.
func NewSweeper(source Source, dispatcher Dispatcher, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		source:     source,
		dispatcher: dispatcher,
		interval:   time.Hour,
		now:        time.Now,
		log:        logger.With("deadline-monitor"),
	}
	s.initMetrics(otel.Meter("github.com/liamcoop/flyclaim/monitor"))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) initMetrics(m metric.Meter) {
	fallback := noop.NewMeterProvider().Meter("monitor")
	var err error

	if s.sweeps, err = m.Int64Counter("flyclaim.monitor.sweeps",
		metric.WithDescription("Deadline sweeps run"),
		metric.WithUnit("{sweep}"),
	); err != nil {
		s.sweeps, _ = fallback.Int64Counter("sweeps")
	}
	if s.notices, err = m.Int64Counter("flyclaim.monitor.notices",
		metric.WithDescription("Notices emitted by the deadline monitor"),
		metric.WithUnit("{notice}"),
	); err != nil {
		s.notices, _ = fallback.Int64Counter("notices")
	}
	if s.failures, err = m.Int64Counter("flyclaim.monitor.dispatch_failures",
		metric.WithDescription("Notices that could not be dispatched"),
		metric.WithUnit("{notice}"),
	); err != nil {
		s.failures, _ = fallback.Int64Counter("failures")
	}
}

// Sweep runs one pass. A failure on one claim is recorded in the report
// and does not stop the others; only a Source error aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &SweepReport{StartedAt: s.now().UTC()}
	s.sweeps.Add(ctx, 1)

	snapshots, err := s.source.ListSubmitted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list submitted claims: %w", err)
	}
	report.Scanned = len(snapshots)
	report.Notices = Monitor(snapshots, report.StartedAt)

	for _, n := range report.Notices {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		s.notices.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(n.Action))))

		err := s.dispatch(ctx, n)
		switch {
		case err == nil:
			if n.Action == EscalateToAirSewa {
				report.Escalated++
			} else {
				report.Reminded++
			}
		case errors.Is(err, ErrAlreadyHandled):
			report.Skipped++
		default:
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", string(n.Action))))
			logger.ErrorSweep(n.ClaimID, err)
			report.Failures = append(report.Failures, Failure{ClaimID: n.ClaimID, Action: n.Action, Error: err.Error()})
		}
	}

	report.FinishedAt = s.now().UTC()
	s.log.Info("deadline sweep finished",
		"scanned", report.Scanned,
		"notices", len(report.Notices),
		"escalated", report.Escalated,
		"reminded", report.Reminded,
		"skipped", report.Skipped,
		"failed", len(report.Failures),
	)
	return report, nil
}

func (s *Sweeper) dispatch(ctx context.Context, n Notice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panicked: %v", r)
		}
	}()
	return s.dispatcher.Dispatch(ctx, n)
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("deadline sweep aborted", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
