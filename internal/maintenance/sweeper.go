// Package maintenance runs periodic housekeeping against the database on a
// cron schedule: expired idempotency records and stale pending message
// requests are purged.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-dm-backend/internal/repo"
)

var purged = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "maintenance_purged_total",
		Help: "Rows removed by maintenance sweeps",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(purged)
}

// Report summarises a single sweep.
type Report struct {
	Idempotency int64
	Requests    int64
}

// Sweeper purges expired rows on a cron schedule.
type Sweeper struct {
	DB         *gorm.DB
	Cron       string
	RequestTTL time.Duration
	Log        zerolog.Logger

	// RetryAfter is how long to wait when the next tick cannot be computed.
	RetryAfter time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
}

// New validates cronExpr and returns a Sweeper.
func New(db *gorm.DB, cronExpr string, requestTTL time.Duration, log zerolog.Logger) (*Sweeper, error) {
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid sweep cron expression: %q", cronExpr)
	}
	return &Sweeper{
		DB:         db,
		Cron:       cronExpr,
		RequestTTL: requestTTL,
		Log:        log.With().Str("component", "sweeper").Logger(),
		RetryAfter: 30 * time.Second,
		now:        time.Now,
	}, nil
}

// Start runs the schedule in a goroutine until ctx is cancelled. The returned
// channel closes when the loop exits.
func (s *Sweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.loop(ctx)
	}()
	s.Log.Info().Str("cron", s.Cron).Dur("request_ttl", s.RequestTTL).Msg("sweeper started")
	return done
}

func (s *Sweeper) loop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.Cron, s.now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			s.Log.Error().Err(err).Str("cron", s.Cron).Msg("next tick")
			wait = s.RetryAfter
		}
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			s.Log.Info().Msg("sweeper stopping")
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.Log.Error().Err(err).Msg("sweep failed")
		}
	}
}

// ErrBusy is returned by RunOnce when a sweep is already in progress.
var ErrBusy = errors.New("sweep already running")

// RunOnce performs one sweep. Overlapping calls return ErrBusy.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Report{}, ErrBusy
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := s.now()
	now := start.UTC()
	var rep Report

	n, err := repo.PurgeExpiredIdempotency(ctx, s.DB, now)
	if err != nil {
		return rep, fmt.Errorf("purge idempotency: %w", err)
	}
	rep.Idempotency = n
	purged.WithLabelValues("idempotency").Add(float64(n))

	if s.RequestTTL > 0 {
		n, err = repo.PurgeStaleRequests(ctx, s.DB, now.Add(-s.RequestTTL))
		if err != nil {
			return rep, fmt.Errorf("purge requests: %w", err)
		}
		rep.Requests = n
		purged.WithLabelValues("requests").Add(float64(n))
	}

	s.Log.Info().
		Str("idempotency", humanize.Comma(rep.Idempotency)).
		Str("requests", humanize.Comma(rep.Requests)).
		Dur("took", s.now().Sub(start)).
		Msg("sweep complete")
	return rep, nil
}
