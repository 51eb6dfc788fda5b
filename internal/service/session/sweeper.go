package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/forno/backend/internal/observability"
)

// Sweeper periodically evicts idle sessions on a cron schedule.
type Sweeper struct {
	cron     *cron.Cron
	sessions *Sessions
	ttl      time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewSweeper validates schedule and registers the eviction job. It does not start it.
func NewSweeper(sessions *Sessions, schedule string, ttl time.Duration, metrics *observability.Metrics, logger zerolog.Logger) (*Sweeper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("idle ttl must be positive, got %s", ttl)
	}

	s := &Sweeper{
		cron:     cron.New(),
		sessions: sessions,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Dur("ttl", s.ttl).Msg("session sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep evicts idle sessions once and returns how many were dropped.
func (s *Sweeper) Sweep() int {
	evicted := s.sessions.EvictIdle(s.ttl)
	s.metrics.SessionsEvicted(evicted)
	s.metrics.SetSessions(s.sessions.Len())
	if evicted > 0 {
		s.logger.Debug().Int("evicted", evicted).Msg("evicted idle sessions")
	}
	return evicted
}
