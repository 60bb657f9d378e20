// Package scheduler implements background maintenance tasks for rconsole,
// currently the periodic pruning of old command history.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/db"
)

// pruneInterval is how often the history prune runs.
const pruneInterval = 6 * time.Hour

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	history *db.HistoryStore
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, history *db.HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		history: history,
	}
}

// Start begins running all scheduled tasks. It blocks until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.history != nil && s.cfg.GetApplicationData().History.RetentionDays > 0 {
		go s.runHistoryPruneLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runHistoryPruneLoop prunes command history on an interval.
func (s *Scheduler) runHistoryPruneLoop(ctx context.Context) {
	// Prune once at startup, then on the interval.
	s.pruneHistory()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneHistory()
		}
	}
}

// pruneHistory removes entries older than the configured retention.
func (s *Scheduler) pruneHistory() {
	days := s.cfg.GetApplicationData().History.RetentionDays
	retention := time.Duration(days) * 24 * time.Hour

	if _, err := s.history.Prune(retention); err != nil {
		log.Warn().Err(err).Msg("history prune failed")
	}
}
