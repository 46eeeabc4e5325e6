// Package maintenance provides background services for the compactor,
// currently a scheduled sweeper that runs armed compactions.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/loomchat/compactor/compaction"
	"github.com/loomchat/compactor/storage"
)

// DefaultSweepSchedule runs the sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// SweeperConfig holds configuration for the sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression or @every duration for sweep runs.
	// Default: "@every 1m"
	Schedule string

	// OnCompacted is called after each successful compaction.
	OnCompacted func(chatID string, result *compaction.Result)

	// OnError is called when compacting a chat fails. The sweep continues
	// with the remaining chats.
	OnError func(chatID string, err error)
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{Schedule: DefaultSweepSchedule}
}

// Sweeper periodically compacts every chat whose pending-compaction flag
// is set. It complements the inline path (compacting on the next turn of
// an active chat) by catching chats that went idle after crossing the
// threshold.
type Sweeper struct {
	store     storage.Store
	compactor *compaction.Compactor
	config    *SweeperConfig

	cron   *cron.Cron
	cancel context.CancelFunc

	// sweepMu serialises sweep runs; a tick that fires while the previous
	// sweep is still running is skipped.
	sweepMu sync.Mutex

	mu      sync.Mutex
	started bool
}

// NewSweeper creates a sweeper. If config is nil, defaults are used.
func NewSweeper(store storage.Store, compactor *compaction.Compactor, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSweepSchedule
	}

	return &Sweeper{
		store:     store,
		compactor: compactor,
		config:    config,
	}
}

// Start begins scheduled sweeping. It returns an error if the schedule
// expression is invalid or the sweeper is already running.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("maintenance: sweeper already started")
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := cron.New()
	_, err := c.AddFunc(s.config.Schedule, func() {
		if !s.sweepMu.TryLock() {
			return
		}
		defer s.sweepMu.Unlock()
		s.sweep(ctx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("maintenance: invalid schedule %q: %w", s.config.Schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	s.started = true
	c.Start()
	return nil
}

// Stop halts scheduled sweeping and cancels any in-flight sweep. It
// blocks until the running sweep's jobs have returned.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false
}

// Sweep runs one pass immediately: every pending chat is compacted.
// It is also the body of the scheduled runs.
func (s *Sweeper) Sweep(ctx context.Context) error {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) error {
	chatIDs, err := s.store.ListPendingChats(ctx)
	if err != nil {
		return fmt.Errorf("maintenance: list pending chats: %w", err)
	}

	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := s.compactor.Compact(ctx, chatID)
		if err != nil {
			// Another writer may already be compacting this chat; that
			// is not a sweep failure.
			if errors.Is(err, compaction.ErrCompactionInProgress) {
				continue
			}
			if s.config.OnError != nil {
				s.config.OnError(chatID, err)
			}
			continue
		}

		if s.config.OnCompacted != nil && !result.Skipped {
			s.config.OnCompacted(chatID, result)
		}
	}

	return nil
}
