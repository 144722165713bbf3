// Package historian drains the room-action queue into Postgres and marks rooms
// abandoned once their action stream goes quiet.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/jason-s-yu/cardroom/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const gameOverAction = "game_over"

// Source yields queued actions. Pop returns (nil, nil) when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*models.RoomAction, error)
}

// Store persists action batches.
type Store interface {
	InsertRoomActions(ctx context.Context, actions []models.RoomAction) error
	MarkRoomAbandoned(ctx context.Context, roomID string) (bool, error)
}

// Options tunes batching and abandonment.
type Options struct {
	BatchSize     int
	FlushDelay    time.Duration
	Inactivity    time.Duration
	CheckInterval time.Duration
	PopTimeout    time.Duration
}

// Service captures room actions in batches.
type Service struct {
	source Source
	store  Store
	opts   Options
	logger logrus.FieldLogger

	// Now is replaceable in tests.
	Now func() time.Time

	// OnGameOver, when set, is called for each game_over action once it has
	// been stored.
	OnGameOver func(ctx context.Context, action models.RoomAction) error

	batchMu sync.Mutex
	batch   []models.RoomAction

	activityMu   sync.Mutex
	lastActivity map[string]time.Time // room id -> last action seen
}

// New builds a Service. Zero options fall back to 20 actions, 500ms flushes,
// 10 minutes of inactivity checked every minute, and 3s pops.
func New(source Source, store Store, opts Options, logger logrus.FieldLogger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = 10 * time.Minute
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Minute
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 3 * time.Second
	}
	return &Service{
		source:       source,
		store:        store,
		opts:         opts,
		logger:       logger,
		Now:          time.Now,
		batch:        make([]models.RoomAction, 0, opts.BatchSize),
		lastActivity: make(map[string]time.Time),
	}
}

// Run reads, flushes and checks for inactivity until ctx is cancelled. The
// pending batch is flushed on the way out.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Historian started")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	g.Go(func() error { return s.inactivityLoop(gctx) })
	err := g.Wait()

	finalCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := s.Flush(finalCtx); ferr != nil {
		s.logger.WithError(ferr).Error("Final flush failed")
	}
	s.logger.Info("Historian stopped")
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		action, err := s.source.Pop(ctx, s.opts.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Warn("Failed to pop room action")
			continue
		}
		if action == nil {
			continue
		}
		s.Add(ctx, *action)
	}
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				s.logger.WithError(err).Error("Flush failed")
			}
		}
	}
}

func (s *Service) inactivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ExpireInactive(ctx)
		}
	}
}

// Add records activity for the action's room and queues it, flushing once
// the batch is full.
func (s *Service) Add(ctx context.Context, action models.RoomAction) {
	s.activityMu.Lock()
	if action.ActionType == gameOverAction {
		delete(s.lastActivity, action.RoomID)
	} else {
		s.lastActivity[action.RoomID] = s.Now()
	}
	s.activityMu.Unlock()

	s.batchMu.Lock()
	s.batch = append(s.batch, action)
	full := len(s.batch) >= s.opts.BatchSize
	s.batchMu.Unlock()

	if full {
		if err := s.Flush(ctx); err != nil {
			s.logger.WithError(err).Error("Flush failed")
		}
	}
}

// Flush writes the pending batch in one transaction. A failed batch is put
// back in front of newer actions.
func (s *Service) Flush(ctx context.Context) error {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return nil
	}
	pending := s.batch
	s.batch = make([]models.RoomAction, 0, s.opts.BatchSize)
	s.batchMu.Unlock()

	if err := s.store.InsertRoomActions(ctx, pending); err != nil {
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return err
	}
	s.logger.WithField("count", len(pending)).Debug("Flushed room actions")

	if s.OnGameOver != nil {
		for _, a := range pending {
			if a.ActionType != gameOverAction {
				continue
			}
			if err := s.OnGameOver(ctx, a); err != nil {
				s.logger.WithError(err).WithField("room_id", a.RoomID).Warn("Game over hook failed")
			}
		}
	}
	return nil
}

// Pending returns the number of unflushed actions.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// ExpireInactive marks every room idle for longer than the inactivity window
// as abandoned and stops tracking it. It returns the affected room ids.
func (s *Service) ExpireInactive(ctx context.Context) []string {
	now := s.Now()
	var idle []string
	s.activityMu.Lock()
	for roomID, last := range s.lastActivity {
		if now.Sub(last) > s.opts.Inactivity {
			idle = append(idle, roomID)
			delete(s.lastActivity, roomID)
		}
	}
	s.activityMu.Unlock()

	var abandoned []string
	for _, roomID := range idle {
		log := s.logger.WithField("room_id", roomID)
		changed, err := s.store.MarkRoomAbandoned(ctx, roomID)
		if err != nil {
			log.WithError(err).Error("Failed to mark room abandoned")
			continue
		}
		if changed {
			log.Info("Marked room abandoned due to inactivity")
			abandoned = append(abandoned, roomID)
		}
	}
	return abandoned
}
