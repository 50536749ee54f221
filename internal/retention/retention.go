// Package retention trims archived chat history in the background.
package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the part of the chat archive the service prunes.
type Store interface {
	ListRoomIDs(ctx context.Context) ([]string, error)
	PruneMessages(ctx context.Context, roomID string, keep int) (int64, error)
}

type Config struct {
	Interval     time.Duration
	KeepMessages int
	Logger       *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		KeepMessages: 1000,
	}
}

// Service keeps at most KeepMessages chat messages per room.
type Service struct {
	store  Store
	config Config
	logger *slog.Logger
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func New(store Store, config Config) *Service {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		config: config,
		logger: logger.With("component", "retention"),
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("retention service started", "interval", s.config.Interval, "keep_messages", s.config.KeepMessages)
}

// Stop waits for an in-progress pass to finish. It is safe to call twice.
func (s *Service) Stop() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.logger.Info("retention service stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.pruneAll()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneAll()
		}
	}
}

func (s *Service) pruneAll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.PruneNow(ctx); err != nil {
		s.logger.Warn("retention pass failed", "error", err)
	}
}

// PruneNow runs one pass over every room and returns how many messages
// were deleted. A failure in one room does not stop the others.
func (s *Service) PruneNow(ctx context.Context) (int64, error) {
	roomIDs, err := s.store.ListRoomIDs(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	prunedRooms := 0
	for _, roomID := range roomIDs {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.store.PruneMessages(ctx, roomID, s.config.KeepMessages)
		if err != nil {
			s.logger.Warn("prune room failed", "room", roomID, "error", err)
			continue
		}
		if n > 0 {
			total += n
			prunedRooms++
			s.logger.Debug("pruned room", "room", roomID, "deleted", n)
		}
	}

	if prunedRooms > 0 {
		s.logger.Info("pruned chat history", "rooms", prunedRooms, "deleted", total)
	}
	return total, nil
}
