package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paceclub/internal/bus"
	"paceclub/internal/domain"
	"paceclub/internal/events"
	"paceclub/internal/persistence"
)

const defaultResyncInterval = 5 * time.Minute

// UnreadFetcher fetches the authoritative unread snapshot.
type UnreadFetcher interface {
	GetUnreadCounts(ctx context.Context, userID string) (domain.UnreadCounts, error)
}

// ResyncServiceConfig customizes the periodic unread resync.
type ResyncServiceConfig struct {
	UserID      string
	Interval    time.Duration
	Fetcher     UnreadFetcher
	Clubs       *domain.UnreadStore
	DMs         *domain.UnreadStore
	Badges      *domain.BadgeAggregator
	Bus         bus.MessageBus
	Writer      *persistence.WriterQueue
	UnreadCache *persistence.UnreadRepo
	Logger      *slog.Logger
}

// ResyncService periodically replaces local unread state with the
// backend's authoritative counts, correcting drift from optimistic
// mutation or events missed while disconnected. Failures are logged and
// local state is left untouched until the next attempt succeeds.
type ResyncService struct {
	userID      string
	interval    time.Duration
	fetcher     UnreadFetcher
	clubs       *domain.UnreadStore
	dms         *domain.UnreadStore
	badges      *domain.BadgeAggregator
	bus         bus.MessageBus
	writer      *persistence.WriterQueue
	unreadCache *persistence.UnreadRepo
	logger      *slog.Logger

	startOnce sync.Once
}

func NewResyncService(cfg ResyncServiceConfig) *ResyncService {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultResyncInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "app.resync")
	}

	return &ResyncService{
		userID:      cfg.UserID,
		interval:    interval,
		fetcher:     cfg.Fetcher,
		clubs:       cfg.Clubs,
		dms:         cfg.DMs,
		badges:      cfg.Badges,
		bus:         cfg.Bus,
		writer:      cfg.Writer,
		unreadCache: cfg.UnreadCache,
		logger:      logger,
	}
}

func (s *ResyncService) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *ResyncService) run(ctx context.Context) {
	s.logger.Info("resync service started", "interval", s.interval.String())

	if err := s.ResyncNow(ctx); err != nil {
		s.logger.Warn("initial unread resync", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("resync service stopped")

			return
		case <-ticker.C:
			if err := s.ResyncNow(ctx); err != nil {
				s.logger.Warn("scheduled unread resync", "error", err)
			}
		}
	}
}

// ResyncNow fetches the authoritative snapshot and overwrites local state
// wholesale. The backend always wins at resync time; this is an
// overwrite, not a merge.
func (s *ResyncService) ResyncNow(ctx context.Context) error {
	counts, err := s.fetcher.GetUnreadCounts(ctx, s.userID)
	if err != nil {
		return err
	}

	s.clubs.ReplaceAll(counts.ClubUnread)
	s.dms.ReplaceAll(counts.DMUnread)

	total := s.badges.Total()
	s.logger.Debug("unread state resynced",
		"club_conversations", len(counts.ClubUnread),
		"dm_conversations", len(counts.DMUnread),
		"total", total,
	)
	s.bus.Publish(events.TopicUnreadChanged, events.UnreadChanged{Total: total})

	if s.writer != nil && s.unreadCache != nil {
		clubCounts := s.clubs.Counts()
		dmCounts := s.dms.Counts()
		s.writer.Enqueue("unread_snapshot.clubs", func(wctx context.Context) error {
			return s.unreadCache.ReplaceSnapshot(wctx, domain.ConversationKindClub, clubCounts)
		})
		s.writer.Enqueue("unread_snapshot.dms", func(wctx context.Context) error {
			return s.unreadCache.ReplaceSnapshot(wctx, domain.ConversationKindDirect, dmCounts)
		})
	}

	return nil
}
