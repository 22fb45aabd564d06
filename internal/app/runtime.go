package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paceclub/internal/backend"
	"paceclub/internal/bus"
	"paceclub/internal/config"
	"paceclub/internal/domain"
	"paceclub/internal/events"
	"paceclub/internal/logging"
	"paceclub/internal/notifications"
	"paceclub/internal/persistence"
	"paceclub/internal/realtime"
)

// Runtime owns the assembled sync core: stores, bus, backend client,
// live feed, and the services routing between them. Lifecycle is tied to
// the application session, not module load; everything reachable from
// here is injected, never ambient.
type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	MessageRepo *persistence.MessageRepo
	UnreadRepo  *persistence.UnreadRepo
	WriterQueue *persistence.WriterQueue

	Active        *domain.ActiveTracker
	Clubs         *domain.UnreadStore
	DMs           *domain.UnreadStore
	Badges        *domain.BadgeAggregator
	Conversations *domain.ConversationStore

	Backend *backend.Client
	Stream  *realtime.Stream

	Router        *Router
	Resync        *ResyncService
	ConvService   *ConversationService
	Sender        *MessageSender
	Notifications *NotificationService

	foregroundProbe func() bool

	feedStatusMu    sync.RWMutex
	feedStatus      events.FeedStatus
	feedStatusKnown bool
}

func Initialize(parent context.Context) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting paceclub runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.DB = db
	rt.MessageRepo = persistence.NewMessageRepo(db)
	rt.UnreadRepo = persistence.NewUnreadRepo(db)

	apiClient, err := backend.NewClient(backend.ClientConfig{
		BaseURL:   cfg.Backend.BaseURL,
		AuthToken: cfg.Backend.AuthToken,
		Logger:    logMgr.Logger("backend"),
	})
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize backend client: %w", err)
	}
	rt.Backend = apiClient

	rt.Active = domain.NewActiveTracker()
	rt.Clubs = domain.NewUnreadStore(domain.UnreadStoreConfig{
		Kind:      domain.ConversationKindClub,
		Persister: apiClient.ClubReads(),
		Logger:    logMgr.Logger("domain.unread.club"),
	})
	rt.DMs = domain.NewUnreadStore(domain.UnreadStoreConfig{
		Kind:      domain.ConversationKindDirect,
		Persister: apiClient.DirectReads(),
		Logger:    logMgr.Logger("domain.unread.direct"),
	})
	rt.Badges = domain.NewBadgeAggregator(rt.Clubs, rt.DMs)
	rt.Conversations = domain.NewConversationStore()

	rt.warmStartFromCache(ctx)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	statusSub := b.Subscribe(events.TopicFeedStatus)
	go rt.captureFeedStatus(ctx, statusSub)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	StartCacheProjection(ctx, b, writerQueue, rt.MessageRepo)

	rt.Router = NewRouter(b, rt.Active, rt.Clubs, rt.DMs, rt.Conversations, rt.Badges, rt.currentUserID, logMgr.Logger("app.router"))
	rt.Router.Start(ctx)

	rt.Resync = NewResyncService(ResyncServiceConfig{
		UserID:      cfg.Session.UserID,
		Interval:    time.Duration(cfg.Sync.ResyncIntervalMinutes) * time.Minute,
		Fetcher:     apiClient,
		Clubs:       rt.Clubs,
		DMs:         rt.DMs,
		Badges:      rt.Badges,
		Bus:         b,
		Writer:      writerQueue,
		UnreadCache: rt.UnreadRepo,
		Logger:      logMgr.Logger("app.resync"),
	})
	rt.Resync.Start(ctx)

	rt.ConvService = NewConversationService(
		b, rt.Active, rt.Clubs, rt.DMs, rt.Badges, rt.Conversations,
		apiClient, rt.MessageRepo, rt.currentUserID, cfg.Sync.MessagePageSize,
		logMgr.Logger("app.conversations"),
	)
	rt.Sender = NewMessageSender(b, rt.Conversations, apiClient, rt.currentSession, logMgr.Logger("app.sender"))

	rt.Notifications = NewNotificationService(
		b, rt.CurrentConfig, rt.isForeground,
		notifications.NewBeeepSender(Name, logMgr.Logger("notifications")),
		logMgr.Logger("app.notifications"),
	)
	rt.Notifications.Start(ctx)

	stream, err := realtime.NewStream(realtime.StreamConfig{
		URL:       cfg.Backend.RealtimeURL,
		AuthToken: cfg.Backend.AuthToken,
		Bus:       b,
		Logger:    logMgr.Logger("realtime"),
	})
	if err != nil {
		_ = rt.Close()

		return nil, fmt.Errorf("initialize realtime stream: %w", err)
	}
	rt.Stream = stream
	stream.Start(ctx)

	return rt, nil
}

// warmStartFromCache hydrates the unread stores from the last persisted
// snapshot so badges show a plausible value before the first resync.
func (r *Runtime) warmStartFromCache(ctx context.Context) {
	clubCounts, err := r.UnreadRepo.LoadSnapshot(ctx, domain.ConversationKindClub)
	if err != nil {
		slog.Warn("load club unread snapshot", "error", err)
	} else if len(clubCounts) > 0 {
		r.Clubs.ReplaceAll(clubCounts)
	}

	dmCounts, err := r.UnreadRepo.LoadSnapshot(ctx, domain.ConversationKindDirect)
	if err != nil {
		slog.Warn("load dm unread snapshot", "error", err)
	} else if len(dmCounts) > 0 {
		r.DMs.ReplaceAll(dmCounts)
	}

	cached, err := r.MessageRepo.LoadRecentPerConversation(ctx, RecentMessagesLoad)
	if err != nil {
		slog.Warn("load cached messages", "error", err)

		return
	}
	for conversationID, msgs := range cached {
		r.Conversations.LoadInitial(conversationID, msgs)
	}
}

func (r *Runtime) captureFeedStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(events.FeedStatus)
			if !ok {
				continue
			}
			r.feedStatusMu.Lock()
			r.feedStatus = status
			r.feedStatusKnown = true
			r.feedStatusMu.Unlock()
		}
	}
}

// FeedStatus returns the last observed live-feed connection status.
func (r *Runtime) FeedStatus() (events.FeedStatus, bool) {
	r.feedStatusMu.RLock()
	defer r.feedStatusMu.RUnlock()

	return r.feedStatus, r.feedStatusKnown
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveConfig persists and applies a new configuration.
func (r *Runtime) SaveConfig(cfg config.AppConfig) error {
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.Config = cfg
	r.mu.Unlock()

	return nil
}

// SetForegroundProbe lets the embedding UI report window focus, so
// notifications can be muted while the app is on screen.
func (r *Runtime) SetForegroundProbe(probe func() bool) {
	r.mu.Lock()
	r.foregroundProbe = probe
	r.mu.Unlock()
}

func (r *Runtime) isForeground() bool {
	r.mu.RLock()
	probe := r.foregroundProbe
	r.mu.RUnlock()
	if probe == nil {
		return false
	}

	return probe()
}

func (r *Runtime) currentUserID() string {
	return r.CurrentConfig().Session.UserID
}

func (r *Runtime) currentSession() config.SessionConfig {
	return r.CurrentConfig().Session
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			slog.Warn("close cache db", "error", err)
		}
	}
	if r.LogManager != nil {
		return r.LogManager.Close()
	}

	return nil
}
