package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paceclub/internal/app"
	"paceclub/internal/domain"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run paceclub", "error", err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "print version and exit")
	badgeInterval := flag.Duration("badge-interval", 30*time.Second, "how often to log the aggregate unread badge")
	flag.Parse()

	if *showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())

		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	logger := rt.LogManager.Logger("cli")
	logger.Info("runtime ready", "user_id", rt.CurrentConfig().Session.UserID)

	ticker := time.NewTicker(*badgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")

			return nil
		case <-ticker.C:
			logBadge(logger, rt)
		}
	}
}

func logBadge(logger *slog.Logger, rt *app.Runtime) {
	status := "unknown"
	if feed, ok := rt.FeedStatus(); ok {
		status = string(feed.State)
	}
	logger.Info("unread badge",
		"total", rt.Badges.Total(),
		"clubs", rt.Clubs.Total(),
		"dms", rt.DMs.Total(),
		"feed", status,
	)
	if active, ok := activeRef(rt); ok {
		logger.Info("active conversation", "kind", active.Kind.String(), "id", active.ID)
	}
}

func activeRef(rt *app.Runtime) (domain.ConversationRef, bool) {
	return rt.Active.Active()
}
