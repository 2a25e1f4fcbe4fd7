// Package syncer periodically refreshes chat lists from the connected
// platforms so locally stored unread counts and last-message previews track
// the platform's own numbers between live events.
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"

	"github.com/robfig/cron/v3"
)

// Syncer runs a cron-scheduled chat refresh across connectors.
type Syncer struct {
	connectors []connector.Connector
	schedule   string
	chatLimit  int
	logger     *slog.Logger

	cron *cron.Cron
}

// New creates a syncer. schedule is a cron expression (robfig syntax,
// "@every 15m" style descriptors included).
func New(connectors []connector.Connector, schedule string, chatLimit int, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = "@every 15m"
	}
	if chatLimit <= 0 {
		chatLimit = 50
	}
	return &Syncer{
		connectors: connectors,
		schedule:   schedule,
		chatLimit:  chatLimit,
		logger:     logger.With("component", "syncer"),
	}
}

// Start registers the refresh job and starts the scheduler.
func (s *Syncer) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.RefreshAll(ctx) }); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("chat refresh scheduled", "schedule", s.schedule)
	return nil
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (s *Syncer) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RefreshAll refreshes every ready connector. Connectors that are not ready
// are skipped silently; a failing refresh is logged and does not block the
// others.
func (s *Syncer) RefreshAll(ctx context.Context) {
	for _, c := range s.connectors {
		if !c.IsReady() {
			continue
		}
		start := time.Now()
		chats, err := c.GetChats(ctx, s.chatLimit)
		if err != nil {
			s.logger.Warn("chat refresh failed", "platform", c.Platform(), "error", err)
			continue
		}
		s.logger.Debug("chat refresh done",
			"platform", c.Platform(),
			"chats", len(chats),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
