package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avaraes/aide/pkg/aide/bus"
)

// IngestStore is the slice of the persistence collaborator the ingestion
// pipeline needs.
type IngestStore interface {
	// CreateMessage persists a canonical message.
	CreateMessage(m Message) error

	// TouchChat upserts the parent chat for an inbound message: last-message
	// fields are always overwritten, the unread count increments by 1 only
	// when the message is not from self.
	TouchChat(chatID, accountID, name string, isGroup bool, m Message) error
}

// ReplyHandler receives inbound messages that may warrant an auto-reply.
type ReplyHandler interface {
	Handle(ctx context.Context, msg Message, isGroup bool)
}

// Inbound couples a canonical message with chat metadata resolved at the
// platform boundary.
type Inbound struct {
	Message  Message
	ChatName string
	IsGroup  bool
}

// Pipeline normalizer output flows through here: persist, upsert chat,
// broadcast, and hand off to the auto-reply engine. One pipeline instance
// per connector; the platform event source delivers one message at a time,
// so Ingest is never called concurrently for the same connector.
type Pipeline struct {
	platform string
	store    IngestStore
	bus      *bus.Bus
	reply    ReplyHandler
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline for one connector. reply may be
// nil when auto-reply is disabled for the platform.
func NewPipeline(platform string, store IngestStore, b *bus.Bus, reply ReplyHandler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		platform: platform,
		store:    store,
		bus:      b,
		reply:    reply,
		logger:   logger.With("component", "pipeline", "platform", platform),
	}
}

// SetReplyHandler wires the auto-reply engine in after construction. The
// engine needs the connector for sending and the connector needs the
// pipeline, so the handler arrives last during wiring, before any events
// flow.
func (p *Pipeline) SetReplyHandler(r ReplyHandler) {
	p.reply = r
}

// Ingest runs one message through the pipeline. Persistence failures are
// returned (the caller logs and moves on); broadcast and auto-reply are
// fire-and-forget and never fail ingestion.
func (p *Pipeline) Ingest(ctx context.Context, in Inbound) error {
	m := in.Message

	if err := p.store.CreateMessage(m); err != nil {
		return fmt.Errorf("persisting message %s: %w", m.ID, err)
	}
	if err := p.store.TouchChat(m.ChatID, m.AccountID, in.ChatName, in.IsGroup, m); err != nil {
		return fmt.Errorf("upserting chat %s: %w", m.ChatID, err)
	}

	// Broadcast to subscribers. At-least-once per live process; missed
	// events are fine since persisted state is authoritative.
	if p.bus != nil {
		p.bus.Publish(bus.Event{Kind: p.platform + ".message", Payload: m})
	}

	// Hand inbound messages to the auto-reply engine without awaiting it.
	// Ingestion must never block on reply-generation latency.
	if !m.IsFromMe && p.reply != nil {
		go p.reply.Handle(ctx, m, in.IsGroup)
	}

	return nil
}
