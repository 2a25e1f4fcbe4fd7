// Package autoreply decides whether an inbound message should receive a
// generated reply and, when it should, produces and sends one. The decision
// is a pure function over (message, settings, now); the side-effecting
// branch degrades every failure to "no reply sent" — nothing escapes this
// package's boundary.
package autoreply

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avaraes/aide/pkg/aide/bus"
	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/llm"
	"github.com/avaraes/aide/pkg/aide/notify"
	"github.com/avaraes/aide/pkg/aide/tts"
)

// Settings controls auto-reply behavior for one platform. External to the
// connector and read-only here.
type Settings struct {
	Enabled           bool     `yaml:"enabled"`
	Guidelines        string   `yaml:"guidelines"`
	ExcludeGroups     bool     `yaml:"exclude_groups"`
	TriggerKeywords   []string `yaml:"trigger_keywords"`
	BusinessHoursOnly bool     `yaml:"business_hours_only"`
	// BusinessHoursStart/End are local "HH:MM"; the reply window is
	// [start, end).
	BusinessHoursStart string `yaml:"business_hours_start"`
	BusinessHoursEnd   string `yaml:"business_hours_end"`
	SendAsVoice        bool   `yaml:"send_as_voice"`
}

// Decision is the outcome of the filter chain.
type Decision struct {
	Reply bool
	// Reason names the filter that rejected (or "pass").
	Reason string
}

// Decide applies the filter chain in short-circuit order, cheapest first:
// enabled, group exclusion, business hours, trigger keywords.
func Decide(msg connector.Message, isGroup bool, s Settings, now time.Time) Decision {
	if !s.Enabled {
		return Decision{Reason: "disabled"}
	}
	if s.ExcludeGroups && isGroup {
		return Decision{Reason: "group excluded"}
	}
	if s.BusinessHoursOnly && !withinBusinessHours(s.BusinessHoursStart, s.BusinessHoursEnd, now) {
		return Decision{Reason: "outside business hours"}
	}
	if len(s.TriggerKeywords) > 0 && !matchesKeyword(msg.Body, s.TriggerKeywords) {
		return Decision{Reason: "no keyword match"}
	}
	return Decision{Reply: true, Reason: "pass"}
}

// withinBusinessHours reports whether now's local HH:MM falls in [start, end).
// Windows crossing midnight (e.g. 22:00–06:00) wrap. Unparseable bounds fail
// closed: no reply.
func withinBusinessHours(start, end string, now time.Time) bool {
	startMin, okS := parseHHMM(start)
	endMin, okE := parseHHMM(end)
	if !okS || !okE {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}

func parseHHMM(s string) (int, bool) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, false
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func matchesKeyword(body string, keywords []string) bool {
	lower := strings.ToLower(body)
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Sender is the slice of the outbound operations the engine sends through.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) (*connector.Message, error)
	SendMedia(ctx context.Context, chatID string, media connector.Media) (*connector.Message, error)
}

// Annotator records the generated reply on the original message, addressed
// by its (chat, message) key since message IDs repeat across chats.
type Annotator interface {
	UpdateAIResponse(chatID, messageID, text string) error
}

// Engine evaluates inbound messages for one connector and auto-responds.
type Engine struct {
	platform  string
	gen       llm.Generator
	sender    Sender
	annotator Annotator
	notifier  notify.Notifier
	bus       *bus.Bus
	voice     tts.Provider
	location  *time.Location
	logger    *slog.Logger

	mu       sync.RWMutex
	settings Settings
}

// New creates an engine. voice may be nil; SendAsVoice then degrades to
// text. location defaults to time.Local.
func New(platform string, settings Settings, gen llm.Generator, sender Sender,
	annotator Annotator, notifier notify.Notifier, b *bus.Bus, voice tts.Provider,
	location *time.Location, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if location == nil {
		location = time.Local
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		platform:  platform,
		settings:  settings,
		gen:       gen,
		sender:    sender,
		annotator: annotator,
		notifier:  notifier,
		bus:       b,
		voice:     voice,
		location:  location,
		logger:    logger.With("component", "autoreply", "platform", platform),
	}
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// SetSettings replaces the settings (config reload).
func (e *Engine) SetSettings(s Settings) {
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
}

// Handle evaluates one inbound message and replies when the filters pass.
// Called from the ingestion pipeline without being awaited; every failure is
// logged and swallowed.
func (e *Engine) Handle(ctx context.Context, msg connector.Message, isGroup bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("auto-reply panic recovered", "error", r, "message_id", msg.ID)
		}
	}()

	settings := e.Settings()
	now := time.Now().In(e.location)

	decision := Decide(msg, isGroup, settings, now)
	if !decision.Reply {
		e.logger.Debug("auto-reply skipped", "reason", decision.Reason, "message_id", msg.ID)
		return
	}

	reply, err := e.gen.Generate(ctx, e.composePrompt(msg, now), e.systemInstruction(settings))
	if err != nil {
		// Single call, no retry. Degrade to no reply.
		e.logger.Warn("auto-reply generation failed", "error", err, "message_id", msg.ID)
		return
	}
	if reply == "" {
		e.logger.Debug("auto-reply generation returned empty text", "message_id", msg.ID)
		return
	}

	if err := e.send(ctx, msg.ChatID, reply, settings); err != nil {
		e.logger.Warn("auto-reply send failed", "error", err, "chat_id", msg.ChatID)
		return
	}

	if err := e.annotator.UpdateAIResponse(msg.ChatID, msg.ID, reply); err != nil {
		e.logger.Warn("auto-reply annotation failed", "error", err, "message_id", msg.ID)
	}

	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: e.platform + ".auto_reply", Payload: msg.ID})
	}
	e.notifier.Show(notify.Notification{
		Title: "Auto-reply sent",
		Body:  fmt.Sprintf("Replied to %s", senderLabel(msg)),
	})

	e.logger.Info("auto-reply sent", "chat_id", msg.ChatID, "message_id", msg.ID)
}

// send delivers the reply, as a synthesized voice note when configured and
// possible, as text otherwise.
func (e *Engine) send(ctx context.Context, chatID, reply string, settings Settings) error {
	if settings.SendAsVoice && e.voice != nil {
		audio, mimeType, err := e.voice.Synthesize(ctx, reply, "")
		if err == nil {
			_, err = e.sender.SendMedia(ctx, chatID, connector.Media{
				Data:     audio,
				MimeType: mimeType,
				Caption:  "",
				AsVoice:  true,
			})
			return err
		}
		e.logger.Warn("voice synthesis failed, falling back to text", "error", err)
	}
	_, err := e.sender.SendMessage(ctx, chatID, reply)
	return err
}

func (e *Engine) systemInstruction(settings Settings) string {
	var b strings.Builder
	b.WriteString("You are an assistant answering chat messages on behalf of the account owner. ")
	b.WriteString("Reply briefly and naturally, in the language of the incoming message. ")
	b.WriteString("Do not mention that you are an AI unless asked.")
	if g := strings.TrimSpace(settings.Guidelines); g != "" {
		b.WriteString("\n\nOwner guidelines:\n")
		b.WriteString(g)
	}
	return b.String()
}

func (e *Engine) composePrompt(msg connector.Message, now time.Time) string {
	return fmt.Sprintf("It is %s.\n%s writes:\n%s",
		now.Format("Monday 15:04, 2 Jan 2006"), senderLabel(msg), msg.Body)
}

func senderLabel(msg connector.Message) string {
	if msg.FromName != "" {
		return msg.FromName
	}
	return msg.FromID
}
