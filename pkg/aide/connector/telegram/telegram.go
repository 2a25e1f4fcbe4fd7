// Package telegram implements the Telegram connector on gotd/td, a pure Go
// MTProto client. Auth is the multi-challenge variant: phone number, login
// code, and optionally a 2FA password, each surfaced as a pending challenge
// and resolved by a typed submit call.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaraes/aide/pkg/aide/bus"
	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/session"
	"github.com/avaraes/aide/pkg/aide/store"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Platform is the platform identifier.
const Platform = "telegram"

const destroyTimeout = 5 * time.Second

const (
	recentChatCap  = 20
	recentPageSize = 10
)

// Config holds Telegram connector configuration. APIID and APIHash identify
// the application at https://my.telegram.org; they are not user credentials.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	APIID   int    `yaml:"api_id"`
	APIHash string `yaml:"api_hash"`
}

// Telegram implements connector.ChallengeConnector.
type Telegram struct {
	cfg      Config
	store    *store.Store
	sessions *session.Store
	bus      *bus.Bus
	pipeline *connector.Pipeline
	logger   *slog.Logger
	zapLog   *zap.Logger

	state        atomic.Value // connector.AuthState
	connectGuard atomic.Bool

	// gen identifies the current client run; events and auth submissions
	// from a superseded run are discarded.
	gen atomic.Int64

	mu        sync.RWMutex
	client    *telegram.Client
	api       *tg.Client
	sender    *message.Sender
	self      *tg.User
	challenge *connector.Challenge
	lastError string
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}

	authFlow *challengeAuth

	peerMu    sync.Mutex
	peerCache map[string]tg.InputPeerClass
	nameCache map[int64]string
}

var _ connector.ChallengeConnector = (*Telegram)(nil)

// New creates a Telegram connector. zapLog feeds the gotd internals; nil
// silences them.
func New(cfg Config, st *store.Store, sessions *session.Store, b *bus.Bus,
	pipeline *connector.Pipeline, logger *slog.Logger, zapLog *zap.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	t := &Telegram{
		cfg:       cfg,
		store:     st,
		sessions:  sessions,
		bus:       b,
		pipeline:  pipeline,
		logger:    logger.With("component", "connector", "platform", Platform),
		zapLog:    zapLog,
		peerCache: make(map[string]tg.InputPeerClass),
		nameCache: make(map[int64]string),
	}
	t.state.Store(connector.StateDisconnected)
	return t
}

// Platform returns "telegram".
func (t *Telegram) Platform() string { return Platform }

// AuthState returns the current auth state.
func (t *Telegram) AuthState() connector.AuthState {
	return t.state.Load().(connector.AuthState)
}

func (t *Telegram) setState(s connector.AuthState) {
	t.state.Store(s)
}

// IsReady reports whether the connector is ready for outbound operations.
func (t *Telegram) IsReady() bool {
	return t.AuthState() == connector.StateReady
}

// Challenge returns the pending challenge, if any.
func (t *Telegram) Challenge() *connector.Challenge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.challenge
}

// LastError returns the message captured on the last error transition.
func (t *Telegram) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

// HasSession reports whether an MTProto session blob is stored.
func (t *Telegram) HasSession() bool {
	return t.sessions.Exists(Platform)
}

// Initialize starts the client in the background. With a stored session the
// auth flow is skipped by gotd; without one the phone challenge is published
// once the transport is up. No-op while ready or while a connect is in
// flight.
func (t *Telegram) Initialize(ctx context.Context) error {
	if t.cfg.APIID == 0 || t.cfg.APIHash == "" {
		return fmt.Errorf("telegram api_id/api_hash not configured")
	}
	if t.IsReady() {
		return nil
	}
	if !t.connectGuard.CompareAndSwap(false, true) {
		return nil
	}

	gen := t.gen.Add(1)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	authFlow := newChallengeAuth(t, gen)

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		if t.gen.Load() == gen {
			t.handleUpdate(ctx, update.Message, e)
		}
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		if t.gen.Load() == gen {
			t.handleUpdate(ctx, update.Message, e)
		}
		return nil
	})

	gaps := updates.New(updates.Config{
		Handler: dispatcher,
		Logger:  t.zapLog.Named("gaps"),
	})

	client := telegram.NewClient(t.cfg.APIID, t.cfg.APIHash, telegram.Options{
		Logger:         t.zapLog,
		UpdateHandler:  gaps,
		SessionStorage: &session.GotdStorage{Store: t.sessions, Platform: Platform},
	})

	t.mu.Lock()
	t.client = client
	t.cancel = cancel
	t.done = done
	t.authFlow = authFlow
	t.lastError = ""
	t.mu.Unlock()

	t.setState(connector.StateConnecting)

	go func() {
		defer close(done)
		defer t.connectGuard.Store(false)

		err := client.Run(runCtx, func(ctx context.Context) error {
			flow := auth.NewFlow(authFlow, auth.SendCodeOptions{})
			if err := client.Auth().IfNecessary(ctx, flow); err != nil {
				return fmt.Errorf("%w: %v", connector.ErrAuthFailure, err)
			}

			self, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("resolving self: %w", err)
			}

			api := client.API()
			t.mu.Lock()
			t.api = api
			t.sender = message.NewSender(api)
			t.self = self
			t.mu.Unlock()

			t.becomeReady(self)

			// Warm the peer cache so outbound calls and live updates can
			// resolve chats immediately.
			if _, err := t.fetchDialogs(ctx, recentChatCap); err != nil {
				t.logger.Warn("initial dialog fetch failed", "error", err)
			}

			return gaps.Run(ctx, api, self.ID, updates.AuthOptions{})
		})

		if t.gen.Load() != gen {
			return // superseded by a newer run
		}
		if err != nil && runCtx.Err() == nil {
			t.failAsync("client run", err)
			return
		}
		t.setState(connector.StateDisconnected)
	}()

	return nil
}

// becomeReady records the connected account and flips to ready.
func (t *Telegram) becomeReady(self *tg.User) {
	accountID := strconv.FormatInt(self.ID, 10)

	t.mu.Lock()
	t.accountID = accountID
	t.challenge = nil
	t.mu.Unlock()

	handle := self.Username
	if handle == "" {
		handle = self.Phone
	}
	account := connector.Account{
		ID:            accountID,
		Platform:      Platform,
		DisplayName:   formatUserName(self),
		PhoneOrHandle: handle,
		IsConnected:   true,
	}
	if err := t.store.UpsertAccount(account); err != nil {
		t.logger.Warn("upserting account failed", "error", err)
	}

	t.setState(connector.StateReady)
	t.publish("ready", account)
	t.logger.Info("connected", "user_id", self.ID, "username", self.Username)
}

// Logout revokes the session server-side, stops the client, and deletes the
// stored credential.
func (t *Telegram) Logout(ctx context.Context) error {
	t.mu.RLock()
	api := t.api
	t.mu.RUnlock()

	if api != nil {
		revokeCtx, cancel := context.WithTimeout(ctx, destroyTimeout)
		if _, err := api.AuthLogOut(revokeCtx); err != nil {
			t.logger.Warn("server-side logout failed, clearing local session anyway", "error", err)
		}
		cancel()
	}

	t.stop()
	if err := t.sessions.Delete(Platform); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	t.publish("disconnected", "logout")
	t.logger.Info("logged out, session cleared")
	return nil
}

// Destroy stops the client, keeping the stored credential.
func (t *Telegram) Destroy(ctx context.Context) error {
	t.stop()
	t.publish("disconnected", "destroy")
	return nil
}

// stop cancels the client run loop and waits for it, bounded by the teardown
// timeout. The generation bump invalidates any in-flight events.
func (t *Telegram) stop() {
	t.gen.Add(1)

	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	accountID := t.accountID
	t.cancel = nil
	t.done = nil
	t.client = nil
	t.api = nil
	t.sender = nil
	t.self = nil
	t.challenge = nil
	t.authFlow = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(destroyTimeout):
			t.logger.Warn("client shutdown timed out, dropping handle")
		}
	}

	t.setState(connector.StateDisconnected)

	if accountID != "" {
		if err := t.store.SetConnected(accountID, false); err != nil {
			t.logger.Warn("marking account disconnected failed", "error", err)
		}
	}
}

func (t *Telegram) setChallenge(c *connector.Challenge) {
	t.mu.Lock()
	t.challenge = c
	t.mu.Unlock()
}

// failAsync records an error transition from the background run loop.
func (t *Telegram) failAsync(op string, err error) {
	msg := fmt.Sprintf("%s: %v", op, err)
	t.mu.Lock()
	t.lastError = msg
	t.challenge = nil
	t.mu.Unlock()
	t.setState(connector.StateError)
	t.publish("auth_failure", msg)
	t.logger.Warn("connector failed", "op", op, "error", err)
}

func (t *Telegram) publish(kind string, payload any) {
	if t.bus != nil {
		t.bus.Publish(bus.Event{Kind: Platform + "." + kind, Payload: payload})
	}
}

func (t *Telegram) currentAccountID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.accountID
}

// formatUserName builds a display name from the available user fields.
func formatUserName(u *tg.User) string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return u.Username
	}
	return strconv.FormatInt(u.ID, 10)
}
