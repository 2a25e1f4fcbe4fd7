// Package whatsapp implements the WhatsApp connector using whatsmeow — a
// native Go WhatsApp Web API library. Single-challenge auth: the library
// emits a scannable QR token, the connector republishes it on the bus, and
// the session container persists credentials across restarts.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avaraes/aide/pkg/aide/bus"
	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/session"
	"github.com/avaraes/aide/pkg/aide/store"

	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session container.
)

// Platform is the platform identifier.
const Platform = "whatsapp"

// destroyTimeout bounds teardown; a misbehaving client is force-dropped
// rather than allowed to hang shutdown.
const destroyTimeout = 5 * time.Second

// recentChatCap and recentPageSize bound GetRecentMessages latency
// independently of the caller's limit.
const (
	recentChatCap  = 20
	recentPageSize = 10
)

// Config holds WhatsApp connector configuration.
type Config struct {
	// Enabled turns the connector on.
	Enabled bool `yaml:"enabled"`

	// DeviceName is shown in the phone's linked devices list.
	DeviceName string `yaml:"device_name"`
}

// WhatsApp implements connector.Connector.
type WhatsApp struct {
	cfg      Config
	store    *store.Store
	sessions *session.Store
	bus      *bus.Bus
	pipeline *connector.Pipeline
	logger   *slog.Logger

	// state is the auth state machine position.
	state atomic.Value // connector.AuthState

	// connectGuard prevents a second Initialize while one is in flight.
	connectGuard atomic.Bool

	mu        sync.RWMutex
	client    *whatsmeow.Client
	container *sqlstore.Container
	challenge *connector.Challenge
	lastError string
	accountID string

	cancel context.CancelFunc
}

var _ connector.Connector = (*WhatsApp)(nil)

// New creates a WhatsApp connector. The pipeline receives every normalized
// inbound message.
func New(cfg Config, st *store.Store, sessions *session.Store, b *bus.Bus,
	pipeline *connector.Pipeline, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Aide"
	}
	w := &WhatsApp{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		bus:      b,
		pipeline: pipeline,
		logger:   logger.With("component", "connector", "platform", Platform),
	}
	w.state.Store(connector.StateDisconnected)
	return w
}

// Platform returns "whatsapp".
func (w *WhatsApp) Platform() string { return Platform }

// AuthState returns the current auth state.
func (w *WhatsApp) AuthState() connector.AuthState {
	return w.state.Load().(connector.AuthState)
}

func (w *WhatsApp) setState(s connector.AuthState) {
	w.state.Store(s)
}

// IsReady reports whether the connector is ready for outbound operations.
func (w *WhatsApp) IsReady() bool {
	return w.AuthState() == connector.StateReady
}

// Challenge returns the pending QR challenge, if any.
func (w *WhatsApp) Challenge() *connector.Challenge {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.challenge
}

// LastError returns the message captured on the last error transition.
func (w *WhatsApp) LastError() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

// sessionDBPath is the whatsmeow session container path. The blob format is
// library-defined (SQLite) and treated as opaque.
func (w *WhatsApp) sessionDBPath() string {
	return filepath.Join(filepath.Dir(w.sessions.Path(Platform)), "session.db")
}

// HasSession reports whether a linked device session is stored, without
// connecting. Used by the UI to distinguish "reconnecting" from "needs QR".
func (w *WhatsApp) HasSession() bool {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()

	if client != nil {
		return client.Store.ID != nil
	}
	_, err := os.Stat(w.sessionDBPath())
	return err == nil
}

// Initialize starts the connector. With a stored session it reconnects;
// without one it starts the QR login flow in the background. A call while
// ready, or while another Initialize is in flight, is a no-op — duplicate
// underlying clients would corrupt the shared session container.
func (w *WhatsApp) Initialize(ctx context.Context) error {
	if w.IsReady() {
		return nil
	}
	if !w.connectGuard.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	w.setState(connector.StateConnecting)
	w.setError("")

	if _, err := w.sessions.Dir(Platform); err != nil {
		w.connectGuard.Store(false)
		cancel()
		return w.fail("preparing session dir", err)
	}

	container, err := sqlstore.New(runCtx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.sessionDBPath()),
		waLog.Noop)
	if err != nil {
		w.connectGuard.Store(false)
		cancel()
		return w.fail("creating session container", err)
	}

	device, err := container.GetFirstDevice(runCtx)
	if err != nil {
		w.connectGuard.Store(false)
		cancel()
		return w.fail("loading device", err)
	}

	wastore.SetOSInfo(w.cfg.DeviceName, [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = true
	client.InitialAutoReconnect = true
	client.AddEventHandler(func(evt any) {
		// Stale-handle guard: events from a client torn down by
		// Logout/Destroy are discarded rather than applied.
		if !w.isActive(client) {
			return
		}
		w.handleEvent(runCtx, evt)
	})

	if old := w.installClient(client, container, cancel); old != nil {
		// A handle can survive a StreamReplaced or error transition;
		// drop its socket before the new client takes over.
		w.logger.Info("disconnecting stale client handle")
		old.Disconnect()
	}

	if client.Store.ID == nil {
		// First login: run the QR flow without blocking the caller.
		w.logger.Info("no stored session, QR pairing required")
		go func() {
			defer w.connectGuard.Store(false)
			if err := w.loginWithQR(runCtx, client); err != nil {
				w.logger.Warn("QR login did not complete", "error", err)
			}
		}()
		return nil
	}

	// Existing session: reconnect. The Connected event completes the
	// transition to ready.
	if err := client.Connect(); err != nil {
		w.connectGuard.Store(false)
		w.teardown(false)
		return w.fail("connecting", err)
	}
	w.connectGuard.Store(false)
	w.logger.Info("reconnecting with stored session")
	return nil
}

// loginWithQR drives the single-challenge flow: republish each QR token,
// resolve once the library reports success.
func (w *WhatsApp) loginWithQR(ctx context.Context, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return w.fail("getting QR channel", err)
	}
	if err := client.Connect(); err != nil {
		return w.fail("connecting for QR", err)
	}

	w.setState(connector.StateWaitingQR)

	for {
		select {
		case <-ctx.Done():
			w.setState(connector.StateDisconnected)
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return w.fail("QR flow", fmt.Errorf("QR channel closed"))
			}
			if !w.isActive(client) {
				return nil
			}

			switch evt.Event {
			case "code":
				w.setChallenge(&connector.Challenge{
					Kind:    "qr",
					Payload: evt.Code,
					Message: "Scan the QR code with WhatsApp to link this device",
				})
				w.setState(connector.StateWaitingQR)
				w.publish("challenge", w.Challenge())

			case "success":
				w.setChallenge(nil)
				w.setState(connector.StateConnecting)
				// Connected event finishes the ready transition.
				return nil

			case "timeout":
				w.setChallenge(nil)
				w.setState(connector.StateDisconnected)
				w.publish("disconnected", "qr_timeout")
				return fmt.Errorf("QR code expired")

			default:
				if evt.Error != nil {
					w.setChallenge(nil)
					return w.fail("QR login", evt.Error)
				}
			}
		}
	}
}

// becomeReady completes the transition to ready: upsert the own account as
// connected and notify observers. The whatsmeow container has already
// persisted the credentials at this point.
func (w *WhatsApp) becomeReady() {
	w.mu.Lock()
	client := w.client
	if client == nil || client.Store.ID == nil {
		w.mu.Unlock()
		return
	}
	jid := client.Store.ID.ToNonAD()
	w.accountID = jid.String()
	w.challenge = nil
	w.mu.Unlock()

	account := connector.Account{
		ID:            jid.String(),
		Platform:      Platform,
		DisplayName:   client.Store.PushName,
		PhoneOrHandle: jid.User,
		IsConnected:   true,
	}
	if err := w.store.UpsertAccount(account); err != nil {
		w.logger.Warn("upserting account failed", "error", err)
	}

	w.setState(connector.StateReady)
	w.publish("ready", account)
	w.logger.Info("connected", "jid", jid.String())
}

// Logout disconnects and deletes the stored credential.
func (w *WhatsApp) Logout(ctx context.Context) error {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()
	if client == nil {
		// Not initialized; still remove any stored session.
		return w.removeSessionFiles()
	}

	ctx, cancel := context.WithTimeout(ctx, destroyTimeout)
	defer cancel()

	if err := client.Logout(ctx); err != nil {
		w.logger.Warn("logout error, forcing cleanup", "error", err)
		client.Disconnect()
		if delErr := client.Store.Delete(ctx); delErr != nil {
			w.logger.Warn("deleting device store failed", "error", delErr)
		}
	}

	w.teardown(true)
	w.publish("disconnected", "logout")
	w.logger.Info("logged out, session cleared")
	return nil
}

// Destroy disconnects and releases resources, keeping the credential so the
// session survives a restart.
func (w *WhatsApp) Destroy(ctx context.Context) error {
	w.mu.RLock()
	client := w.client
	w.mu.RUnlock()
	if client == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		client.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(destroyTimeout):
		w.logger.Warn("disconnect timed out, dropping client handle")
	case <-ctx.Done():
	}

	w.teardown(false)
	w.publish("disconnected", "destroy")
	return nil
}

// teardown clears the client handle and challenge state, marks the account
// disconnected, and on logout removes the session files.
func (w *WhatsApp) teardown(logout bool) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.client = nil
	w.container = nil
	w.challenge = nil
	accountID := w.accountID
	w.mu.Unlock()

	w.setState(connector.StateDisconnected)

	if accountID != "" {
		if err := w.store.SetConnected(accountID, false); err != nil {
			w.logger.Warn("marking account disconnected failed", "error", err)
		}
	}
	if logout {
		if err := w.removeSessionFiles(); err != nil {
			w.logger.Warn("removing session files failed", "error", err)
		}
	}
}

func (w *WhatsApp) removeSessionFiles() error {
	path := w.sessionDBPath()
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// installClient swaps in a new client handle, cancelling the displaced run
// context, and returns the previous handle so the caller can disconnect it
// outside the lock.
func (w *WhatsApp) installClient(client *whatsmeow.Client, container *sqlstore.Container,
	cancel context.CancelFunc) *whatsmeow.Client {
	w.mu.Lock()
	old := w.client
	if w.cancel != nil {
		w.cancel()
	}
	w.client = client
	w.container = container
	w.cancel = cancel
	w.mu.Unlock()
	return old
}

// isActive reports whether the given client is still the connector's
// current handle.
func (w *WhatsApp) isActive(client *whatsmeow.Client) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.client == client
}

func (w *WhatsApp) currentClient() *whatsmeow.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.client
}

func (w *WhatsApp) setChallenge(c *connector.Challenge) {
	w.mu.Lock()
	w.challenge = c
	w.mu.Unlock()
}

func (w *WhatsApp) setError(msg string) {
	w.mu.Lock()
	w.lastError = msg
	w.mu.Unlock()
}

// fail records an error transition. No automatic retry: the caller must
// re-invoke Initialize.
func (w *WhatsApp) fail(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	w.setError(wrapped.Error())
	w.setState(connector.StateError)
	w.publish("auth_failure", wrapped.Error())
	return wrapped
}

func (w *WhatsApp) publish(kind string, payload any) {
	if w.bus != nil {
		w.bus.Publish(bus.Event{Kind: Platform + "." + kind, Payload: payload})
	}
}
