// Package connector defines the interfaces and types shared by the Aide
// chat platform connectors. Each connector (WhatsApp, Telegram) implements
// the Connector interface so the hub can drive authentication, ingestion,
// and outbound operations in a unified way.
package connector

import (
	"context"
	"errors"
)

// AuthState is the connector authentication state.
type AuthState string

const (
	StateDisconnected    AuthState = "disconnected"
	StateConnecting      AuthState = "connecting"
	StateWaitingQR       AuthState = "waiting_qr"
	StateWaitingPhone    AuthState = "waiting_phone"
	StateWaitingCode     AuthState = "waiting_code"
	StateWaitingPassword AuthState = "waiting_password"
	StateReady           AuthState = "ready"
	StateError           AuthState = "error"
)

// Challenge describes a pending authentication step that requires
// externally supplied input (QR scan, phone number, login code, 2FA
// password).
type Challenge struct {
	// Kind is "qr", "phone", "code", or "password".
	Kind string `json:"kind"`

	// Payload carries challenge data for rendering (the QR code string).
	Payload string `json:"payload,omitempty"`

	// Message is a human-readable prompt.
	Message string `json:"message,omitempty"`
}

// Connector is the per-platform façade bundling auth, ingestion, and
// outbound operations. Both platform implementations are structurally
// identical behind this interface.
type Connector interface {
	// Platform returns the platform identifier (e.g. "whatsapp").
	Platform() string

	// Initialize starts the connector: restores a persisted session when one
	// exists, or begins the onboarding challenge flow otherwise. Calling it
	// while ready or while a connect is already in flight is a no-op.
	Initialize(ctx context.Context) error

	// HasSession reports whether a persisted credential exists, without
	// touching the platform. Used to distinguish "reconnecting" from
	// "needs auth" before Initialize runs.
	HasSession() bool

	// IsReady reports whether the connector is in the ready state.
	IsReady() bool

	// AuthState returns the current authentication state.
	AuthState() AuthState

	// Challenge returns the pending challenge, or nil when none is pending.
	Challenge() *Challenge

	// LastError returns the message captured on the last error transition.
	LastError() string

	// Logout disconnects and deletes the stored credential.
	Logout(ctx context.Context) error

	// Destroy disconnects and releases resources, keeping the credential so
	// the session survives a restart.
	Destroy(ctx context.Context) error

	// GetChats fetches up to limit chats, persists them, and returns them
	// ordered by most recent activity.
	GetChats(ctx context.Context, limit int) ([]Chat, error)

	// GetChatMessages fetches up to limit messages for a chat, persists
	// them, and returns them ascending by timestamp.
	GetChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)

	// GetRecentMessages returns up to limit messages across the most
	// recently active chats, descending by timestamp.
	GetRecentMessages(ctx context.Context, limit int) ([]Message, error)

	// GetContacts returns the account's contact list.
	GetContacts(ctx context.Context) ([]Contact, error)

	// GetInfo returns the connected account.
	GetInfo() (Account, error)

	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, chatID, text string) (*Message, error)

	// SendMedia sends a media payload to a chat.
	SendMedia(ctx context.Context, chatID string, media Media) (*Message, error)

	// MarkAsRead marks a chat as read. Idempotent.
	MarkAsRead(ctx context.Context, chatID string) error
}

// ChallengeConnector is implemented by connectors whose onboarding blocks on
// typed input (the Telegram phone/code/password sequence). Each submit
// resolves the matching pending challenge; submitting when no challenge of
// that kind is pending returns an error.
type ChallengeConnector interface {
	Connector

	SubmitPhoneNumber(phone string) error
	SubmitCode(code string) error
	SubmitPassword(password string) error
}

// Errors.
var (
	// ErrNotReady is returned by operations invoked outside the ready state.
	ErrNotReady = errors.New("connector is not ready")

	// ErrAuthFailure means the platform rejected the credentials. Terminal
	// for the attempt; the caller must re-invoke Initialize.
	ErrAuthFailure = errors.New("platform rejected authentication")

	// ErrNoSession means no persisted credential exists.
	ErrNoSession = errors.New("no stored session")

	// ErrUnknownChat means the chat ID could not be resolved to a peer.
	ErrUnknownChat = errors.New("unknown chat")

	// ErrNoChallenge means no challenge of the submitted kind is pending.
	ErrNoChallenge = errors.New("no pending challenge of this kind")
)
