package telegram

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaraes/aide/pkg/aide/bus"
	"github.com/avaraes/aide/pkg/aide/connector"
	"github.com/avaraes/aide/pkg/aide/session"
	"github.com/avaraes/aide/pkg/aide/store"

	"github.com/gotd/td/tg"
)

func newTestConnector(t *testing.T) *Telegram {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "aide.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sessions := session.NewStore(filepath.Join(dir, "sessions"))
	b := bus.New()
	pipeline := connector.NewPipeline(Platform, st, b, nil, logger)
	return New(Config{Enabled: true, APIID: 12345, APIHash: "hash"}, st, sessions, b, pipeline, logger, nil)
}

func TestNew(t *testing.T) {
	tc := newTestConnector(t)

	t.Run("initial state is disconnected", func(t *testing.T) {
		if tc.AuthState() != connector.StateDisconnected {
			t.Errorf("expected 'disconnected', got %s", tc.AuthState())
		}
		if tc.IsReady() {
			t.Error("expected not ready initially")
		}
	})

	t.Run("platform name", func(t *testing.T) {
		if tc.Platform() != "telegram" {
			t.Errorf("expected platform 'telegram', got %s", tc.Platform())
		}
	})

	t.Run("no session initially", func(t *testing.T) {
		if tc.HasSession() {
			t.Error("expected no stored session")
		}
	})
}

func TestInitializeRequiresAPICredentials(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "aide.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	tc := New(Config{Enabled: true}, st, session.NewStore(dir), bus.New(),
		connector.NewPipeline(Platform, st, nil, nil, logger), logger, nil)

	if err := tc.Initialize(context.Background()); err == nil {
		t.Error("expected error without api_id/api_hash")
	}
}

func TestHasSession(t *testing.T) {
	tc := newTestConnector(t)

	if err := tc.sessions.Save(Platform, []byte("mtproto-blob")); err != nil {
		t.Fatal(err)
	}
	if !tc.HasSession() {
		t.Error("expected session to be detected")
	}

	if err := tc.sessions.Delete(Platform); err != nil {
		t.Fatal(err)
	}
	if tc.HasSession() {
		t.Error("expected no session after delete")
	}
}

func TestSubmitWithoutChallenge(t *testing.T) {
	tc := newTestConnector(t)

	if err := tc.SubmitPhoneNumber("+15551234567"); !errors.Is(err, connector.ErrNoChallenge) {
		t.Errorf("SubmitPhoneNumber: expected ErrNoChallenge, got %v", err)
	}
	if err := tc.SubmitCode("12345"); !errors.Is(err, connector.ErrNoChallenge) {
		t.Errorf("SubmitCode: expected ErrNoChallenge, got %v", err)
	}
	if err := tc.SubmitPassword("hunter2"); !errors.Is(err, connector.ErrNoChallenge) {
		t.Errorf("SubmitPassword: expected ErrNoChallenge, got %v", err)
	}
}

func TestSubmitRejectsEmptyInput(t *testing.T) {
	tc := newTestConnector(t)
	if err := tc.SubmitPhoneNumber(""); err == nil {
		t.Error("expected error for empty phone")
	}
}

func TestChallengeFlow(t *testing.T) {
	tc := newTestConnector(t)
	flow := newChallengeAuth(tc, tc.gen.Load())
	tc.mu.Lock()
	tc.authFlow = flow
	tc.mu.Unlock()

	t.Run("phone challenge blocks until submit", func(t *testing.T) {
		type result struct {
			phone string
			err   error
		}
		got := make(chan result, 1)
		go func() {
			phone, err := flow.Phone(context.Background())
			got <- result{phone, err}
		}()

		// Wait until the challenge is raised.
		deadline := time.After(2 * time.Second)
		for tc.AuthState() != connector.StateWaitingPhone {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for phone challenge")
			case <-time.After(5 * time.Millisecond):
			}
		}
		if ch := tc.Challenge(); ch == nil || ch.Kind != "phone" {
			t.Fatalf("expected pending phone challenge, got %+v", ch)
		}

		if err := tc.SubmitPhoneNumber("+15551234567"); err != nil {
			t.Fatalf("submit: %v", err)
		}

		select {
		case r := <-got:
			if r.err != nil {
				t.Fatalf("Phone returned error: %v", r.err)
			}
			if r.phone != "+15551234567" {
				t.Errorf("expected submitted phone, got %q", r.phone)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Phone did not return after submit")
		}

		if tc.Challenge() != nil {
			t.Error("expected challenge cleared after submit")
		}
		if tc.AuthState() != connector.StateConnecting {
			t.Errorf("expected 'connecting' after submit, got %s", tc.AuthState())
		}
	})

	t.Run("code challenge", func(t *testing.T) {
		got := make(chan string, 1)
		go func() {
			code, _ := flow.Code(context.Background(), &tg.AuthSentCode{})
			got <- code
		}()

		deadline := time.After(2 * time.Second)
		for tc.AuthState() != connector.StateWaitingCode {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for code challenge")
			case <-time.After(5 * time.Millisecond):
			}
		}

		if err := tc.SubmitCode("54321"); err != nil {
			t.Fatalf("submit: %v", err)
		}
		select {
		case code := <-got:
			if code != "54321" {
				t.Errorf("expected submitted code, got %q", code)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Code did not return after submit")
		}
	})

	t.Run("submit wrong kind while code pending", func(t *testing.T) {
		done := make(chan struct{})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			flow.Code(ctx, &tg.AuthSentCode{})
			close(done)
		}()

		deadline := time.After(2 * time.Second)
		for tc.AuthState() != connector.StateWaitingCode {
			select {
			case <-deadline:
				t.Fatal("timeout waiting for code challenge")
			case <-time.After(5 * time.Millisecond):
			}
		}

		if err := tc.SubmitPassword("nope"); !errors.Is(err, connector.ErrNoChallenge) {
			t.Errorf("expected ErrNoChallenge for mismatched submit, got %v", err)
		}
		cancel()
		<-done
	})

	t.Run("stale flow does not mutate state", func(t *testing.T) {
		tc.setState(connector.StateDisconnected)
		tc.setChallenge(nil)
		tc.gen.Add(1) // supersede the flow

		flow.raise(connector.StateWaitingPassword, &connector.Challenge{Kind: "password"})
		if tc.AuthState() != connector.StateDisconnected {
			t.Errorf("stale raise changed state to %s", tc.AuthState())
		}
		if tc.Challenge() != nil {
			t.Error("stale raise set a challenge")
		}
	})
}

func TestOperationsRequireReady(t *testing.T) {
	tc := newTestConnector(t)
	ctx := context.Background()

	if _, err := tc.GetChats(ctx, 10); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("GetChats: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.GetChatMessages(ctx, "user:1", 10); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("GetChatMessages: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.GetRecentMessages(ctx, 10); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("GetRecentMessages: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.GetContacts(ctx); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("GetContacts: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.GetInfo(); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("GetInfo: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.SendMessage(ctx, "user:1", "hi"); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("SendMessage: expected ErrNotReady, got %v", err)
	}
	if _, err := tc.SendMedia(ctx, "user:1", connector.Media{}); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("SendMedia: expected ErrNotReady, got %v", err)
	}
	if err := tc.MarkAsRead(ctx, "user:1"); !errors.Is(err, connector.ErrNotReady) {
		t.Errorf("MarkAsRead: expected ErrNotReady, got %v", err)
	}
}

func TestInitializeWhileInFlightIsNoOp(t *testing.T) {
	tc := newTestConnector(t)
	ctx := context.Background()

	t.Run("second call during connect leaves no client", func(t *testing.T) {
		tc.connectGuard.Store(true)
		genBefore := tc.gen.Load()

		if err := tc.Initialize(ctx); err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}

		tc.mu.RLock()
		client := tc.client
		tc.mu.RUnlock()
		if client != nil {
			t.Error("no-op call must not create a client handle")
		}
		if tc.gen.Load() != genBefore {
			t.Error("no-op call must not start a new client run")
		}
		if tc.AuthState() != connector.StateDisconnected {
			t.Errorf("no-op call must not touch state, got %s", tc.AuthState())
		}
		tc.connectGuard.Store(false)
	})

	t.Run("call while ready is a no-op", func(t *testing.T) {
		tc.setState(connector.StateReady)
		genBefore := tc.gen.Load()

		if err := tc.Initialize(ctx); err != nil {
			t.Fatalf("expected no-op, got %v", err)
		}
		if tc.gen.Load() != genBefore {
			t.Error("ready no-op must not start a new client run")
		}
		tc.setState(connector.StateDisconnected)
	})
}

func TestSurfaceFetchResult(t *testing.T) {
	tc := newTestConnector(t)

	t.Run("skipped entries go out on the bus", func(t *testing.T) {
		ch, unsub := tc.bus.Subscribe("telegram.fetch_result", 4)
		defer unsub()

		want := connector.FetchResult{Fetched: 2, SkippedIDs: []string{"chat:9"}}
		tc.surfaceFetchResult(want)

		select {
		case evt := <-ch:
			got, ok := evt.Payload.(connector.FetchResult)
			if !ok {
				t.Fatalf("unexpected payload %T", evt.Payload)
			}
			if got.Fetched != 2 || len(got.SkippedIDs) != 1 || got.SkippedIDs[0] != "chat:9" {
				t.Errorf("unexpected result %+v", got)
			}
		case <-time.After(time.Second):
			t.Error("timeout waiting for fetch result event")
		}
	})

	t.Run("clean batch publishes nothing", func(t *testing.T) {
		ch, unsub := tc.bus.Subscribe("telegram.fetch_result", 4)
		defer unsub()

		tc.surfaceFetchResult(connector.FetchResult{Fetched: 5})

		select {
		case evt := <-ch:
			t.Errorf("unexpected event %s", evt.Kind)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestFindPeerUnknown(t *testing.T) {
	tc := newTestConnector(t)
	if _, err := tc.findPeer("user:404"); !errors.Is(err, connector.ErrUnknownChat) {
		t.Errorf("expected ErrUnknownChat, got %v", err)
	}

	tc.cachePeer("user:7", &tg.InputPeerUser{UserID: 7})
	if _, err := tc.findPeer("user:7"); err != nil {
		t.Errorf("expected cached peer, got %v", err)
	}
}

func TestPeerKeys(t *testing.T) {
	tests := []struct {
		name    string
		peer    tg.PeerClass
		want    string
		isGroup bool
	}{
		{"user", &tg.PeerUser{UserID: 1}, "user:1", false},
		{"chat", &tg.PeerChat{ChatID: 2}, "chat:2", true},
		{"channel", &tg.PeerChannel{ChannelID: 3}, "channel:3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := peerKey(tt.peer)
			if key != tt.want {
				t.Errorf("expected key %q, got %q", tt.want, key)
			}
			if isGroupKey(key) != tt.isGroup {
				t.Errorf("isGroupKey(%q) = %v, want %v", key, !tt.isGroup, tt.isGroup)
			}
		})
	}

	t.Run("input peer keys match peer keys", func(t *testing.T) {
		if got := inputPeerKey(&tg.InputPeerUser{UserID: 1}); got != "user:1" {
			t.Errorf("got %q", got)
		}
		if got := inputPeerKey(&tg.InputPeerChannel{ChannelID: 3}); got != "channel:3" {
			t.Errorf("got %q", got)
		}
	})
}

func TestClassifyMedia(t *testing.T) {
	tests := []struct {
		name     string
		media    tg.MessageMediaClass
		wantType connector.MessageType
		hasMedia bool
	}{
		{"none", nil, connector.MessageText, false},
		{"webpage preview", &tg.MessageMediaWebPage{}, connector.MessageText, false},
		{"photo", &tg.MessageMediaPhoto{}, connector.MessageImage, true},
		{"geo", &tg.MessageMediaGeo{}, connector.MessageLocation, true},
		{"contact", &tg.MessageMediaContact{}, connector.MessageContact, true},
		{"voice note", &tg.MessageMediaDocument{
			Document: &tg.Document{Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{Voice: true},
			}},
		}, connector.MessageVoice, true},
		{"audio file", &tg.MessageMediaDocument{
			Document: &tg.Document{Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeAudio{},
			}},
		}, connector.MessageAudio, true},
		{"video", &tg.MessageMediaDocument{
			Document: &tg.Document{Attributes: []tg.DocumentAttributeClass{
				&tg.DocumentAttributeVideo{},
			}},
		}, connector.MessageVideo, true},
		{"plain document", &tg.MessageMediaDocument{
			Document: &tg.Document{},
		}, connector.MessageDocument, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotMedia := classifyMedia(tt.media)
			if gotType != tt.wantType || gotMedia != tt.hasMedia {
				t.Errorf("classifyMedia = (%s, %v), want (%s, %v)",
					gotType, gotMedia, tt.wantType, tt.hasMedia)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tc := newTestConnector(t)
	tc.cacheName(42, "Alice Example")

	t.Run("inbound DM", func(t *testing.T) {
		msg, ok := tc.normalize(&tg.Message{
			ID:      100,
			PeerID:  &tg.PeerUser{UserID: 42},
			Message: "hello",
			Date:    1700000000,
		})
		if !ok {
			t.Fatal("expected normalized message")
		}
		if msg.ChatID != "user:42" {
			t.Errorf("chat ID: got %q", msg.ChatID)
		}
		if msg.FromID != "42" || msg.FromName != "Alice Example" {
			t.Errorf("sender: got %q/%q", msg.FromID, msg.FromName)
		}
		if msg.IsFromMe {
			t.Error("expected inbound message")
		}
		if msg.Timestamp != 1700000000 {
			t.Errorf("timestamp: got %d", msg.Timestamp)
		}
		if msg.Type != connector.MessageText || msg.HasMedia {
			t.Errorf("type: got %s hasMedia=%v", msg.Type, msg.HasMedia)
		}
	})

	t.Run("empty service-like message dropped", func(t *testing.T) {
		if _, ok := tc.normalize(&tg.Message{
			ID:     101,
			PeerID: &tg.PeerUser{UserID: 42},
		}); ok {
			t.Error("expected message with no content to be dropped")
		}
	})

	t.Run("group message keeps sender", func(t *testing.T) {
		msg, ok := tc.normalize(&tg.Message{
			ID:      102,
			PeerID:  &tg.PeerChat{ChatID: 9},
			FromID:  &tg.PeerUser{UserID: 42},
			Message: "in group",
			Date:    1700000100,
		})
		if !ok {
			t.Fatal("expected normalized message")
		}
		if msg.ChatID != "chat:9" || msg.FromID != "42" {
			t.Errorf("got chat %q from %q", msg.ChatID, msg.FromID)
		}
	})
}

func TestFormatUserName(t *testing.T) {
	tests := []struct {
		name string
		user *tg.User
		want string
	}{
		{"full name", &tg.User{FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{"first only", &tg.User{FirstName: "Ada"}, "Ada"},
		{"username fallback", &tg.User{Username: "ada"}, "ada"},
		{"id fallback", &tg.User{ID: 7}, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatUserName(tt.user); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	tc := newTestConnector(t)
	tc.stop()
	tc.stop()
	if tc.AuthState() != connector.StateDisconnected {
		t.Errorf("expected 'disconnected', got %s", tc.AuthState())
	}
}

func TestDestroyKeepsSession(t *testing.T) {
	tc := newTestConnector(t)
	if err := tc.sessions.Save(Platform, []byte("blob")); err != nil {
		t.Fatal(err)
	}

	if err := tc.Destroy(context.Background()); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if !tc.HasSession() {
		t.Error("expected session to survive destroy")
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	tc := newTestConnector(t)
	if err := tc.sessions.Save(Platform, []byte("blob")); err != nil {
		t.Fatal(err)
	}

	if err := tc.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if tc.HasSession() {
		t.Error("expected session deleted by logout")
	}
}
