package syncer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/avaraes/aide/pkg/aide/connector"
)

type fakeConnector struct {
	platform string
	ready    bool
	err      error
	calls    int
}

func (f *fakeConnector) Platform() string                  { return f.platform }
func (f *fakeConnector) Initialize(context.Context) error  { return nil }
func (f *fakeConnector) HasSession() bool                  { return true }
func (f *fakeConnector) IsReady() bool                     { return f.ready }
func (f *fakeConnector) AuthState() connector.AuthState    { return connector.StateReady }
func (f *fakeConnector) Challenge() *connector.Challenge   { return nil }
func (f *fakeConnector) LastError() string                 { return "" }
func (f *fakeConnector) Logout(context.Context) error      { return nil }
func (f *fakeConnector) Destroy(context.Context) error     { return nil }
func (f *fakeConnector) GetContacts(context.Context) ([]connector.Contact, error) {
	return nil, nil
}
func (f *fakeConnector) GetInfo() (connector.Account, error) { return connector.Account{}, nil }
func (f *fakeConnector) GetChats(ctx context.Context, limit int) ([]connector.Chat, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []connector.Chat{{ID: "c1"}}, nil
}
func (f *fakeConnector) GetChatMessages(context.Context, string, int) ([]connector.Message, error) {
	return nil, nil
}
func (f *fakeConnector) GetRecentMessages(context.Context, int) ([]connector.Message, error) {
	return nil, nil
}
func (f *fakeConnector) SendMessage(context.Context, string, string) (*connector.Message, error) {
	return nil, nil
}
func (f *fakeConnector) SendMedia(context.Context, string, connector.Media) (*connector.Message, error) {
	return nil, nil
}
func (f *fakeConnector) MarkAsRead(context.Context, string) error { return nil }

func TestRefreshAll(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("refreshes ready connectors only", func(t *testing.T) {
		ready := &fakeConnector{platform: "whatsapp", ready: true}
		notReady := &fakeConnector{platform: "telegram", ready: false}

		s := New([]connector.Connector{ready, notReady}, "", 10, logger)
		s.RefreshAll(context.Background())

		if ready.calls != 1 {
			t.Errorf("ready connector: expected 1 call, got %d", ready.calls)
		}
		if notReady.calls != 0 {
			t.Errorf("not-ready connector: expected 0 calls, got %d", notReady.calls)
		}
	})

	t.Run("one failing connector does not block the rest", func(t *testing.T) {
		failing := &fakeConnector{platform: "whatsapp", ready: true, err: errors.New("boom")}
		healthy := &fakeConnector{platform: "telegram", ready: true}

		s := New([]connector.Connector{failing, healthy}, "", 10, logger)
		s.RefreshAll(context.Background())

		if healthy.calls != 1 {
			t.Errorf("healthy connector: expected 1 call, got %d", healthy.calls)
		}
	})
}

func TestStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := New(nil, "@every 1h", 10, logger)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()

	t.Run("bad schedule rejected", func(t *testing.T) {
		s := New(nil, "not a schedule", 10, logger)
		if err := s.Start(context.Background()); err == nil {
			t.Error("expected error for invalid cron expression")
		}
	})

	t.Run("stop without start is safe", func(t *testing.T) {
		New(nil, "", 10, logger).Stop()
	})
}
