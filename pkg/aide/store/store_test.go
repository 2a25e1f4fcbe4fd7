package store

import (
	"path/filepath"
	"testing"

	"github.com/avaraes/aide/pkg/aide/connector"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "aide.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccounts(t *testing.T) {
	s := openTestStore(t)

	a := connector.Account{
		ID:            "123@s.whatsapp.net",
		Platform:      "whatsapp",
		DisplayName:   "Me",
		PhoneOrHandle: "123",
		IsConnected:   true,
	}
	if err := s.UpsertAccount(a); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetAccount(a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.DisplayName != "Me" || !got.IsConnected {
		t.Errorf("unexpected account %+v", got)
	}

	t.Run("upsert updates in place", func(t *testing.T) {
		a.DisplayName = "New Name"
		if err := s.UpsertAccount(a); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetAccount(a.ID)
		if got.DisplayName != "New Name" {
			t.Errorf("expected updated name, got %q", got.DisplayName)
		}
	})

	t.Run("set connected flag", func(t *testing.T) {
		if err := s.SetConnected(a.ID, false); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetAccount(a.ID)
		if got.IsConnected {
			t.Error("expected disconnected")
		}
	})

	t.Run("absent account returns nil", func(t *testing.T) {
		got, err := s.GetAccount("nobody")
		if err != nil || got != nil {
			t.Errorf("expected nil/nil, got %+v/%v", got, err)
		}
	})
}

func TestChatUpsertAndTouch(t *testing.T) {
	s := openTestStore(t)

	t.Run("bulk fetch overwrites unread with platform count", func(t *testing.T) {
		chat := connector.Chat{ID: "c1", AccountID: "acct", Name: "Alice", UnreadCount: 7}
		if err := s.UpsertChat(chat); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetChat("c1")
		if got.UnreadCount != 7 {
			t.Errorf("expected unread 7, got %d", got.UnreadCount)
		}

		chat.UnreadCount = 2
		if err := s.UpsertChat(chat); err != nil {
			t.Fatal(err)
		}
		got, _ = s.GetChat("c1")
		if got.UnreadCount != 2 {
			t.Errorf("platform count must overwrite, got %d", got.UnreadCount)
		}
	})

	t.Run("inbound touch increments unread", func(t *testing.T) {
		m := connector.Message{ID: "m1", ChatID: "c1", Body: "hey", Timestamp: 100, IsFromMe: false}
		if err := s.TouchChat("c1", "acct", "Alice", false, m); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetChat("c1")
		if got.UnreadCount != 3 {
			t.Errorf("expected unread 3, got %d", got.UnreadCount)
		}
		if got.LastMessageBody != "hey" || got.LastMessageTimestamp != 100 {
			t.Errorf("last-message fields not updated: %+v", got)
		}
	})

	t.Run("own message touch does not increment unread", func(t *testing.T) {
		m := connector.Message{ID: "m2", ChatID: "c1", Body: "reply", Timestamp: 200, IsFromMe: true}
		if err := s.TouchChat("c1", "acct", "Alice", false, m); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetChat("c1")
		if got.UnreadCount != 3 {
			t.Errorf("expected unread unchanged at 3, got %d", got.UnreadCount)
		}
		if !got.LastMessageFromMe || got.LastMessageBody != "reply" {
			t.Errorf("last-message fields must still update: %+v", got)
		}
	})

	t.Run("empty name never clobbers a known one", func(t *testing.T) {
		m := connector.Message{ID: "m3", ChatID: "c1", Body: "x", Timestamp: 300}
		if err := s.TouchChat("c1", "acct", "", false, m); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetChat("c1")
		if got.Name != "Alice" {
			t.Errorf("expected name kept, got %q", got.Name)
		}
	})

	t.Run("reset unread", func(t *testing.T) {
		if err := s.ResetUnread("c1"); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetChat("c1")
		if got.UnreadCount != 0 {
			t.Errorf("expected unread 0, got %d", got.UnreadCount)
		}
	})
}

func TestListChats(t *testing.T) {
	s := openTestStore(t)

	chats := []connector.Chat{
		{ID: "old", AccountID: "acct", LastMessageTimestamp: 100},
		{ID: "new", AccountID: "acct", LastMessageTimestamp: 300},
		{ID: "mid", AccountID: "acct", LastMessageTimestamp: 200},
		{ID: "other", AccountID: "someone-else", LastMessageTimestamp: 400},
	}
	if err := s.BulkUpsertChats(chats); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListChats("acct", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 chats, got %d", len(got))
	}
	for i, want := range []string{"new", "mid", "old"} {
		if got[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}

	t.Run("limit respected", func(t *testing.T) {
		got, _ := s.ListChats("acct", 2)
		if len(got) != 2 {
			t.Errorf("expected 2 chats, got %d", len(got))
		}
	})
}

func TestMessages(t *testing.T) {
	s := openTestStore(t)

	msgs := []connector.Message{
		{ID: "m3", ChatID: "c1", AccountID: "acct", Body: "third", Timestamp: 300},
		{ID: "m1", ChatID: "c1", AccountID: "acct", Body: "first", Timestamp: 100},
		{ID: "m2", ChatID: "c1", AccountID: "acct", Body: "second", Timestamp: 200},
	}
	if err := s.BulkCreateMessages(msgs); err != nil {
		t.Fatal(err)
	}

	t.Run("list ascending", func(t *testing.T) {
		got, err := s.ListMessages("c1", 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(got))
		}
		for i, want := range []string{"m1", "m2", "m3"} {
			if got[i].ID != want {
				t.Errorf("position %d: expected %s, got %s", i, want, got[i].ID)
			}
		}
	})

	t.Run("list ascending keeps the latest when limited", func(t *testing.T) {
		got, _ := s.ListMessages("c1", 2)
		if len(got) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(got))
		}
		if got[0].ID != "m2" || got[1].ID != "m3" {
			t.Errorf("expected latest two ascending, got %s %s", got[0].ID, got[1].ID)
		}
	})

	t.Run("recent lists descending", func(t *testing.T) {
		got, _ := s.ListRecentMessages("c1", 2)
		if len(got) != 2 || got[0].ID != "m3" || got[1].ID != "m2" {
			t.Errorf("expected m3,m2 got %+v", got)
		}
	})

	t.Run("replayed event is idempotent", func(t *testing.T) {
		dup := connector.Message{ID: "m1", ChatID: "c1", AccountID: "acct", Body: "first-edited", Timestamp: 100}
		if err := s.CreateMessage(dup); err != nil {
			t.Fatalf("duplicate insert: %v", err)
		}
		got, _ := s.ListMessages("c1", 10)
		if len(got) != 3 {
			t.Errorf("expected still 3 messages, got %d", len(got))
		}
		if got[0].Body != "first-edited" {
			t.Errorf("expected refreshed body, got %q", got[0].Body)
		}
	})

	t.Run("ai response annotation survives refetch", func(t *testing.T) {
		if err := s.UpdateAIResponse("c1", "m2", "auto reply text"); err != nil {
			t.Fatal(err)
		}
		// Refetch of the same message without the annotation.
		refetch := connector.Message{ID: "m2", ChatID: "c1", AccountID: "acct", Body: "second", Timestamp: 200}
		if err := s.CreateMessage(refetch); err != nil {
			t.Fatal(err)
		}
		got, _ := s.GetMessage("c1", "m2")
		if got == nil || got.AIResponse != "auto reply text" {
			t.Errorf("annotation lost on refetch: %+v", got)
		}
	})

	t.Run("same message id in different chats", func(t *testing.T) {
		other := connector.Message{ID: "m1", ChatID: "c2", AccountID: "acct", Body: "other chat", Timestamp: 400}
		if err := s.CreateMessage(other); err != nil {
			t.Fatalf("cross-chat id collision: %v", err)
		}
		got, _ := s.ListMessages("c2", 10)
		if len(got) != 1 {
			t.Errorf("expected 1 message in c2, got %d", len(got))
		}
	})

	t.Run("annotation never leaks across chats sharing an id", func(t *testing.T) {
		// Telegram message IDs are small per-chat integers; the same ID
		// routinely exists in many chats at once.
		a := connector.Message{ID: "100", ChatID: "user:1", AccountID: "acct", Body: "a", Timestamp: 500}
		b := connector.Message{ID: "100", ChatID: "user:2", AccountID: "acct", Body: "b", Timestamp: 500}
		if err := s.BulkCreateMessages([]connector.Message{a, b}); err != nil {
			t.Fatal(err)
		}

		if err := s.UpdateAIResponse("user:1", "100", "reply for chat user:1"); err != nil {
			t.Fatal(err)
		}

		annotated, _ := s.GetMessage("user:1", "100")
		if annotated == nil || annotated.AIResponse != "reply for chat user:1" {
			t.Errorf("expected annotation on user:1, got %+v", annotated)
		}
		untouched, _ := s.GetMessage("user:2", "100")
		if untouched == nil || untouched.AIResponse != "" {
			t.Errorf("annotation leaked into the wrong chat: %+v", untouched)
		}
	})
}
