package whatsapp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avaraes/aide/pkg/aide/connector"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// ready returns the active client, or ErrNotReady outside the ready state.
func (w *WhatsApp) ready() (*whatsmeow.Client, error) {
	if !w.IsReady() {
		return nil, connector.ErrNotReady
	}
	client := w.currentClient()
	if client == nil {
		return nil, connector.ErrNotReady
	}
	return client, nil
}

// GetChats returns up to limit chats ordered by most recent activity. The
// chat list is maintained from history sync and live events; WhatsApp has no
// on-demand conversation-list fetch, so the local copy is the source.
func (w *WhatsApp) GetChats(ctx context.Context, limit int) ([]connector.Chat, error) {
	if _, err := w.ready(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	accountID := w.accountID
	w.mu.RUnlock()
	return w.store.ListChats(accountID, limit)
}

// GetChatMessages returns the latest limit messages for a chat, ascending by
// timestamp.
func (w *WhatsApp) GetChatMessages(ctx context.Context, chatID string, limit int) ([]connector.Message, error) {
	if _, err := w.ready(); err != nil {
		return nil, err
	}
	if _, err := jidFromChatID(chatID); err != nil {
		return nil, err
	}
	return w.store.ListMessages(chatID, limit)
}

// GetRecentMessages merges the newest messages across the most recently
// active chats, descending by timestamp. A failing chat is skipped, never
// fatal for the whole call.
func (w *WhatsApp) GetRecentMessages(ctx context.Context, limit int) ([]connector.Message, error) {
	if _, err := w.ready(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	accountID := w.accountID
	w.mu.RUnlock()

	chats, err := w.store.ListChats(accountID, recentChatCap)
	if err != nil {
		return nil, err
	}

	pages := make([][]connector.Message, 0, len(chats))
	for _, chat := range chats {
		page, err := w.store.ListRecentMessages(chat.ID, recentPageSize)
		if err != nil {
			w.logger.Warn("recent page failed, skipping chat", "chat_id", chat.ID, "error", err)
			continue
		}
		pages = append(pages, page)
	}
	return connector.MergeRecent(pages, limit), nil
}

// GetContacts returns the contact list from the synced contact store.
func (w *WhatsApp) GetContacts(ctx context.Context) ([]connector.Contact, error) {
	client, err := w.ready()
	if err != nil {
		return nil, err
	}

	all, err := client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}

	contacts := make([]connector.Contact, 0, len(all))
	for jid, info := range all {
		name := info.FullName
		if name == "" {
			name = info.PushName
		}
		if name == "" {
			name = jid.User
		}
		contacts = append(contacts, connector.Contact{
			ID:            jid.String(),
			Name:          name,
			PhoneOrHandle: jid.User,
		})
	}
	sort.Slice(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})
	return contacts, nil
}

// GetInfo returns the connected account.
func (w *WhatsApp) GetInfo() (connector.Account, error) {
	client, err := w.ready()
	if err != nil {
		return connector.Account{}, err
	}
	jid := client.Store.ID.ToNonAD()
	return connector.Account{
		ID:            jid.String(),
		Platform:      Platform,
		DisplayName:   client.Store.PushName,
		PhoneOrHandle: jid.User,
		IsConnected:   true,
	}, nil
}

// SendMessage sends a text message and records it locally.
func (w *WhatsApp) SendMessage(ctx context.Context, chatID, text string) (*connector.Message, error) {
	client, err := w.ready()
	if err != nil {
		return nil, err
	}
	jid, err := jidFromChatID(chatID)
	if err != nil {
		return nil, err
	}

	resp, err := client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}

	msg := w.recordOutbound(ctx, resp.ID, chatID, jid, text, connector.MessageText, false)
	return msg, nil
}

// SendMedia uploads and sends a media payload. AsVoice turns audio into a
// voice note (PTT); it is ignored for non-audio payloads.
func (w *WhatsApp) SendMedia(ctx context.Context, chatID string, media connector.Media) (*connector.Message, error) {
	client, err := w.ready()
	if err != nil {
		return nil, err
	}
	jid, err := jidFromChatID(chatID)
	if err != nil {
		return nil, err
	}

	waMsg, msgType, err := buildMediaMessage(ctx, client, media)
	if err != nil {
		return nil, err
	}

	resp, err := client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return nil, fmt.Errorf("sending media: %w", err)
	}

	msg := w.recordOutbound(ctx, resp.ID, chatID, jid, media.Caption, msgType, true)
	return msg, nil
}

// buildMediaMessage uploads the payload to WhatsApp media servers and wraps
// the upload reference in the right protobuf member for its MIME class.
func buildMediaMessage(ctx context.Context, client *whatsmeow.Client, media connector.Media) (*waE2E.Message, connector.MessageType, error) {
	switch {
	case strings.HasPrefix(media.MimeType, "image/"):
		up, err := client.Upload(ctx, media.Data, whatsmeow.MediaImage)
		if err != nil {
			return nil, "", fmt.Errorf("uploading image: %w", err)
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, connector.MessageImage, nil

	case media.IsAudio():
		up, err := client.Upload(ctx, media.Data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, "", fmt.Errorf("uploading audio: %w", err)
		}
		msgType := connector.MessageAudio
		if media.AsVoice {
			msgType = connector.MessageVoice
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(voiceMimeType(media)),
			PTT:           proto.Bool(media.AsVoice),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, msgType, nil

	case strings.HasPrefix(media.MimeType, "video/"):
		up, err := client.Upload(ctx, media.Data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, "", fmt.Errorf("uploading video: %w", err)
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, connector.MessageVideo, nil

	default:
		up, err := client.Upload(ctx, media.Data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, "", fmt.Errorf("uploading document: %w", err)
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(media.Filename),
			FileName:      proto.String(media.Filename),
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, connector.MessageDocument, nil
	}
}

// voiceMimeType maps generic audio to the codec string WhatsApp expects for
// voice notes.
func voiceMimeType(media connector.Media) string {
	if media.AsVoice {
		return "audio/ogg; codecs=opus"
	}
	return media.MimeType
}

// recordOutbound persists a message we just sent. Runs through the same
// ingestion path as inbound traffic; from-self messages never bump unread
// counts or trigger auto-replies.
func (w *WhatsApp) recordOutbound(ctx context.Context, id, chatID string, jid types.JID, body string, msgType connector.MessageType, hasMedia bool) *connector.Message {
	w.mu.RLock()
	accountID := w.accountID
	w.mu.RUnlock()

	msg := connector.Message{
		ID:        id,
		ChatID:    chatID,
		AccountID: accountID,
		Body:      body,
		FromID:    accountID,
		FromName:  "me",
		Timestamp: time.Now().Unix(),
		IsFromMe:  true,
		HasMedia:  hasMedia,
		Type:      msgType,
	}
	in := connector.Inbound{
		Message: msg,
		IsGroup: jid.Server == types.GroupServer,
	}
	if err := w.pipeline.Ingest(ctx, in); err != nil {
		w.logger.Warn("recording outbound message failed", "error", err, "message_id", id)
	}
	return &msg
}

// MarkAsRead sends read receipts for the chat's unread inbound messages and
// zeroes the local unread count. Idempotent; a chat with nothing unread is a
// successful no-op.
func (w *WhatsApp) MarkAsRead(ctx context.Context, chatID string) error {
	client, err := w.ready()
	if err != nil {
		return err
	}
	jid, err := jidFromChatID(chatID)
	if err != nil {
		return err
	}

	recent, err := w.store.ListRecentMessages(chatID, 50)
	if err != nil {
		return fmt.Errorf("loading messages for read receipt: %w", err)
	}

	var ids []types.MessageID
	var sender types.JID
	for _, m := range recent {
		if m.IsFromMe {
			continue
		}
		ids = append(ids, m.ID)
		if sender.IsEmpty() {
			// recent is newest-first; the first inbound hit is the
			// latest sender, which is what the receipt wants.
			if s, err := types.ParseJID(m.FromID); err == nil {
				sender = s
			}
		}
	}

	if len(ids) > 0 {
		if sender.IsEmpty() {
			sender = jid
		}
		if err := client.MarkRead(ctx, ids, time.Now(), jid, sender); err != nil {
			return fmt.Errorf("sending read receipt: %w", err)
		}
	}
	return w.store.ResetUnread(chatID)
}
