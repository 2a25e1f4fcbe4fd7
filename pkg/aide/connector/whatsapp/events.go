package whatsapp

import (
	"context"

	"github.com/avaraes/aide/pkg/aide/connector"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the single entry point for whatsmeow events. Only events
// from the active client handle reach this method.
func (w *WhatsApp) handleEvent(ctx context.Context, evt any) {
	switch v := evt.(type) {
	case *events.Connected:
		w.becomeReady()

	case *events.PairSuccess:
		w.logger.Info("device paired", "jid", v.ID.String())

	case *events.Message:
		w.handleMessage(ctx, v)

	case *events.HistorySync:
		w.handleHistorySync(ctx, v)

	case *events.Disconnected:
		// Transient drop; whatsmeow reconnects on its own. Not an auth
		// state regression.
		w.logger.Debug("transport disconnected, awaiting reconnect")
		w.publish("disconnected", "transport")

	case *events.StreamReplaced:
		w.logger.Warn("stream replaced by another client")
		w.setState(connector.StateDisconnected)
		w.publish("disconnected", "stream_replaced")

	case *events.LoggedOut:
		// The phone unlinked this device: the stored session is dead.
		w.logger.Warn("logged out remotely", "reason", v.Reason.String())
		w.setError("logged out remotely: " + v.Reason.String())
		w.setState(connector.StateError)
		w.teardownRemote()
		w.publish("auth_failure", "logged_out_remotely")
	}
}

// teardownRemote handles a platform-initiated logout: drop the handle and
// remove the now-invalid session files so the next Initialize starts fresh.
func (w *WhatsApp) teardownRemote() {
	w.mu.Lock()
	client := w.client
	w.client = nil
	w.container = nil
	w.challenge = nil
	accountID := w.accountID
	w.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if accountID != "" {
		if err := w.store.SetConnected(accountID, false); err != nil {
			w.logger.Warn("marking account disconnected failed", "error", err)
		}
	}
	if err := w.removeSessionFiles(); err != nil {
		w.logger.Warn("removing session files failed", "error", err)
	}
}

// handleMessage normalizes one live message and runs it through the
// ingestion pipeline. This is the only place WhatsApp wire shapes become
// canonical messages.
func (w *WhatsApp) handleMessage(ctx context.Context, evt *events.Message) {
	msg, ok := w.normalize(evt)
	if !ok {
		return
	}

	in := connector.Inbound{
		Message:  msg,
		ChatName: w.resolveChatName(ctx, evt.Info.Chat, evt.Info),
		IsGroup:  evt.Info.IsGroup,
	}
	if err := w.pipeline.Ingest(ctx, in); err != nil {
		w.logger.Warn("ingesting message failed", "error", err, "message_id", msg.ID)
	}
}

// normalize maps a whatsmeow message event to the canonical shape. Returns
// ok=false for protocol-only events with no user-visible content.
func (w *WhatsApp) normalize(evt *events.Message) (connector.Message, bool) {
	body := extractTextBody(evt.Message)
	msgType := detectMessageType(evt.Message)
	if body == "" && msgType == connector.MessageUnknown {
		// Receipts, reactions-only payloads, protocol frames.
		return connector.Message{}, false
	}

	w.mu.RLock()
	accountID := w.accountID
	w.mu.RUnlock()

	sender := evt.Info.Sender.ToNonAD()
	return connector.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		AccountID: accountID,
		Body:      body,
		FromID:    sender.String(),
		FromName:  w.resolveSenderName(evt.Info),
		Timestamp: evt.Info.Timestamp.Unix(),
		IsFromMe:  evt.Info.IsFromMe,
		HasMedia:  hasMedia(msgType),
		Type:      msgType,
	}, true
}

// resolveSenderName picks the best available display name: the push name
// carried on the event, then the contact store, then the bare user part of
// the JID. Never empty.
func (w *WhatsApp) resolveSenderName(info types.MessageInfo) string {
	if info.PushName != "" {
		return info.PushName
	}
	if client := w.currentClient(); client != nil {
		if contact, err := client.Store.Contacts.GetContact(context.Background(), info.Sender.ToNonAD()); err == nil && contact.Found {
			if contact.FullName != "" {
				return contact.FullName
			}
			if contact.PushName != "" {
				return contact.PushName
			}
		}
	}
	return info.Sender.User
}

// resolveChatName resolves a display name for the parent chat. Group
// subjects come from the group info cache; direct chats use the counterpart
// contact. Empty is acceptable — the store keeps a previously known name.
func (w *WhatsApp) resolveChatName(ctx context.Context, chat types.JID, info types.MessageInfo) string {
	client := w.currentClient()
	if client == nil {
		return ""
	}
	if chat.Server == types.GroupServer {
		if group, err := client.GetGroupInfo(ctx, chat); err == nil {
			return group.Name
		}
		return ""
	}
	if !info.IsFromMe && info.PushName != "" {
		return info.PushName
	}
	if contact, err := client.Store.Contacts.GetContact(ctx, chat.ToNonAD()); err == nil && contact.Found {
		if contact.FullName != "" {
			return contact.FullName
		}
		if contact.PushName != "" {
			return contact.PushName
		}
	}
	return ""
}

// handleHistorySync ingests conversations pushed by the phone after pairing.
// This is the platform's bulk backfill path: chats land with the platform's
// own unread counts (overwriting incremental ones), messages land through
// the idempotent upsert.
func (w *WhatsApp) handleHistorySync(ctx context.Context, evt *events.HistorySync) {
	client := w.currentClient()
	if client == nil {
		return
	}
	w.mu.RLock()
	accountID := w.accountID
	w.mu.RUnlock()

	conversations := evt.Data.GetConversations()
	if len(conversations) == 0 {
		return
	}

	var chats []connector.Chat
	var msgs []connector.Message
	var result connector.FetchResult

	for _, conv := range conversations {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			result.SkippedIDs = append(result.SkippedIDs, conv.GetID())
			continue
		}

		chat := connector.Chat{
			ID:          chatJID.String(),
			AccountID:   accountID,
			Name:        conv.GetName(),
			IsGroup:     chatJID.Server == types.GroupServer,
			UnreadCount: int(conv.GetUnreadCount()),
		}

		for _, histMsg := range conv.GetMessages() {
			parsed, err := client.ParseWebMessage(chatJID, histMsg.GetMessage())
			if err != nil {
				continue
			}
			msg, ok := w.normalize(parsed)
			if !ok {
				continue
			}
			msgs = append(msgs, msg)
			if msg.Timestamp >= chat.LastMessageTimestamp {
				chat.LastMessageTimestamp = msg.Timestamp
				chat.LastMessageBody = msg.Body
				chat.LastMessageFromMe = msg.IsFromMe
			}
		}
		chats = append(chats, chat)
	}

	if err := w.store.BulkUpsertChats(chats); err != nil {
		w.logger.Warn("history sync chat upsert failed", "error", err)
		return
	}
	if err := w.store.BulkCreateMessages(msgs); err != nil {
		w.logger.Warn("history sync message upsert failed", "error", err)
		return
	}
	result.Fetched = len(chats)
	if len(result.SkippedIDs) > 0 {
		w.logger.Warn("history sync skipped conversations with bad JIDs",
			"skipped", result.SkippedIDs)
	}
	w.logger.Info("history sync ingested", "chats", len(chats), "messages", len(msgs))
	w.publish("history_sync", result)
}

// extractTextBody pulls the user-visible text out of the protobuf union:
// plain conversation text, extended text, or a media caption.
func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

// detectMessageType classifies the protobuf union into the canonical type
// enum. Voice notes (PTT audio) are distinguished from regular audio.
func detectMessageType(msg *waE2E.Message) connector.MessageType {
	switch {
	case msg == nil:
		return connector.MessageUnknown
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return connector.MessageText
	case msg.GetImageMessage() != nil:
		return connector.MessageImage
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return connector.MessageVoice
		}
		return connector.MessageAudio
	case msg.GetVideoMessage() != nil:
		return connector.MessageVideo
	case msg.GetDocumentMessage() != nil:
		return connector.MessageDocument
	case msg.GetStickerMessage() != nil:
		return connector.MessageSticker
	case msg.GetLocationMessage() != nil || msg.GetLiveLocationMessage() != nil:
		return connector.MessageLocation
	case msg.GetContactMessage() != nil || msg.GetContactsArrayMessage() != nil:
		return connector.MessageContact
	default:
		return connector.MessageUnknown
	}
}

func hasMedia(t connector.MessageType) bool {
	switch t {
	case connector.MessageImage, connector.MessageAudio, connector.MessageVoice,
		connector.MessageVideo, connector.MessageDocument, connector.MessageSticker:
		return true
	}
	return false
}

// jidFromChatID parses a stored chat ID back into a JID for outbound calls.
func jidFromChatID(chatID string) (types.JID, error) {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.EmptyJID, connector.ErrUnknownChat
	}
	if jid.User == "" {
		return types.EmptyJID, connector.ErrUnknownChat
	}
	return jid, nil
}
