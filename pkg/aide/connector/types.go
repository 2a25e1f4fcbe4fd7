package connector

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVoice    MessageType = "voice"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
	MessageContact  MessageType = "contact"
	MessageUnknown  MessageType = "unknown"
)

// Account is a connected platform account.
type Account struct {
	ID            string
	Platform      string
	DisplayName   string
	PhoneOrHandle string
	IsConnected   bool
}

// Chat is a conversation on a platform.
type Chat struct {
	ID                   string
	AccountID            string
	Name                 string
	IsGroup              bool
	UnreadCount          int
	LastMessageBody      string
	LastMessageTimestamp int64
	LastMessageFromMe    bool
}

// Message is the canonical, platform-agnostic chat message. Immutable after
// ingestion except for the AIResponse annotation set when an auto-reply was
// sent for it.
type Message struct {
	ID        string
	ChatID    string
	AccountID string
	Body      string
	FromID    string
	FromName  string
	// Timestamp is Unix seconds.
	Timestamp int64
	IsFromMe  bool
	HasMedia  bool
	Type      MessageType
	// AIResponse is the generated auto-reply text, if one was sent.
	AIResponse string
}

// Contact is a platform contact entry.
type Contact struct {
	ID            string
	Name          string
	PhoneOrHandle string
}

// Media is an outbound media payload.
type Media struct {
	Data     []byte
	MimeType string
	Filename string
	Caption  string

	// AsVoice requests voice-note semantics. Honored only when MimeType
	// indicates audio; silently ignored otherwise.
	AsVoice bool
}

// IsAudio reports whether the payload MIME type is an audio type.
func (m Media) IsAudio() bool {
	return len(m.MimeType) >= 6 && m.MimeType[:6] == "audio/"
}

// FetchResult reports the outcome of a batch fetch. Per-item mapping
// failures are skipped individually, never silently dropped: SkippedIDs
// surfaces which items were left out.
type FetchResult struct {
	Fetched    int
	SkippedIDs []string
}
