package store

// ChatKind is the conversation kind.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// MessageKind is the payload kind of a message.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindAudio MessageKind = "audio"
	KindVideo MessageKind = "video"
	KindFile  MessageKind = "file"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindVideo, KindFile:
		return true
	}
	return false
}

// User is a profile row. Owned by the profile collaborator; read-only to the core.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Login    string `json:"login"`
	Avatar   string `json:"avatar"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen"`
}

// Conversation is a chat row. GroupID is empty for private chats.
type Conversation struct {
	ID      string   `json:"id"`
	Kind    ChatKind `json:"kind"`
	GroupID string   `json:"group_id,omitempty"`
}

// Participant links a user to a conversation.
type Participant struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// Message is an immutable, append-only message row.
// Content is nil for pure-media messages.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        *string     `json:"content,omitempty"`
	Kind           MessageKind `json:"kind"`
	MediaURL       string      `json:"media_url,omitempty"`
	FileName       string      `json:"file_name,omitempty"`
	FileSize       int64       `json:"file_size,omitempty"`
	CreatedAt      int64       `json:"created_at"`

	// Sender profile, filled by FetchMessages only.
	SenderName   string `json:"sender_name,omitempty"`
	SenderLogin  string `json:"sender_login,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`
}

// Text returns the content or "" for media-only messages.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Summary returns the last-message projection of m.
func (m *Message) Summary() Summary {
	return Summary{Text: m.Text(), CreatedAt: m.CreatedAt, Kind: m.Kind}
}

// NewMessage is the input of InsertMessage.
type NewMessage struct {
	ConversationID string      `json:"conversation_id" validate:"required"`
	SenderID       string      `json:"sender_id" validate:"required"`
	Content        *string     `json:"content,omitempty"`
	Kind           MessageKind `json:"kind" validate:"required,oneof=text image audio video file"`
	MediaURL       string      `json:"media_url,omitempty" validate:"required_unless=Kind text"`
	FileName       string      `json:"file_name,omitempty"`
	FileSize       int64       `json:"file_size,omitempty" validate:"gte=0"`
}

// Summary is the derived, non-persisted last-message preview.
type Summary struct {
	Text      string      `json:"text"`
	CreatedAt int64       `json:"created_at"`
	Kind      MessageKind `json:"kind"`
}
