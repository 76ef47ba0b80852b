package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// DefaultTitle is the placeholder a session carries until the title
	// generator has produced a real one (or permanently, if it fails).
	DefaultTitle = "New Chat"
)

// Session is one conversation thread. Sessions are keyed by
// (user_id, session_id); messages live in their own table keyed by the
// session id plus their insertion order, so a turn touches only one
// session rather than the whole user record.
type Session struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64    `gorm:"index;not null" json:"-"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Language  string    `gorm:"type:varchar(8);not null" json:"language"`
	Provider  string    `gorm:"type:varchar(32);not null" json:"-"`
	Model     string    `gorm:"type:varchar(64);not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is one utterance. Role is user or assistant, never both; the
// auto-increment id is the chronological sequence within a session.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_user_session_id,priority:2" json:"session_id"`
	UserID    uint64    `gorm:"not null;index:idx_chat_msg_user_session_id,priority:1" json:"-"`
	Role      string    `gorm:"type:varchar(16);index;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// SessionHistory is a session with its full message list, as served by the
// history endpoint.
type SessionHistory struct {
	Session
	Messages []Message `json:"messages"`
}
