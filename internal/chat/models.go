package chat

import (
	"time"

	"gorm.io/datatypes"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session anchors one conversation; (user_id, chat_id) is unique.
type Session struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    uint64         `gorm:"not null;uniqueIndex:uniq_chat_session_user_chat,priority:1" json:"-"`
	ChatID    string         `gorm:"type:varchar(128);not null;uniqueIndex:uniq_chat_session_user_chat,priority:2" json:"chat_id"`
	Metadata  datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// Message is append-only. Content holds the JSON-encoded []ContentPart.
type Message struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint64    `gorm:"not null;index:idx_chat_msg_user_chat,priority:1" json:"-"`
	ChatID     string    `gorm:"type:varchar(128);not null;index:idx_chat_msg_user_chat,priority:2" json:"chat_id"`
	Role       string    `gorm:"type:varchar(16);not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	TokenCount *int      `json:"token_count,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

type Attachment struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"not null;index:idx_chat_att_user_chat,priority:1"`
	ChatID    string    `gorm:"type:varchar(128);not null;index:idx_chat_att_user_chat,priority:2"`
	FileName  string    `gorm:"type:varchar(255);not null"`
	MimeType  string    `gorm:"type:varchar(128);not null"`
	FileURL   string    `gorm:"type:varchar(1024);not null"`
	SizeBytes int64     `gorm:"not null"`
	Summary   *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index"`
}

func (Attachment) TableName() string { return "chat_attachments" }

// TokenUsage is the billing ledger: one row per successful agent call.
type TokenUsage struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	UserID           uint64    `gorm:"not null;index:idx_token_usage_user_chat,priority:1"`
	ChatID           string    `gorm:"type:varchar(128);not null;index:idx_token_usage_user_chat,priority:2"`
	MessageID        uint64    `gorm:"not null;uniqueIndex"`
	Module           string    `gorm:"type:varchar(32);not null;index"`
	Model            string    `gorm:"type:varchar(128);not null"`
	PromptTokens     int       `gorm:"not null"`
	CompletionTokens int       `gorm:"not null"`
	TotalTokens      int       `gorm:"not null"`
	CreatedAt        time.Time `gorm:"index"`
}

func (TokenUsage) TableName() string { return "token_usage" }

// ConversationSummary holds the latest validated rolling summary of a chat.
// Messages with id <= CoveredThroughMessageID are folded into Body.
type ConversationSummary struct {
	ID                      uint64         `gorm:"primaryKey;autoIncrement"`
	UserID                  uint64         `gorm:"not null;uniqueIndex:uniq_conv_summary_user_chat,priority:1"`
	ChatID                  string         `gorm:"type:varchar(128);not null;uniqueIndex:uniq_conv_summary_user_chat,priority:2"`
	Version                 int            `gorm:"not null"`
	Body                    datatypes.JSON `gorm:"type:json;not null"`
	CoveredThroughMessageID uint64         `gorm:"not null"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (ConversationSummary) TableName() string { return "conversation_summaries" }
