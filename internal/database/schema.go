package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RoleUser      string = "user"
	RoleAssistant string = "assistant"

	DefaultConversationTitle = "New conversation"
)

type Conversation struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:255;not null;index"`
	Title  string    `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`

	HtmlReport      sql.NullString
	ReportUpdatedAt sql.NullTime
	ReportKey       sql.NullString

	Messages []Message `gorm:"foreignKey:ConversationId;constraint:OnDelete:CASCADE"`
}

type Source struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

type Message struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_message_position"`
	Position       int       `gorm:"not null;uniqueIndex:idx_message_position"`

	Role    string `gorm:"size:20;not null"`
	Content string `gorm:"type:text;not null"`
	Sources datatypes.JSONSlice[Source]

	CreatedAt time.Time
}
