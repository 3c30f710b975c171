package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Conversation struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId string    `gorm:"size:255;not null;index"`
	Title  string    `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`

	HtmlReport      sql.NullString
	ReportUpdatedAt sql.NullTime

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

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
