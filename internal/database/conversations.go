package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("conversation not found")

const maxTitleRunes = 60

func CreateConversation(ctx context.Context, db *gorm.DB, userId, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultConversationTitle
	}

	now := time.Now().UTC()
	conv := Conversation{
		Id:        uuid.New(),
		UserId:    userId,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns the user's conversations, most recently updated
// first. Each conversation carries at most its last message.
func ListConversations(ctx context.Context, db *gorm.DB, userId string, limit int) ([]Conversation, error) {
	var convs []Conversation
	q := db.WithContext(ctx).Where("user_id = ?", userId).Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("error listing conversations: %w", err)
	}

	if len(convs) == 0 {
		return convs, nil
	}

	ids := make([]uuid.UUID, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.Id)
	}

	latest := db.Model(&Message{}).
		Select("conversation_id, MAX(position) AS position").
		Where("conversation_id IN ?", ids).
		Group("conversation_id")

	var msgs []Message
	if err := db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON messages.conversation_id = latest.conversation_id AND messages.position = latest.position", latest).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("error loading last messages: %w", err)
	}

	byConv := make(map[uuid.UUID]Message, len(msgs))
	for _, m := range msgs {
		byConv[m.ConversationId] = m
	}
	for i := range convs {
		if m, ok := byConv[convs[i].Id]; ok {
			convs[i].Messages = []Message{m}
		}
	}

	return convs, nil
}

func GetConversation(ctx context.Context, db *gorm.DB, userId string, id uuid.UUID, withMessages bool) (*Conversation, error) {
	q := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userId)
	if withMessages {
		q = q.Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		})
	}

	var conv Conversation
	if err := q.First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error loading conversation %v: %w", id, err)
	}
	return &conv, nil
}

func RenameConversation(ctx context.Context, db *gorm.DB, userId string, id uuid.UUID, title string) error {
	result := db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ? AND user_id = ?", id, userId).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return fmt.Errorf("error renaming conversation %v: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConversation removes the conversation and its messages and returns the
// deleted row so callers can clean up anything stored outside the database.
func DeleteConversation(ctx context.Context, db *gorm.DB, userId string, id uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.Where("id = ? AND user_id = ?", id, userId).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("error loading conversation %v: %w", id, err)
		}

		if err := txn.Where("conversation_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("error deleting messages of conversation %v: %w", id, err)
		}

		if err := txn.Delete(&Conversation{Id: id}).Error; err != nil {
			return fmt.Errorf("error deleting conversation %v: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessages adds msgs to the end of the conversation, in order. A
// conversation that still has the default title is named after its first user
// message.
func AppendMessages(ctx context.Context, db *gorm.DB, userId string, id uuid.UUID, msgs ...Message) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		// The row lock serializes concurrent appends to the same conversation
		// until positions are assigned.
		var conv Conversation
		if err := txn.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userId).
			First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("error loading conversation %v: %w", id, err)
		}

		var lastPosition int
		if err := txn.Model(&Message{}).
			Where("conversation_id = ?", id).
			Select("COALESCE(MAX(position), -1)").
			Scan(&lastPosition).Error; err != nil {
			return fmt.Errorf("error finding last message position: %w", err)
		}

		now := time.Now().UTC()
		for i := range msgs {
			if msgs[i].Id == uuid.Nil {
				msgs[i].Id = uuid.New()
			}
			msgs[i].ConversationId = id
			msgs[i].Position = lastPosition + 1 + i
			// Distinct timestamps keep created_at ordering stable within a batch.
			msgs[i].CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
			if msgs[i].Sources == nil {
				msgs[i].Sources = []Source{}
			}
		}

		if err := txn.Create(&msgs).Error; err != nil {
			return fmt.Errorf("error saving messages: %w", err)
		}

		updates := map[string]any{"updated_at": now}
		if conv.Title == DefaultConversationTitle && lastPosition < 0 && msgs[0].Role == RoleUser {
			if title := TitleFromMessage(msgs[0].Content); title != "" {
				updates["title"] = title
			}
		}

		if err := txn.Model(&Conversation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating conversation %v: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

func TitleFromMessage(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
}

// RecentMessages returns up to n of the latest messages in creation order.
func RecentMessages(ctx context.Context, db *gorm.DB, userId string, id uuid.UUID, n int) ([]Message, error) {
	if _, err := GetConversation(ctx, db, userId, id, false); err != nil {
		return nil, err
	}

	var msgs []Message
	if err := db.WithContext(ctx).
		Where("conversation_id = ?", id).
		Order("position DESC").
		Limit(n).
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("error loading recent messages: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func LoadConversationForReport(ctx context.Context, db *gorm.DB, id uuid.UUID) (*Conversation, error) {
	var conv Conversation
	err := db.WithContext(ctx).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		}).
		First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error loading conversation %v: %w", id, err)
	}
	return &conv, nil
}

func SaveReport(ctx context.Context, db *gorm.DB, id uuid.UUID, html, key string) error {
	updates := map[string]any{
		"html_report":       html,
		"report_updated_at": time.Now().UTC(),
	}
	if key != "" {
		updates["report_key"] = key
	}

	// UpdateColumns leaves updated_at alone so the conversation list order only
	// reflects chat activity.
	result := db.WithContext(ctx).Model(&Conversation{}).Where("id = ?", id).UpdateColumns(updates)
	if result.Error != nil {
		return fmt.Errorf("error saving report for conversation %v: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
