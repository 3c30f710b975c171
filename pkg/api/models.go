package api

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	Id             uuid.UUID `json:"id"`
	ConversationId uuid.UUID `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Sources        []Source  `json:"sources,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Conversation struct {
	Id          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	HasReport   bool      `json:"hasReport"`
	LastMessage *Message  `json:"lastMessage,omitempty"`

	Messages []Message `json:"messages,omitempty"`
}

type ListConversationsParams struct {
	Limit int `schema:"limit"`
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

type CreateMessageRequest struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
