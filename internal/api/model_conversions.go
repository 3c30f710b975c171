package api

import (
	"stella-backend/internal/database"
	"stella-backend/pkg/api"
)

func convertSources(ss []database.Source) []api.Source {
	sources := make([]api.Source, 0, len(ss))
	for _, s := range ss {
		sources = append(sources, api.Source{Title: s.Title, Link: s.Link})
	}
	return sources
}

func toDatabaseSources(ss []api.Source) []database.Source {
	sources := make([]database.Source, 0, len(ss))
	for _, s := range ss {
		sources = append(sources, database.Source{Title: s.Title, Link: s.Link})
	}
	return sources
}

func convertMessage(m database.Message) api.Message {
	return api.Message{
		Id:             m.Id,
		ConversationId: m.ConversationId,
		Role:           m.Role,
		Content:        m.Content,
		Sources:        convertSources(m.Sources),
		CreatedAt:      m.CreatedAt,
	}
}

func convertMessages(ms []database.Message) []api.Message {
	messages := make([]api.Message, 0, len(ms))
	for _, m := range ms {
		messages = append(messages, convertMessage(m))
	}
	return messages
}

func convertConversation(c database.Conversation) api.Conversation {
	return api.Conversation{
		Id:        c.Id,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		HasReport: c.HtmlReport.Valid && c.HtmlReport.String != "",
	}
}

// convertConversationSummary is the list view, where Messages holds at most
// the latest message.
func convertConversationSummary(c database.Conversation) api.Conversation {
	conv := convertConversation(c)
	if len(c.Messages) > 0 {
		last := convertMessage(c.Messages[len(c.Messages)-1])
		conv.LastMessage = &last
	}
	return conv
}

func convertConversationSummaries(cs []database.Conversation) []api.Conversation {
	convs := make([]api.Conversation, 0, len(cs))
	for _, c := range cs {
		convs = append(convs, convertConversationSummary(c))
	}
	return convs
}
