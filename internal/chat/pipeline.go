package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stella-backend/internal/database"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

const (
	ModeAssistant = "assistant"
	ModeRAG       = "rag"
	ModeAgent     = "agent"
)

var ErrEmptyMessage = errors.New("message is empty")

type Turn struct {
	Role    string
	Content string
}

type Query struct {
	Message  string
	History  []Turn
	Language string
}

type Answer struct {
	Message string
	Sources []database.Source
}

// Pipeline answers a single user message given the prior turns of the
// conversation.
type Pipeline interface {
	Answer(ctx context.Context, query Query) (Answer, error)
}

// Retriever is the search half of a vector index.
type Retriever interface {
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

func validateQuery(query Query) error {
	if strings.TrimSpace(query.Message) == "" {
		return ErrEmptyMessage
	}
	return nil
}

// formatDocuments renders retrieved chunks as a numbered context block for the
// model prompt.
func formatDocuments(docs []schema.Document) string {
	return formatDocumentsFrom(docs, 1)
}

func formatDocumentsFrom(docs []schema.Document, first int) string {
	var b strings.Builder
	for i, doc := range docs {
		title, _ := doc.Metadata["title"].(string)
		link, _ := doc.Metadata["source"].(string)
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", first+i, title, link, strings.TrimSpace(doc.PageContent))
	}
	return strings.TrimSpace(b.String())
}
