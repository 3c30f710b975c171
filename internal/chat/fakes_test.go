package chat

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

type fakeRetriever struct {
	mu      sync.Mutex
	docs    []schema.Document
	err     error
	queries []string
	options vectorstores.Options
}

func (r *fakeRetriever) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queries = append(r.queries, query)
	r.options = vectorstores.Options{}
	for _, opt := range options {
		opt(&r.options)
	}
	if r.err != nil {
		return nil, r.err
	}
	if len(r.docs) > numDocuments {
		return r.docs[:numDocuments], nil
	}
	return r.docs, nil
}

type fakeChatModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *fakeChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	m.options = llms.CallOptions{}
	for _, opt := range options {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func textOf(msg llms.MessageContent) string {
	var text string
	for _, part := range msg.Parts {
		if p, ok := part.(llms.TextContent); ok {
			text += p.Text
		}
	}
	return text
}

func articleDoc(title, link, content string) schema.Document {
	return schema.Document{
		PageContent: content,
		Metadata:    map[string]any{"title": title, "source": link},
	}
}
