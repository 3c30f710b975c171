package chat

import (
	"context"
	"fmt"

	"stella-backend/internal/database"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"
)

// ChatModel is the subset of llms.Model the pipelines call.
type ChatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

type RAGPipeline struct {
	model          ChatModel
	retriever      Retriever
	topK           int
	scoreThreshold float32
	temperature    float64
}

var _ Pipeline = (*RAGPipeline)(nil)

func NewRAGPipeline(model ChatModel, retriever Retriever, topK int, scoreThreshold float32, temperature float64) *RAGPipeline {
	if topK <= 0 {
		topK = 5
	}
	return &RAGPipeline{
		model:          model,
		retriever:      retriever,
		topK:           topK,
		scoreThreshold: scoreThreshold,
		temperature:    temperature,
	}
}

func (p *RAGPipeline) Answer(ctx context.Context, query Query) (Answer, error) {
	if err := validateQuery(query); err != nil {
		return Answer{}, err
	}

	var opts []vectorstores.Option
	if p.scoreThreshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(p.scoreThreshold))
	}

	docs, err := p.retriever.SimilaritySearch(ctx, query.Message, p.topK, opts...)
	if err != nil {
		return Answer{}, fmt.Errorf("error searching articles: %w", err)
	}

	prompts := PromptsFor(query.Language)
	excerpts := formatDocuments(docs)
	if len(docs) == 0 {
		excerpts = prompts.NoContext
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, fillTemplate(prompts.RAGSystem, "context", excerpts)),
	}
	messages = append(messages, historyMessages(query.History)...)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query.Message))

	resp, err := p.model.GenerateContent(ctx, messages, llms.WithTemperature(p.temperature))
	if err != nil {
		return Answer{}, fmt.Errorf("error generating answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, fmt.Errorf("model returned no choices")
	}

	answer := Answer{Message: resp.Choices[0].Content, Sources: SourcesFromDocuments(docs)}
	if answer.Message == "" {
		answer.Message = prompts.NoResponse
	}
	return answer, nil
}

func historyMessages(history []Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case database.RoleUser:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, turn.Content))
		case database.RoleAssistant:
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeAI, turn.Content))
		}
	}
	return messages
}
