package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stella-backend/internal/database"

	"github.com/go-resty/resty/v2"
)

// AssistantPipeline delegates retrieval and answering to a hosted Pinecone
// assistant that already has the articles uploaded.
type AssistantPipeline struct {
	client *resty.Client
	name   string
	model  string
}

var _ Pipeline = (*AssistantPipeline)(nil)

func NewAssistantPipeline(host, apiKey, name, model string) *AssistantPipeline {
	return &AssistantPipeline{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(host, "/")).
			SetHeader("Api-Key", apiKey).
			SetTimeout(2 * time.Minute),
		name:  name,
		model: model,
	}
}

type assistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type assistantChatRequest struct {
	Messages []assistantMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Model    string             `json:"model"`
}

type assistantChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Citations []struct {
		References []struct {
			File struct {
				Name     string         `json:"name"`
				Metadata map[string]any `json:"metadata"`
			} `json:"file"`
		} `json:"references"`
	} `json:"citations"`
}

func (p *AssistantPipeline) Answer(ctx context.Context, query Query) (Answer, error) {
	if err := validateQuery(query); err != nil {
		return Answer{}, err
	}

	messages := make([]assistantMessage, 0, len(query.History)+1)
	for _, turn := range query.History {
		messages = append(messages, assistantMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, assistantMessage{Role: database.RoleUser, Content: query.Message})

	var body assistantChatResponse
	res, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(assistantChatRequest{Messages: messages, Stream: false, Model: p.model}).
		SetResult(&body).
		Post("/assistant/chat/" + p.name)
	if err != nil {
		return Answer{}, fmt.Errorf("error calling assistant: %w", err)
	}

	if !res.IsSuccess() {
		slog.Error("assistant returned error", "status_code", res.StatusCode(), "body", res.String())
		return Answer{}, fmt.Errorf("assistant returned status %d", res.StatusCode())
	}

	answer := Answer{Message: body.Message.Content}
	if strings.TrimSpace(answer.Message) == "" {
		answer.Message = PromptsFor(query.Language).NoResponse
	}

	var sources []database.Source
	for _, citation := range body.Citations {
		for _, ref := range citation.References {
			title, _ := ref.File.Metadata["title"].(string)
			link, _ := ref.File.Metadata["link"].(string)
			if title == "" {
				title = ref.File.Name
			}
			sources = append(sources, database.Source{Title: title, Link: link})
		}
	}
	answer.Sources = DedupSources(sources)

	return answer, nil
}
