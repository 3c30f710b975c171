package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"stella-backend/internal/database"

	"github.com/openai/openai-go"
	"github.com/tmc/langchaingo/vectorstores"
)

const searchToolName = "search_articles"

var searchTool = openai.ChatCompletionToolParam{
	Function: openai.FunctionDefinitionParam{
		Name:        searchToolName,
		Description: openai.String("Search the indexed space biology publications and return the most relevant excerpts."),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "A focused search query, for example an organism, experiment or effect.",
				},
			},
			"required": []string{"query"},
		},
	},
}

// AgentPipeline lets the chat model decide when and what to search. Every
// search result is fed back to the model as a tool message until it answers
// without calling a tool or runs out of steps.
type AgentPipeline struct {
	client         openai.Client
	model          string
	retriever      Retriever
	topK           int
	scoreThreshold float32
	temperature    float64
	maxSteps       int
}

var _ Pipeline = (*AgentPipeline)(nil)

func NewAgentPipeline(client openai.Client, model string, retriever Retriever, topK int, scoreThreshold float32, temperature float64, maxSteps int) *AgentPipeline {
	if topK <= 0 {
		topK = 5
	}
	if maxSteps <= 0 {
		maxSteps = 1
	}
	return &AgentPipeline{
		client:         client,
		model:          model,
		retriever:      retriever,
		topK:           topK,
		scoreThreshold: scoreThreshold,
		temperature:    temperature,
		maxSteps:       maxSteps,
	}
}

func (p *AgentPipeline) Answer(ctx context.Context, query Query) (Answer, error) {
	if err := validateQuery(query); err != nil {
		return Answer{}, err
	}

	prompts := PromptsFor(query.Language)

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(prompts.AgentSystem)}
	for _, turn := range query.History {
		switch turn.Role {
		case database.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case database.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(query.Message))

	var sources []database.Source

	for step := 0; step < p.maxSteps; step++ {
		msg, err := p.complete(ctx, messages, true)
		if err != nil {
			return Answer{}, err
		}

		if len(msg.ToolCalls) == 0 {
			return p.finish(msg.Content, sources, prompts), nil
		}

		messages = append(messages, msg.ToParam())
		for _, call := range msg.ToolCalls {
			// Excerpt numbers continue across searches so citations stay unique.
			result, found, err := p.callTool(ctx, call, len(sources)+1)
			if err != nil {
				return Answer{}, err
			}
			sources = append(sources, found...)
			messages = append(messages, openai.ToolMessage(result, call.ID))
		}
	}

	slog.Info("agent reached step limit, forcing final answer", "max_steps", p.maxSteps)

	msg, err := p.complete(ctx, messages, false)
	if err != nil {
		return Answer{}, err
	}
	return p.finish(msg.Content, sources, prompts), nil
}

func (p *AgentPipeline) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, withTools bool) (openai.ChatCompletionMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    messages,
		Temperature: openai.Float(p.temperature),
	}
	if withTools {
		params.Tools = []openai.ChatCompletionToolParam{searchTool}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("error calling chat model: %w", err)
	}
	if len(completion.Choices) == 0 {
		return openai.ChatCompletionMessage{}, fmt.Errorf("chat model returned no choices")
	}
	return completion.Choices[0].Message, nil
}

func (p *AgentPipeline) callTool(ctx context.Context, call openai.ChatCompletionMessageToolCall, first int) (string, []database.Source, error) {
	if call.Function.Name != searchToolName {
		return fmt.Sprintf("Unknown tool %q. The only available tool is %s.", call.Function.Name, searchToolName), nil, nil
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return "Invalid arguments: expected a JSON object with a non-empty \"query\" string.", nil, nil
	}

	var opts []vectorstores.Option
	if p.scoreThreshold > 0 {
		opts = append(opts, vectorstores.WithScoreThreshold(p.scoreThreshold))
	}

	docs, err := p.retriever.SimilaritySearch(ctx, args.Query, p.topK, opts...)
	if err != nil {
		return "", nil, fmt.Errorf("error searching articles for %q: %w", args.Query, err)
	}

	slog.Info("agent searched articles", "query", args.Query, "results", len(docs))

	if len(docs) == 0 {
		return "No matching excerpts were found.", nil, nil
	}
	return formatDocumentsFrom(docs, first), SourcesFromDocuments(docs), nil
}

func (p *AgentPipeline) finish(content string, sources []database.Source, prompts Prompts) Answer {
	if strings.TrimSpace(content) == "" {
		content = prompts.NoResponse
	}
	return Answer{Message: content, Sources: DedupSources(sources)}
}
