package report

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"stella-backend/internal/chat"
	"stella-backend/internal/database"

	"github.com/tmc/langchaingo/llms"
)

//go:embed report.html.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

// maxTranscriptChars bounds the transcript sent for summarization. The most
// recent part of the conversation is kept.
const maxTranscriptChars = 24000

type Builder struct {
	model       chat.ChatModel
	language    string
	temperature float64
	now         func() time.Time
}

// NewBuilder creates a report builder. A nil model produces reports without a
// summary section.
func NewBuilder(model chat.ChatModel, language string, temperature float64) *Builder {
	return &Builder{model: model, language: language, temperature: temperature, now: time.Now}
}

type reportData struct {
	Language    string
	Title       string
	GeneratedAt time.Time
	Summary     []string
	Turns       []chat.Turn
	Sources     []database.Source
}

func (b *Builder) Build(ctx context.Context, conv database.Conversation, msgs []database.Message) (string, error) {
	data := reportData{
		Language:    chat.DefaultLanguage,
		Title:       conv.Title,
		GeneratedAt: b.now().UTC(),
		Turns:       chat.TurnsFromMessages(msgs),
	}
	if b.language != "" {
		data.Language = b.language
	}

	var sources []database.Source
	for _, msg := range msgs {
		if msg.Role == database.RoleAssistant {
			sources = append(sources, msg.Sources...)
		}
	}
	data.Sources = chat.DedupSources(sources)

	if b.model != nil && len(msgs) > 0 {
		summary, err := b.summarize(ctx, data.Turns)
		if err != nil {
			return "", err
		}
		data.Summary = paragraphs(summary)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("error rendering report: %w", err)
	}
	return buf.String(), nil
}

func (b *Builder) summarize(ctx context.Context, turns []chat.Turn) (string, error) {
	var transcript strings.Builder
	for _, turn := range turns {
		role := "User"
		if turn.Role == database.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&transcript, "%s: %s\n\n", role, strings.TrimSpace(turn.Content))
	}

	text := transcript.String()
	if len(text) > maxTranscriptChars {
		start := len(text) - maxTranscriptChars
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		text = text[start:]
	}

	prompt := strings.ReplaceAll(chat.PromptsFor(b.language).ReportSummary, "{{transcript}}", text)

	resp, err := b.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(b.temperature),
	)
	if err != nil {
		return "", fmt.Errorf("error generating report summary: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no summary")
	}
	return resp.Choices[0].Content, nil
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
