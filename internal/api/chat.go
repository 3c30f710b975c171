package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"stella-backend/internal/auth"
	"stella-backend/internal/chat"
	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
	"stella-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatService struct {
	db        *gorm.DB
	pipeline  chat.Pipeline
	publisher messaging.Publisher
	verifier  *auth.SessionVerifier
	history   chat.HistoryWindow
	language  string
}

func NewChatService(db *gorm.DB, pipeline chat.Pipeline, publisher messaging.Publisher, verifier *auth.SessionVerifier, history chat.HistoryWindow, language string) *ChatService {
	return &ChatService{
		db:        db,
		pipeline:  pipeline,
		publisher: publisher,
		verifier:  verifier,
		history:   history,
		language:  language,
	}
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.With(auth.OptionalMiddleware(s.verifier)).Post("/chat", RestHandler(s.Chat))
}

func (s *ChatService) Chat(r *http.Request) (any, error) {
	req, err := ParseRequest[api.ChatRequest](r)
	if err != nil {
		return nil, err
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "message is required")
	}

	convId, persist, err := conversationID(req.ConversationId)
	if err != nil {
		return nil, err
	}

	var userId string
	if persist {
		if userId, err = sessionUser(r); err != nil {
			return nil, err
		}
	}

	ctx := r.Context()

	turns := make([]chat.Turn, 0, len(req.History))
	for _, turn := range req.History {
		turns = append(turns, chat.Turn{Role: turn.Role, Content: turn.Content})
	}

	if persist {
		// Ownership is checked even when the client sends its own history.
		limit := s.history.MaxMessages
		if limit <= 0 {
			limit = -1
		}
		stored, err := database.RecentMessages(ctx, s.db, userId, convId, limit)
		if err != nil {
			return nil, conversationError(err)
		}
		if len(turns) == 0 {
			turns = chat.TurnsFromMessages(stored)
		}
	}

	language := req.Language
	if language == "" {
		language = s.language
	}

	answer, err := s.pipeline.Answer(ctx, chat.Query{
		Message:  message,
		History:  s.history.Apply(turns),
		Language: language,
	})
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			return nil, CodedErrorf(http.StatusBadRequest, "message is required")
		}
		slog.Error("error answering chat message", "conversation_id", req.ConversationId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error connecting to assistant")
	}

	sources := chat.DedupSources(answer.Sources)

	if persist {
		if err := s.persistExchange(r, userId, convId, message, answer.Message, sources); err != nil {
			return nil, err
		}
	}

	return api.ChatResponse{Message: answer.Message, Sources: convertSources(sources)}, nil
}

func (s *ChatService) persistExchange(r *http.Request, userId string, convId uuid.UUID, question, reply string, sources []database.Source) error {
	ctx := r.Context()

	_, err := database.AppendMessages(ctx, s.db, userId, convId,
		database.Message{Role: database.RoleUser, Content: question},
		database.Message{Role: database.RoleAssistant, Content: reply, Sources: sources},
	)
	if err != nil {
		return conversationError(err)
	}

	if s.publisher == nil {
		return nil
	}

	if err := s.publisher.PublishReportTask(ctx, messaging.ReportTaskPayload{ConversationId: convId}); err != nil {
		slog.Error("error publishing report task", "conversation_id", convId, "error", err)
	}
	return nil
}
