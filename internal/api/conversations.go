package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"stella-backend/internal/auth"
	"stella-backend/internal/chat"
	"stella-backend/internal/database"
	"stella-backend/internal/storage"
	"stella-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationService struct {
	db       *gorm.DB
	storage  storage.ObjectStore
	bucket   string
	verifier *auth.SessionVerifier
}

// NewConversationService creates the conversation CRUD handlers. The object
// store is optional and is only used to serve and clean up archived reports.
func NewConversationService(db *gorm.DB, store storage.ObjectStore, bucket string, verifier *auth.SessionVerifier) *ConversationService {
	return &ConversationService{db: db, storage: store, bucket: bucket, verifier: verifier}
}

func (s *ConversationService) AddRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Use(auth.Middleware(s.verifier))

		r.Get("/", RestHandler(s.ListConversations))
		r.Post("/", RestHandler(s.CreateConversation))

		r.Route("/{conversation_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetConversation))
			r.Patch("/", RestHandler(s.UpdateConversation))
			r.Delete("/", RestHandler(s.DeleteConversation))
			r.Post("/messages", RestHandler(s.CreateMessage))
			r.Get("/report", RestHandler(s.GetReport))
		})
	})
}

func sessionUser(r *http.Request) (string, error) {
	userId, ok := auth.UserID(r.Context())
	if !ok {
		return "", CodedErrorf(http.StatusUnauthorized, "unauthorized")
	}
	return userId, nil
}

func conversationError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return CodedErrorf(http.StatusNotFound, "conversation not found")
	}
	return err
}

func (s *ConversationService) ListConversations(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[api.ListConversationsParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must not be negative")
	}

	convs, err := database.ListConversations(r.Context(), s.db, userId, params.Limit)
	if err != nil {
		return nil, err
	}

	return convertConversationSummaries(convs), nil
}

func (s *ConversationService) CreateConversation(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	var req api.CreateConversationRequest
	if r.ContentLength != 0 {
		if req, err = ParseRequest[api.CreateConversationRequest](r); err != nil {
			return nil, err
		}
	}

	conv, err := database.CreateConversation(r.Context(), s.db, userId, req.Title)
	if err != nil {
		return nil, err
	}

	slog.Info("created conversation", "conversation_id", conv.Id)

	return convertConversation(*conv), nil
}

func (s *ConversationService) GetConversation(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := database.GetConversation(r.Context(), s.db, userId, id, true)
	if err != nil {
		return nil, conversationError(err)
	}

	res := convertConversation(*conv)
	res.Messages = convertMessages(conv.Messages)
	return res, nil
}

func (s *ConversationService) UpdateConversation(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.UpdateConversationRequest](r)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "title must not be empty")
	}

	if err := database.RenameConversation(r.Context(), s.db, userId, id, title); err != nil {
		return nil, conversationError(err)
	}

	return api.SuccessResponse{Success: true}, nil
}

func (s *ConversationService) DeleteConversation(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := database.DeleteConversation(r.Context(), s.db, userId, id)
	if err != nil {
		return nil, conversationError(err)
	}

	if s.storage != nil && conv.ReportKey.Valid && conv.ReportKey.String != "" {
		if err := s.storage.DeleteObjects(r.Context(), s.bucket, conv.ReportKey.String); err != nil {
			slog.Warn("error deleting archived report", "conversation_id", id, "key", conv.ReportKey.String, "error", err)
		}
	}

	slog.Info("deleted conversation", "conversation_id", id)

	return api.SuccessResponse{Success: true}, nil
}

func (s *ConversationService) CreateMessage(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.CreateMessageRequest](r)
	if err != nil {
		return nil, err
	}

	if req.Role != database.RoleUser && req.Role != database.RoleAssistant {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid role '%s': must be %s or %s", req.Role, database.RoleUser, database.RoleAssistant)
	}

	msgs, err := database.AppendMessages(r.Context(), s.db, userId, id, database.Message{
		Role:    req.Role,
		Content: req.Content,
		Sources: chat.DedupSources(toDatabaseSources(req.Sources)),
	})
	if err != nil {
		return nil, conversationError(err)
	}

	return convertMessage(msgs[0]), nil
}

func (s *ConversationService) GetReport(r *http.Request) (any, error) {
	userId, err := sessionUser(r)
	if err != nil {
		return nil, err
	}

	id, err := URLParamUUID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	conv, err := database.GetConversation(r.Context(), s.db, userId, id, false)
	if err != nil {
		return nil, conversationError(err)
	}

	if conv.HtmlReport.Valid && conv.HtmlReport.String != "" {
		return HTMLResponse(conv.HtmlReport.String), nil
	}

	if s.storage != nil && conv.ReportKey.Valid && conv.ReportKey.String != "" {
		data, err := s.storage.GetObject(r.Context(), s.bucket, conv.ReportKey.String)
		if err == nil {
			return HTMLResponse(data), nil
		}
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return nil, err
		}
	}

	return nil, CodedErrorf(http.StatusNotFound, "report not found")
}

// conversationID parses an optional conversation id from a request body.
func conversationID(raw string) (uuid.UUID, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, false, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, CodedErrorf(http.StatusBadRequest, "invalid conversationId '%s'", raw)
	}
	return id, true, nil
}
