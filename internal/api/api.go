package api

import (
	"net/http"

	"stella-backend/internal/auth"
	"stella-backend/internal/chat"
	"stella-backend/internal/messaging"
	"stella-backend/internal/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type BackendService struct {
	chat          *ChatService
	conversations *ConversationService
}

type BackendOptions struct {
	Pipeline     chat.Pipeline
	Publisher    messaging.Publisher
	Verifier     *auth.SessionVerifier
	History      chat.HistoryWindow
	Language     string
	Storage      storage.ObjectStore
	ReportBucket string
}

func NewBackendService(db *gorm.DB, opts BackendOptions) *BackendService {
	return &BackendService{
		chat:          NewChatService(db, opts.Pipeline, opts.Publisher, opts.Verifier, opts.History, opts.Language),
		conversations: NewConversationService(db, opts.Storage, opts.ReportBucket, opts.Verifier),
	}
}

// AddRoutes mounts every endpoint under /api.
func (s *BackendService) AddRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", RestHandler(func(r *http.Request) (any, error) {
			return map[string]string{"status": "ok"}, nil
		}))
		s.chat.AddRoutes(r)
		s.conversations.AddRoutes(r)
	})
}
