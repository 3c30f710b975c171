package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	backend "stella-backend/internal/api"
	"stella-backend/internal/auth"
	"stella-backend/internal/database"
	"stella-backend/internal/storage"
	"stella-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func createVerifier(t *testing.T) *auth.SessionVerifier {
	verifier, err := auth.NewSessionVerifier(testSecret, "", "")
	require.NoError(t, err)
	return verifier
}

func tokenFor(t *testing.T, verifier *auth.SessionVerifier, userId string) string {
	token, err := verifier.Sign(userId, time.Hour)
	require.NoError(t, err)
	return token
}

func createRouter(db *gorm.DB, opts backend.BackendOptions) chi.Router {
	service := backend.NewBackendService(db, opts)
	router := chi.NewRouter()
	service.AddRoutes(router)
	return router
}

func doRequest(router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var res T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func TestHealth(t *testing.T) {
	router := createRouter(createDB(t), backend.BackendOptions{Verifier: createVerifier(t)})

	rec := doRequest(router, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, rec))
}

func TestConversationsRequireSession(t *testing.T) {
	router := createRouter(createDB(t), backend.BackendOptions{Verifier: createVerifier(t)})

	for _, path := range []string{"/api/conversations", "/api/conversations/" + uuid.NewString()} {
		rec := doRequest(router, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "unauthorized", decode[api.ErrorResponse](t, rec).Error)
	}

	rec := doRequest(router, http.MethodGet, "/api/conversations", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConversationLifecycle(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	router := createRouter(db, backend.BackendOptions{Verifier: verifier})
	token := tokenFor(t, verifier, "user-1")

	rec := doRequest(router, http.MethodPost, "/api/conversations", token, api.CreateConversationRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[api.Conversation](t, rec)
	assert.Equal(t, database.DefaultConversationTitle, created.Title)
	assert.False(t, created.HasReport)

	base := "/api/conversations/" + created.Id.String()

	rec = doRequest(router, http.MethodPost, base+"/messages", token, api.CreateMessageRequest{
		Role:    "user",
		Content: "What happens to plants in microgravity?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[api.Message](t, rec)
	assert.Equal(t, "user", first.Role)
	assert.Equal(t, created.Id, first.ConversationId)

	rec = doRequest(router, http.MethodPost, base+"/messages", token, api.CreateMessageRequest{
		Role:    "assistant",
		Content: "Root growth changes direction.",
		Sources: []api.Source{
			{Title: "Roots", Link: "https://example.org/roots"},
			{Title: "Roots again", Link: "https://example.org/roots/"},
			{Title: "Shoots", Link: "https://example.org/shoots"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[api.Message](t, rec)
	assert.Equal(t, []api.Source{
		{Title: "Roots", Link: "https://example.org/roots"},
		{Title: "Shoots", Link: "https://example.org/shoots"},
	}, second.Sources)

	rec = doRequest(router, http.MethodGet, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loaded := decode[api.Conversation](t, rec)
	assert.Equal(t, "What happens to plants in microgravity?", loaded.Title)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, first.Id, loaded.Messages[0].Id)
	assert.Equal(t, second.Id, loaded.Messages[1].Id)

	rec = doRequest(router, http.MethodPatch, base, token, api.UpdateConversationRequest{Title: "Plant biology"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.SuccessResponse](t, rec).Success)

	rec = doRequest(router, http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.Conversation](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "Plant biology", list[0].Title)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, second.Id, list[0].LastMessage.Id)
	assert.Empty(t, list[0].Messages)

	rec = doRequest(router, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.SuccessResponse](t, rec).Success)

	rec = doRequest(router, http.MethodGet, base, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var count int64
	require.NoError(t, db.Model(&database.Message{}).Where("conversation_id = ?", created.Id).Count(&count).Error)
	assert.Zero(t, count)
}

func TestConversationOwnership(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	router := createRouter(db, backend.BackendOptions{Verifier: verifier})

	conv, err := database.CreateConversation(context.Background(), db, "owner", "private")
	require.NoError(t, err)

	intruder := tokenFor(t, verifier, "intruder")
	base := "/api/conversations/" + conv.Id.String()

	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, base, intruder, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPatch, base, intruder, api.UpdateConversationRequest{Title: "x"}).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodDelete, base, intruder, nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodPost, base+"/messages", intruder, api.CreateMessageRequest{Role: "user", Content: "hi"}).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, http.MethodGet, base+"/report", intruder, nil).Code)

	rec := doRequest(router, http.MethodGet, "/api/conversations", intruder, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.Conversation](t, rec))

	owner := tokenFor(t, verifier, "owner")
	rec = doRequest(router, http.MethodGet, base, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private", decode[api.Conversation](t, rec).Title)
}

func TestConversationValidation(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	router := createRouter(db, backend.BackendOptions{Verifier: verifier})
	token := tokenFor(t, verifier, "user-1")

	conv, err := database.CreateConversation(context.Background(), db, "user-1", "")
	require.NoError(t, err)
	base := "/api/conversations/" + conv.Id.String()

	rec := doRequest(router, http.MethodPatch, base, token, api.UpdateConversationRequest{Title: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)

	rec = doRequest(router, http.MethodPost, base+"/messages", token, api.CreateMessageRequest{Role: "system", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/conversations/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/conversations?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversationsLimit(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	router := createRouter(db, backend.BackendOptions{Verifier: verifier})
	token := tokenFor(t, verifier, "user-1")

	for _, title := range []string{"a", "b", "c"} {
		_, err := database.CreateConversation(context.Background(), db, "user-1", title)
		require.NoError(t, err)
	}

	rec := doRequest(router, http.MethodGet, "/api/conversations?limit=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]api.Conversation](t, rec), 2)
}

func TestGetReport(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	router := createRouter(db, backend.BackendOptions{Verifier: verifier, Storage: store, ReportBucket: "reports"})
	token := tokenFor(t, verifier, "user-1")
	ctx := context.Background()

	conv, err := database.CreateConversation(ctx, db, "user-1", "")
	require.NoError(t, err)
	base := "/api/conversations/" + conv.Id.String()

	rec := doRequest(router, http.MethodGet, base+"/report", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report not found", decode[api.ErrorResponse](t, rec).Error)

	key := "user-1/" + conv.Id.String() + ".html"
	require.NoError(t, store.CreateBucket(ctx, "reports"))
	require.NoError(t, store.PutObject(ctx, "reports", key, strings.NewReader("<html>archived</html>")))
	require.NoError(t, database.SaveReport(ctx, db, conv.Id, "<html>report</html>", key))

	rec = doRequest(router, http.MethodGet, base+"/report", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html>report</html>", rec.Body.String())

	rec = doRequest(router, http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]api.Conversation](t, rec)
	require.Len(t, list, 1)
	assert.True(t, list[0].HasReport)

	rec = doRequest(router, http.MethodDelete, base, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = store.GetObject(ctx, "reports", key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestGetReportFromArchive(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	store, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	router := createRouter(db, backend.BackendOptions{Verifier: verifier, Storage: store, ReportBucket: "reports"})
	token := tokenFor(t, verifier, "user-1")
	ctx := context.Background()

	conv, err := database.CreateConversation(ctx, db, "user-1", "")
	require.NoError(t, err)

	key := "user-1/" + conv.Id.String() + ".html"
	require.NoError(t, store.CreateBucket(ctx, "reports"))
	require.NoError(t, store.PutObject(ctx, "reports", key, strings.NewReader("<html>archived</html>")))
	require.NoError(t, database.SaveReport(ctx, db, conv.Id, "", key))

	rec := doRequest(router, http.MethodGet, "/api/conversations/"+conv.Id.String()+"/report", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>archived</html>", rec.Body.String())
}
