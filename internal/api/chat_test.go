package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	backend "stella-backend/internal/api"
	"stella-backend/internal/chat"
	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
	"stella-backend/pkg/api"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	answer  chat.Answer
	err     error
	queries []chat.Query
}

func (p *fakePipeline) Answer(ctx context.Context, query chat.Query) (chat.Answer, error) {
	p.queries = append(p.queries, query)
	return p.answer, p.err
}

var boneAnswer = chat.Answer{
	Message: "Bone density drops during long missions.",
	Sources: []database.Source{
		{Title: "Bone loss in mice", Link: "https://example.org/bone"},
		{Title: "Bone loss in mice", Link: "https://example.org/bone/"},
		{Title: "Muscle atrophy", Link: "https://example.org/muscle"},
	},
}

func TestChatAnonymous(t *testing.T) {
	pipeline := &fakePipeline{answer: boneAnswer}
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	router := createRouter(createDB(t), backend.BackendOptions{
		Pipeline:  pipeline,
		Publisher: queue,
		Verifier:  createVerifier(t),
		History:   chat.HistoryWindow{MaxMessages: 10},
		Language:  "en",
	})

	rec := doRequest(router, http.MethodPost, "/api/chat", "", api.ChatRequest{
		Message: "  What happens to bones in space?  ",
		History: []api.ChatTurn{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi, ask me about space biology"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[api.ChatResponse](t, rec)
	assert.Equal(t, boneAnswer.Message, res.Message)
	assert.Equal(t, []api.Source{
		{Title: "Bone loss in mice", Link: "https://example.org/bone"},
		{Title: "Muscle atrophy", Link: "https://example.org/muscle"},
	}, res.Sources)

	require.Len(t, pipeline.queries, 1)
	query := pipeline.queries[0]
	assert.Equal(t, "What happens to bones in space?", query.Message)
	assert.Equal(t, "en", query.Language)
	assert.Equal(t, []chat.Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi, ask me about space biology"},
	}, query.History)

	select {
	case task := <-queue.Tasks():
		t.Fatalf("anonymous chat should not publish a report task, got %s", task.Type())
	default:
	}
}

func TestChatEmptyMessage(t *testing.T) {
	pipeline := &fakePipeline{answer: boneAnswer}
	router := createRouter(createDB(t), backend.BackendOptions{Pipeline: pipeline, Verifier: createVerifier(t)})

	rec := doRequest(router, http.MethodPost, "/api/chat", "", api.ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, pipeline.queries)
}

func TestChatPipelineFailure(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("upstream returned 502")}
	router := createRouter(createDB(t), backend.BackendOptions{Pipeline: pipeline, Verifier: createVerifier(t)})

	rec := doRequest(router, http.MethodPost, "/api/chat", "", api.ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error connecting to assistant", decode[api.ErrorResponse](t, rec).Error)
}

func TestChatPersistsExchange(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	pipeline := &fakePipeline{answer: boneAnswer}
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	router := createRouter(db, backend.BackendOptions{
		Pipeline:  pipeline,
		Publisher: queue,
		Verifier:  verifier,
		History:   chat.HistoryWindow{MaxMessages: 2},
	})
	token := tokenFor(t, verifier, "user-1")
	ctx := context.Background()

	conv, err := database.CreateConversation(ctx, db, "user-1", "")
	require.NoError(t, err)
	_, err = database.AppendMessages(ctx, db, "user-1", conv.Id,
		database.Message{Role: database.RoleUser, Content: "first question"},
		database.Message{Role: database.RoleAssistant, Content: "first answer"},
		database.Message{Role: database.RoleUser, Content: "second question"},
		database.Message{Role: database.RoleAssistant, Content: "second answer"},
	)
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/api/chat", token, api.ChatRequest{
		Message:        "And muscles?",
		ConversationId: conv.Id.String(),
		Language:       "es",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, pipeline.queries, 1)
	assert.Equal(t, "es", pipeline.queries[0].Language)
	assert.Equal(t, []chat.Turn{
		{Role: "user", Content: "second question"},
		{Role: "assistant", Content: "second answer"},
	}, pipeline.queries[0].History)

	loaded, err := database.GetConversation(ctx, db, "user-1", conv.Id, true)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 6)
	assert.Equal(t, "And muscles?", loaded.Messages[4].Content)
	assert.Equal(t, database.RoleUser, loaded.Messages[4].Role)
	assert.Equal(t, boneAnswer.Message, loaded.Messages[5].Content)
	assert.Equal(t, []database.Source{
		{Title: "Bone loss in mice", Link: "https://example.org/bone"},
		{Title: "Muscle atrophy", Link: "https://example.org/muscle"},
	}, []database.Source(loaded.Messages[5].Sources))

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.ReportQueue, task.Type())
		var payload messaging.ReportTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, conv.Id, payload.ConversationId)
	case <-time.After(time.Second):
		t.Fatal("expected a report task")
	}
}

func TestChatConversationRequiresSession(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	pipeline := &fakePipeline{answer: boneAnswer}
	router := createRouter(db, backend.BackendOptions{Pipeline: pipeline, Verifier: verifier})

	conv, err := database.CreateConversation(context.Background(), db, "owner", "")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/api/chat", "", api.ChatRequest{Message: "hi", ConversationId: conv.Id.String()})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	intruder := tokenFor(t, verifier, "intruder")
	rec = doRequest(router, http.MethodPost, "/api/chat", intruder, api.ChatRequest{Message: "hi", ConversationId: conv.Id.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/chat", intruder, api.ChatRequest{Message: "hi", ConversationId: uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(router, http.MethodPost, "/api/chat", intruder, api.ChatRequest{Message: "hi", ConversationId: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, pipeline.queries)
}

type failingPublisher struct{}

func (failingPublisher) PublishReportTask(ctx context.Context, payload messaging.ReportTaskPayload) error {
	return errors.New("broker unavailable")
}

func (failingPublisher) Close() {}

func TestChatPublishFailureIsNotReturned(t *testing.T) {
	db := createDB(t)
	verifier := createVerifier(t)
	router := createRouter(db, backend.BackendOptions{
		Pipeline:  &fakePipeline{answer: boneAnswer},
		Publisher: failingPublisher{},
		Verifier:  verifier,
	})

	conv, err := database.CreateConversation(context.Background(), db, "user-1", "")
	require.NoError(t, err)

	rec := doRequest(router, http.MethodPost, "/api/chat", tokenFor(t, verifier, "user-1"), api.ChatRequest{Message: "hi", ConversationId: conv.Id.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, boneAnswer.Message, decode[api.ChatResponse](t, rec).Message)
}
