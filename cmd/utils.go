package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"stella-backend/internal/api"
	"stella-backend/internal/auth"
	"stella-backend/internal/chat"
	"stella-backend/internal/config"
	"stella-backend/internal/storage"
	"stella-backend/internal/vectorindex"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tmc/langchaingo/llms/openai"
)

// PipelineConfig holds everything needed to build any of the chat pipelines.
type PipelineConfig struct {
	OpenAI      config.OpenAI
	VectorIndex config.VectorIndex
	Assistant   config.Assistant
	Chat        config.Chat
}

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	if err := godotenv.Load(configPath); err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func CreateChatModel(cfg config.OpenAI) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(cfg.ChatModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating chat model client: %w", err)
	}
	return llm, nil
}

func createOpenAIClient(cfg config.OpenAI) openaisdk.Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		// openai-go resolves request paths relative to the base url.
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	return openaisdk.NewClient(opts...)
}

func CreateVectorIndex(ctx context.Context, cfg PipelineConfig) (vectorindex.Index, error) {
	embedder, err := vectorindex.NewEmbedder(cfg.OpenAI)
	if err != nil {
		return nil, err
	}
	return vectorindex.New(ctx, cfg.VectorIndex, embedder)
}

// CreatePipeline builds the answer pipeline selected by CHAT_MODE.
func CreatePipeline(ctx context.Context, cfg PipelineConfig) (chat.Pipeline, error) {
	slog.Info("creating chat pipeline", "mode", cfg.Chat.Mode, "vector_backend", cfg.VectorIndex.Backend)

	switch cfg.Chat.Mode {
	case chat.ModeAssistant:
		if cfg.Assistant.APIKey == "" {
			return nil, fmt.Errorf("PINECONE_API_KEY must be set for assistant mode")
		}
		return chat.NewAssistantPipeline(cfg.Assistant.Host, cfg.Assistant.APIKey, cfg.Assistant.Name, cfg.Assistant.Model), nil

	case chat.ModeRAG:
		index, err := CreateVectorIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
		model, err := CreateChatModel(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return chat.NewRAGPipeline(model, index, cfg.Chat.TopK, cfg.VectorIndex.ScoreThreshold, cfg.OpenAI.Temperature), nil

	case chat.ModeAgent:
		index, err := CreateVectorIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client := createOpenAIClient(cfg.OpenAI)
		return chat.NewAgentPipeline(client, cfg.OpenAI.ChatModel, index, cfg.Chat.TopK, cfg.VectorIndex.ScoreThreshold, cfg.OpenAI.Temperature, cfg.Chat.MaxAgentSteps), nil

	default:
		return nil, fmt.Errorf("invalid chat mode '%s': must be one of %s, %s, %s", cfg.Chat.Mode, chat.ModeAssistant, chat.ModeRAG, chat.ModeAgent)
	}
}

func HistoryWindow(cfg config.Chat) chat.HistoryWindow {
	return chat.HistoryWindow{MaxMessages: cfg.HistoryMessages, MaxTokens: cfg.HistoryTokens}
}

func CreateVerifier(cfg config.Session) *auth.SessionVerifier {
	verifier, err := auth.NewSessionVerifier(cfg.Secret, cfg.Issuer, cfg.Cookie)
	if err != nil {
		log.Fatalf("Failed to create session verifier: %v", err)
	}
	return verifier
}

func CreateS3Store(cfg config.S3) *storage.S3ObjectStore {
	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	if err := store.CreateBucket(context.Background(), cfg.ReportBucket); err != nil {
		log.Fatalf("Failed to create report bucket %s: %v", cfg.ReportBucket, err)
	}
	return store
}

func CreateRouter(service *api.BackendService, allowedOrigins []string) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	service.AddRoutes(r)

	return r
}

// ShutdownSignal is closed on the first SIGINT or SIGTERM.
func ShutdownSignal() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		close(done)
	}()
	return done
}

// RunServer serves handler until shutdown is closed.
func RunServer(handler http.Handler, port int, shutdown <-chan struct{}) {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		<-shutdown
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server listening", "port", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v", port, err)
	}
	log.Println("Server stopped.")
}
