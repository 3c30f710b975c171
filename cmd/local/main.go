package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stella-backend/cmd"
	"stella-backend/internal/api"
	"stella-backend/internal/config"
	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
	"stella-backend/internal/report"
	"stella-backend/internal/storage"
)

type Config struct {
	cmd.PipelineConfig

	Database config.Database
	Session  config.Session

	Root           string `env:"ROOT" envDefault:"./stella"`
	Port           int    `env:"PORT" envDefault:"3001"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"*"`
	ReportBucket   string `env:"REPORT_BUCKET" envDefault:"reports"`
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Parse[Config]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting local backend", "root", cfg.Root, "port", cfg.Port, "chat_mode", cfg.Chat.Mode)

	db, err := database.NewDatabase(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.CreateBucket(context.Background(), cfg.ReportBucket); err != nil {
		log.Fatalf("Failed to create report bucket: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	pipeline, err := cmd.CreatePipeline(context.Background(), cfg.PipelineConfig)
	if err != nil {
		log.Fatalf("Failed to create chat pipeline: %v", err)
	}

	var builder *report.Builder
	if cfg.OpenAI.APIKey != "" {
		model, err := cmd.CreateChatModel(cfg.OpenAI)
		if err != nil {
			log.Fatalf("Failed to create chat model: %v", err)
		}
		builder = report.NewBuilder(model, cfg.Chat.Language, cfg.OpenAI.Temperature)
	} else {
		slog.Warn("OPENAI_API_KEY not set, reports will not include a summary")
		builder = report.NewBuilder(nil, cfg.Chat.Language, cfg.OpenAI.Temperature)
	}

	processor := report.NewProcessor(db, store, cfg.ReportBucket, builder, queue)
	done := make(chan struct{})
	go func() {
		processor.Start()
		close(done)
	}()

	service := api.NewBackendService(db, api.BackendOptions{
		Pipeline:     pipeline,
		Publisher:    queue,
		Verifier:     cmd.CreateVerifier(cfg.Session),
		History:      cmd.HistoryWindow(cfg.Chat),
		Language:     cfg.Chat.Language,
		Storage:      store,
		ReportBucket: cfg.ReportBucket,
	})

	router := cmd.CreateRouter(service, strings.Split(cfg.AllowedOrigins, ","))
	cmd.RunServer(router, cfg.Port, cmd.ShutdownSignal())

	processor.Stop()
	<-done
}
