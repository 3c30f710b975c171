package main

import (
	"context"
	"log"
	"log/slog"
	"strings"

	"stella-backend/cmd"
	"stella-backend/internal/api"
	"stella-backend/internal/config"
	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
)

type APIConfig struct {
	cmd.PipelineConfig

	Database config.Database
	S3       config.S3
	Session  config.Session
	RabbitMQ config.RabbitMQ

	Port           int    `env:"API_PORT" envDefault:"8001"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[APIConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := database.NewDatabase(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := cmd.CreateS3Store(cfg.S3)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	pipeline, err := cmd.CreatePipeline(context.Background(), cfg.PipelineConfig)
	if err != nil {
		log.Fatalf("Failed to create chat pipeline: %v", err)
	}

	service := api.NewBackendService(db, api.BackendOptions{
		Pipeline:     pipeline,
		Publisher:    publisher,
		Verifier:     cmd.CreateVerifier(cfg.Session),
		History:      cmd.HistoryWindow(cfg.Chat),
		Language:     cfg.Chat.Language,
		Storage:      store,
		ReportBucket: cfg.S3.ReportBucket,
	})

	slog.Info("api config", "port", cfg.Port, "chat_mode", cfg.Chat.Mode, "allowed_origins", cfg.AllowedOrigins)

	router := cmd.CreateRouter(service, strings.Split(cfg.AllowedOrigins, ","))
	cmd.RunServer(router, cfg.Port, cmd.ShutdownSignal())
}
