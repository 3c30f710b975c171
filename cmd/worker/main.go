package main

import (
	"log"

	"stella-backend/cmd"
	"stella-backend/internal/config"
	"stella-backend/internal/database"
	"stella-backend/internal/messaging"
	"stella-backend/internal/report"
)

type WorkerConfig struct {
	Database config.Database
	OpenAI   config.OpenAI
	Chat     config.Chat
	S3       config.S3
	RabbitMQ config.RabbitMQ

	// Summaries are skipped when disabled, the report then only holds the
	// transcript and sources.
	Summaries bool `env:"REPORT_SUMMARIES" envDefault:"true"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	cfg, err := config.Parse[WorkerConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := database.NewDatabase(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store := cmd.CreateS3Store(cfg.S3)

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQ.URL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	var builder *report.Builder
	if cfg.Summaries {
		model, err := cmd.CreateChatModel(cfg.OpenAI)
		if err != nil {
			log.Fatalf("Failed to create chat model: %v", err)
		}
		builder = report.NewBuilder(model, cfg.Chat.Language, cfg.OpenAI.Temperature)
	} else {
		builder = report.NewBuilder(nil, cfg.Chat.Language, cfg.OpenAI.Temperature)
	}

	processor := report.NewProcessor(db, store, cfg.S3.ReportBucket, builder, reciever)

	go func() {
		<-cmd.ShutdownSignal()
		log.Println("Shutdown signal received, stopping report processor...")
		processor.Stop()
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")
	processor.Start()

	log.Println("Worker process stopped.")
}
