package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"stella-backend/cmd"
	"stella-backend/internal/config"
	"stella-backend/internal/ingest"
)

const (
	modeAssistantPDF = "assistant-pdf"
	modeIndexPDF     = "index-pdf"
	modeIndexWeb     = "index-web"
)

type IngestConfig struct {
	Ingest      config.Ingest
	Assistant   config.Assistant
	OpenAI      config.OpenAI
	VectorIndex config.VectorIndex
}

var (
	csvPath      = flag.String("csv", "SB_publication_PMC.csv", "csv file with Title and Link columns")
	mode         = flag.String("mode", modeAssistantPDF, "one of assistant-pdf, index-pdf, index-web")
	delay        = flag.Duration("delay", 0, "pause between records (default 3s for assistant, 1s for index)")
	maxBytes     = flag.Int64("max-bytes", 0, "maximum download size in bytes (default INGEST_MAX_BYTES)")
	oversizedLog = flag.String("oversized-log", "oversized_files.csv", "csv file that oversized records are appended to")
)

func createUploader(ctx context.Context, cfg IngestConfig) ingest.Uploader {
	if *mode == modeAssistantPDF {
		if cfg.Assistant.APIKey == "" {
			log.Fatalf("PINECONE_API_KEY must be set for %s", modeAssistantPDF)
		}
		return ingest.NewAssistantUploader(cfg.Assistant.Host, cfg.Assistant.APIKey, cfg.Assistant.Name)
	}

	index, err := cmd.CreateVectorIndex(ctx, cmd.PipelineConfig{OpenAI: cfg.OpenAI, VectorIndex: cfg.VectorIndex})
	if err != nil {
		log.Fatalf("Failed to create vector index: %v", err)
	}
	return ingest.NewIndexUploader(index)
}

func openOversizedLog(path string) (*csv.Writer, func()) {
	_, statErr := os.Stat(path)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open oversized log %s: %v", path, err)
	}

	w := csv.NewWriter(f)
	if os.IsNotExist(statErr) {
		if err := w.Write([]string{"Title", "Link", "Bytes"}); err != nil {
			log.Fatalf("Failed to write oversized log header: %v", err)
		}
	}

	return w, func() {
		w.Flush()
		if err := w.Error(); err != nil {
			slog.Error("error flushing oversized log", "error", err)
		}
		f.Close()
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Parse[IngestConfig]()
	if err != nil {
		log.Fatalf("%v", err)
	}

	switch *mode {
	case modeAssistantPDF, modeIndexPDF, modeIndexWeb:
	default:
		log.Fatalf("invalid mode '%s': must be one of %s, %s, %s", *mode, modeAssistantPDF, modeIndexPDF, modeIndexWeb)
	}

	if *delay <= 0 {
		if *mode == modeAssistantPDF {
			*delay = 3 * time.Second
		} else {
			*delay = time.Second
		}
	}
	if *maxBytes <= 0 {
		*maxBytes = cfg.Ingest.MaxBytes
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", *csvPath, err)
	}
	records, err := ingest.ReadRecords(f)
	f.Close()
	if err != nil {
		log.Fatalf("Failed to read records: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cmd.ShutdownSignal()
		slog.Warn("interrupted, stopping after the current record")
		cancel()
	}()

	oversized, closeLog := openOversizedLog(*oversizedLog)
	defer closeLog()

	runner := &ingest.Runner{
		Fetcher:          ingest.NewDownloader(cfg.Ingest.DownloadTimeout, *maxBytes),
		Uploader:         createUploader(ctx, cfg),
		PDF:              *mode != modeIndexWeb,
		Delay:            *delay,
		RateLimitBackoff: cfg.Ingest.RateLimitBackoff,
		OversizedLog:     oversized,
		Progress:         os.Stderr,
	}

	slog.Info("starting ingestion", "records", len(records), "mode", *mode, "delay", *delay, "max_bytes", *maxBytes)

	stats := runner.Run(ctx, records)

	fmt.Println("Ingestion complete")
	fmt.Printf("  Total:   %d\n", stats.Total)
	fmt.Printf("  Success: %d\n", stats.Success)
	fmt.Printf("  Failed:  %d\n", stats.Failed)
	fmt.Printf("  Skipped: %d\n", stats.Skipped)
	if stats.Oversized > 0 {
		fmt.Printf("  Oversized files logged to %s: %d\n", *oversizedLog, stats.Oversized)
	}
}
