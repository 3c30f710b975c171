package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Download, error)
}

type Stats struct {
	Total     int
	Success   int
	Failed    int
	Skipped   int
	Oversized int
}

func (s Stats) String() string {
	return fmt.Sprintf("Total: %d\nSuccess: %d\nFailed: %d\nSkipped: %d (oversized: %d)", s.Total, s.Success, s.Failed, s.Skipped, s.Oversized)
}

type outcome int

const (
	succeeded outcome = iota
	failed
	skipped
	oversized
)

// Runner ingests records one at a time, waiting Delay between records.
type Runner struct {
	Fetcher  Fetcher
	Uploader Uploader

	// PDF fetches PDFURL(link) instead of the link itself.
	PDF bool

	Delay            time.Duration
	RateLimitBackoff time.Duration

	// OversizedLog receives a title,link,bytes row for every record over the
	// download size limit. It may be nil.
	OversizedLog *csv.Writer

	// Progress is where the progress bar is drawn. Nil disables it.
	Progress io.Writer

	sleep func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) Run(ctx context.Context, records []Record) Stats {
	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	progress := r.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(records),
		progressbar.OptionSetDescription("ingesting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionClearOnFinish(),
	)

	stats := Stats{Total: len(records)}
	seen := make(map[string]bool, len(records))

	for i, record := range records {
		if ctx.Err() != nil {
			stats.Skipped += len(records) - i
			slog.Warn("ingestion cancelled", "remaining", len(records)-i)
			break
		}

		slog.Info("processing record", "index", i+1, "total", len(records), "title", record.Title)

		switch r.process(ctx, sleep, record, seen) {
		case succeeded:
			stats.Success++
		case failed:
			stats.Failed++
		case skipped:
			stats.Skipped++
		case oversized:
			stats.Skipped++
			stats.Oversized++
		}
		_ = bar.Add(1)

		if i < len(records)-1 {
			if err := sleep(ctx, r.Delay); err != nil {
				stats.Skipped += len(records) - i - 1
				slog.Warn("ingestion cancelled", "remaining", len(records)-i-1)
				break
			}
		}
	}

	_ = bar.Finish()
	return stats
}

func (r *Runner) process(ctx context.Context, sleep func(context.Context, time.Duration) error, record Record, seen map[string]bool) outcome {
	link := strings.TrimSpace(record.Link)
	if link == "" {
		slog.Warn("skipping record without link", "title", record.Title)
		return skipped
	}

	key := strings.TrimSuffix(link, "/")
	if seen[key] {
		slog.Warn("skipping duplicate link", "title", record.Title, "link", link)
		return skipped
	}
	seen[key] = true

	err := r.ingest(ctx, record)
	if errors.Is(err, ErrRateLimited) {
		slog.Warn("rate limited, backing off before retrying", "link", link, "backoff", r.RateLimitBackoff)
		if serr := sleep(ctx, r.RateLimitBackoff); serr != nil {
			return skipped
		}
		err = r.ingest(ctx, record)
	}

	var sizeErr *SizeError
	switch {
	case err == nil:
		return succeeded
	case errors.As(err, &sizeErr):
		slog.Warn("skipping oversized file", "link", link, "bytes", sizeErr.Size)
		r.logOversized(record, sizeErr.Size)
		return oversized
	case errors.Is(err, ErrNoContent):
		slog.Warn("skipping record without content", "link", link)
		return skipped
	case ctx.Err() != nil:
		return skipped
	default:
		slog.Error("failed to ingest record", "title", record.Title, "link", link, "error", err)
		return failed
	}
}

func (r *Runner) ingest(ctx context.Context, record Record) error {
	link := strings.TrimSpace(record.Link)
	target := link
	if r.PDF {
		target = PDFURL(link)
	}

	dl, err := r.Fetcher.Fetch(ctx, target)
	if err != nil {
		return err
	}

	return r.Uploader.Upload(ctx, Document{
		Title:    record.Title,
		Link:     link,
		FileName: fileName(link, r.PDF),
		Download: dl,
	})
}

func (r *Runner) logOversized(record Record, size int64) {
	if r.OversizedLog == nil {
		return
	}
	if err := r.OversizedLog.Write([]string{record.Title, record.Link, strconv.FormatInt(size, 10)}); err != nil {
		slog.Error("error writing oversized log", "error", err)
		return
	}
	r.OversizedLog.Flush()
	if err := r.OversizedLog.Error(); err != nil {
		slog.Error("error flushing oversized log", "error", err)
	}
}

// fileName derives an upload file name from the last path segment of the
// article link, for example PMC4136787.pdf.
func fileName(link string, pdf bool) string {
	name := "article"
	if u, err := url.Parse(link); err == nil {
		if base := path.Base(strings.TrimSuffix(u.Path, "/")); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	if pdf {
		return name + ".pdf"
	}
	return name + ".html"
}
