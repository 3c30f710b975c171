package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
)

type Document struct {
	Title    string
	Link     string
	FileName string
	Download *Download
}

type Uploader interface {
	Upload(ctx context.Context, doc Document) error
}

// AssistantUploader uploads raw files to a hosted Pinecone assistant, which
// does its own parsing and chunking.
type AssistantUploader struct {
	client *resty.Client
	name   string
}

var _ Uploader = (*AssistantUploader)(nil)

func NewAssistantUploader(host, apiKey, name string) *AssistantUploader {
	return &AssistantUploader{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(host, "/")).
			SetHeader("Api-Key", apiKey).
			SetTimeout(5 * time.Minute),
		name: name,
	}
}

func (u *AssistantUploader) Upload(ctx context.Context, doc Document) error {
	metadata, err := json.Marshal(map[string]string{"title": doc.Title, "link": doc.Link})
	if err != nil {
		return fmt.Errorf("error encoding file metadata: %w", err)
	}

	res, err := u.client.R().
		SetContext(ctx).
		SetQueryParam("metadata", string(metadata)).
		SetFileReader("file", doc.FileName, bytes.NewReader(doc.Download.Data)).
		Post("/assistant/files/" + u.name)
	if err != nil {
		return fmt.Errorf("error uploading %s: %w", doc.FileName, err)
	}

	if res.StatusCode() == http.StatusTooManyRequests {
		return fmt.Errorf("%w: uploading %s", ErrRateLimited, doc.FileName)
	}
	if !res.IsSuccess() {
		slog.Error("assistant rejected upload", "file", doc.FileName, "status_code", res.StatusCode(), "body", res.String())
		return fmt.Errorf("error uploading %s: HTTP %d", doc.FileName, res.StatusCode())
	}

	return nil
}

type DocumentIndex interface {
	AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error)
}

// IndexUploader extracts text from downloaded pages and PDFs, splits it into
// overlapping chunks and adds the chunks to a vector index.
type IndexUploader struct {
	index    DocumentIndex
	splitter textsplitter.TextSplitter
	now      func() time.Time
}

var _ Uploader = (*IndexUploader)(nil)

func NewIndexUploader(index DocumentIndex) *IndexUploader {
	return &IndexUploader{
		index: index,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		now: time.Now,
	}
}

func (u *IndexUploader) extractText(dl *Download) (string, error) {
	if isPDF(dl) {
		return PDFToMarkdown(dl.Data)
	}
	return HTMLToMarkdown(dl.Data)
}

func (u *IndexUploader) Upload(ctx context.Context, doc Document) error {
	text, err := u.extractText(doc.Download)
	if err != nil {
		return fmt.Errorf("error extracting text from %s: %w", doc.Download.URL, err)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s", ErrNoContent, doc.Download.URL)
	}

	metadata := map[string]any{
		"title":    doc.Title,
		"source":   doc.Link,
		"loadedAt": u.now().UTC().Format(time.RFC3339),
	}

	chunks, err := textsplitter.CreateDocuments(u.splitter, []string{text}, []map[string]any{metadata})
	if err != nil {
		return fmt.Errorf("error splitting %s: %w", doc.Link, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s", ErrNoContent, doc.Download.URL)
	}

	if _, err := u.index.AddDocuments(ctx, chunks); err != nil {
		return fmt.Errorf("error indexing %s: %w", doc.Link, err)
	}

	slog.Info("indexed article", "title", doc.Title, "chunks", len(chunks))
	return nil
}
