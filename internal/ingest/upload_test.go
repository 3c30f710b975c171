package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

func TestAssistantUploader(t *testing.T) {
	var metadata map[string]string
	var fileName, fileBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assistant/files/nasaspace", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("Api-Key"))
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("metadata")), &metadata))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		fileName, fileBody = header.Filename, string(data)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"Processing"}`))
	}))
	defer server.Close()

	uploader := NewAssistantUploader(server.URL, "key", "nasaspace")
	err := uploader.Upload(context.Background(), Document{
		Title:    "Bone loss",
		Link:     "https://example.org/PMC1/",
		FileName: "PMC1.pdf",
		Download: &Download{Data: []byte("%PDF-1.4")},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"title": "Bone loss", "link": "https://example.org/PMC1/"}, metadata)
	assert.Equal(t, "PMC1.pdf", fileName)
	assert.Equal(t, "%PDF-1.4", fileBody)
}

func TestAssistantUploaderRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	uploader := NewAssistantUploader(server.URL, "key", "nasaspace")
	err := uploader.Upload(context.Background(), Document{FileName: "a.pdf", Download: &Download{Data: []byte("x")}})
	assert.ErrorIs(t, err, ErrRateLimited)
}

type recordingIndex struct {
	docs []schema.Document
}

func (i *recordingIndex) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	i.docs = append(i.docs, docs...)
	ids := make([]string, len(docs))
	return ids, nil
}

func TestIndexUploaderHTML(t *testing.T) {
	index := &recordingIndex{}
	uploader := NewIndexUploader(index)
	uploader.now = func() time.Time { return time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC) }

	paragraph := strings.Repeat("Microgravity changes gene expression in plant roots. ", 60)
	page := `<html><body>
		<nav>Home | About</nav>
		<article><h1>Root growth</h1><p>` + paragraph + `</p><script>var x = 1;</script></article>
		<footer>Copyright</footer>
	</body></html>`

	err := uploader.Upload(context.Background(), Document{
		Title:    "Root growth",
		Link:     "https://example.org/PMC2/",
		Download: &Download{URL: "https://example.org/PMC2/", ContentType: "text/html", Data: []byte(page)},
	})
	require.NoError(t, err)

	require.Greater(t, len(index.docs), 1)
	for _, doc := range index.docs {
		assert.LessOrEqual(t, len(doc.PageContent), chunkSize)
		assert.Equal(t, "Root growth", doc.Metadata["title"])
		assert.Equal(t, "https://example.org/PMC2/", doc.Metadata["source"])
		assert.Equal(t, "2025-10-04T00:00:00Z", doc.Metadata["loadedAt"])
		assert.NotContains(t, doc.PageContent, "Home | About")
		assert.NotContains(t, doc.PageContent, "var x")
	}
	assert.Contains(t, index.docs[0].PageContent, "Root growth")
}

func TestIndexUploaderNoContent(t *testing.T) {
	uploader := NewIndexUploader(&recordingIndex{})

	err := uploader.Upload(context.Background(), Document{
		Download: &Download{URL: "https://example.org/empty", ContentType: "text/html", Data: []byte("<html><body>   </body></html>")},
	})
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestHTMLToMarkdownPrefersArticle(t *testing.T) {
	text, err := HTMLToMarkdown([]byte(`<html><body><div>sidebar</div><main><p>main text</p></main><article><p>article text</p></article></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "article text", text)
}

func TestIndexUploaderPDF(t *testing.T) {
	index := &recordingIndex{}
	uploader := NewIndexUploader(index)
	uploader.now = func() time.Time { return time.Date(2025, 10, 4, 0, 0, 0, 0, time.UTC) }

	err := uploader.Upload(context.Background(), Document{
		Title:    "Bone loss",
		Link:     "https://example.org/PMC1/",
		FileName: "PMC1.pdf",
		Download: &Download{URL: "https://example.org/PMC1/pdf", ContentType: "application/pdf", Data: singlePagePDF("Bone density in microgravity")},
	})
	require.NoError(t, err)

	require.Len(t, index.docs, 1)
	doc := index.docs[0]
	assert.Contains(t, doc.PageContent, "Bone density in microgravity")
	assert.Equal(t, "Bone loss", doc.Metadata["title"])
	assert.Equal(t, "https://example.org/PMC1/", doc.Metadata["source"])
	assert.Equal(t, "2025-10-04T00:00:00Z", doc.Metadata["loadedAt"])
}
