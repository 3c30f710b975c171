package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher returns a canned error per url, or a small download.
type fakeFetcher struct {
	mu      sync.Mutex
	errs    map[string][]error
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetched = append(f.fetched, url)
	if errs := f.errs[url]; len(errs) > 0 {
		err := errs[0]
		f.errs[url] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Download{URL: url, Data: []byte("data")}, nil
}

type fakeUploader struct {
	docs []Document
	err  error
}

func (u *fakeUploader) Upload(ctx context.Context, doc Document) error {
	if u.err != nil {
		return u.err
	}
	u.docs = append(u.docs, doc)
	return nil
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func assertStatsBalanced(t *testing.T, stats Stats) {
	t.Helper()
	assert.Equal(t, stats.Total, stats.Success+stats.Failed+stats.Skipped)
}

func TestRunnerCountsEveryRecord(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string][]error{
		"https://a.org/3/pdf": {errors.New("connection reset")},
		"https://a.org/4/pdf": {&SizeError{Size: 20_000_000, Limit: 10_000_000}},
		"https://a.org/5/pdf": {ErrNoContent},
		"https://a.org/6/pdf": {ErrRateLimited, nil},
		"https://a.org/7/pdf": {ErrRateLimited, ErrRateLimited},
	}}
	uploader := &fakeUploader{}
	sleeper := &sleepRecorder{}

	var oversized bytes.Buffer
	log := csv.NewWriter(&oversized)

	runner := &Runner{
		Fetcher:          fetcher,
		Uploader:         uploader,
		PDF:              true,
		Delay:            time.Second,
		RateLimitBackoff: 30 * time.Second,
		OversizedLog:     log,
		sleep:            sleeper.sleep,
	}

	records := []Record{
		{Title: "one", Link: "https://a.org/1/"},
		{Title: "no link", Link: " "},
		{Title: "three", Link: "https://a.org/3/"},
		{Title: "four", Link: "https://a.org/4/"},
		{Title: "five", Link: "https://a.org/5/"},
		{Title: "six", Link: "https://a.org/6/"},
		{Title: "seven", Link: "https://a.org/7/"},
		{Title: "one again", Link: "https://a.org/1"},
	}

	stats := runner.Run(context.Background(), records)
	assertStatsBalanced(t, stats)

	assert.Equal(t, Stats{Total: 8, Success: 2, Failed: 2, Skipped: 4, Oversized: 1}, stats)

	require.Len(t, uploader.docs, 2)
	assert.Equal(t, "one", uploader.docs[0].Title)
	assert.Equal(t, "1.pdf", uploader.docs[0].FileName)
	assert.Equal(t, "https://a.org/1/pdf", uploader.docs[0].Download.URL)
	assert.Equal(t, "six", uploader.docs[1].Title)

	assert.Equal(t, "four,https://a.org/4/,20000000\n", oversized.String())

	// one delay between each pair of records plus two rate limit backoffs
	backoffs := 0
	for _, d := range sleeper.sleeps {
		if d == 30*time.Second {
			backoffs++
		}
	}
	assert.Equal(t, 2, backoffs)
	assert.Len(t, sleeper.sleeps, len(records)-1+2)
}

func TestRunnerUploadFailure(t *testing.T) {
	runner := &Runner{
		Fetcher:  &fakeFetcher{},
		Uploader: &fakeUploader{err: errors.New("upload failed")},
		sleep:    (&sleepRecorder{}).sleep,
	}

	stats := runner.Run(context.Background(), []Record{{Title: "a", Link: "https://a.org/a"}, {Title: "b", Link: "https://a.org/b"}})
	assertStatsBalanced(t, stats)
	assert.Equal(t, 2, stats.Failed)
}

func TestRunnerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	uploader := &fakeUploader{}
	runner := &Runner{
		Fetcher:  &fakeFetcher{},
		Uploader: uploader,
		sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	records := []Record{
		{Title: "a", Link: "https://a.org/a"},
		{Title: "b", Link: "https://a.org/b"},
		{Title: "c", Link: "https://a.org/c"},
	}

	stats := runner.Run(ctx, records)
	assertStatsBalanced(t, stats)
	assert.Equal(t, Stats{Total: 3, Success: 1, Skipped: 2}, stats)
	assert.Len(t, uploader.docs, 1)
}

func TestRunnerEmpty(t *testing.T) {
	runner := &Runner{Fetcher: &fakeFetcher{}, Uploader: &fakeUploader{}}
	assert.Equal(t, Stats{}, runner.Run(context.Background(), nil))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "PMC4136787.pdf", fileName("https://pmc.ncbi.nlm.nih.gov/articles/PMC4136787/", true))
	assert.Equal(t, "PMC4136787.html", fileName("https://pmc.ncbi.nlm.nih.gov/articles/PMC4136787", false))
	assert.Equal(t, "article.pdf", fileName("https://example.org/", true))
}
