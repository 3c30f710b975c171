package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxRedirects = 5
)

var (
	ErrTooLarge    = errors.New("file too large")
	ErrRateLimited = errors.New("rate limited")
	ErrNoContent   = errors.New("no content")
)

type SizeError struct {
	Size  int64
	Limit int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

func (e *SizeError) Unwrap() error {
	return ErrTooLarge
}

type Download struct {
	URL         string
	ContentType string
	Data        []byte
}

type Downloader struct {
	client   *resty.Client
	maxBytes int64
}

// NewDownloader creates a downloader. A maxBytes of zero disables the size
// limit.
func NewDownloader(timeout time.Duration, maxBytes int64) *Downloader {
	return &Downloader{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects)),
		maxBytes: maxBytes,
	}
}

// PDFURL returns the PDF location of an article landing page, which is the
// page url followed by "pdf".
func PDFURL(link string) string {
	if !strings.HasSuffix(link, "/") {
		link += "/"
	}
	return link + "pdf"
}

func (d *Downloader) Fetch(ctx context.Context, url string) (*Download, error) {
	res, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("error downloading %s: %w", url, err)
	}

	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, url)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("error downloading %s: HTTP %d", url, res.StatusCode())
	}

	if d.maxBytes > 0 && res.RawResponse.ContentLength > d.maxBytes {
		return nil, &SizeError{Size: res.RawResponse.ContentLength, Limit: d.maxBytes}
	}

	reader := io.Reader(body)
	if d.maxBytes > 0 {
		reader = io.LimitReader(body, d.maxBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading response from %s: %w", url, err)
	}
	if d.maxBytes > 0 && int64(len(data)) > d.maxBytes {
		return nil, &SizeError{Size: int64(len(data)), Limit: d.maxBytes}
	}

	return &Download{URL: url, ContentType: res.Header().Get("Content-Type"), Data: data}, nil
}
