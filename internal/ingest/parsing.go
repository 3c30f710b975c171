package ingest

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/gen2brain/go-fitz"
)

var (
	inlineImages = regexp.MustCompile(`!\[[^\]]*\]\(data:image/[^)]+\)`)
	blankLines   = regexp.MustCompile(`\n{3,}`)
)

// contentSelectors are tried in order. The first one that matches an element
// with text is converted.
var contentSelectors = []string{"article", ".article-content", "main", "body"}

func newConverter() *md.Converter {
	return md.NewConverter("", true, nil).Remove("script", "style", "noscript", "nav", "footer", "form", "iframe", "svg")
}

func PDFToMarkdown(contents []byte) (string, error) {
	doc, err := fitz.NewFromMemory(contents)
	if err != nil {
		return "", fmt.Errorf("error opening pdf: %w", err)
	}
	defer doc.Close()

	converter := newConverter()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		html, err := doc.HTML(i, true)
		if err != nil {
			return "", fmt.Errorf("error extracting page %d: %w", i, err)
		}

		text, err := converter.ConvertString(html)
		if err != nil {
			return "", fmt.Errorf("error converting page %d: %w", i, err)
		}

		b.WriteString(cleanMarkdown(text))
		b.WriteString("\n\n")
	}

	return strings.TrimSpace(b.String()), nil
}

func HTMLToMarkdown(page []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("error parsing html: %w", err)
	}

	converter := newConverter()
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 || strings.TrimSpace(sel.Text()) == "" {
			continue
		}
		if text := cleanMarkdown(converter.Convert(sel)); text != "" {
			return text, nil
		}
	}

	return "", nil
}

func cleanMarkdown(text string) string {
	text = inlineImages.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isPDF(dl *Download) bool {
	return strings.Contains(strings.ToLower(dl.ContentType), "application/pdf") || bytes.HasPrefix(dl.Data, []byte("%PDF"))
}
