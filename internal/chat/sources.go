package chat

import (
	"strings"

	"stella-backend/internal/database"

	"github.com/tmc/langchaingo/schema"
)

func normalizeLink(link string) string {
	return strings.TrimSuffix(strings.TrimSpace(link), "/")
}

// DedupSources keeps the first occurrence of every link. Sources without a link
// are dropped.
func DedupSources(sources []database.Source) []database.Source {
	seen := make(map[string]bool, len(sources))
	deduped := make([]database.Source, 0, len(sources))
	for _, src := range sources {
		key := normalizeLink(src.Link)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, database.Source{Title: strings.TrimSpace(src.Title), Link: strings.TrimSpace(src.Link)})
	}
	return deduped
}

func SourcesFromDocuments(docs []schema.Document) []database.Source {
	sources := make([]database.Source, 0, len(docs))
	for _, doc := range docs {
		title, _ := doc.Metadata["title"].(string)
		link, _ := doc.Metadata["source"].(string)
		if link == "" {
			link, _ = doc.Metadata["link"].(string)
		}
		sources = append(sources, database.Source{Title: title, Link: link})
	}
	return DedupSources(sources)
}
