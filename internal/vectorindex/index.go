package vectorindex

import (
	"context"
	"fmt"
	"net/url"

	"stella-backend/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
	"github.com/tmc/langchaingo/vectorstores/pinecone"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

const (
	BackendPinecone = "pinecone"
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"
)

type Index interface {
	AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error)
}

func NewEmbedder(cfg config.OpenAI) (embeddings.Embedder, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("error creating embedder: %w", err)
	}
	return embedder, nil
}

func New(ctx context.Context, cfg config.VectorIndex, embedder embeddings.Embedder) (Index, error) {
	switch cfg.Backend {
	case BackendPinecone:
		if cfg.PineconeHost == "" {
			return nil, fmt.Errorf("pinecone index host must be specified")
		}
		store, err := pinecone.New(
			pinecone.WithHost(cfg.PineconeHost),
			pinecone.WithAPIKey(cfg.PineconeAPIKey),
			pinecone.WithNameSpace(cfg.Namespace),
			pinecone.WithEmbedder(embedder),
		)
		if err != nil {
			return nil, fmt.Errorf("error connecting to pinecone: %w", err)
		}
		return &store, nil

	case BackendQdrant:
		u, err := url.Parse(cfg.QdrantURL)
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant url %q: %w", cfg.QdrantURL, err)
		}
		store, err := qdrant.New(
			qdrant.WithURL(*u),
			qdrant.WithCollectionName(cfg.Collection),
			qdrant.WithAPIKey(cfg.QdrantAPIKey),
			qdrant.WithEmbedder(embedder),
		)
		if err != nil {
			return nil, fmt.Errorf("error connecting to qdrant: %w", err)
		}
		return &store, nil

	case BackendPgvector:
		store, err := pgvector.New(ctx,
			pgvector.WithConnectionURL(cfg.PgvectorURL),
			pgvector.WithCollectionName(cfg.Collection),
			pgvector.WithEmbedder(embedder),
		)
		if err != nil {
			return nil, fmt.Errorf("error connecting to pgvector: %w", err)
		}
		return &store, nil

	case BackendMemory:
		return NewMemoryIndex(embedder), nil

	default:
		return nil, fmt.Errorf("invalid vector backend '%s'", cfg.Backend)
	}
}
