// Package knowledge provides embedding generation and vector similarity
// search over intents, templates, and reference documents, backed by
// PostgreSQL + pgvector.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
)

// Store answers nearest-match queries for the dialogue engine and owns
// document/intent/template writes for the indexer and seeder.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// New creates a new Store.
func New(querier Querier, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// embed generates the embedding for a single text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding returned")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// MatchIntent returns the nearest known intent for the given text, with
// its cosine similarity. Returns (nil, nil) when no intents are indexed.
// Threshold acceptance is the resolver's concern, not the store's.
func (s *Store) MatchIntent(ctx context.Context, text string) (*IntentMatch, error) {
	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.NearestIntent(ctx, embedding)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	s.logger.Debug("intent match", "intent", row.Intent, "similarity", row.Similarity)
	return &IntentMatch{Intent: row.Intent, Similarity: row.Similarity}, nil
}

// MatchTemplate returns the best-matching template for the given text or
// intent label. Returns (nil, nil) when no templates are indexed; there is
// no threshold; the best available row always wins.
func (s *Store) MatchTemplate(ctx context.Context, textOrIntent string) (*Template, error) {
	embedding, err := s.embed(ctx, textOrIntent)
	if err != nil {
		return nil, err
	}

	row, err := s.queries.NearestTemplate(ctx, embedding)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	var slots []string
	if len(row.RequiredSlots) > 0 {
		if err := json.Unmarshal(row.RequiredSlots, &slots); err != nil {
			return nil, fmt.Errorf("failed to parse required_slots for %q: %w", row.Intent, err)
		}
	}

	return &Template{
		Intent:        row.Intent,
		Template:      row.Template,
		RequiredSlots: slots,
		Method:        row.Method,
		Endpoint:      row.Endpoint,
	}, nil
}

// MatchDocs returns the contents of the topK reference chunks nearest to
// the given text, best first. An empty result is not an error.
func (s *Store) MatchDocs(ctx context.Context, text string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 5
	}

	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	rows, err := s.queries.NearestDocuments(ctx, embedding, int32(topK))
	if err != nil {
		return nil, err
	}

	contents := make([]string, 0, len(rows))
	for _, row := range rows {
		contents = append(contents, row.Content)
	}
	return contents, nil
}

// AddDocument embeds and upserts one document chunk.
func (s *Store) AddDocument(ctx context.Context, doc Document) error {
	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding chunk %d of %q: %w", doc.ChunkIndex, doc.SourceFile, err)
	}

	err = s.queries.UpsertDocument(ctx, DocumentRow{
		ID:         doc.ID,
		Content:    doc.Content,
		SourceFile: doc.SourceFile,
		ChunkIndex: int32(doc.ChunkIndex),
	}, embedding)
	if err != nil {
		return err
	}

	s.logger.Debug("indexed document chunk",
		"source", doc.SourceFile, "chunk", doc.ChunkIndex, "bytes", len(doc.Content))
	return nil
}

// RemoveSource deletes every chunk indexed from the given source file.
func (s *Store) RemoveSource(ctx context.Context, sourceFile string) error {
	n, err := s.queries.DeleteDocumentsBySource(ctx, sourceFile)
	if err != nil {
		return err
	}
	s.logger.Debug("removed document chunks", "source", sourceFile, "count", n)
	return nil
}

// SeedIntent embeds and upserts one intent label.
func (s *Store) SeedIntent(ctx context.Context, intent string) error {
	embedding, err := s.embed(ctx, intent)
	if err != nil {
		return fmt.Errorf("embedding intent %q: %w", intent, err)
	}
	return s.queries.UpsertIntent(ctx, intent, embedding)
}

// SeedTemplate embeds and upserts one template. The embedding is computed
// from the intent label so template lookups by intent are near-exact.
func (s *Store) SeedTemplate(ctx context.Context, tpl Template) error {
	embedding, err := s.embed(ctx, tpl.Intent)
	if err != nil {
		return fmt.Errorf("embedding template %q: %w", tpl.Intent, err)
	}

	slotsJSON, err := json.Marshal(tpl.RequiredSlots)
	if err != nil {
		return fmt.Errorf("marshaling required_slots for %q: %w", tpl.Intent, err)
	}

	return s.queries.UpsertTemplate(ctx, TemplateRow{
		Intent:        tpl.Intent,
		Template:      tpl.Template,
		RequiredSlots: slotsJSON,
		Method:        tpl.Method,
		Endpoint:      tpl.Endpoint,
	}, embedding)
}
