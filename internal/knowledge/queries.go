package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Row types returned by the Querier. They carry raw database values;
// Store converts them to the business types in types.go.

// IntentRow is a nearest-intent result.
type IntentRow struct {
	Intent     string
	Similarity float32
}

// TemplateRow is a nearest-template result. RequiredSlots is raw JSONB.
type TemplateRow struct {
	Intent        string
	Template      string
	RequiredSlots []byte
	Method        string
	Endpoint      string
	Similarity    float32
}

// DocumentRow is a nearest-document result.
type DocumentRow struct {
	ID         string
	Content    string
	SourceFile string
	ChunkIndex int32
	Similarity float32
}

// Querier defines the database operations the Store depends on.
// Interfaces are defined by the consumer; tests provide plain-struct mocks.
type Querier interface {
	NearestIntent(ctx context.Context, embedding pgvector.Vector) (*IntentRow, error)
	NearestTemplate(ctx context.Context, embedding pgvector.Vector) (*TemplateRow, error)
	NearestDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]DocumentRow, error)

	UpsertIntent(ctx context.Context, intent string, embedding pgvector.Vector) error
	UpsertTemplate(ctx context.Context, row TemplateRow, embedding pgvector.Vector) error
	UpsertDocument(ctx context.Context, row DocumentRow, embedding pgvector.Vector) error
	DeleteDocumentsBySource(ctx context.Context, sourceFile string) (int64, error)
}

// PgQuerier implements Querier against PostgreSQL + pgvector.
type PgQuerier struct {
	pool *pgxpool.Pool
}

// NewPgQuerier creates a Querier backed by the given connection pool.
func NewPgQuerier(pool *pgxpool.Pool) *PgQuerier {
	return &PgQuerier{pool: pool}
}

// NearestIntent returns the single closest intent by cosine similarity,
// or nil if the intents table is empty.
func (q *PgQuerier) NearestIntent(ctx context.Context, embedding pgvector.Vector) (*IntentRow, error) {
	const query = `
		SELECT intent, 1 - (embedding <=> $1) AS similarity
		FROM intents
		ORDER BY embedding <=> $1
		LIMIT 1`

	var row IntentRow
	err := q.pool.QueryRow(ctx, query, embedding).Scan(&row.Intent, &row.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest intent query: %w", err)
	}
	return &row, nil
}

// NearestTemplate returns the single closest template by cosine similarity,
// or nil if the templates table is empty.
func (q *PgQuerier) NearestTemplate(ctx context.Context, embedding pgvector.Vector) (*TemplateRow, error) {
	const query = `
		SELECT intent, template, required_slots, http_method, endpoint,
		       1 - (embedding <=> $1) AS similarity
		FROM templates
		ORDER BY embedding <=> $1
		LIMIT 1`

	var row TemplateRow
	err := q.pool.QueryRow(ctx, query, embedding).Scan(
		&row.Intent, &row.Template, &row.RequiredSlots, &row.Method, &row.Endpoint, &row.Similarity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("nearest template query: %w", err)
	}
	return &row, nil
}

// NearestDocuments returns up to limit document chunks ordered by
// similarity, best first.
func (q *PgQuerier) NearestDocuments(ctx context.Context, embedding pgvector.Vector, limit int32) ([]DocumentRow, error) {
	const query = `
		SELECT id, content, source_file, chunk_index,
		       1 - (embedding <=> $1) AS similarity
		FROM documents
		ORDER BY embedding <=> $1
		LIMIT $2`

	rows, err := q.pool.Query(ctx, query, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest documents query: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var row DocumentRow
		if err := rows.Scan(&row.ID, &row.Content, &row.SourceFile, &row.ChunkIndex, &row.Similarity); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return out, nil
}

// UpsertIntent inserts or replaces an intent embedding.
func (q *PgQuerier) UpsertIntent(ctx context.Context, intent string, embedding pgvector.Vector) error {
	const query = `
		INSERT INTO intents (intent, embedding)
		VALUES ($1, $2)
		ON CONFLICT (intent) DO UPDATE SET embedding = EXCLUDED.embedding`

	if _, err := q.pool.Exec(ctx, query, intent, embedding); err != nil {
		return fmt.Errorf("upserting intent %q: %w", intent, err)
	}
	return nil
}

// UpsertTemplate inserts or replaces a template row.
func (q *PgQuerier) UpsertTemplate(ctx context.Context, row TemplateRow, embedding pgvector.Vector) error {
	const query = `
		INSERT INTO templates (intent, template, required_slots, http_method, endpoint, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (intent) DO UPDATE SET
			template = EXCLUDED.template,
			required_slots = EXCLUDED.required_slots,
			http_method = EXCLUDED.http_method,
			endpoint = EXCLUDED.endpoint,
			embedding = EXCLUDED.embedding`

	if _, err := q.pool.Exec(ctx, query,
		row.Intent, row.Template, row.RequiredSlots, row.Method, row.Endpoint, embedding); err != nil {
		return fmt.Errorf("upserting template %q: %w", row.Intent, err)
	}
	return nil
}

// UpsertDocument inserts or replaces a document chunk.
func (q *PgQuerier) UpsertDocument(ctx context.Context, row DocumentRow, embedding pgvector.Vector) error {
	const query = `
		INSERT INTO documents (id, content, embedding, source_file, chunk_index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			source_file = EXCLUDED.source_file,
			chunk_index = EXCLUDED.chunk_index`

	if _, err := q.pool.Exec(ctx, query,
		row.ID, row.Content, embedding, row.SourceFile, row.ChunkIndex); err != nil {
		return fmt.Errorf("upserting document %q: %w", row.ID, err)
	}
	return nil
}

// DeleteDocumentsBySource removes every chunk indexed from sourceFile.
func (q *PgQuerier) DeleteDocumentsBySource(ctx context.Context, sourceFile string) (int64, error) {
	tag, err := q.pool.Exec(ctx, `DELETE FROM documents WHERE source_file = $1`, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("deleting documents for %q: %w", sourceFile, err)
	}
	return tag.RowsAffected(), nil
}
