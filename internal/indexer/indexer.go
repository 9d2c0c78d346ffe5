// Package indexer keeps the document store in sync with a documentation
// repository: on each push it removes stale chunks and indexes the files
// the commit touched.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/log"
)

const (
	defaultRawBase = "https://raw.githubusercontent.com"
	fetchTimeout   = 30 * time.Second

	chunkSize    = 4000
	chunkOverlap = 500
)

// PushEvent is the subset of a git-push webhook payload the indexer needs.
type PushEvent struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	HeadCommit struct {
		ID       string   `json:"id"`
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"head_commit"`
}

// DocumentWriter is the store surface the indexer writes through,
// implemented by knowledge.Store.
type DocumentWriter interface {
	AddDocument(ctx context.Context, doc knowledge.Document) error
	RemoveSource(ctx context.Context, sourceFile string) error
}

// Summary reports what one push processed.
type Summary struct {
	ChunksIndexed  int `json:"chunks_indexed"`
	SourcesRemoved int `json:"sources_removed"`
	FilesFailed    int `json:"files_failed"`
}

// Indexer processes push events against the document store.
type Indexer struct {
	docs    DocumentWriter
	client  *http.Client
	rawBase string
	logger  log.Logger
}

// New creates an Indexer fetching raw file contents from rawBase; an
// empty rawBase means raw.githubusercontent.com.
func New(docs DocumentWriter, rawBase string, logger log.Logger) *Indexer {
	if rawBase == "" {
		rawBase = defaultRawBase
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Indexer{
		docs:    docs,
		client:  &http.Client{Timeout: fetchTimeout},
		rawBase: rawBase,
		logger:  logger,
	}
}

// ProcessPush removes chunks for removed and modified files, then
// downloads and indexes added and modified files at the pushed commit.
// Per-file failures are counted and logged, not fatal: one bad file must
// not block the rest of the commit.
func (ix *Indexer) ProcessPush(ctx context.Context, ev PushEvent) Summary {
	var summary Summary

	for _, path := range append(ev.HeadCommit.Removed, ev.HeadCommit.Modified...) {
		if err := ix.docs.RemoveSource(ctx, path); err != nil {
			ix.logger.Error("removing stale chunks failed", "source", path, "error", err)
			summary.FilesFailed++
			continue
		}
		summary.SourcesRemoved++
	}

	base := fmt.Sprintf("%s/%s/%s/", ix.rawBase, ev.Repository.FullName, ev.HeadCommit.ID)
	for _, path := range append(ev.HeadCommit.Added, ev.HeadCommit.Modified...) {
		n, err := ix.indexFile(ctx, base, path)
		if err != nil {
			ix.logger.Error("indexing file failed", "source", path, "error", err)
			summary.FilesFailed++
			continue
		}
		summary.ChunksIndexed += n
	}

	ix.logger.Info("processed push",
		"repo", ev.Repository.FullName,
		"commit", ev.HeadCommit.ID,
		"chunks", summary.ChunksIndexed,
		"removed", summary.SourcesRemoved,
		"failed", summary.FilesFailed)
	return summary
}

func (ix *Indexer) indexFile(ctx context.Context, base, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	resp, err := ix.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	chunks := chunkText(string(content), chunkSize, chunkOverlap)
	for i, chunk := range chunks {
		doc := knowledge.Document{
			ID:         chunkID(chunk, path, i),
			Content:    chunk,
			SourceFile: path,
			ChunkIndex: i,
		}
		if err := ix.docs.AddDocument(ctx, doc); err != nil {
			return i, fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return len(chunks), nil
}

// chunkText splits text into chunks of size characters, each overlapping
// the previous by overlap characters.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	step := size - overlap
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// chunkID derives a unique chunk identifier. A random uuid is mixed in
// so re-indexing the same content never collides with leftover rows.
func chunkID(content, sourceFile string, index int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", content, sourceFile, index, uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
