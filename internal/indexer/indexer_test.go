package indexer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayadhanush/infrapilot-kb/internal/knowledge"
	"github.com/rayadhanush/infrapilot-kb/internal/log"
)

type mockWriter struct {
	added     []knowledge.Document
	removed   []string
	addErr    error
	removeErr error
}

func (m *mockWriter) AddDocument(_ context.Context, doc knowledge.Document) error {
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, doc)
	return nil
}

func (m *mockWriter) RemoveSource(_ context.Context, sourceFile string) error {
	if m.removeErr != nil {
		return m.removeErr
	}
	m.removed = append(m.removed, sourceFile)
	return nil
}

func pushEvent(added, modified, removed []string) PushEvent {
	var ev PushEvent
	ev.Repository.FullName = "acme/docs"
	ev.HeadCommit.ID = "abc123"
	ev.HeadCommit.Added = added
	ev.HeadCommit.Modified = modified
	ev.HeadCommit.Removed = removed
	return ev
}

func TestProcessPush(t *testing.T) {
	files := map[string]string{
		"/acme/docs/abc123/guides/ec2.md": "how to provision ec2",
		"/acme/docs/abc123/guides/sg.md":  "security group rules",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(content))
	}))
	defer srv.Close()

	writer := &mockWriter{}
	ix := New(writer, srv.URL, log.NewNop())

	summary := ix.ProcessPush(context.Background(), pushEvent(
		[]string{"guides/ec2.md"},
		[]string{"guides/sg.md"},
		[]string{"guides/old.md"},
	))

	assert.Equal(t, Summary{ChunksIndexed: 2, SourcesRemoved: 2, FilesFailed: 0}, summary)
	// Removed and modified files both get their stale chunks dropped.
	assert.ElementsMatch(t, []string{"guides/old.md", "guides/sg.md"}, writer.removed)

	require.Len(t, writer.added, 2)
	assert.Equal(t, "how to provision ec2", writer.added[0].Content)
	assert.Equal(t, "guides/ec2.md", writer.added[0].SourceFile)
	assert.Equal(t, 0, writer.added[0].ChunkIndex)
	assert.Len(t, writer.added[0].ID, 64)
}

func TestProcessPushDownloadFailureIsCounted(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	writer := &mockWriter{}
	ix := New(writer, srv.URL, log.NewNop())

	summary := ix.ProcessPush(context.Background(), pushEvent([]string{"missing.md"}, nil, nil))

	assert.Equal(t, 1, summary.FilesFailed)
	assert.Zero(t, summary.ChunksIndexed)
	assert.Empty(t, writer.added)
}

func TestProcessPushRemoveFailureIsCounted(t *testing.T) {
	writer := &mockWriter{removeErr: errors.New("db down")}
	ix := New(writer, "http://127.0.0.1:1", log.NewNop())

	summary := ix.ProcessPush(context.Background(), pushEvent(nil, nil, []string{"a.md"}))

	assert.Equal(t, Summary{FilesFailed: 1}, summary)
}

func TestChunkText(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := chunkText("hello", 4000, 500)
		assert.Equal(t, []string{"hello"}, chunks)
	})

	t.Run("empty text yields no chunks", func(t *testing.T) {
		assert.Nil(t, chunkText("", 4000, 500))
	})

	t.Run("long text overlaps", func(t *testing.T) {
		text := strings.Repeat("a", 9000)
		chunks := chunkText(text, 4000, 500)

		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 4000)
		assert.Len(t, chunks[1], 4000)
		assert.Len(t, chunks[2], 2000)
	})

	t.Run("consecutive chunks share the overlap", func(t *testing.T) {
		var b strings.Builder
		for i := 0; b.Len() < 5000; i++ {
			b.WriteString(strings.Repeat(string(rune('a'+i%26)), 100))
		}
		chunks := chunkText(b.String(), 4000, 500)

		require.GreaterOrEqual(t, len(chunks), 2)
		assert.Equal(t, chunks[0][3500:], chunks[1][:500])
	})
}

func TestChunkIDUniquePerCall(t *testing.T) {
	a := chunkID("content", "file.md", 0)
	b := chunkID("content", "file.md", 0)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
