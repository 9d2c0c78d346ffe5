package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayadhanush/infrapilot-kb/internal/log"
	"github.com/rayadhanush/infrapilot-kb/internal/testutil"
)

// mockQuerier implements Querier with canned rows.
type mockQuerier struct {
	intentRow   *IntentRow
	templateRow *TemplateRow
	docRows     []DocumentRow
	err         error

	upsertedIntents   []string
	upsertedTemplates []TemplateRow
	upsertedDocs      []DocumentRow
	deletedSources    []string
}

func (m *mockQuerier) NearestIntent(context.Context, pgvector.Vector) (*IntentRow, error) {
	return m.intentRow, m.err
}

func (m *mockQuerier) NearestTemplate(context.Context, pgvector.Vector) (*TemplateRow, error) {
	return m.templateRow, m.err
}

func (m *mockQuerier) NearestDocuments(context.Context, pgvector.Vector, int32) ([]DocumentRow, error) {
	return m.docRows, m.err
}

func (m *mockQuerier) UpsertIntent(_ context.Context, intent string, _ pgvector.Vector) error {
	m.upsertedIntents = append(m.upsertedIntents, intent)
	return m.err
}

func (m *mockQuerier) UpsertTemplate(_ context.Context, row TemplateRow, _ pgvector.Vector) error {
	m.upsertedTemplates = append(m.upsertedTemplates, row)
	return m.err
}

func (m *mockQuerier) UpsertDocument(_ context.Context, row DocumentRow, _ pgvector.Vector) error {
	m.upsertedDocs = append(m.upsertedDocs, row)
	return m.err
}

func (m *mockQuerier) DeleteDocumentsBySource(_ context.Context, source string) (int64, error) {
	m.deletedSources = append(m.deletedSources, source)
	return 2, m.err
}

func TestMatchIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("returns best match with similarity", func(t *testing.T) {
		q := &mockQuerier{intentRow: &IntentRow{Intent: "Create an EC2 instance", Similarity: 0.93}}
		embedder := &testutil.MockEmbedder{}
		store := New(q, embedder, log.NewNop())

		match, err := store.MatchIntent(ctx, "spin up a vm")
		require.NoError(t, err)
		require.NotNil(t, match)
		assert.Equal(t, "Create an EC2 instance", match.Intent)
		assert.InDelta(t, 0.93, match.Similarity, 0.001)
		assert.Equal(t, "spin up a vm", embedder.LastInputText)
	})

	t.Run("no rows means nil match, not an error", func(t *testing.T) {
		store := New(&mockQuerier{}, &testutil.MockEmbedder{}, log.NewNop())

		match, err := store.MatchIntent(ctx, "anything")
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("embedder error propagates", func(t *testing.T) {
		embedder := &testutil.MockEmbedder{Err: errors.New("quota exceeded")}
		store := New(&mockQuerier{}, embedder, log.NewNop())

		_, err := store.MatchIntent(ctx, "anything")
		assert.ErrorContains(t, err, "quota exceeded")
	})

	t.Run("empty embedding is an error", func(t *testing.T) {
		embedder := &testutil.MockEmbedder{ReturnEmpty: true}
		store := New(&mockQuerier{}, embedder, log.NewNop())

		_, err := store.MatchIntent(ctx, "anything")
		assert.ErrorContains(t, err, "empty embedding")
	})
}

func TestMatchTemplate(t *testing.T) {
	ctx := context.Background()

	t.Run("parses required slots in order", func(t *testing.T) {
		q := &mockQuerier{templateRow: &TemplateRow{
			Intent:        "Create an EC2 instance",
			RequiredSlots: []byte(`["Instance Name","Instance Type","Ami ID"]`),
			Method:        "POST",
			Endpoint:      "/api/ec2/",
		}}
		store := New(q, &testutil.MockEmbedder{}, log.NewNop())

		tpl, err := store.MatchTemplate(ctx, "Create an EC2 instance")
		require.NoError(t, err)
		require.NotNil(t, tpl)
		assert.Equal(t, []string{"Instance Name", "Instance Type", "Ami ID"}, tpl.RequiredSlots)
		assert.Equal(t, "POST", tpl.Method)
		assert.Equal(t, "/api/ec2/", tpl.Endpoint)
	})

	t.Run("empty table returns nil", func(t *testing.T) {
		store := New(&mockQuerier{}, &testutil.MockEmbedder{}, log.NewNop())

		tpl, err := store.MatchTemplate(ctx, "anything")
		require.NoError(t, err)
		assert.Nil(t, tpl)
	})

	t.Run("malformed required_slots is an error", func(t *testing.T) {
		q := &mockQuerier{templateRow: &TemplateRow{
			Intent:        "Broken",
			RequiredSlots: []byte(`{"not":"an array"}`),
		}}
		store := New(q, &testutil.MockEmbedder{}, log.NewNop())

		_, err := store.MatchTemplate(ctx, "Broken")
		assert.Error(t, err)
	})
}

func TestMatchDocs(t *testing.T) {
	q := &mockQuerier{docRows: []DocumentRow{
		{Content: "first chunk"},
		{Content: "second chunk"},
	}}
	store := New(q, &testutil.MockEmbedder{}, log.NewNop())

	docs, err := store.MatchDocs(context.Background(), "security groups", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"first chunk", "second chunk"}, docs)
}

func TestSeedTemplateMarshalsSlots(t *testing.T) {
	q := &mockQuerier{}
	store := New(q, &testutil.MockEmbedder{}, log.NewNop())

	err := store.SeedTemplate(context.Background(), Template{
		Intent:        "Delete your EC2 instance",
		RequiredSlots: []string{"Resource Name"},
		Method:        "DELETE",
		Endpoint:      "/api/ec2/",
	})
	require.NoError(t, err)
	require.Len(t, q.upsertedTemplates, 1)
	assert.JSONEq(t, `["Resource Name"]`, string(q.upsertedTemplates[0].RequiredSlots))
}

func TestRemoveSource(t *testing.T) {
	q := &mockQuerier{}
	store := New(q, &testutil.MockEmbedder{}, log.NewNop())

	require.NoError(t, store.RemoveSource(context.Background(), "docs/ec2.md"))
	assert.Equal(t, []string{"docs/ec2.md"}, q.deletedSources)
}
