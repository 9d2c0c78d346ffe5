// Package testutil provides shared test doubles.
package testutil

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// MockEmbedder implements ai.Embedder for unit tests.
// It returns a fixed embedding and records inputs for verification.
type MockEmbedder struct {
	Err           error     // error to return from Embed
	ReturnEmpty   bool      // return a single empty embedding
	Embedding     []float32 // custom embedding to return (default {0.1, 0.2, 0.3})
	CallCount     int
	LastInputText string
}

func (m *MockEmbedder) Name() string { return "mock-embedder" }

func (m *MockEmbedder) Register(api.Registry) {}

func (m *MockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.CallCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.LastInputText = req.Input[0].Content[0].Text
	}

	if m.Err != nil {
		return nil, m.Err
	}
	if m.ReturnEmpty {
		return &ai.EmbedResponse{
			Embeddings: []*ai.Embedding{{Embedding: []float32{}}},
		}, nil
	}

	embedding := m.Embedding
	if embedding == nil {
		embedding = []float32{0.1, 0.2, 0.3}
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: embedding}},
	}, nil
}
