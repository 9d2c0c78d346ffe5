package knowledge

// VectorDimension is the embedding dimension used across the pgvector
// schema. The configured embedder must produce (or be truncated to)
// vectors of this size.
const VectorDimension = 768

// IntentMatch is the resolver-facing result of a nearest-intent lookup.
type IntentMatch struct {
	Intent     string
	Similarity float32
}

// Template is the registry-facing schema for slot collection and dispatch.
// RequiredSlots preserves elicitation order.
type Template struct {
	Intent        string
	Template      string
	RequiredSlots []string
	Method        string
	Endpoint      string
}

// Document is one indexed reference chunk.
type Document struct {
	ID         string
	Content    string
	SourceFile string
	ChunkIndex int
}
