// Package retrieval provides the similarity index over embedded question
// text. It serves two consumers: few-shot example selection for prompt
// assembly, and the semantic question cache.
package retrieval

import "time"

// TableExamples holds the few-shot example corpus; TableQuestionCache holds
// previously answered questions for semantic lookup.
const (
	TableExamples      = "example_vectors"
	TableQuestionCache = "question_cache"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; an ANN-capable backend can be swapped in behind this interface.
type VectorStore interface {
	// Insert appends records to the given table.
	Insert(table string, records []Record) error

	// ReplaceAll atomically replaces the entire contents of the given table.
	// Concurrent readers observe either the old corpus or the new one,
	// never a partial state.
	ReplaceAll(table string, records []Record) error

	// Search returns the top-K nearest records ordered by distance
	// ascending (most similar first).
	Search(table string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the given table.
	Count(table string) (int, error)
}

// Record is one embedded (question, SQL) pair.
type Record struct {
	ID        string
	Question  string
	SQL       string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its distance to the query vector.
// Distance is 1 - cosine similarity: 0 means identical direction, values
// grow as similarity drops.
type ScoredRecord struct {
	Record
	Distance float32
}
