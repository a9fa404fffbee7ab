// Package semcache short-circuits the pipeline for questions that are
// semantically close to ones already answered.
package semcache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/finsight/finsight/internal/retrieval"
)

// Hit is a previously answered question close enough to the new one.
type Hit struct {
	Question string
	SQL      string
	Distance float32
}

// Cache looks up previously answered questions by embedding similarity.
// Distances are 1 - cosine similarity: a neighbour qualifies when its
// distance is <= the configured threshold (lower = more similar).
type Cache struct {
	retriever *retrieval.Retriever
	threshold float32
}

// New creates a Cache over the question-cache retriever.
func New(retriever *retrieval.Retriever, threshold float64) *Cache {
	return &Cache{retriever: retriever, threshold: float32(threshold)}
}

// Recorder appends answered questions to the cache corpus so future
// lookups can match them.
type Recorder struct {
	embedder *retrieval.Embedder
	store    retrieval.VectorStore
}

// NewRecorder creates a Recorder over the question-cache table.
func NewRecorder(embedder *retrieval.Embedder, store retrieval.VectorStore) *Recorder {
	return &Recorder{embedder: embedder, store: store}
}

// Remember embeds the question and stores it with its SQL.
func (r *Recorder) Remember(ctx context.Context, question, sqlText string) error {
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embedding answered question: %w", err)
	}
	return r.store.Insert(retrieval.TableQuestionCache, []retrieval.Record{{
		ID:        uuid.NewString(),
		Question:  question,
		SQL:       sqlText,
		Embedding: vector,
	}})
}

// Lookup returns the nearest answered question when it is within the
// threshold. ok is false when the corpus is empty or the neighbour is too
// far. Retrieval failures are returned so the caller can fall through to
// the full pipeline.
func (c *Cache) Lookup(ctx context.Context, query string) (Hit, bool, error) {
	examples, err := c.retriever.Similar(ctx, query, 1)
	if err != nil {
		return Hit{}, false, fmt.Errorf("semantic lookup: %w", err)
	}
	if len(examples) == 0 {
		return Hit{}, false, nil
	}

	nearest := examples[0]
	if nearest.Distance > c.threshold {
		slog.Debug("semantic cache miss", "distance", nearest.Distance, "threshold", c.threshold)
		return Hit{}, false, nil
	}

	slog.Debug("semantic cache hit", "question", nearest.Question, "distance", nearest.Distance)
	return Hit{
		Question: nearest.Question,
		SQL:      nearest.SQL,
		Distance: nearest.Distance,
	}, true, nil
}
