package retrieval

import "context"

// Example is a retrieved (question, SQL) pair with its distance to the
// query, ascending distances meaning closer matches.
type Example struct {
	ID       string
	Question string
	SQL      string
	Distance float32
}

// Retriever combines embedding and vector search over one table.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	table    string
}

// NewRetriever creates a Retriever over the given table.
func NewRetriever(embedder *Embedder, store VectorStore, table string) *Retriever {
	return &Retriever{embedder: embedder, store: store, table: table}
}

// Similar embeds the query text and returns the top-K nearest examples,
// ordered by distance ascending.
func (r *Retriever) Similar(ctx context.Context, query string, topK int) ([]Example, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(r.table, vec, topK)
	if err != nil {
		return nil, err
	}

	examples := make([]Example, len(scored))
	for i, s := range scored {
		examples[i] = Example{
			ID:       s.ID,
			Question: s.Question,
			SQL:      s.SQL,
			Distance: s.Distance,
		}
	}
	return examples, nil
}
