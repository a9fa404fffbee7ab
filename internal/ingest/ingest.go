// Package ingest (re)populates the few-shot and semantic-cache corpora
// from batches of (question, SQL) pairs.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/finsight/finsight/internal/retrieval"
)

// Pair is one ingested question with its known-good SQL.
type Pair struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// Embedder generates embeddings for ingested questions.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorReplacer atomically replaces a corpus table.
type VectorReplacer interface {
	ReplaceAll(table string, records []retrieval.Record) error
	Count(table string) (int, error)
}

// Ingestor embeds pairs and replaces corpus tables wholesale. Individual
// records are never mutated in place.
type Ingestor struct {
	embedder Embedder
	vectors  VectorReplacer
}

// New creates an Ingestor.
func New(embedder Embedder, vectors VectorReplacer) *Ingestor {
	return &Ingestor{embedder: embedder, vectors: vectors}
}

// Replace embeds all pairs and swaps them in as the new contents of the
// given table.
func (i *Ingestor) Replace(ctx context.Context, table string, pairs []Pair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("no pairs to ingest")
	}

	questions := make([]string, len(pairs))
	for j, p := range pairs {
		questions[j] = p.Question
	}

	vectors, err := i.embedder.EmbedBatch(ctx, questions)
	if err != nil {
		return fmt.Errorf("embedding %d questions: %w", len(pairs), err)
	}

	records := make([]retrieval.Record, len(pairs))
	for j, p := range pairs {
		records[j] = retrieval.Record{
			ID:        uuid.NewString(),
			Question:  p.Question,
			SQL:       p.SQL,
			Embedding: vectors[j],
		}
	}

	if err := i.vectors.ReplaceAll(table, records); err != nil {
		return fmt.Errorf("replacing %s: %w", table, err)
	}

	slog.Info("corpus replaced", "table", table, "pairs", len(records))
	return nil
}

// SeedIfEmpty ingests the built-in examples into the given table when it
// holds no records yet.
func (i *Ingestor) SeedIfEmpty(ctx context.Context, table string) error {
	count, err := i.vectors.Count(table)
	if err != nil {
		return fmt.Errorf("counting %s: %w", table, err)
	}
	if count > 0 {
		return nil
	}
	return i.Replace(ctx, table, Seeds())
}

// Seeds returns the canonical few-shot examples shipped with the system.
func Seeds() []Pair {
	return []Pair{
		{
			Question: "What is the performance of US market indices for this quarter?",
			SQL: `SELECT mi.MarketIndexName, v.EntityId AS MarketIndexId,
EXP(SUM(CASE WHEN v.ValuationDate = (date_trunc('month', v.ValuationDate) + interval '1 month - 1 day')::date THEN LN(NULLIF(1 + v.Value / 100, 0)) END)) - 1 AS QTD_Performance
FROM Valuations v JOIN MarketIndex mi ON v.EntityId = mi.MarketIndexId
WHERE v.EntityTypeId = 3 AND v.ValuationDate >= date_trunc('quarter', CURRENT_DATE) AND v.FrequencyId = 3
GROUP BY mi.MarketIndexName, v.EntityId
ORDER BY QTD_Performance DESC LIMIT 5`,
		},
		{
			Question: "Show me top 5 asset performances for the month",
			SQL: `SELECT mi.FundName, mi.MarketIndexId,
EXP(SUM(CASE WHEN v.ValuationDate = (date_trunc('month', v.ValuationDate) + interval '1 month - 1 day')::date THEN LN(NULLIF(1 + v.Value / 100, 0)) END)) - 1 AS MTD_Performance
FROM Valuations v JOIN MarketIndex mi ON v.EntityId = mi.MarketIndexId
WHERE v.EntityTypeId = 1 AND v.ValuationDate >= date_trunc('month', CURRENT_DATE) AND v.FrequencyId = 3
GROUP BY mi.FundName, mi.MarketIndexId
ORDER BY MTD_Performance DESC LIMIT 5`,
		},
	}
}

// ReadPairsCSV parses (question, SQL) pairs from CSV with a QUESTION,QUERY
// header, matching the spreadsheet layout the corpus is maintained in.
func ReadPairsCSV(r io.Reader) ([]Pair, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), "question") ||
		!strings.EqualFold(strings.TrimSpace(header[1]), "query") {
		return nil, fmt.Errorf("unexpected CSV header %v, want QUESTION,QUERY", header)
	}

	var pairs []Pair
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		q := strings.TrimSpace(row[0])
		s := strings.TrimSpace(row[1])
		if q == "" || s == "" {
			continue
		}
		pairs = append(pairs, Pair{Question: q, SQL: s})
	}
	return pairs, nil
}
