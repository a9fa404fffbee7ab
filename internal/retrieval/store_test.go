package retrieval

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with both vector tables.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	for _, table := range []string{TableExamples, TableQuestionCache} {
		_, err = db.Exec(fmt.Sprintf(`
			CREATE TABLE %s (
				id TEXT PRIMARY KEY,
				question TEXT NOT NULL,
				sql_query TEXT NOT NULL,
				embedding BLOB NOT NULL,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`, table))
		if err != nil {
			t.Fatalf("creating table %s: %v", table, err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestInsertAndSearch(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	vec := makeTestVector(768, 0.1)
	err := s.Insert(TableExamples, []Record{{
		ID:        "r1",
		Question:  "What is the performance of US market indices for this quarter?",
		SQL:       "SELECT 1",
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(TableExamples, vec, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Distance > 0.01 {
		t.Errorf("distance = %f, want ~0 for identical vector", results[0].Distance)
	}
	if results[0].ID != "r1" {
		t.Errorf("ID = %q, want r1", results[0].ID)
	}
}

func TestSearch_OrderedByDistanceAscending(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	// Orthogonal-ish vectors at increasing angles from the query.
	query := []float32{1, 0, 0}
	records := []Record{
		{ID: "far", Question: "far", SQL: "s", Embedding: []float32{0, 1, 0}},
		{ID: "near", Question: "near", SQL: "s", Embedding: []float32{1, 0.1, 0}},
		{ID: "mid", Question: "mid", SQL: "s", Embedding: []float32{1, 1, 0}},
	}
	if err := s.Insert(TableExamples, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(TableExamples, query, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantOrder := []string{"near", "mid", "far"}
	for i, want := range wantOrder {
		if results[i].ID != want {
			t.Errorf("results[%d].ID = %q, want %q", i, results[i].ID, want)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Errorf("distances not ascending: %v then %v", results[i-1].Distance, results[i].Distance)
		}
	}
}

func TestSearch_TopK(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	var records []Record
	for i := 0; i < 10; i++ {
		records = append(records, Record{
			ID:        fmt.Sprintf("r%d", i),
			Question:  fmt.Sprintf("question %d", i),
			SQL:       "SELECT 1",
			Embedding: makeTestVector(16, float32(i)*0.05),
		})
	}
	if err := s.Insert(TableExamples, records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(TableExamples, makeTestVector(16, 0.0), 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
}

func TestSearch_TablesIsolated(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	vec := makeTestVector(8, 0.3)
	if err := s.Insert(TableExamples, []Record{{ID: "e1", Question: "q", SQL: "s", Embedding: vec}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(TableQuestionCache, vec, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("question_cache returned %d results, want 0", len(results))
	}
}

func TestSearch_UnknownTable(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if _, err := s.Search("users", makeTestVector(4, 0.1), 1); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestReplaceAll(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	old := []Record{
		{ID: "old1", Question: "a", SQL: "s", Embedding: makeTestVector(8, 0.1)},
		{ID: "old2", Question: "b", SQL: "s", Embedding: makeTestVector(8, 0.2)},
	}
	if err := s.Insert(TableQuestionCache, old); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	replacement := []Record{
		{ID: "new1", Question: "c", SQL: "s", Embedding: makeTestVector(8, 0.3)},
	}
	if err := s.ReplaceAll(TableQuestionCache, replacement); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}

	count, err := s.Count(TableQuestionCache)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	results, err := s.Search(TableQuestionCache, makeTestVector(8, 0.3), 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "new1" {
		t.Errorf("post-replace results = %+v, want only new1", results)
	}
}

func TestSearch_ZeroQueryVector(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	if err := s.Insert(TableExamples, []Record{{ID: "r1", Question: "q", SQL: "s", Embedding: makeTestVector(4, 0.5)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(TableExamples, []float32{0, 0, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for zero vector, got %v", results)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vec := makeTestVector(32, 0.7)
	decoded, err := decodeFloat32s(encodeFloat32s(vec))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(vec) {
		t.Fatalf("got %d dims, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if decoded[i] != vec[i] {
			t.Fatalf("decoded[%d] = %f, want %f", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeFloat32s_CorruptLength(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for non-multiple-of-4 length")
	}
}
