package storage

import "testing"

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"example_vectors", "question_cache"} {
		var count int
		if err := s.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s.Close()

	// Reopening must not re-apply migrations.
	s, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s.Close()

	var applied int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&applied); err != nil {
		t.Fatalf("querying schema_version: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied migrations = %d, want 1", applied)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_init.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}

	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for missing prefix")
	}
}
