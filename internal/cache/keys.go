package cache

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Intent partitions cache keys so differently-shaped result sets for the
// same raw text never collide.
type Intent string

const (
	IntentQuery         Intent = ""
	IntentAll           Intent = "all"
	IntentYTD           Intent = "ytd"
	IntentQTD           Intent = "qtd"
	IntentMTD           Intent = "mtd"
	IntentNonPerforming Intent = "non_performing"
)

// Fingerprint derives a stable key from the raw query text: the text is
// normalized (lowercased, whitespace collapsed) and hashed with SHA-256.
// It depends only on the text, never on process identity or time.
func Fingerprint(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return fmt.Sprintf("%x", sha256.Sum256([]byte(normalized)))
}

// QueryKey builds the cache key for a query under the given intent
// partition, e.g. "query_cache:qtd:<fingerprint>".
func QueryKey(intent Intent, query string) string {
	if intent == IntentQuery {
		return fmt.Sprintf("query_cache:%s", Fingerprint(query))
	}
	return fmt.Sprintf("query_cache:%s:%s", intent, Fingerprint(query))
}
