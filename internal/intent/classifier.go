// Package intent decides what kind of answer a natural-language financial
// question expects: whether it is performance-related at all, and if so
// which reporting granularities and entity type it targets.
package intent

import "strings"

// Classifier reports whether a query asks about financial performance.
// Implementations must be deterministic and side-effect free so the
// keyword matcher can later be swapped for a model-based classifier
// without touching the pipeline.
type Classifier interface {
	Classify(query string) bool
}

// performanceKeywords is the fixed vocabulary for the keyword classifier.
// Matching is case-insensitive on the substring level.
var performanceKeywords = []string{
	"performance",
	"perform",
	"return",
	"returns",
	"gain",
	"growth",
	"yield",
	"roi",
	"quarter performance",
	"monthly performance",
	"year-to-date",
	"month-to-date",
	"quarter-to-date",
}

// KeywordClassifier classifies queries by substring match against the
// performance vocabulary.
type KeywordClassifier struct {
	keywords []string
}

// NewKeywordClassifier returns a classifier over the default vocabulary.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: performanceKeywords}
}

// Classify returns true if the query contains any performance keyword.
func (c *KeywordClassifier) Classify(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range c.keywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

var _ Classifier = (*KeywordClassifier)(nil)
