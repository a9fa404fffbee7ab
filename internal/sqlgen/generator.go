// Package sqlgen turns an assembled prompt into a candidate SQL statement
// via the text-generation collaborator, and validates candidates before
// they reach the warehouse.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/finsight/finsight/internal/llm"
)

// ErrUnsafeSQL is returned when a candidate contains a denylisted keyword.
// The message is surfaced verbatim to the caller.
var ErrUnsafeSQL = errors.New("Potentially dangerous query detected")

// deniedKeywords is matched case-insensitively on the substring level.
// This is a coarse safety net, not a parser-level guarantee; false
// positives and negatives are an accepted limitation.
var deniedKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT", "UPDATE",
}

const defaultTimeout = 60 * time.Second

// ChatClient is the slice of the LLM client the generator needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Generator wraps the text-generation collaborator with a timeout and
// post-generation validation.
type Generator struct {
	client  ChatClient
	model   string
	timeout time.Duration
}

// New creates a Generator. If timeout <= 0 the default (60s) is used.
func New(client ChatClient, model string, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Generator{client: client, model: model, timeout: timeout}
}

// Generate sends the assembled prompt to the generation collaborator and
// returns a validated candidate SQL string. Failure or timeout of the
// collaborator is returned as an error for the stage to record; a
// denylist hit returns ErrUnsafeSQL.
func (g *Generator) Generate(ctx context.Context, prompt, question string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	raw, err := g.client.Chat(ctx, g.model, []llm.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: question},
	})
	if err != nil {
		return "", fmt.Errorf("generating SQL: %w", err)
	}

	candidate := extractSQL(raw)
	if candidate == "" {
		return "", fmt.Errorf("generation produced no SQL")
	}
	if err := Validate(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

// Validate rejects candidates containing any denylisted keyword,
// case-insensitively.
func Validate(candidate string) error {
	upper := strings.ToUpper(candidate)
	for _, kw := range deniedKeywords {
		if strings.Contains(upper, kw) {
			return ErrUnsafeSQL
		}
	}
	return nil
}

// extractSQL strips markdown code fences the collaborator tends to wrap
// responses in, returning the trimmed statement text.
func extractSQL(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(s[:nl])
			if firstLine == "sql" || firstLine == "SQL" || firstLine == "" {
				s = s[nl+1:]
			}
		}
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	return strings.TrimSpace(s)
}
