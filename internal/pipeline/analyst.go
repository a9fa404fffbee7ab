package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/llm"
)

const analystSystemPrompt = `You are a financial analyst. Given a user's question and the query results from a financial warehouse, write a concise expert analysis of the numbers: notable leaders and laggards, comparative context across periods, and any caveats. Summarize without excluding retrieved records. If the data does not answer the question, say so.`

// Analyst produces expert commentary over result rows.
type Analyst interface {
	Analyze(ctx context.Context, question string, rows executor.Rows) (string, error)
}

// ChatClient is the slice of the LLM client the analyst needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// ChatAnalyst asks the generation collaborator for commentary.
type ChatAnalyst struct {
	client  ChatClient
	model   string
	timeout time.Duration
}

// NewChatAnalyst creates a ChatAnalyst. If timeout <= 0 a 60s default applies.
func NewChatAnalyst(client ChatClient, model string, timeout time.Duration) *ChatAnalyst {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChatAnalyst{client: client, model: model, timeout: timeout}
}

// Analyze serializes the rows into the prompt and returns the commentary.
func (a *ChatAnalyst) Analyze(ctx context.Context, question string, rows executor.Rows) (string, error) {
	if len(rows) == 0 {
		return "No records matched the question.", nil
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("serializing rows for analysis: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	analysis, err := a.client.Chat(ctx, a.model, []llm.Message{
		{Role: "system", Content: analystSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nQuery results:\n%s", question, data)},
	})
	if err != nil {
		return "", fmt.Errorf("analyzing results: %w", err)
	}
	return analysis, nil
}

var _ Analyst = (*ChatAnalyst)(nil)
