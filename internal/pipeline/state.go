package pipeline

import (
	"log/slog"

	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/intent"
)

// WorkflowState is the request-scoped state threaded through the stages.
// It is never persisted beyond the cache layer.
type WorkflowState struct {
	OriginalQuery      string
	TableColumnInfo    string
	IsPerformanceQuery bool
	SummaryType        intent.Summary
	SQLQuery           string
	Rows               executor.Rows
	Err                error
	FinalResult        *Result
}

// fail records the first stage error; later failures are logged but do
// not overwrite it.
func (s *WorkflowState) fail(stage string, err error) {
	if s.Err != nil {
		slog.Debug("stage error after earlier failure", "stage", stage, "error", err)
		return
	}
	slog.Warn("stage failed", "stage", stage, "error", err)
	s.Err = err
}

// Result is the terminal response shape. A success carries raw_data and
// expert_analysis; a non-performance query yields the empty object; a
// failed run carries only error.
type Result struct {
	RawData        executor.Rows `json:"raw_data,omitempty"`
	ExpertAnalysis string        `json:"expert_analysis,omitempty"`
	Error          string        `json:"error,omitempty"`

	// performance records whether the run took the performance branch.
	// Only performance results are worth a cache entry; the default empty
	// result is returned but never stored.
	performance bool
}
