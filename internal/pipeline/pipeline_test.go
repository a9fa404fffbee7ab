package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/finsight/finsight/internal/cache"
	"github.com/finsight/finsight/internal/composer"
	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/ingest"
	"github.com/finsight/finsight/internal/intent"
	"github.com/finsight/finsight/internal/llm"
	"github.com/finsight/finsight/internal/retrieval"
	"github.com/finsight/finsight/internal/schema"
	"github.com/finsight/finsight/internal/semcache"
	"github.com/finsight/finsight/internal/sqlgen"
)

type fakeExamples struct {
	examples []retrieval.Example
	err      error
}

func (f *fakeExamples) Similar(context.Context, string, int) ([]retrieval.Example, error) {
	return f.examples, f.err
}

type fakeGenerator struct {
	sql     string
	err     error
	calls   int
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.sql, f.err
}

type fakeExecutor struct {
	rows  executor.Rows
	err   error
	calls int
	sqls  []string
}

func (f *fakeExecutor) Execute(_ context.Context, sqlText string) (executor.Rows, error) {
	f.calls++
	f.sqls = append(f.sqls, sqlText)
	return f.rows, f.err
}

type fakeSemantic struct {
	hit semcache.Hit
	ok  bool
	err error
}

func (f *fakeSemantic) Lookup(context.Context, string) (semcache.Hit, bool, error) {
	return f.hit, f.ok, f.err
}

type fakeRecorder struct {
	questions []string
	sqls      []string
}

func (f *fakeRecorder) Remember(_ context.Context, question, sqlText string) error {
	f.questions = append(f.questions, question)
	f.sqls = append(f.sqls, sqlText)
	return nil
}

type fakeAnalyst struct {
	analysis string
	err      error
}

func (f *fakeAnalyst) Analyze(context.Context, string, executor.Rows) (string, error) {
	return f.analysis, f.err
}

type fakeChat struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeChat) Chat(_ context.Context, _ string, messages []llm.Message) (string, error) {
	f.prompts = append(f.prompts, messages[0].Content)
	return f.response, f.err
}

func baseDeps(gen *fakeGenerator, exec *fakeExecutor) Deps {
	return Deps{
		Schema:     schema.NewStaticProvider(""),
		Classifier: intent.NewKeywordClassifier(),
		Resolver:   intent.NewKeywordResolver(),
		Examples:   &fakeExamples{},
		Assembler:  composer.New(),
		Generator:  gen,
		Executor:   exec,
	}
}

func TestAnswer_NonPerformanceSkipsGenerationAndExecution(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{}
	o := New(baseDeps(gen, exec))

	result := o.Answer(context.Background(), "What is the weather today?")

	if result == nil {
		t.Fatal("terminal stage must always produce a result")
	}
	if result.Error != "" || result.RawData != nil || result.ExpertAnalysis != "" {
		t.Errorf("non-performance result = %+v, want empty", result)
	}
	if gen.calls != 0 {
		t.Error("SQL generation attempted for non-performance query")
	}
	if exec.calls != 0 {
		t.Error("execution attempted for non-performance query")
	}
}

func TestAnswer_Success(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT MarketIndexName FROM MarketIndex"}
	exec := &fakeExecutor{rows: executor.Rows{{"MarketIndexName": "S&P 500"}}}
	rec := &fakeRecorder{}

	deps := baseDeps(gen, exec)
	deps.Recorder = rec
	deps.Analyst = &fakeAnalyst{analysis: "The S&P 500 led the quarter."}
	o := New(deps)

	query := "What is the performance of US market indices for this quarter?"
	result := o.Answer(context.Background(), query)

	if result.Error != "" {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if len(result.RawData) != 1 {
		t.Fatalf("raw_data = %v", result.RawData)
	}
	if result.ExpertAnalysis != "The S&P 500 led the quarter." {
		t.Errorf("expert_analysis = %q", result.ExpertAnalysis)
	}
	if len(rec.questions) != 1 || rec.questions[0] != query {
		t.Errorf("recorded questions = %v", rec.questions)
	}
	if rec.sqls[0] != gen.sql {
		t.Errorf("recorded SQL = %q", rec.sqls[0])
	}
}

func TestAnswer_UnsafeSQLBlocksExecution(t *testing.T) {
	// A real generator with a collaborator that emits a denylisted
	// statement: execution must never be reached.
	chat := &fakeChat{response: "DROP TABLE Valuations"}
	exec := &fakeExecutor{}

	deps := baseDeps(nil, exec)
	deps.Generator = sqlgen.New(chat, "m", 0)
	deps.Recorder = &fakeRecorder{}
	o := New(deps)

	result := o.Answer(context.Background(), "Delete last quarter performance records")

	if exec.calls != 0 {
		t.Fatal("denylisted SQL reached the executor")
	}
	if result.Error != sqlgen.ErrUnsafeSQL.Error() {
		t.Errorf("result.Error = %q", result.Error)
	}
}

func TestAnswer_SemanticHitSkipsGeneration(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{rows: executor.Rows{{"v": 1}}}
	rec := &fakeRecorder{}

	deps := baseDeps(gen, exec)
	deps.Semantic = &fakeSemantic{hit: semcache.Hit{SQL: "SELECT cached"}, ok: true}
	deps.Recorder = rec
	o := New(deps)

	result := o.Answer(context.Background(), "US indices quarterly performance?")

	if result.Error != "" {
		t.Fatalf("result.Error = %q", result.Error)
	}
	if gen.calls != 0 {
		t.Error("full pipeline invoked despite semantic hit")
	}
	if exec.calls != 1 || exec.sqls[0] != "SELECT cached" {
		t.Errorf("executed %v, want the stored SQL", exec.sqls)
	}
	if len(rec.questions) != 0 {
		t.Error("semantic hit must not be re-recorded")
	}
}

func TestAnswer_SemanticMissFallsThrough(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT fresh"}
	exec := &fakeExecutor{}

	deps := baseDeps(gen, exec)
	deps.Semantic = &fakeSemantic{ok: false}
	o := New(deps)

	o.Answer(context.Background(), "asset growth this month")

	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want full pipeline run", gen.calls)
	}
}

func TestAnswer_SemanticFailureFallsThrough(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT fresh"}
	exec := &fakeExecutor{}

	deps := baseDeps(gen, exec)
	deps.Semantic = &fakeSemantic{err: errors.New("index down")}
	o := New(deps)

	result := o.Answer(context.Background(), "asset growth this month")

	if result.Error != "" {
		t.Errorf("semantic failure must not fail the run: %q", result.Error)
	}
	if gen.calls != 1 {
		t.Error("full pipeline not attempted after semantic failure")
	}
}

func TestAnswer_GenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model timeout")}
	exec := &fakeExecutor{}
	o := New(baseDeps(gen, exec))

	result := o.Answer(context.Background(), "show monthly returns")

	if exec.calls != 0 {
		t.Error("execution attempted after generation failure")
	}
	if !strings.Contains(result.Error, "model timeout") {
		t.Errorf("result.Error = %q", result.Error)
	}
}

func TestAnswer_ExecutionFailure(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{err: errors.New("warehouse unreachable")}
	o := New(baseDeps(gen, exec))

	result := o.Answer(context.Background(), "show monthly returns")

	if !strings.Contains(result.Error, "warehouse unreachable") {
		t.Errorf("result.Error = %q", result.Error)
	}
	if result.RawData != nil {
		t.Error("failed run must not carry raw data")
	}
}

func TestAnswer_AnalystFailureDegradesToRawData(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{rows: executor.Rows{{"v": 1}}}

	deps := baseDeps(gen, exec)
	deps.Analyst = &fakeAnalyst{err: errors.New("model down")}
	o := New(deps)

	result := o.Answer(context.Background(), "show monthly returns")

	if result.Error != "" {
		t.Fatalf("analyst failure must not fail the run: %q", result.Error)
	}
	if len(result.RawData) != 1 {
		t.Errorf("raw_data = %v", result.RawData)
	}
	if result.ExpertAnalysis != "" {
		t.Errorf("expert_analysis = %q, want empty on degrade", result.ExpertAnalysis)
	}
}

func TestAnswer_RetrievalFailureStillGenerates(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{}

	deps := baseDeps(gen, exec)
	deps.Examples = &fakeExamples{err: errors.New("store down")}
	o := New(deps)

	result := o.Answer(context.Background(), "show monthly returns")

	if result.Error != "" {
		t.Errorf("retrieval failure must degrade, got error %q", result.Error)
	}
	if gen.calls != 1 {
		t.Error("generation skipped after retrieval failure")
	}
}

func TestAsk_CachesSuccessOnly(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("boom")}
	exec := &fakeExecutor{}

	deps := baseDeps(gen, exec)
	deps.Cache = cache.NewExecutionCache(cache.NewMemoryStore())
	o := New(deps)

	// Failures recompute every time.
	for i := 0; i < 2; i++ {
		if _, err := o.Ask(context.Background(), "show monthly returns"); err == nil {
			t.Fatal("expected error from failed run")
		}
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, errors must not be cached", gen.calls)
	}

	// Successes hit the cache on the second call.
	gen.err = nil
	gen.sql = "SELECT 1"
	gen.calls = 0
	for i := 0; i < 2; i++ {
		if _, err := o.Ask(context.Background(), "show yearly returns"); err != nil {
			t.Fatalf("Ask: %v", err)
		}
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1 (second call cached)", gen.calls)
	}
}

func TestAsk_NonPerformanceCreatesNoCacheEntry(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{}

	store := cache.NewMemoryStore()
	deps := baseDeps(gen, exec)
	deps.Cache = cache.NewExecutionCache(store)
	o := New(deps)

	query := "List all customer addresses"
	data, err := o.Ask(context.Background(), query)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("result = %s, want the default empty result", data)
	}

	for _, in := range []cache.Intent{cache.IntentQuery, cache.IntentAll, cache.IntentYTD, cache.IntentQTD, cache.IntentMTD, cache.IntentNonPerforming} {
		if _, ok, _ := store.Get(context.Background(), cache.QueryKey(in, query)); ok {
			t.Errorf("cache entry created under intent %q for a non-performance query", in)
		}
	}
	if gen.calls != 0 || exec.calls != 0 {
		t.Error("non-performance query reached generation or execution")
	}
}

func TestAskIntent_UsesIntentScopedKey(t *testing.T) {
	gen := &fakeGenerator{sql: "SELECT 1"}
	exec := &fakeExecutor{}

	store := cache.NewMemoryStore()
	deps := baseDeps(gen, exec)
	deps.Cache = cache.NewExecutionCache(store)
	o := New(deps)

	query := "show me year-to-date returns"
	if _, err := o.AskIntent(context.Background(), cache.IntentYTD, query); err != nil {
		t.Fatalf("AskIntent: %v", err)
	}

	if _, ok, _ := store.Get(context.Background(), cache.QueryKey(cache.IntentYTD, query)); !ok {
		t.Error("result not stored under the ytd-scoped key")
	}
	if _, ok, _ := store.Get(context.Background(), cache.QueryKey(cache.IntentQuery, query)); ok {
		t.Error("result leaked into the unscoped key")
	}
}

// End-to-end scenario: a quarterly index question classifies as
// performance, resolves to QTD with the index entity type, assembles the
// seeded examples into the prompt, generates safe SQL, executes it, and
// caches the result under a qtd-scoped key.
func TestAsk_QuarterlyIndexScenario(t *testing.T) {
	seeds := ingest.Seeds()
	examples := make([]retrieval.Example, len(seeds))
	for i, s := range seeds {
		examples[i] = retrieval.Example{Question: s.Question, SQL: s.SQL}
	}

	chat := &fakeChat{response: "```sql\nSELECT MarketIndexName FROM MarketIndex\n```"}
	exec := &fakeExecutor{rows: executor.Rows{{"MarketIndexName": "NASDAQ"}}}
	store := cache.NewMemoryStore()

	deps := baseDeps(nil, exec)
	deps.Examples = &fakeExamples{examples: examples}
	deps.Generator = sqlgen.New(chat, "m", 0)
	deps.Cache = cache.NewExecutionCache(store)
	o := New(deps)

	query := "What is the performance of US market indices for this quarter?"
	data, err := o.Ask(context.Background(), query)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.RawData) != 1 {
		t.Errorf("raw_data = %v", result.RawData)
	}

	// Prompt carried both seeded examples and the resolved summary.
	if len(chat.prompts) != 1 {
		t.Fatalf("chat prompts = %d", len(chat.prompts))
	}
	prompt := chat.prompts[0]
	for _, s := range seeds {
		if !strings.Contains(prompt, s.Question) {
			t.Errorf("prompt missing seeded example %q", s.Question)
		}
	}
	if !strings.Contains(prompt, "QTD (Market Index)") {
		t.Error("prompt missing resolved summary type")
	}

	// Fenced response was stripped before execution.
	if exec.sqls[0] != "SELECT MarketIndexName FROM MarketIndex" {
		t.Errorf("executed %q", exec.sqls[0])
	}

	// Result cached under the qtd-scoped key.
	if _, ok, _ := store.Get(context.Background(), cache.QueryKey(cache.IntentQTD, query)); !ok {
		t.Error("result not cached under the qtd-scoped key")
	}
}
