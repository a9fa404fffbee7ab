// Package pipeline orchestrates the staged natural-language to SQL flow:
// resolve schema context, classify, resolve granularity, generate SQL,
// execute, format. Transitions are an explicit enumerated table; the
// first stage error sticks and downstream stages pass through.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/finsight/finsight/internal/cache"
	"github.com/finsight/finsight/internal/composer"
	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/intent"
	"github.com/finsight/finsight/internal/retrieval"
	"github.com/finsight/finsight/internal/schema"
	"github.com/finsight/finsight/internal/semcache"
)

// Generator turns an assembled prompt into validated SQL.
type Generator interface {
	Generate(ctx context.Context, prompt, question string) (string, error)
}

// ExampleSource retrieves few-shot examples for the prompt.
type ExampleSource interface {
	Similar(ctx context.Context, query string, topK int) ([]retrieval.Example, error)
}

// SemanticLookup finds previously answered questions close to a new one.
type SemanticLookup interface {
	Lookup(ctx context.Context, query string) (semcache.Hit, bool, error)
}

// AnswerRecorder appends an answered question to the semantic corpus.
type AnswerRecorder interface {
	Remember(ctx context.Context, question, sqlText string) error
}

// Deps carries the orchestrator's collaborators. Semantic, Recorder,
// Analyst and ExecCache are optional; the rest are required.
type Deps struct {
	Schema     schema.Provider
	Classifier intent.Classifier
	Resolver   intent.Resolver
	Examples   ExampleSource
	Assembler  *composer.Assembler
	Generator  Generator
	Executor   executor.Executor

	Semantic SemanticLookup
	Recorder AnswerRecorder
	Analyst  Analyst
	Cache    *cache.ExecutionCache

	TopK      int
	QueryTTL  time.Duration
	IntentTTL time.Duration
}

type workflowStage int

const (
	stageResolveSchema workflowStage = iota
	stageClassify
	stageStrategy
	stageGenerate
	stageExecute
	stageFormat
	stageEnd
)

// transition pairs a stage body with the rule choosing the next stage.
type transition struct {
	name string
	run  func(ctx context.Context, st *WorkflowState)
	next func(st *WorkflowState) workflowStage
}

// Orchestrator drives a WorkflowState through the transition table.
type Orchestrator struct {
	deps Deps
	plan map[workflowStage]transition
}

// New creates an Orchestrator and builds its transition table.
func New(deps Deps) *Orchestrator {
	if deps.TopK <= 0 {
		deps.TopK = 2
	}
	if deps.QueryTTL <= 0 {
		deps.QueryTTL = 5 * time.Minute
	}
	if deps.IntentTTL <= 0 {
		deps.IntentTTL = 24 * time.Hour
	}

	o := &Orchestrator{deps: deps}
	o.plan = map[workflowStage]transition{
		stageResolveSchema: {
			name: "resolve_schema",
			run:  o.resolveSchema,
			next: func(*WorkflowState) workflowStage { return stageClassify },
		},
		stageClassify: {
			name: "classify",
			run:  o.classify,
			next: func(st *WorkflowState) workflowStage {
				if !st.IsPerformanceQuery {
					return stageFormat
				}
				return stageStrategy
			},
		},
		stageStrategy: {
			name: "strategy",
			run:  o.strategy,
			next: func(*WorkflowState) workflowStage { return stageGenerate },
		},
		stageGenerate: {
			name: "generate",
			run:  o.generate,
			next: func(st *WorkflowState) workflowStage {
				if st.Err != nil || st.SQLQuery == "" {
					return stageFormat
				}
				return stageExecute
			},
		},
		stageExecute: {
			name: "execute",
			run:  o.execute,
			next: func(*WorkflowState) workflowStage { return stageFormat },
		},
		stageFormat: {
			name: "format",
			run:  o.format,
			next: func(*WorkflowState) workflowStage { return stageEnd },
		},
	}
	return o
}

// Answer runs the query through the pipeline, consulting the semantic
// cache first. On a semantic hit the stored SQL enters the flow at the
// execute stage; a full run that succeeds is recorded for future hits.
func (o *Orchestrator) Answer(ctx context.Context, query string) *Result {
	if o.deps.Semantic != nil {
		hit, ok, err := o.deps.Semantic.Lookup(ctx, query)
		switch {
		case err != nil:
			slog.Warn("semantic cache unavailable", "error", err)
		case ok:
			st := &WorkflowState{
				OriginalQuery:      query,
				IsPerformanceQuery: true,
				SQLQuery:           hit.SQL,
			}
			return o.runFrom(ctx, stageExecute, st)
		}
	}

	st := &WorkflowState{OriginalQuery: query}
	result := o.runFrom(ctx, stageResolveSchema, st)

	if o.deps.Recorder != nil && st.Err == nil && st.SQLQuery != "" {
		if err := o.deps.Recorder.Remember(ctx, query, st.SQLQuery); err != nil {
			slog.Warn("recording answered question failed", "error", err)
		}
	}
	return result
}

// Ask runs Answer behind the execution cache with the short pipeline TTL.
// When the query resolves to a single granularity the key is scoped to it,
// so "this quarter" and "this month" phrasings of the same text never
// share an entry.
func (o *Orchestrator) Ask(ctx context.Context, query string) (json.RawMessage, error) {
	return o.ask(ctx, o.keyIntent(query), o.deps.QueryTTL, query)
}

func (o *Orchestrator) keyIntent(query string) cache.Intent {
	if !o.deps.Classifier.Classify(query) {
		return cache.IntentQuery
	}
	summary := o.deps.Resolver.Resolve(query)
	if len(summary.Granularities) != 1 {
		return cache.IntentQuery
	}
	switch summary.Granularities[0] {
	case intent.MTD:
		return cache.IntentMTD
	case intent.QTD:
		return cache.IntentQTD
	case intent.YTD:
		return cache.IntentYTD
	}
	return cache.IntentQuery
}

// AskIntent runs Answer behind the execution cache under an intent-scoped
// key with the long intent TTL.
func (o *Orchestrator) AskIntent(ctx context.Context, in cache.Intent, query string) (json.RawMessage, error) {
	return o.ask(ctx, in, o.deps.IntentTTL, query)
}

func (o *Orchestrator) ask(ctx context.Context, in cache.Intent, ttl time.Duration, query string) (json.RawMessage, error) {
	compute := func(ctx context.Context) (any, bool, error) {
		result := o.Answer(ctx, query)
		// Failures are returned as errors so they are never cached. The
		// default empty result of a non-performance run is not stored
		// either; only performance results create entries.
		if result.Error != "" {
			return nil, false, errors.New(result.Error)
		}
		return result, result.performance, nil
	}

	if o.deps.Cache == nil {
		result, _, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}
	return o.deps.Cache.GetOrCompute(ctx, cache.QueryKey(in, query), ttl, compute)
}

func (o *Orchestrator) runFrom(ctx context.Context, start workflowStage, st *WorkflowState) *Result {
	for cur := start; cur != stageEnd; {
		step := o.plan[cur]
		step.run(ctx, st)
		cur = step.next(st)
	}
	return st.FinalResult
}

func (o *Orchestrator) resolveSchema(_ context.Context, st *WorkflowState) {
	info, err := o.deps.Schema.Context()
	if err != nil {
		st.fail("resolve_schema", err)
		return
	}
	st.TableColumnInfo = info
}

func (o *Orchestrator) classify(_ context.Context, st *WorkflowState) {
	st.IsPerformanceQuery = o.deps.Classifier.Classify(st.OriginalQuery)
	slog.Debug("classified query", "performance", st.IsPerformanceQuery)
}

func (o *Orchestrator) strategy(_ context.Context, st *WorkflowState) {
	if st.Err != nil {
		return
	}
	st.SummaryType = o.deps.Resolver.Resolve(st.OriginalQuery)
	slog.Debug("resolved granularity", "summary", st.SummaryType.String())
}

func (o *Orchestrator) generate(ctx context.Context, st *WorkflowState) {
	if st.Err != nil {
		return
	}

	examples, err := o.deps.Examples.Similar(ctx, st.OriginalQuery, o.deps.TopK)
	if err != nil {
		// Examples improve quality but are not required to answer.
		slog.Warn("example retrieval failed, generating without examples", "error", err)
		examples = nil
	}

	prompt := o.deps.Assembler.Assemble(st.OriginalQuery, st.TableColumnInfo, st.SummaryType, examples)

	sqlText, err := o.deps.Generator.Generate(ctx, prompt, st.OriginalQuery)
	if err != nil {
		st.fail("generate", err)
		return
	}
	st.SQLQuery = sqlText
}

func (o *Orchestrator) execute(ctx context.Context, st *WorkflowState) {
	if st.Err != nil || st.SQLQuery == "" {
		return
	}
	rows, err := o.deps.Executor.Execute(ctx, st.SQLQuery)
	if err != nil {
		st.fail("execute", err)
		return
	}
	st.Rows = rows
}

// format always yields a result so every run terminates with a response.
func (o *Orchestrator) format(ctx context.Context, st *WorkflowState) {
	switch {
	case st.Err != nil:
		st.FinalResult = &Result{Error: st.Err.Error()}
	case !st.IsPerformanceQuery:
		st.FinalResult = &Result{}
	default:
		st.FinalResult = &Result{
			RawData:        st.Rows,
			ExpertAnalysis: o.analyze(ctx, st),
			performance:    true,
		}
	}
}

// analyze degrades to an empty analysis rather than discarding rows that
// were already fetched.
func (o *Orchestrator) analyze(ctx context.Context, st *WorkflowState) string {
	if o.deps.Analyst == nil {
		return ""
	}
	analysis, err := o.deps.Analyst.Analyze(ctx, st.OriginalQuery, st.Rows)
	if err != nil {
		slog.Warn("expert analysis failed, returning raw data only", "error", err)
		return ""
	}
	return analysis
}
