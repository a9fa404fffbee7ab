// Package api exposes the query pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/finsight/finsight/internal/cache"
	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/ingest"
	"github.com/finsight/finsight/internal/pipeline"
	"github.com/finsight/finsight/internal/retrieval"
)

const maxRequestBodySize = 10 << 20 // 10MB, ingestion batches can be large

// Asker abstracts the orchestrator for the API layer.
type Asker interface {
	Ask(ctx context.Context, query string) (json.RawMessage, error)
	AskIntent(ctx context.Context, in cache.Intent, query string) (json.RawMessage, error)
}

// Ingestor abstracts corpus replacement for the API layer.
type Ingestor interface {
	Replace(ctx context.Context, table string, pairs []ingest.Pair) error
}

// AppDeps holds dependencies for the HTTP handler. Analyst is optional;
// without it /insights returns an error.
type AppDeps struct {
	Pipeline Asker
	Ingestor Ingestor
	Analyst  pipeline.Analyst
	Token    string
}

// NewAppHandler returns the HTTP handler for the query API. All routes
// except /health require the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/query", handleQuery(deps))
		r.Post("/query-all", handleIntentQuery(deps, cache.IntentAll))
		r.Post("/query-ytd", handleIntentQuery(deps, cache.IntentYTD))
		r.Post("/query-qtd", handleIntentQuery(deps, cache.IntentQTD))
		r.Post("/query-mtd", handleIntentQuery(deps, cache.IntentMTD))
		r.Post("/query-non-performing", handleIntentQuery(deps, cache.IntentNonPerforming))
		r.Post("/insights", handleInsights(deps))
		r.Post("/ingest", handleIngest(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type queryRequest struct {
	Query string `json:"query"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return "", false
	}
	if strings.TrimSpace(req.Query) == "" {
		httpError(w, http.StatusBadRequest, "query is required")
		return "", false
	}
	return req.Query, true
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		data, err := deps.Pipeline.Ask(r.Context(), query)
		writeResult(w, data, err)
	}
}

func handleIntentQuery(deps AppDeps, in cache.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		data, err := deps.Pipeline.AskIntent(r.Context(), in, query)
		writeResult(w, data, err)
	}
}

// writeResult emits the pipeline response, mapping run failures to the
// {"error": message} shape.
func writeResult(w http.ResponseWriter, data json.RawMessage, err error) {
	if err != nil {
		httpError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

type insightsRequest struct {
	Question string        `json:"question"`
	Rows     executor.Rows `json:"rows"`
}

func handleInsights(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Analyst == nil {
			httpError(w, http.StatusServiceUnavailable, "insights not available: no analysis model configured")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req insightsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "question is required")
			return
		}

		analysis, err := deps.Analyst.Analyze(r.Context(), req.Question, req.Rows)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "analysis failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"expert_analysis": analysis})
	}
}

type ingestRequest struct {
	Pairs  []ingest.Pair `json:"pairs"`
	Target string        `json:"target"`
}

// handleIngest replaces a corpus table with the posted pairs. The body is
// either JSON ({pairs, target}) or CSV with a QUESTION,QUERY header, in
// which case the target defaults to the few-shot examples.
func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var pairs []ingest.Pair
		target := retrieval.TableExamples

		if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
			parsed, err := ingest.ReadPairsCSV(r.Body)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid CSV body: %v", err)
				return
			}
			pairs = parsed
		} else {
			var req ingestRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
				return
			}
			pairs = req.Pairs
			if req.Target != "" {
				resolved, err := resolveTarget(req.Target)
				if err != nil {
					httpError(w, http.StatusBadRequest, "%v", err)
					return
				}
				target = resolved
			}
		}

		if len(pairs) == 0 {
			httpError(w, http.StatusBadRequest, "at least one pair is required")
			return
		}
		for i, p := range pairs {
			if strings.TrimSpace(p.Question) == "" || strings.TrimSpace(p.SQL) == "" {
				httpError(w, http.StatusBadRequest, "pair %d: question and sql are required", i)
				return
			}
		}

		if err := deps.Ingestor.Replace(r.Context(), target, pairs); err != nil {
			httpError(w, http.StatusInternalServerError, "ingestion failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "replaced",
			"target":   target,
			"ingested": len(pairs),
		})
	}
}

func resolveTarget(name string) (string, error) {
	switch name {
	case "examples", retrieval.TableExamples:
		return retrieval.TableExamples, nil
	case retrieval.TableQuestionCache:
		return retrieval.TableQuestionCache, nil
	default:
		return "", fmt.Errorf("unknown ingestion target %q", name)
	}
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": fmt.Sprintf(format, args...),
	})
}
