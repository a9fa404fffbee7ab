package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/finsight/finsight/internal/config"
	"github.com/finsight/finsight/internal/ingest"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Replace a corpus with (question, SQL) pairs",
	Long: `Replace a corpus with (question, SQL) pairs.

Examples:
  finsight ingest --file pairs.csv
  finsight ingest --file pairs.csv --target question_cache`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		target, _ := cmd.Flags().GetString("target")

		if file == "" {
			return fmt.Errorf("--file is required")
		}

		f, err := os.Open(file)
		if err != nil {
			return fmt.Errorf("opening %s: %w", file, err)
		}
		defer f.Close()

		pairs, err := ingest.ReadPairsCSV(f)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return fmt.Errorf("%s contains no pairs", file)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", map[string]any{
			"pairs":  pairs,
			"target": target,
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Replaced %s with %d pairs", result["target"], len(pairs))
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("file", "", "CSV file with a QUESTION,QUERY header")
	ingestCmd.Flags().String("target", "examples", "corpus to replace (examples or question_cache)")
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the built-in few-shot examples",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", map[string]any{
			"pairs": ingest.Seeds(),
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Seeded example corpus with %d pairs", len(ingest.Seeds()))
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show finsight system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		client := &http.Client{Timeout: 2 * time.Second}

		resp, err := client.Get(serverURL + "/health")
		if err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		llmResp, err := client.Get(strings.TrimRight(cfg.LLM.BaseURL, "/") + "/models")
		if err != nil {
			printStatus("LLM endpoint", "not reachable")
		} else {
			llmResp.Body.Close()
			printStatus("LLM endpoint", "reachable at %s", cfg.LLM.BaseURL)
		}

		printStatus("Chat model", "%s", cfg.LLM.ChatModel)
		printStatus("Embed model", "%s", cfg.LLM.EmbedModel)
		printStatus("Warehouse", "%s", cfg.Warehouse.URL)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

// --- query (ad-hoc, against a running server) ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a financial question against the running server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]string{"query": question})
		if err != nil {
			return err
		}

		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
