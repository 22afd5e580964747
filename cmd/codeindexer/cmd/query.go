package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localci/codeindexer/internal/daemon"
	"github.com/localci/codeindexer/internal/output"
	"github.com/localci/codeindexer/internal/query"
)

func newQueryCmd() *cobra.Command {
	var (
		mode            string
		limit           int
		minScore        float64
		language        string
		excludeLanguage string
		pathFilters     []string
		excludePaths    []string
		accuracy        string
		caseSensitive   bool
		fuzzy           bool
		editDistance    int
		regex           bool
		snippetLines    int
		staleness       bool
		jsonOut         bool
		noDaemon        bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			root, cfg, err := loadProject()
			if err != nil {
				return err
			}

			params := daemon.QueryParams{
				Text:            text,
				Mode:            mode,
				Limit:           limit,
				MinScore:        minScore,
				Language:        language,
				ExcludeLanguage: excludeLanguage,
				PathFilters:     pathFilters,
				ExcludePaths:    excludePaths,
				Accuracy:        accuracy,
				CaseSensitive:   caseSensitive,
				Fuzzy:           fuzzy,
				EditDistance:    editDistance,
				Regex:           regex,
				SnippetLines:    snippetLines,
				CheckStaleness:  staleness,
			}

			var results *query.Results
			// Delegate to a running daemon; fall back to in-process on
			// any connection-level failure.
			if !noDaemon {
				client := daemon.NewClient(daemon.ConfigForProject(root, cfg))
				if client.IsRunning() {
					if res, err := client.Query(cmd.Context(), params); err == nil {
						results = res
					}
				}
			}
			if results == nil {
				c, err := openCore(root, cfg, false)
				if err != nil {
					return err
				}
				defer c.close()

				engine, err := c.engine()
				if err != nil {
					return err
				}
				res, err := engine.Query(cmd.Context(), text, params.Options())
				if err != nil {
					return err
				}
				results = &res
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printResults(output.New(cmd.OutOrStdout()), results)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "semantic", "search mode: semantic, fts, hybrid")
	cmd.Flags().IntVar(&limit, "limit", 10, "max results per engine (1..100)")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum cosine similarity (0..1)")
	cmd.Flags().StringVar(&language, "language", "", "filter by language facet")
	cmd.Flags().StringVar(&excludeLanguage, "exclude-language", "", "exclude a language facet")
	cmd.Flags().StringArrayVar(&pathFilters, "path", nil, "glob the payload path must match (repeatable)")
	cmd.Flags().StringArrayVar(&excludePaths, "exclude-path", nil, "glob the payload path must not match (repeatable)")
	cmd.Flags().StringVar(&accuracy, "accuracy", "balanced", "accuracy: fast, balanced, high")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "case-sensitive matching (fts)")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", false, "fuzzy matching (fts)")
	cmd.Flags().IntVar(&editDistance, "edit-distance", 0, "fuzzy edit distance 0..3 (fts)")
	cmd.Flags().BoolVar(&regex, "regex", false, "regex matching (fts)")
	cmd.Flags().IntVar(&snippetLines, "snippet-lines", 0, "snippet context lines 0..50 (fts)")
	cmd.Flags().BoolVar(&staleness, "staleness", false, "annotate results against live file mtimes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&noDaemon, "no-daemon", false, "bypass a running daemon")

	return cmd
}

func printResults(out *output.Writer, results *query.Results) {
	for _, r := range results.Semantic {
		line := fmt.Sprintf("%.3f  %s:%d-%d", r.Score, r.Path, r.LineStart, r.LineEnd)
		if r.Staleness != nil && r.Staleness.Stale {
			line += fmt.Sprintf("  (stale, %ds behind)", r.Staleness.DeltaSeconds)
		}
		out.Status("", line)
	}
	for _, r := range results.FTS {
		out.Statusf("", "%.3f  %s:%d-%d", r.Score, r.Path, r.LineStart, r.LineEnd)
		if r.Snippet != "" {
			out.Code(r.Snippet)
		}
	}
	if len(results.Semantic) == 0 && len(results.FTS) == 0 {
		out.Status("", "no results")
	}
	if results.Metadata.FTSError != "" {
		out.Warningf("fts: %s", results.Metadata.FTSError)
		if results.Metadata.Hint != "" {
			out.Statusf("", "hint: %s", results.Metadata.Hint)
		}
	}
	if results.Metadata.SemanticError != "" {
		out.Warningf("semantic: %s", results.Metadata.SemanticError)
	}
}
