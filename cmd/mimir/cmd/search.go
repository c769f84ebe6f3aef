package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lming/mimir"
	"github.com/lming/mimir/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	index     string
	limit     int
	offset    int
	filter    string
	sort      []string
	facets    []string
	format    string // "text" or "json"
	showScore bool
	matchAll  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an index",
		Long: `Search an index with typo-tolerant full-text matching.

Examples:
  mimir search "jurassic park"
  mimir search dinosaur --filter 'genre = adventure' --sort year:desc
  mimir search park --format json --limit 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.index, "index", "i", "documents", "Index uid to search")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of hits (engine default when 0)")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Number of hits to skip")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Filter expression, e.g. 'year > 1990'")
	cmd.Flags().StringSliceVar(&opts.sort, "sort", nil, "Sort directives, e.g. year:desc (repeatable)")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Facet fields (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.showScore, "score", false, "Show ranking scores")
	cmd.Flags().BoolVar(&opts.matchAll, "match-all", false, "Require every query word to match")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()
	inst, err := openInstance(ctx)
	if err != nil {
		return err
	}

	q := mimir.Query{
		Query:            query,
		Offset:           opts.offset,
		Limit:            opts.limit,
		Filter:           opts.filter,
		Sort:             opts.sort,
		Facets:           opts.facets,
		ShowRankingScore: opts.showScore,
	}
	if opts.matchAll {
		q.MatchingStrategy = mimir.MatchingAll
	}

	res, err := inst.Index(opts.index).Search(ctx, q)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(searchResultJSON(res))
	}
	ui.New(cmd.OutOrStdout()).SearchResult(res, opts.showScore)
	return nil
}

// searchResultJSON shapes a result for --format json without the internal
// document representation leaking through.
func searchResultJSON(res mimir.SearchResult) map[string]any {
	hits := make([]json.RawMessage, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if raw, err := hit.Document.MarshalJSON(); err == nil {
			hits = append(hits, raw)
		}
	}
	out := map[string]any{
		"hits":               hits,
		"estimatedTotalHits": res.EstimatedTotalHits,
		"offset":             res.Offset,
		"limit":              res.Limit,
		"processingTimeMs":   res.ProcessingTime.Milliseconds(),
		"query":              res.Query,
	}
	if len(res.FacetDistribution) > 0 {
		out["facetDistribution"] = res.FacetDistribution
	}
	return out
}
