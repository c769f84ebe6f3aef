package mimir

import (
	"time"
)

// MatchingStrategy controls how the engine matches query terms.
type MatchingStrategy string

const (
	// MatchingLast drops query terms from the end until results match.
	MatchingLast MatchingStrategy = "last"
	// MatchingAll requires every query term to match.
	MatchingAll MatchingStrategy = "all"
)

// Query describes one search request. The zero Query matches all documents
// with the engine's default pagination.
type Query struct {
	// Query is the search text. Empty means match-all.
	Query string

	// Offset and Limit paginate results. Limit 0 uses the engine's
	// default, which is surfaced on the SearchResult.
	Offset int
	Limit  int

	// Filter is a boolean predicate over filterable fields, in the
	// engine's filter syntax, e.g. `genre = horror AND year > 1990`.
	Filter string

	// Sort is an ordered list of "field:asc" / "field:desc" directives.
	Sort []string

	// Facets requests facet distributions for the named fields.
	Facets []string

	// AttributesToRetrieve restricts returned document fields.
	AttributesToRetrieve []string

	// AttributesToSearchOn restricts which fields are searched.
	AttributesToSearchOn []string

	// MatchingStrategy defaults to MatchingLast when empty.
	MatchingStrategy MatchingStrategy

	// ShowMatchesPosition includes match-position metadata per hit.
	ShowMatchesPosition bool

	// ShowRankingScore includes the relevance score per hit.
	ShowRankingScore bool
}

func (q Query) validate() error {
	if q.Offset < 0 {
		return errorf(KindEncoding, "invalid_search_offset", "offset must be non-negative, got %d", q.Offset)
	}
	if q.Limit < 0 {
		return errorf(KindEncoding, "invalid_search_limit", "limit must be non-negative, got %d", q.Limit)
	}
	return nil
}

// searchRequest is the wire shape of a search call.
type searchRequest struct {
	Q                    string   `json:"q"`
	Offset               int      `json:"offset,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	Filter               string   `json:"filter,omitempty"`
	Sort                 []string `json:"sort,omitempty"`
	Facets               []string `json:"facets,omitempty"`
	AttributesToRetrieve []string `json:"attributesToRetrieve,omitempty"`
	AttributesToSearchOn []string `json:"attributesToSearchOn,omitempty"`
	MatchingStrategy     string   `json:"matchingStrategy,omitempty"`
	ShowMatchesPosition  bool     `json:"showMatchesPosition,omitempty"`
	ShowRankingScore     bool     `json:"showRankingScore,omitempty"`
}

func (q Query) toRequest() searchRequest {
	return searchRequest{
		Q:                    q.Query,
		Offset:               q.Offset,
		Limit:                q.Limit,
		Filter:               q.Filter,
		Sort:                 q.Sort,
		Facets:               q.Facets,
		AttributesToRetrieve: q.AttributesToRetrieve,
		AttributesToSearchOn: q.AttributesToSearchOn,
		MatchingStrategy:     string(q.MatchingStrategy),
		ShowMatchesPosition:  q.ShowMatchesPosition,
		ShowRankingScore:     q.ShowRankingScore,
	}
}

// MatchPosition locates one query match inside a field, in bytes.
type MatchPosition struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Hit is one search result: the document plus per-hit metadata.
type Hit struct {
	Document Document
	// RankingScore is present when Query.ShowRankingScore was set.
	RankingScore float64
	// MatchesPosition maps field name to match locations when
	// Query.ShowMatchesPosition was set.
	MatchesPosition map[string][]MatchPosition
}

// SearchResult is the immutable outcome of one query.
type SearchResult struct {
	Hits []Hit
	// EstimatedTotalHits is the engine's estimate of matching documents.
	EstimatedTotalHits int64
	// Offset and Limit echo the pagination the engine applied; Limit
	// reports the engine default when the query left it unset.
	Offset int
	Limit  int
	// ProcessingTime is the engine-side query duration.
	ProcessingTime time.Duration
	// Query echoes the search text.
	Query string
	// FacetDistribution maps field name to value counts when facets were
	// requested.
	FacetDistribution map[string]map[string]int64
}
