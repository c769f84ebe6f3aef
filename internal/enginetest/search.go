package enginetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/lming/mimir"
)

// defaultSearchLimit is the engine's default page size, echoed back on
// every response so clients never have to assume it.
const defaultSearchLimit = 20

type searchParams struct {
	Q                    string   `json:"q"`
	Offset               int      `json:"offset"`
	Limit                int      `json:"limit"`
	Filter               string   `json:"filter"`
	Sort                 []string `json:"sort"`
	Facets               []string `json:"facets"`
	AttributesToRetrieve []string `json:"attributesToRetrieve"`
	AttributesToSearchOn []string `json:"attributesToSearchOn"`
	MatchingStrategy     string   `json:"matchingStrategy"`
	ShowMatchesPosition  bool     `json:"showMatchesPosition"`
	ShowRankingScore     bool     `json:"showRankingScore"`
}

type wireSearchResponse struct {
	Hits               []json.RawMessage           `json:"hits"`
	EstimatedTotalHits int64                       `json:"estimatedTotalHits"`
	Offset             int                         `json:"offset"`
	Limit              int                         `json:"limit"`
	ProcessingTimeMs   int64                       `json:"processingTimeMs"`
	Query              string                      `json:"query"`
	FacetDistribution  map[string]map[string]int64 `json:"facetDistribution,omitempty"`
}

type wirePosition struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// candidate is one matching document before filtering and pagination.
type candidate struct {
	id        string
	score     float64
	positions map[string][]wirePosition
	parsed    map[string]any
}

// httpError is a synchronous request rejection.
type httpError struct {
	status  int
	code    string
	errType string
	msg     string
}

func (e *httpError) Error() string { return e.msg }

func badRequest(code, format string, args ...any) *httpError {
	return &httpError{
		status:  http.StatusBadRequest,
		code:    code,
		errType: "invalid_request",
		msg:     fmt.Sprintf(format, args...),
	}
}

type sortDirective struct {
	field string
	desc  bool
}

func parseSortDirectives(raw []string) ([]sortDirective, *httpError) {
	out := make([]sortDirective, 0, len(raw))
	for _, s := range raw {
		field, dir, ok := strings.Cut(s, ":")
		if !ok || field == "" || (dir != "asc" && dir != "desc") {
			return nil, badRequest("invalid_search_sort",
				"sort directive %q must be field:asc or field:desc", s)
		}
		out = append(out, sortDirective{field: field, desc: dir == "desc"})
	}
	return out, nil
}

// search runs a query against the index. Caller holds the server read lock.
func (idx *testIndex) search(p searchParams) (*wireSearchResponse, *httpError) {
	if p.Offset < 0 || p.Limit < 0 {
		return nil, badRequest("invalid_search_offset", "offset and limit must be non-negative")
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}

	filter, err := parseFilter(p.Filter)
	if err != nil {
		return nil, badRequest("invalid_search_filter", "invalid filter: %v", err)
	}
	if filter != nil {
		used := map[string]struct{}{}
		filter.fields(used)
		for f := range used {
			if !idx.settings.filterable(f) {
				return nil, badRequest("invalid_search_filter",
					"attribute %q is not filterable", f)
			}
		}
	}

	directives, herr := parseSortDirectives(p.Sort)
	if herr != nil {
		return nil, herr
	}
	for _, d := range directives {
		if !idx.settings.sortable(d.field) {
			return nil, badRequest("invalid_search_sort",
				"attribute %q is not sortable", d.field)
		}
	}
	for _, f := range p.Facets {
		if !idx.settings.filterable(f) {
			return nil, badRequest("invalid_search_facets",
				"attribute %q is not filterable", f)
		}
	}

	cands, herr := idx.match(p)
	if herr != nil {
		return nil, herr
	}

	// Filter, then count: the estimate is over the filtered set.
	if filter != nil {
		kept := cands[:0]
		for _, c := range cands {
			if filter.eval(c.parsed) {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	total := int64(len(cands))

	if len(directives) > 0 {
		sortCandidates(cands, directives)
	}

	var facets map[string]map[string]int64
	if len(p.Facets) > 0 {
		facets = facetDistribution(cands, p.Facets)
	}

	// Paginate.
	start := p.Offset
	if start > len(cands) {
		start = len(cands)
	}
	end := start + limit
	if end > len(cands) {
		end = len(cands)
	}
	page := cands[start:end]

	hits := make([]json.RawMessage, 0, len(page))
	for _, c := range page {
		raw, herr := idx.renderHit(c, p)
		if herr != nil {
			return nil, herr
		}
		hits = append(hits, raw)
	}

	return &wireSearchResponse{
		Hits:               hits,
		EstimatedTotalHits: total,
		Offset:             p.Offset,
		Limit:              limit,
		Query:              p.Q,
		FacetDistribution:  facets,
	}, nil
}

// match produces scored candidates: insertion order for match-all, bleve
// with per-token typo tolerance otherwise.
func (idx *testIndex) match(p searchParams) ([]candidate, *httpError) {
	tokens := make([]string, 0, 8)
	for _, tok := range strings.Fields(strings.ToLower(p.Q)) {
		if !idx.settings.stopWord(tok) {
			tokens = append(tokens, tok)
		}
	}

	if len(tokens) == 0 {
		cands := make([]candidate, 0, len(idx.order))
		for _, id := range idx.order {
			parsed, err := parseDocument(idx.docs[id])
			if err != nil {
				return nil, &httpError{status: http.StatusInternalServerError,
					code: "internal", errType: "internal", msg: err.Error()}
			}
			cands = append(cands, candidate{id: id, score: 1.0, parsed: parsed})
		}
		return cands, nil
	}

	// The "last" strategy drops trailing words until something matches.
	minTokens := len(tokens)
	if p.MatchingStrategy == "" || p.MatchingStrategy == "last" {
		minTokens = 1
	}

	for n := len(tokens); n >= minTokens; n-- {
		cands, herr := idx.bleveMatch(tokens[:n], p.ShowMatchesPosition)
		if herr != nil {
			return nil, herr
		}
		if len(cands) > 0 || n == minTokens {
			return cands, nil
		}
	}
	return nil, nil
}

func (idx *testIndex) bleveMatch(tokens []string, includeLocations bool) ([]candidate, *httpError) {
	var perToken []query.Query
	for _, tok := range tokens {
		perToken = append(perToken, idx.tokenQuery(tok))
	}
	q := bleve.NewConjunctionQuery(perToken...)

	req := bleve.NewSearchRequest(q)
	req.Size = len(idx.docs) + 1
	req.IncludeLocations = includeLocations

	res, err := idx.bidx.Search(req)
	if err != nil {
		return nil, &httpError{status: http.StatusInternalServerError,
			code: "internal", errType: "internal", msg: err.Error()}
	}

	var maxScore float64
	for _, hit := range res.Hits {
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	cands := make([]candidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		raw, ok := idx.docs[hit.ID]
		if !ok {
			continue
		}
		parsed, perr := parseDocument(raw)
		if perr != nil {
			return nil, &httpError{status: http.StatusInternalServerError,
				code: "internal", errType: "internal", msg: perr.Error()}
		}
		c := candidate{id: hit.ID, parsed: parsed, score: 1.0}
		if maxScore > 0 {
			c.score = hit.Score / maxScore
		}
		if includeLocations {
			c.positions = make(map[string][]wirePosition)
			for field, termLocs := range hit.Locations {
				for _, locs := range termLocs {
					for _, loc := range locs {
						c.positions[field] = append(c.positions[field], wirePosition{
							Start:  int(loc.Start),
							Length: int(loc.End - loc.Start),
						})
					}
				}
			}
		}
		cands = append(cands, c)
	}
	return cands, nil
}

// tokenQuery builds the per-token query: typo-tolerant match plus synonym
// expansion when configured.
func (idx *testIndex) tokenQuery(tok string) query.Query {
	mq := bleve.NewMatchQuery(tok)
	if fuzz := idx.typoFuzziness(tok); fuzz > 0 {
		mq.SetFuzziness(fuzz)
	}

	syns := idx.settings.Synonyms[tok]
	if len(syns) == 0 {
		return mq
	}
	alts := []query.Query{mq}
	for _, syn := range syns {
		alts = append(alts, bleve.NewMatchQuery(strings.ToLower(syn)))
	}
	return bleve.NewDisjunctionQuery(alts...)
}

func (idx *testIndex) typoFuzziness(tok string) int {
	s := idx.settings
	if !s.TypoEnabled {
		return 0
	}
	for _, w := range s.DisableOnWords {
		if strings.EqualFold(w, tok) {
			return 0
		}
	}
	switch {
	case len(tok) >= s.TwoTypos:
		return 2
	case len(tok) >= s.OneTypo:
		return 1
	default:
		return 0
	}
}

// sortCandidates applies sort directives in priority order; ties keep the
// relevance order.
func sortCandidates(cands []candidate, directives []sortDirective) {
	sort.SliceStable(cands, func(i, j int) bool {
		for _, d := range directives {
			cmp := compareFieldValues(cands[i].parsed[d.field], cands[j].parsed[d.field])
			if cmp == 0 {
				continue
			}
			if d.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareFieldValues orders two field values: numerically when both are
// numbers, lexically otherwise. Missing values sort last.
func compareFieldValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	an, aok := a.(json.Number)
	bn, bok := b.(json.Number)
	if aok && bok {
		af, aerr := an.Float64()
		bf, berr := bn.Float64()
		if aerr == nil && berr == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(scalarLiteral(a), scalarLiteral(b))
}

func facetDistribution(cands []candidate, facets []string) map[string]map[string]int64 {
	dist := make(map[string]map[string]int64, len(facets))
	for _, f := range facets {
		dist[f] = map[string]int64{}
	}
	for _, c := range cands {
		for _, f := range facets {
			v, ok := c.parsed[f]
			if !ok || v == nil {
				continue
			}
			if arr, isArr := v.([]any); isArr {
				for _, el := range arr {
					dist[f][scalarLiteral(el)]++
				}
				continue
			}
			dist[f][scalarLiteral(v)]++
		}
	}
	return dist
}

// renderHit serializes one hit: the stored document, optionally projected
// to requested attributes, with score and match metadata spliced in.
func (idx *testIndex) renderHit(c candidate, p searchParams) (json.RawMessage, *httpError) {
	raw := idx.docs[c.id]

	if len(p.AttributesToRetrieve) > 0 && !containsStar(p.AttributesToRetrieve) {
		var doc mimir.Document
		if err := doc.UnmarshalJSON(raw); err != nil {
			return nil, &httpError{status: http.StatusInternalServerError,
				code: "internal", errType: "internal", msg: err.Error()}
		}
		keep := map[string]struct{}{}
		for _, a := range p.AttributesToRetrieve {
			keep[a] = struct{}{}
		}
		for _, f := range doc.Fields() {
			if _, ok := keep[f.Name]; !ok {
				doc.Delete(f.Name)
			}
		}
		out, err := doc.MarshalJSON()
		if err != nil {
			return nil, &httpError{status: http.StatusInternalServerError,
				code: "internal", errType: "internal", msg: err.Error()}
		}
		raw = out
	}

	var extras []extraField
	if p.ShowRankingScore {
		extras = append(extras, extraField{
			name:  "_rankingScore",
			value: json.RawMessage(strconv.FormatFloat(c.score, 'g', -1, 64)),
		})
	}
	if p.ShowMatchesPosition {
		positions := c.positions
		if positions == nil {
			positions = map[string][]wirePosition{}
		}
		enc, _ := json.Marshal(positions)
		extras = append(extras, extraField{name: "_matchesPosition", value: enc})
	}
	return spliceExtras(raw, extras), nil
}

type extraField struct {
	name  string
	value json.RawMessage
}

// spliceExtras appends engine metadata fields to a raw JSON object without
// disturbing the object's own field order.
func spliceExtras(raw []byte, extras []extraField) json.RawMessage {
	if len(extras) == 0 {
		return raw
	}
	body := strings.TrimSpace(string(raw))
	body = body[:len(body)-1] // drop closing brace
	empty := strings.TrimSpace(body) == "{"

	var sb strings.Builder
	sb.WriteString(body)
	for _, e := range extras {
		if !empty {
			sb.WriteByte(',')
		}
		empty = false
		key, _ := json.Marshal(e.name)
		sb.Write(key)
		sb.WriteByte(':')
		sb.Write(e.value)
	}
	sb.WriteByte('}')
	return json.RawMessage(sb.String())
}

func containsStar(attrs []string) bool {
	for _, a := range attrs {
		if a == "*" {
			return true
		}
	}
	return false
}
