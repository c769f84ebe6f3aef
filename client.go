package mimir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// taskCacheSize bounds the cache of terminal tasks. Terminal tasks
	// are immutable, so repeat polls can skip the round trip.
	taskCacheSize = 1024

	// Task polling bounds for waitForTask.
	taskPollInterval    = 50 * time.Millisecond
	maxTaskPollInterval = time.Second
)

// client speaks the engine's command protocol: one request/response round
// trip per logical operation. It is stateless beyond the connection handle
// and the terminal-task cache, and safe for concurrent use.
type client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	tasks   *lru.Cache[int64, Task]
}

func newClient(baseURL, apiKey string) *client {
	cache, _ := lru.New[int64, Task](taskCacheSize)
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{},
		tasks:   cache,
	}
}

// do performs one round trip. Every response is either decoded into out or
// translated into a structured error; an engine error is never coerced
// into an empty result.
func (c *client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return transportError(method+" "+path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return transportError(method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(method+" "+path, err)
	}

	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil {
			env = errorEnvelope{}
		}
		return mapEngineError(resp.StatusCode, env)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(KindTransport, "malformed_response",
			fmt.Sprintf("decode %s %s response: %v", method, path, err), err)
	}
	return nil
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *client) createIndex(ctx context.Context, uid, primaryKey string) (Task, error) {
	payload := map[string]any{"uid": uid}
	if primaryKey != "" {
		payload["primaryKey"] = primaryKey
	}
	body, _ := json.Marshal(payload)
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodPost, "/indexes", body, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) deleteIndex(ctx context.Context, uid string) (Task, error) {
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodDelete, "/indexes/"+url.PathEscape(uid), nil, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) getIndex(ctx context.Context, uid string) (IndexInfo, error) {
	var env indexInfoEnvelope
	if err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(uid), nil, &env); err != nil {
		return IndexInfo{}, err
	}
	return env.toInfo(), nil
}

func (c *client) listIndexes(ctx context.Context) ([]IndexInfo, error) {
	var resp struct {
		Results []indexInfoEnvelope `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/indexes?limit=1000", nil, &resp); err != nil {
		return nil, err
	}
	infos := make([]IndexInfo, len(resp.Results))
	for i, env := range resp.Results {
		infos[i] = env.toInfo()
	}
	return infos, nil
}

// documentsPath appends an optional explicit primary key.
func documentsPath(uid, primaryKey string) string {
	p := "/indexes/" + url.PathEscape(uid) + "/documents"
	if primaryKey != "" {
		p += "?primaryKey=" + url.QueryEscape(primaryKey)
	}
	return p
}

func (c *client) addDocuments(ctx context.Context, uid string, docs []Document, primaryKey string) (Task, error) {
	body, err := EncodeDocuments(docs)
	if err != nil {
		return Task{}, err
	}
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodPost, documentsPath(uid, primaryKey), body, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) updateDocuments(ctx context.Context, uid string, docs []Document, primaryKey string) (Task, error) {
	body, err := EncodeDocuments(docs)
	if err != nil {
		return Task{}, err
	}
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodPut, documentsPath(uid, primaryKey), body, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) deleteDocuments(ctx context.Context, uid string, ids []string) (Task, error) {
	body, _ := json.Marshal(ids)
	var env summaryEnvelope
	path := "/indexes/" + url.PathEscape(uid) + "/documents/delete-batch"
	if err := c.do(ctx, http.MethodPost, path, body, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) deleteAllDocuments(ctx context.Context, uid string) (Task, error) {
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodDelete, "/indexes/"+url.PathEscape(uid)+"/documents", nil, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) getDocument(ctx context.Context, uid, id string) (Document, error) {
	var doc Document
	path := "/indexes/" + url.PathEscape(uid) + "/documents/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (c *client) getDocuments(ctx context.Context, uid string, offset, limit int) ([]Document, int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	var resp struct {
		Results []Document `json:"results"`
		Total   int64      `json:"total"`
	}
	path := "/indexes/" + url.PathEscape(uid) + "/documents?offset=" +
		strconv.Itoa(offset) + "&limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Results, resp.Total, nil
}

// searchResponse is the engine's wire shape for a search. Hits stay raw so
// field order is preserved through the document codec.
type searchResponse struct {
	Hits               []json.RawMessage           `json:"hits"`
	EstimatedTotalHits int64                       `json:"estimatedTotalHits"`
	Offset             int                         `json:"offset"`
	Limit              int                         `json:"limit"`
	ProcessingTimeMs   int64                       `json:"processingTimeMs"`
	Query              string                      `json:"query"`
	FacetDistribution  map[string]map[string]int64 `json:"facetDistribution,omitempty"`
}

// hitMeta carries the per-hit metadata the engine injects alongside the
// document's own fields.
type hitMeta struct {
	RankingScore    *float64                   `json:"_rankingScore"`
	MatchesPosition map[string][]MatchPosition `json:"_matchesPosition"`
}

func (c *client) search(ctx context.Context, uid string, q Query) (SearchResult, error) {
	if err := q.validate(); err != nil {
		return SearchResult{}, err
	}
	body, err := json.Marshal(q.toRequest())
	if err != nil {
		return SearchResult{}, newError(KindEncoding, "invalid_query",
			fmt.Sprintf("encode query: %v", err), err)
	}

	var resp searchResponse
	path := "/indexes/" + url.PathEscape(uid) + "/search"
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{
		Hits:               make([]Hit, 0, len(resp.Hits)),
		EstimatedTotalHits: resp.EstimatedTotalHits,
		Offset:             resp.Offset,
		Limit:              resp.Limit,
		ProcessingTime:     time.Duration(resp.ProcessingTimeMs) * time.Millisecond,
		Query:              resp.Query,
		FacetDistribution:  resp.FacetDistribution,
	}
	for _, raw := range resp.Hits {
		var doc Document
		if err := doc.UnmarshalJSON(raw); err != nil {
			return SearchResult{}, err
		}
		var meta hitMeta
		_ = json.Unmarshal(raw, &meta)
		doc.Delete("_rankingScore")
		doc.Delete("_matchesPosition")

		hit := Hit{Document: doc, MatchesPosition: meta.MatchesPosition}
		if meta.RankingScore != nil {
			hit.RankingScore = *meta.RankingScore
		}
		res.Hits = append(res.Hits, hit)
	}
	return res, nil
}

func (c *client) getSettings(ctx context.Context, uid string) (Settings, error) {
	var s Settings
	if err := c.do(ctx, http.MethodGet, "/indexes/"+url.PathEscape(uid)+"/settings", nil, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (c *client) updateSettings(ctx context.Context, uid string, s Settings) (Task, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Task{}, newError(KindEncoding, "invalid_settings",
			fmt.Sprintf("encode settings: %v", err), err)
	}
	var env summaryEnvelope
	if err := c.do(ctx, http.MethodPatch, "/indexes/"+url.PathEscape(uid)+"/settings", body, &env); err != nil {
		return Task{}, err
	}
	return env.toTask(), nil
}

func (c *client) getTask(ctx context.Context, uid int64) (Task, error) {
	if t, ok := c.tasks.Get(uid); ok {
		return t, nil
	}
	var env taskEnvelope
	if err := c.do(ctx, http.MethodGet, "/tasks/"+strconv.FormatInt(uid, 10), nil, &env); err != nil {
		return Task{}, err
	}
	t := env.toTask()
	if t.Status.Terminal() {
		c.tasks.Add(uid, t)
	}
	return t, nil
}

// waitForTask polls until the task reaches a terminal status or ctx is
// done. Cancellation abandons the wait only; the engine-side operation
// keeps running.
func (c *client) waitForTask(ctx context.Context, uid int64) (Task, error) {
	interval := taskPollInterval
	for {
		t, err := c.getTask(ctx, uid)
		if err != nil {
			return Task{}, err
		}
		if t.Status.Terminal() {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return Task{}, newError(KindTimeout, "task_wait_aborted",
				fmt.Sprintf("waiting for task %d: %v", uid, ctx.Err()), ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxTaskPollInterval {
			interval = maxTaskPollInterval
		}
	}
}
