package enginetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("")
	t.Cleanup(s.Close)
	return s
}

func request(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), into))
}

// awaitTask polls until the queued write reaches a terminal status.
func awaitTask(t *testing.T, s *Server, uid int64) wireTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := request(t, s, http.MethodGet, fmt.Sprintf("/tasks/%d", uid), "")
		require.Equal(t, http.StatusOK, rec.Code)
		var wt wireTask
		decodeBody(t, rec, &wt)
		if wt.Status == statusSucceeded || wt.Status == statusFailed {
			return wt
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %d still %s", uid, wt.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func addDocuments(t *testing.T, s *Server, uid, body string) wireTask {
	t.Helper()
	rec := request(t, s, http.MethodPost, "/indexes/"+uid+"/documents", body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	return awaitTask(t, s, ack.TaskUID)
}

func TestHealthIsAlwaysOpen(t *testing.T) {
	s := NewServer("key")
	defer s.Close()

	rec := request(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "available")
}

func TestAuthRejectsMissingAndWrongKeys(t *testing.T) {
	s := NewServer("key")
	defer s.Close()

	rec := request(t, s, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var e wireError
	decodeBody(t, rec, &e)
	assert.Equal(t, "missing_authorization_header", e.Code)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	got := httptest.NewRecorder()
	s.ServeHTTP(got, req)
	assert.Equal(t, http.StatusForbidden, got.Code)
	decodeBody(t, got, &e)
	assert.Equal(t, "invalid_api_key", e.Code)

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Authorization", "Bearer key")
	got = httptest.NewRecorder()
	s.ServeHTTP(got, req)
	assert.Equal(t, http.StatusOK, got.Code)
}

func TestCreateIndexLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/indexes", `{"uid":"movies","primaryKey":"id"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	assert.Equal(t, "indexCreation", ack.Type)

	wt := awaitTask(t, s, ack.TaskUID)
	assert.Equal(t, statusSucceeded, wt.Status)

	rec = request(t, s, http.MethodGet, "/indexes/movies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info wireIndexInfo
	decodeBody(t, rec, &info)
	assert.Equal(t, "movies", info.UID)
	require.NotNil(t, info.PrimaryKey)
	assert.Equal(t, "id", *info.PrimaryKey)
}

func TestCreateIndexRejectsBadUID(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/indexes", `{"uid":"no spaces"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e wireError
	decodeBody(t, rec, &e)
	assert.Equal(t, "invalid_index_uid", e.Code)
}

func TestCreateIndexDuplicateFailsAsTask(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/indexes", `{"uid":"dup"}`)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	require.Equal(t, statusSucceeded, awaitTask(t, s, ack.TaskUID).Status)

	rec = request(t, s, http.MethodPost, "/indexes", `{"uid":"dup"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, "duplicates are accepted, then fail")
	decodeBody(t, rec, &ack)
	wt := awaitTask(t, s, ack.TaskUID)
	assert.Equal(t, statusFailed, wt.Status)
	require.NotNil(t, wt.Error)
	assert.Equal(t, "index_already_exists", wt.Error.Code)
}

func TestDocumentWriteCreatesIndexImplicitly(t *testing.T) {
	s := newTestServer(t)

	wt := addDocuments(t, s, "fresh", `[{"id":1,"title":"x"}]`)
	assert.Equal(t, statusSucceeded, wt.Status)

	rec := request(t, s, http.MethodGet, "/indexes/fresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddDocumentsRejectsMalformedPayloadSynchronously(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/indexes/m/documents", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e wireError
	decodeBody(t, rec, &e)
	assert.Equal(t, "malformed_payload", e.Code)
}

func TestGetAndListDocuments(t *testing.T) {
	s := newTestServer(t)
	addDocuments(t, s, "m", `[{"id":1,"title":"a"},{"id":2,"title":"b"},{"id":3,"title":"c"}]`)

	rec := request(t, s, http.MethodGet, "/indexes/m/documents/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":2,"title":"b"}`, rec.Body.String())

	rec = request(t, s, http.MethodGet, "/indexes/m/documents/404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = request(t, s, http.MethodGet, "/indexes/m/documents?offset=1&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Results []json.RawMessage `json:"results"`
		Total   int               `json:"total"`
		Offset  int               `json:"offset"`
	}
	decodeBody(t, rec, &page)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Offset)
	require.Len(t, page.Results, 1)
	assert.JSONEq(t, `{"id":2,"title":"b"}`, string(page.Results[0]))
}

func TestDeleteBatchAndClear(t *testing.T) {
	s := newTestServer(t)
	addDocuments(t, s, "m", `[{"id":1},{"id":2},{"id":"str-3"}]`)

	rec := request(t, s, http.MethodPost, "/indexes/m/documents/delete-batch", `[1,"str-3"]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	require.Equal(t, statusSucceeded, awaitTask(t, s, ack.TaskUID).Status)

	rec = request(t, s, http.MethodGet, "/indexes/m/documents", "")
	var page struct {
		Total int `json:"total"`
	}
	decodeBody(t, rec, &page)
	assert.Equal(t, 1, page.Total)

	rec = request(t, s, http.MethodDelete, "/indexes/m/documents", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	decodeBody(t, rec, &ack)
	require.Equal(t, statusSucceeded, awaitTask(t, s, ack.TaskUID).Status)

	rec = request(t, s, http.MethodGet, "/indexes/m/documents", "")
	decodeBody(t, rec, &page)
	assert.Equal(t, 0, page.Total)
}

func TestDeleteBatchOnMissingIndexFailsAsTask(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/indexes/ghost/documents/delete-batch", `["1"]`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	wt := awaitTask(t, s, ack.TaskUID)
	assert.Equal(t, statusFailed, wt.Status)
	require.NotNil(t, wt.Error)
	assert.Equal(t, "index_not_found", wt.Error.Code)
}

func TestSearchOverHTTP(t *testing.T) {
	s := newTestServer(t)
	addDocuments(t, s, "movies", `[
		{"id":1,"title":"Jurassic Park"},
		{"id":2,"title":"The Lost World"}
	]`)

	rec := request(t, s, http.MethodPost, "/indexes/movies/search",
		`{"q":"jurassic","showRankingScore":true,"showMatchesPosition":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Hits               []map[string]any `json:"hits"`
		EstimatedTotalHits int64            `json:"estimatedTotalHits"`
		Limit              int              `json:"limit"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, int64(1), resp.EstimatedTotalHits)
	assert.Equal(t, 20, resp.Limit, "engine default limit applies when unset")
	assert.Equal(t, "Jurassic Park", resp.Hits[0]["title"])
	assert.Contains(t, resp.Hits[0], "_rankingScore")
	assert.Contains(t, resp.Hits[0], "_matchesPosition")
}

func TestSearchFilterRequiresFilterableField(t *testing.T) {
	s := newTestServer(t)
	addDocuments(t, s, "m", `[{"id":1,"genre":"drama"}]`)

	rec := request(t, s, http.MethodPost, "/indexes/m/search", `{"filter":"genre = drama"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var e wireError
	decodeBody(t, rec, &e)
	assert.Equal(t, "invalid_search_filter", e.Code)
}

func TestSettingsPatchAndGet(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPatch, "/indexes/m/settings",
		`{"filterableAttributes":["genre"],"stopWords":["the"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	assert.Equal(t, "settingsUpdate", ack.Type)
	require.Equal(t, statusSucceeded, awaitTask(t, s, ack.TaskUID).Status)

	rec = request(t, s, http.MethodGet, "/indexes/m/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got wireSettings
	decodeBody(t, rec, &got)
	require.NotNil(t, got.FilterableAttributes)
	assert.Equal(t, []string{"genre"}, *got.FilterableAttributes)
	require.NotNil(t, got.StopWords)
	assert.Equal(t, []string{"the"}, *got.StopWords)
}

func TestGetTaskErrors(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodGet, "/tasks/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = request(t, s, http.MethodGet, "/tasks/12345", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e wireError
	decodeBody(t, rec, &e)
	assert.Equal(t, "task_not_found", e.Code)
}

func TestDeleteIndexStopsAcceptingReads(t *testing.T) {
	s := newTestServer(t)
	addDocuments(t, s, "m", `[{"id":1}]`)

	rec := request(t, s, http.MethodDelete, "/indexes/m", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var ack wireTaskAck
	decodeBody(t, rec, &ack)
	require.Equal(t, statusSucceeded, awaitTask(t, s, ack.TaskUID).Status)

	rec = request(t, s, http.MethodGet, "/indexes/m", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
