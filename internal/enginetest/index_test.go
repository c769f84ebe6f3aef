package enginetest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdleIndex(t *testing.T, primaryKey string) *testIndex {
	t.Helper()
	idx, err := newTestIndex("t", primaryKey, newTaskStore())
	require.NoError(t, err)
	t.Cleanup(idx.stop)
	return idx
}

func parsedDocs(t *testing.T, raws ...string) ([][]byte, []map[string]any) {
	t.Helper()
	rawBytes := make([][]byte, len(raws))
	parsed := make([]map[string]any, len(raws))
	for i, raw := range raws {
		rawBytes[i] = []byte(raw)
		m, err := parseDocument([]byte(raw))
		require.NoError(t, err)
		parsed[i] = m
	}
	return rawBytes, parsed
}

func TestResolvePrimaryKeyEstablished(t *testing.T) {
	idx := newIdleIndex(t, "sku")

	pk, fail := idx.resolvePrimaryKey("", nil)
	require.Nil(t, fail)
	assert.Equal(t, "sku", pk)

	pk, fail = idx.resolvePrimaryKey("sku", nil)
	require.Nil(t, fail)
	assert.Equal(t, "sku", pk)

	_, fail = idx.resolvePrimaryKey("other", nil)
	require.NotNil(t, fail)
	assert.Equal(t, "index_primary_key_already_exists", fail.code)
}

func TestResolvePrimaryKeyInference(t *testing.T) {
	idx := newIdleIndex(t, "")

	pk, fail := idx.resolvePrimaryKey("", []map[string]any{{"ID": 1, "title": "x"}})
	require.Nil(t, fail)
	assert.Equal(t, "ID", pk, `a field named "id" wins regardless of case`)

	pk, fail = idx.resolvePrimaryKey("", []map[string]any{{"productId": 1, "title": "x"}})
	require.Nil(t, fail)
	assert.Equal(t, "productId", pk, `an *id suffix is the fallback candidate`)

	_, fail = idx.resolvePrimaryKey("", []map[string]any{{"title": "x"}})
	require.NotNil(t, fail)
	assert.Equal(t, "index_primary_key_no_candidate_found", fail.code)

	_, fail = idx.resolvePrimaryKey("", nil)
	require.NotNil(t, fail)
	assert.Equal(t, "index_primary_key_no_candidate_found", fail.code)
}

func TestDocumentID(t *testing.T) {
	id, fail := documentID(map[string]any{"id": "abc"}, "id")
	require.Nil(t, fail)
	assert.Equal(t, "abc", id)

	id, fail = documentID(map[string]any{"id": json.Number("42")}, "id")
	require.Nil(t, fail)
	assert.Equal(t, "42", id)

	_, fail = documentID(map[string]any{"title": "x"}, "id")
	require.NotNil(t, fail)
	assert.Equal(t, "missing_document_id", fail.code)

	_, fail = documentID(map[string]any{"id": ""}, "id")
	require.NotNil(t, fail)
	assert.Equal(t, "invalid_document_id", fail.code)

	_, fail = documentID(map[string]any{"id": json.Number("4.2")}, "id")
	require.NotNil(t, fail)
	assert.Equal(t, "invalid_document_id", fail.code)

	_, fail = documentID(map[string]any{"id": true}, "id")
	require.NotNil(t, fail)
	assert.Equal(t, "invalid_document_id", fail.code)
}

func TestApplyAddReplacesByID(t *testing.T) {
	idx := newIdleIndex(t, "")

	raws, parsed := parsedDocs(t,
		`{"id":1,"title":"first"}`,
		`{"id":2,"title":"second"}`)
	require.Nil(t, idx.applyAdd(raws, parsed, ""))
	assert.Equal(t, "id", idx.primaryKey, "primary key is established by the first batch")
	assert.Equal(t, []string{"1", "2"}, idx.order)

	raws, parsed = parsedDocs(t, `{"id":1,"title":"replaced"}`)
	require.Nil(t, idx.applyAdd(raws, parsed, ""))
	assert.Equal(t, []string{"1", "2"}, idx.order, "replacement keeps insertion order")
	assert.JSONEq(t, `{"id":1,"title":"replaced"}`, string(idx.docs["1"]))
}

func TestApplyAddRejectsBatchBeforeStoring(t *testing.T) {
	idx := newIdleIndex(t, "")

	raws, parsed := parsedDocs(t,
		`{"id":1,"title":"good"}`,
		`{"title":"missing id"}`)
	fail := idx.applyAdd(raws, parsed, "")
	require.NotNil(t, fail)
	assert.Equal(t, "missing_document_id", fail.code)
	assert.Empty(t, idx.docs, "a batch with an invalid document stores nothing")
}

func TestApplyUpdateMergesOverStored(t *testing.T) {
	idx := newIdleIndex(t, "")

	raws, parsed := parsedDocs(t, `{"id":1,"title":"x","year":1993}`)
	require.Nil(t, idx.applyAdd(raws, parsed, ""))

	raws, parsed = parsedDocs(t, `{"id":1,"year":1994,"rating":8.2}`)
	require.Nil(t, idx.applyUpdate(raws, parsed, ""))

	assert.Equal(t, `{"id":1,"title":"x","year":1994,"rating":8.2}`, string(idx.docs["1"]),
		"merge keeps stored order and appends new fields")
}

func TestApplyUpdateInsertsUnknownID(t *testing.T) {
	idx := newIdleIndex(t, "id")

	raws, parsed := parsedDocs(t, `{"id":7,"title":"new"}`)
	require.Nil(t, idx.applyUpdate(raws, parsed, ""))
	assert.Equal(t, []string{"7"}, idx.order)
}

func TestApplyDeleteIgnoresUnknownIDs(t *testing.T) {
	idx := newIdleIndex(t, "")

	raws, parsed := parsedDocs(t, `{"id":1}`, `{"id":2}`, `{"id":3}`)
	require.Nil(t, idx.applyAdd(raws, parsed, ""))

	require.Nil(t, idx.applyDelete([]string{"2", "404"}))
	assert.Equal(t, []string{"1", "3"}, idx.order)
	assert.NotContains(t, idx.docs, "2")
}

func TestApplyClearKeepsSettingsAndPrimaryKey(t *testing.T) {
	idx := newIdleIndex(t, "")
	idx.settings.FilterableAttributes = []string{"genre"}

	raws, parsed := parsedDocs(t, `{"id":1}`)
	require.Nil(t, idx.applyAdd(raws, parsed, ""))

	require.Nil(t, idx.applyClear())
	assert.Empty(t, idx.docs)
	assert.Empty(t, idx.order)
	assert.Equal(t, "id", idx.primaryKey)
	assert.Equal(t, []string{"genre"}, idx.settings.FilterableAttributes)
}

func TestIndexableValueConversions(t *testing.T) {
	doc := map[string]any{
		"n":      json.Number("1993"),
		"s":      "text",
		"b":      true,
		"gone":   nil,
		"nested": map[string]any{"k": json.Number("1.5")},
		"arr":    []any{json.Number("1"), "two", nil},
	}
	out := indexable(doc)

	assert.Equal(t, 1993.0, out["n"], "numbers become float64 for the text index")
	assert.Equal(t, "text", out["s"])
	assert.NotContains(t, out, "gone", "nulls are dropped")
	assert.Equal(t, map[string]any{"k": 1.5}, out["nested"])
	assert.Equal(t, []any{1.0, "two"}, out["arr"])
}
