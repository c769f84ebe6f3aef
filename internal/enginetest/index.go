package enginetest

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/lming/mimir"
)

// jobQueueSize bounds the per-index write queue.
const jobQueueSize = 256

// job is one queued write. Jobs are applied by the index's single worker
// goroutine, which is what gives each index FIFO write semantics.
type job struct {
	taskUID int64
	apply   func() *opFailure
}

// testIndex is one named document collection: raw JSON documents in
// insertion order plus an in-memory bleve index for text search.
type testIndex struct {
	uid        string
	primaryKey string
	createdAt  time.Time
	updatedAt  time.Time

	// mu guards docs, order, bidx, settings and primaryKey. The worker
	// takes the write lock per job; read handlers take the read lock.
	mu sync.RWMutex

	docs  map[string][]byte
	order []string
	bidx  bleve.Index

	settings settingsState

	jobs chan job
	done chan struct{}
}

func newTestIndex(uid, primaryKey string, tasks *taskStore) (*testIndex, error) {
	bidx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	idx := &testIndex{
		uid:        uid,
		primaryKey: primaryKey,
		createdAt:  time.Now().UTC(),
		updatedAt:  time.Now().UTC(),
		docs:       make(map[string][]byte),
		bidx:       bidx,
		settings:   defaultSettings(),
		jobs:       make(chan job, jobQueueSize),
		done:       make(chan struct{}),
	}
	go idx.worker(tasks)
	return idx, nil
}

// worker drains the write queue in submission order.
func (idx *testIndex) worker(tasks *taskStore) {
	defer close(idx.done)
	for j := range idx.jobs {
		tasks.start(j.taskUID)
		idx.mu.Lock()
		fail := j.apply()
		idx.mu.Unlock()
		tasks.finish(j.taskUID, fail)
	}
}

func (idx *testIndex) stop() {
	close(idx.jobs)
	<-idx.done
}

// resolvePrimaryKey returns the index's primary key, establishing it from
// the explicit declaration or by inference from the first batch.
func (idx *testIndex) resolvePrimaryKey(explicit string, docs []map[string]any) (string, *opFailure) {
	if idx.primaryKey != "" {
		if explicit != "" && explicit != idx.primaryKey {
			return "", failOp("index_primary_key_already_exists", "invalid_request",
				"index %q already has primary key %q", idx.uid, idx.primaryKey)
		}
		return idx.primaryKey, nil
	}
	if explicit != "" {
		return explicit, nil
	}
	if len(docs) == 0 {
		return "", failOp("index_primary_key_no_candidate_found", "invalid_request",
			"index %q has no primary key and none could be inferred", idx.uid)
	}
	// Infer from the first document: a field named "id" or ending in "id".
	for name := range docs[0] {
		if strings.EqualFold(name, "id") {
			return name, nil
		}
	}
	for name := range docs[0] {
		if strings.HasSuffix(strings.ToLower(name), "id") {
			return name, nil
		}
	}
	return "", failOp("index_primary_key_no_candidate_found", "invalid_request",
		"no primary key candidate found in document")
}

// documentID extracts and validates the primary-key value: a string or an
// integer, rendered as its literal text.
func documentID(doc map[string]any, primaryKey string) (string, *opFailure) {
	raw, ok := doc[primaryKey]
	if !ok || raw == nil {
		return "", failOp("missing_document_id", "invalid_request",
			"document is missing the primary-key field %q", primaryKey)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", failOp("invalid_document_id", "invalid_request",
				"primary-key value must not be empty")
		}
		return v, nil
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return "", failOp("invalid_document_id", "invalid_request",
				"primary-key value %q is not an integer", v.String())
		}
		return v.String(), nil
	default:
		return "", failOp("invalid_document_id", "invalid_request",
			"primary-key value must be a string or an integer")
	}
}

// applyAdd stores and indexes a batch, replacing documents that share a
// primary-key value. Establishes the primary key on first success.
func (idx *testIndex) applyAdd(raws [][]byte, parsed []map[string]any, explicitPK string) *opFailure {
	pk, fail := idx.resolvePrimaryKey(explicitPK, parsed)
	if fail != nil {
		return fail
	}

	ids := make([]string, len(parsed))
	for i, doc := range parsed {
		id, fail := documentID(doc, pk)
		if fail != nil {
			return fail
		}
		ids[i] = id
	}

	for i, id := range ids {
		if _, exists := idx.docs[id]; !exists {
			idx.order = append(idx.order, id)
		}
		idx.docs[id] = raws[i]
		if err := idx.bidx.Index(id, indexable(parsed[i])); err != nil {
			return failOp("internal", "internal", "index document %q: %v", id, err)
		}
	}
	idx.primaryKey = pk
	idx.updatedAt = time.Now().UTC()
	return nil
}

// applyUpdate merges fields over stored documents, preserving the stored
// field order and appending new fields.
func (idx *testIndex) applyUpdate(raws [][]byte, parsed []map[string]any, explicitPK string) *opFailure {
	pk, fail := idx.resolvePrimaryKey(explicitPK, parsed)
	if fail != nil {
		return fail
	}

	for i, doc := range parsed {
		id, fail := documentID(doc, pk)
		if fail != nil {
			return fail
		}

		merged := raws[i]
		if existing, ok := idx.docs[id]; ok {
			var base, patch mimir.Document
			if err := base.UnmarshalJSON(existing); err != nil {
				return failOp("internal", "internal", "decode stored document %q: %v", id, err)
			}
			if err := patch.UnmarshalJSON(raws[i]); err != nil {
				return failOp("internal", "internal", "decode update for %q: %v", id, err)
			}
			for _, f := range patch.Fields() {
				base.Set(f.Name, f.Value)
			}
			out, err := base.MarshalJSON()
			if err != nil {
				return failOp("internal", "internal", "encode merged document %q: %v", id, err)
			}
			merged = out
		} else {
			idx.order = append(idx.order, id)
		}

		idx.docs[id] = merged
		mergedParsed, err := parseDocument(merged)
		if err != nil {
			return failOp("internal", "internal", "reparse merged document %q: %v", id, err)
		}
		if err := idx.bidx.Index(id, indexable(mergedParsed)); err != nil {
			return failOp("internal", "internal", "index document %q: %v", id, err)
		}
	}
	idx.primaryKey = pk
	idx.updatedAt = time.Now().UTC()
	return nil
}

func (idx *testIndex) applyDelete(ids []string) *opFailure {
	for _, id := range ids {
		if _, ok := idx.docs[id]; !ok {
			continue
		}
		delete(idx.docs, id)
		for i, ord := range idx.order {
			if ord == id {
				idx.order = append(idx.order[:i], idx.order[i+1:]...)
				break
			}
		}
		if err := idx.bidx.Delete(id); err != nil {
			return failOp("internal", "internal", "delete document %q: %v", id, err)
		}
	}
	idx.updatedAt = time.Now().UTC()
	return nil
}

func (idx *testIndex) applyClear() *opFailure {
	bidx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return failOp("internal", "internal", "reset index: %v", err)
	}
	_ = idx.bidx.Close()
	idx.bidx = bidx
	idx.docs = make(map[string][]byte)
	idx.order = nil
	idx.updatedAt = time.Now().UTC()
	return nil
}

// parseDocument decodes a raw JSON object keeping numbers as literals.
func parseDocument(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// indexable converts a parsed document into what bleve accepts: numbers as
// float64 and nulls dropped.
func indexable(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if conv := indexableValue(v); conv != nil {
			out[k] = conv
		}
	}
	return out
}

func indexableValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		arr := make([]any, 0, len(t))
		for _, el := range t {
			if conv := indexableValue(el); conv != nil {
				arr = append(arr, conv)
			}
		}
		return arr
	case map[string]any:
		return indexable(t)
	default:
		return t
	}
}
