// Package enginetest provides an in-process search engine speaking the
// same wire protocol as the real binary. Tests point an instance at it
// through a custom launcher and exercise the full client path without
// shelling out.
package enginetest

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

var indexUIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Server is one engine instance: a set of indexes, a task ledger and the
// HTTP surface the client drives.
type Server struct {
	masterKey string
	tasks     *taskStore

	mu      sync.RWMutex
	indexes map[string]*testIndex
	closed  bool

	router chi.Router
}

// NewServer builds an engine with an empty index set. masterKey may be
// empty, in which case requests are not authenticated.
func NewServer(masterKey string) *Server {
	s := &Server{
		masterKey: masterKey,
		tasks:     newTaskStore(),
		indexes:   make(map[string]*testIndex),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops every index worker after draining its queue.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	idxs := make([]*testIndex, 0, len(s.indexes))
	for _, idx := range s.indexes {
		idxs = append(idxs, idx)
	}
	s.mu.Unlock()

	for _, idx := range idxs {
		idx.stop()
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"pkgVersion": "1.0.0-enginetest",
			})
		})

		r.Post("/indexes", s.handleCreateIndex)
		r.Get("/indexes", s.handleListIndexes)
		r.Get("/indexes/{uid}", s.handleGetIndex)
		r.Delete("/indexes/{uid}", s.handleDeleteIndex)

		r.Post("/indexes/{uid}/documents", s.handleAddDocuments(false))
		r.Put("/indexes/{uid}/documents", s.handleAddDocuments(true))
		r.Post("/indexes/{uid}/documents/delete-batch", s.handleDeleteBatch)
		r.Delete("/indexes/{uid}/documents", s.handleClearDocuments)
		r.Get("/indexes/{uid}/documents/{docID}", s.handleGetDocument)
		r.Get("/indexes/{uid}/documents", s.handleListDocuments)

		r.Post("/indexes/{uid}/search", s.handleSearch)
		r.Get("/indexes/{uid}/settings", s.handleGetSettings)
		r.Patch("/indexes/{uid}/settings", s.handlePatchSettings)

		r.Get("/tasks/{taskUID}", s.handleGetTask)
	})

	return r
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.masterKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got == "" {
			writeErr(w, &httpError{
				status:  http.StatusUnauthorized,
				code:    "missing_authorization_header",
				errType: "auth",
				msg:     "the Authorization header is missing",
			})
			return
		}
		if got != "Bearer "+s.masterKey {
			writeErr(w, &httpError{
				status:  http.StatusForbidden,
				code:    "invalid_api_key",
				errType: "auth",
				msg:     "the provided API key is invalid",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) index(uid string) (*testIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[uid]
	return idx, ok
}

// getOrCreateIndex resolves the index, creating it when a document write
// targets a uid that does not exist yet.
func (s *Server) getOrCreateIndex(uid string) (*testIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[uid]; ok {
		return idx, nil
	}
	idx, err := newTestIndex(uid, "", s.tasks)
	if err != nil {
		return nil, err
	}
	s.indexes[uid] = idx
	return idx, nil
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UID        string `json:"uid"`
		PrimaryKey string `json:"primaryKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, badRequest("bad_request", "invalid request body: %v", err))
		return
	}
	if !indexUIDPattern.MatchString(req.UID) {
		writeErr(w, badRequest("invalid_index_uid",
			"index uid %q must be alphanumeric with hyphens or underscores", req.UID))
		return
	}

	ack := s.tasks.create("indexCreation", req.UID)
	s.tasks.start(ack.TaskUID)

	s.mu.Lock()
	if _, exists := s.indexes[req.UID]; exists {
		s.mu.Unlock()
		s.tasks.finish(ack.TaskUID, failOp("index_already_exists", "invalid_request",
			"index %q already exists", req.UID))
		writeJSON(w, http.StatusAccepted, ack)
		return
	}
	idx, err := newTestIndex(req.UID, req.PrimaryKey, s.tasks)
	if err == nil {
		s.indexes[req.UID] = idx
	}
	s.mu.Unlock()

	if err != nil {
		s.tasks.finish(ack.TaskUID, failOp("internal", "internal", "create index: %v", err))
	} else {
		s.tasks.finish(ack.TaskUID, nil)
	}
	writeJSON(w, http.StatusAccepted, ack)
}

type wireIndexInfo struct {
	UID        string    `json:"uid"`
	PrimaryKey *string   `json:"primaryKey"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func indexInfo(idx *testIndex) wireIndexInfo {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	info := wireIndexInfo{
		UID:       idx.uid,
		CreatedAt: idx.createdAt,
		UpdatedAt: idx.updatedAt,
	}
	if idx.primaryKey != "" {
		pk := idx.primaryKey
		info.PrimaryKey = &pk
	}
	return info
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	s.mu.RLock()
	uids := make([]string, 0, len(s.indexes))
	for uid := range s.indexes {
		uids = append(uids, uid)
	}
	s.mu.RUnlock()
	sort.Strings(uids)

	total := len(uids)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	results := make([]wireIndexInfo, 0, end-offset)
	for _, uid := range uids[offset:end] {
		if idx, ok := s.index(uid); ok {
			results = append(results, indexInfo(idx))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
	})
}

func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	idx, ok := s.index(uid)
	if !ok {
		writeErr(w, indexNotFound(uid))
		return
	}
	writeJSON(w, http.StatusOK, indexInfo(idx))
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	ack := s.tasks.create("indexDeletion", uid)
	s.tasks.start(ack.TaskUID)

	s.mu.Lock()
	idx, ok := s.indexes[uid]
	if ok {
		delete(s.indexes, uid)
	}
	s.mu.Unlock()

	if !ok {
		s.tasks.finish(ack.TaskUID, failOp("index_not_found", "invalid_request",
			"index %q not found", uid))
		writeJSON(w, http.StatusAccepted, ack)
		return
	}
	idx.stop()
	s.tasks.finish(ack.TaskUID, nil)
	writeJSON(w, http.StatusAccepted, ack)
}

// handleAddDocuments covers both POST (replace) and PUT (partial update).
// The payload is validated synchronously; the write itself is queued on
// the index worker so writes apply in submission order.
func (s *Server) handleAddDocuments(update bool) http.HandlerFunc {
	taskType := "documentAdditionOrUpdate"
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")
		explicitPK := r.URL.Query().Get("primaryKey")

		var raws []json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
			writeErr(w, badRequest("malformed_payload", "invalid document batch: %v", err))
			return
		}
		parsed := make([]map[string]any, len(raws))
		rawBytes := make([][]byte, len(raws))
		for i, raw := range raws {
			doc, err := parseDocument(raw)
			if err != nil {
				writeErr(w, badRequest("malformed_payload", "document %d: %v", i, err))
				return
			}
			parsed[i] = doc
			rawBytes[i] = raw
		}

		idx, err := s.getOrCreateIndex(uid)
		if err != nil {
			writeErr(w, &httpError{status: http.StatusInternalServerError,
				code: "internal", errType: "internal", msg: err.Error()})
			return
		}

		ack := s.tasks.create(taskType, uid)
		idx.jobs <- job{taskUID: ack.TaskUID, apply: func() *opFailure {
			if update {
				return idx.applyUpdate(rawBytes, parsed, explicitPK)
			}
			return idx.applyAdd(rawBytes, parsed, explicitPK)
		}}
		writeJSON(w, http.StatusAccepted, ack)
	}
}

func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var rawIDs []any
	if err := json.NewDecoder(r.Body).Decode(&rawIDs); err != nil {
		writeErr(w, badRequest("malformed_payload", "invalid id batch: %v", err))
		return
	}
	ids := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		switch v := raw.(type) {
		case string:
			ids = append(ids, v)
		case float64:
			ids = append(ids, strconv.FormatFloat(v, 'f', -1, 64))
		default:
			writeErr(w, badRequest("invalid_document_id",
				"document ids must be strings or integers"))
			return
		}
	}

	idx, ok := s.index(uid)
	if !ok {
		ack := s.tasks.create("documentDeletion", uid)
		s.tasks.start(ack.TaskUID)
		s.tasks.finish(ack.TaskUID, failOp("index_not_found", "invalid_request",
			"index %q not found", uid))
		writeJSON(w, http.StatusAccepted, ack)
		return
	}

	ack := s.tasks.create("documentDeletion", uid)
	idx.jobs <- job{taskUID: ack.TaskUID, apply: func() *opFailure {
		return idx.applyDelete(ids)
	}}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	idx, ok := s.index(uid)
	if !ok {
		ack := s.tasks.create("documentDeletion", uid)
		s.tasks.start(ack.TaskUID)
		s.tasks.finish(ack.TaskUID, failOp("index_not_found", "invalid_request",
			"index %q not found", uid))
		writeJSON(w, http.StatusAccepted, ack)
		return
	}

	ack := s.tasks.create("documentDeletion", uid)
	idx.jobs <- job{taskUID: ack.TaskUID, apply: idx.applyClear}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	docID := chi.URLParam(r, "docID")

	idx, ok := s.index(uid)
	if !ok {
		writeErr(w, indexNotFound(uid))
		return
	}

	idx.mu.RLock()
	raw, ok := idx.docs[docID]
	idx.mu.RUnlock()
	if !ok {
		writeErr(w, &httpError{
			status:  http.StatusNotFound,
			code:    "document_not_found",
			errType: "invalid_request",
			msg:     "document " + docID + " not found in index " + uid,
		})
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	idx, ok := s.index(uid)
	if !ok {
		writeErr(w, indexNotFound(uid))
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	idx.mu.RLock()
	total := len(idx.order)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	results := make([]json.RawMessage, 0, end-start)
	for _, id := range idx.order[start:end] {
		results = append(results, idx.docs[id])
	}
	idx.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	idx, ok := s.index(uid)
	if !ok {
		writeErr(w, indexNotFound(uid))
		return
	}

	var p searchParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeErr(w, badRequest("bad_request", "invalid search request: %v", err))
		return
	}

	started := time.Now()
	idx.mu.RLock()
	resp, herr := idx.search(p)
	idx.mu.RUnlock()
	if herr != nil {
		writeErr(w, herr)
		return
	}
	resp.ProcessingTimeMs = time.Since(started).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	idx, ok := s.index(uid)
	if !ok {
		writeErr(w, indexNotFound(uid))
		return
	}
	idx.mu.RLock()
	wire := idx.settings.toWire()
	idx.mu.RUnlock()
	writeJSON(w, http.StatusOK, wire)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var patch wireSettings
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeErr(w, badRequest("bad_request", "invalid settings payload: %v", err))
		return
	}

	idx, err := s.getOrCreateIndex(uid)
	if err != nil {
		writeErr(w, &httpError{status: http.StatusInternalServerError,
			code: "internal", errType: "internal", msg: err.Error()})
		return
	}

	ack := s.tasks.create("settingsUpdate", uid)
	idx.jobs <- job{taskUID: ack.TaskUID, apply: func() *opFailure {
		idx.settings.merge(patch)
		return nil
	}}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseInt(chi.URLParam(r, "taskUID"), 10, 64)
	if err != nil {
		writeErr(w, badRequest("invalid_task_uid", "task uid must be an integer"))
		return
	}
	wt, ok := s.tasks.get(uid)
	if !ok {
		writeErr(w, &httpError{
			status:  http.StatusNotFound,
			code:    "task_not_found",
			errType: "invalid_request",
			msg:     "task " + strconv.FormatInt(uid, 10) + " not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, wt)
}

func indexNotFound(uid string) *httpError {
	return &httpError{
		status:  http.StatusNotFound,
		code:    "index_not_found",
		errType: "invalid_request",
		msg:     "index " + uid + " not found",
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeErr(w http.ResponseWriter, e *httpError) {
	writeJSON(w, e.status, wireError{
		Message: e.msg,
		Code:    e.code,
		Type:    e.errType,
	})
}
