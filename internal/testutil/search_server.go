package testutil

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/types"
)

// SearchServer is a minimal OpenSearch stand-in: index existence, range
// search with scroll pagination, scroll clearing and single-document get/put.
// Use for tests without a real cluster.
type SearchServer struct {
	mu       sync.Mutex
	indices  map[string]bool
	docs     []Doc
	stored   map[string]map[string]json.RawMessage
	scrolls  map[string]*scrollState
	nextID   int
	cleared  []string
	ranges   [][2]int64
	failures map[string]int // path prefix -> status
	requests int
	Server   *httptest.Server
}

type scrollState struct {
	rest []searchHit
	size int
}

type searchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// NewSearchServer starts a server with the given indices existing.
func NewSearchServer(indices ...string) *SearchServer {
	s := &SearchServer{
		indices:  make(map[string]bool),
		stored:   make(map[string]map[string]json.RawMessage),
		scrolls:  make(map[string]*scrollState),
		failures: make(map[string]int),
	}
	for _, idx := range indices {
		s.indices[idx] = true
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// URL returns the server's base URL.
func (s *SearchServer) URL() string { return s.Server.URL }

// Close shuts down the server.
func (s *SearchServer) Close() { s.Server.Close() }

// AddDocs indexes docs for range search.
func (s *SearchServer) AddDocs(docs ...Doc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, docs...)
}

// CreateIndex makes an index exist.
func (s *SearchServer) CreateIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indices[name] = true
}

// Fail makes requests whose path starts with prefix answer with status until cleared with 0.
func (s *SearchServer) Fail(prefix string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, prefix)
		return
	}
	s.failures[prefix] = status
}

// Ranges returns every [gte, lt) range searched, in epoch ms.
func (s *SearchServer) Ranges() [][2]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][2]int64(nil), s.ranges...)
}

// Cleared returns the scroll IDs cleared so far.
func (s *SearchServer) Cleared() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cleared...)
}

// Stored returns a stored document's source, or nil.
func (s *SearchServer) Stored(index, id string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[index][id]
}

// Requests returns how many requests the server has handled.
func (s *SearchServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *SearchServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	for prefix, status := range s.failures {
		if strings.HasPrefix(r.URL.Path, prefix) {
			writeJSON(w, status, map[string]any{"error": "injected failure"})
			return
		}
	}
	var reader io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		defer zr.Close()
		reader = zr
	}
	body, _ := io.ReadAll(reader)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case strings.HasPrefix(r.URL.Path, "/_search/scroll") && r.Method == http.MethodDelete:
		var req struct {
			ScrollID []string `json:"scroll_id"`
		}
		_ = json.Unmarshal(body, &req)
		for _, id := range req.ScrollID {
			delete(s.scrolls, id)
			s.cleared = append(s.cleared, id)
		}
		writeJSON(w, http.StatusOK, map[string]any{"succeeded": true})
	case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
		var req struct {
			ScrollID string `json:"scroll_id"`
		}
		_ = json.Unmarshal(body, &req)
		if req.ScrollID == "" {
			req.ScrollID = r.URL.Query().Get("scroll_id")
		}
		s.page(w, req.ScrollID)
	case len(parts) == 1 && r.Method == http.MethodHead:
		if s.indices[parts[0]] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case len(parts) == 2 && parts[1] == "_search":
		s.search(w, r, parts[0], body)
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodGet:
		src, ok := s.stored[parts[0]][parts[2]]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"_index": parts[0], "_id": parts[2], "found": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"_index": parts[0], "_id": parts[2], "found": true, "_source": src})
	case len(parts) == 3 && parts[1] == "_doc":
		if s.stored[parts[0]] == nil {
			s.stored[parts[0]] = make(map[string]json.RawMessage)
		}
		s.stored[parts[0]][parts[2]] = json.RawMessage(body)
		s.indices[parts[0]] = true
		writeJSON(w, http.StatusCreated, map[string]any{"_index": parts[0], "_id": parts[2], "result": "created"})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unsupported %s %s", r.Method, r.URL.Path)})
	}
}

func (s *SearchServer) search(w http.ResponseWriter, r *http.Request, index string, body []byte) {
	if !s.indices[index] {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"})
		return
	}
	var q struct {
		Query struct {
			Bool struct {
				Filter []struct {
					Range map[string]struct {
						Gte json.Number `json:"gte"`
						Lt  json.Number `json:"lt"`
					} `json:"range"`
				} `json:"filter"`
			} `json:"bool"`
		} `json:"query"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&q); err != nil || len(q.Query.Bool.Filter) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad query"})
		return
	}
	rng := q.Query.Bool.Filter[0].Range["time"]
	gte, _ := rng.Gte.Int64()
	lt, _ := rng.Lt.Int64()
	s.ranges = append(s.ranges, [2]int64{gte, lt})

	var hits []searchHit
	for _, d := range s.docs {
		ms := d.At.UnixMilli()
		if ms < gte || ms >= lt {
			continue
		}
		src := d.Record.Clone()
		id := src.ID()
		delete(src, types.FieldID)
		b, _ := json.Marshal(src)
		hits = append(hits, searchHit{ID: id, Source: b})
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 {
		size = 10
	}
	n := min(size, len(hits))
	first, rest := hits[:n], hits[n:]
	if first == nil {
		first = []searchHit{}
	}
	s.nextID++
	id := "scroll-" + strconv.Itoa(s.nextID)
	s.scrolls[id] = &scrollState{rest: rest, size: size}
	s.writeHits(w, id, first)
}

func (s *SearchServer) page(w http.ResponseWriter, id string) {
	st, ok := s.scrolls[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "search_context_missing_exception"})
		return
	}
	n := min(st.size, len(st.rest))
	page := st.rest[:n]
	st.rest = st.rest[n:]
	s.writeHits(w, id, page)
}

func (s *SearchServer) writeHits(w http.ResponseWriter, scrollID string, hits []searchHit) {
	if hits == nil {
		hits = []searchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"_scroll_id": scrollID,
		"took":       1,
		"hits":       map[string]any{"total": map[string]any{"value": len(hits)}, "hits": hits},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DocsAt is a convenience for building docs at fixed instants.
func DocsAt(at time.Time, recs ...types.Record) []Doc {
	out := make([]Doc, len(recs))
	for i, r := range recs {
		out[i] = Doc{At: at, Record: r}
	}
	return out
}
