package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

// Doc is a stored record and the instant it is indexed under.
type Doc struct {
	At     time.Time
	Record types.Record
}

// MemorySearcher serves range queries over in-memory docs, in insertion order.
type MemorySearcher struct {
	mu       sync.Mutex
	docs     []Doc
	windows  []types.Window
	searchEr error
	pageErr  error
	closed   int
}

// NewMemorySearcher returns a searcher over docs.
func NewMemorySearcher(docs ...Doc) *MemorySearcher {
	return &MemorySearcher{docs: docs}
}

// Add appends a doc.
func (m *MemorySearcher) Add(at time.Time, rec types.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, Doc{At: at, Record: rec})
}

// FailSearch makes Search return err until called again with nil.
func (m *MemorySearcher) FailSearch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchEr = err
}

// FailPages makes every page after the first return err until called again with nil.
func (m *MemorySearcher) FailPages(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageErr = err
}

// Windows returns every window searched so far.
func (m *MemorySearcher) Windows() []types.Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Window(nil), m.windows...)
}

// Closed returns how many cursors were closed.
func (m *MemorySearcher) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Search implements store.Searcher.
func (m *MemorySearcher) Search(ctx context.Context, w types.Window, pageSize int) (store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, w)
	if m.searchEr != nil {
		return nil, m.searchEr
	}
	var hits []types.Record
	for _, d := range m.docs {
		if w.Contains(d.At) {
			hits = append(hits, d.Record.Clone())
		}
	}
	return &memoryCursor{owner: m, hits: hits, size: pageSize}, nil
}

type memoryCursor struct {
	owner *MemorySearcher
	hits  []types.Record
	size  int
	pages int
}

func (c *memoryCursor) Next(ctx context.Context) ([]types.Record, error) {
	c.owner.mu.Lock()
	pageErr := c.owner.pageErr
	c.owner.mu.Unlock()
	if pageErr != nil && c.pages > 0 {
		return nil, pageErr
	}
	c.pages++
	n := c.size
	if n <= 0 || n > len(c.hits) {
		n = len(c.hits)
	}
	page := c.hits[:n]
	c.hits = c.hits[n:]
	return page, nil
}

func (c *memoryCursor) Close(ctx context.Context) error {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	c.owner.closed++
	return nil
}
