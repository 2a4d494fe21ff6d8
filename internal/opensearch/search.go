package opensearch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/rawlogs/rawlogs/internal/store"
	"github.com/rawlogs/rawlogs/internal/types"
)

// Default query parameters.
const (
	DefaultIndex    = "logs"
	DefaultScroll   = time.Minute
	DefaultPageSize = 2000
)

// Searcher implements store.Searcher over a time-indexed log index.
type Searcher struct {
	client *opensearch.Client
	index  string
	field  string
	scroll time.Duration
	logger *slog.Logger
}

// NewSearcher returns a Searcher over index, filtering on the "time" field.
func NewSearcher(client *opensearch.Client, index string, scroll time.Duration, logger *slog.Logger) *Searcher {
	if index == "" {
		index = DefaultIndex
	}
	if scroll <= 0 {
		scroll = DefaultScroll
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{client: client, index: index, field: types.FieldTime, scroll: scroll, logger: logger}
}

// rangeQuery builds time >= start AND time < end in epoch milliseconds.
func rangeQuery(field string, w types.Window) ([]byte, error) {
	return json.Marshal(map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"range": map[string]any{
						field: map[string]any{
							"gte":    w.StartMillis(),
							"lt":     w.EndMillis(),
							"format": "epoch_millis",
						},
					}},
				},
			},
		},
	})
}

// Search implements store.Searcher. The first page is fetched eagerly.
func (s *Searcher) Search(ctx context.Context, w types.Window, pageSize int) (store.Cursor, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	body, err := rangeQuery(s.field, w)
	if err != nil {
		return nil, err
	}
	res, err := opensearchapi.SearchRequest{
		Index:  []string{s.index},
		Body:   bytes.NewReader(body),
		Scroll: s.scroll,
		Size:   &pageSize,
	}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search %s %s: %w", s.index, w, err)
	}
	page, err := decodePage(res, "search")
	if err != nil {
		return nil, err
	}
	return &cursor{searcher: s, first: page.records, scrollID: page.scrollID, pending: true}, nil
}

type cursor struct {
	searcher *Searcher
	first    []types.Record
	pending  bool
	scrollID string
	done     bool
}

// Next implements store.Cursor. A response without a scroll ID ends the
// query after its hits are returned.
func (c *cursor) Next(ctx context.Context) ([]types.Record, error) {
	if c.pending {
		c.pending = false
		if c.scrollID == "" {
			c.done = true
		}
		return c.first, nil
	}
	if c.done {
		return nil, nil
	}
	body, err := json.Marshal(map[string]any{
		"scroll":    c.searcher.scroll.String(),
		"scroll_id": c.scrollID,
	})
	if err != nil {
		return nil, err
	}
	res, err := opensearchapi.ScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, c.searcher.client)
	if err != nil {
		return nil, fmt.Errorf("scroll: %w", err)
	}
	page, err := decodePage(res, "scroll")
	if err != nil {
		return nil, err
	}
	if page.scrollID == "" {
		c.done = true
	} else {
		c.scrollID = page.scrollID
	}
	return page.records, nil
}

// Close clears the scroll context. Failures are logged; the context expires on its own.
func (c *cursor) Close(ctx context.Context) error {
	if c.scrollID == "" {
		return nil
	}
	body, err := json.Marshal(map[string]any{"scroll_id": []string{c.scrollID}})
	if err != nil {
		return err
	}
	res, err := opensearchapi.ClearScrollRequest{Body: bytes.NewReader(body)}.Do(ctx, c.searcher.client)
	if err != nil {
		c.searcher.logger.Warn("clear scroll failed", "error", err)
		return nil
	}
	defer res.Body.Close()
	if res.IsError() {
		c.searcher.logger.Warn("clear scroll failed", "status", res.StatusCode)
	}
	c.scrollID = ""
	return nil
}

type page struct {
	scrollID string
	records  []types.Record
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// decodePage reads hits into records, copying each hit's _id into the record.
func decodePage(res *opensearchapi.Response, op string) (page, error) {
	defer res.Body.Close()
	if res.IsError() {
		return page{}, responseError(op, res)
	}
	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return page{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	p := page{scrollID: sr.ScrollID, records: make([]types.Record, 0, len(sr.Hits.Hits))}
	for _, h := range sr.Hits.Hits {
		rec, err := decodeSource(h.Source)
		if err != nil {
			return page{}, fmt.Errorf("%s: decode hit %s: %w", op, h.ID, err)
		}
		rec[types.FieldID] = h.ID
		p.records = append(p.records, rec)
	}
	return p, nil
}

func decodeSource(raw json.RawMessage) (types.Record, error) {
	rec := types.Record{}
	if len(raw) == 0 {
		return rec, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}
