// Package publish splits enriched batches into chunks that fit the transport's
// payload ceiling and emits one message per chunk.
package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/metrics"
	"github.com/rawlogs/rawlogs/internal/types"
)

// DefaultSubject is the subject raw records are published on.
const DefaultSubject = "raw_logs"

// ErrRecordTooLarge marks a single record whose JSON exceeds the ceiling.
var ErrRecordTooLarge = errors.New("record exceeds transport payload ceiling")

// Dropped is a record left out of every chunk because it cannot fit one.
type Dropped struct {
	WindowStart time.Time
	ID          string
	Bytes       int // size as a one-element array
}

// Transport is the pub/sub connection the publisher writes to.
type Transport interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// MaxPayload is the largest message, in bytes, the transport accepts.
	MaxPayload() int64
}

// Chunk describes one emitted (or attempted) message.
type Chunk struct {
	WindowStart time.Time
	Index       int // position within the window's chunk set
	Records     int
	Bytes       int
	Err         error
}

// Report lists every chunk of one Publish call in emission order, and the
// records dropped as too large.
type Report struct {
	Chunks  []Chunk
	Dropped []Dropped
}

// Published returns the number of records in chunks that went out.
func (r Report) Published() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Err == nil {
			n += c.Records
		}
	}
	return n
}

// Failed returns the chunks that did not go out.
func (r Report) Failed() []Chunk {
	var out []Chunk
	for _, c := range r.Chunks {
		if c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Publisher emits enriched records over a Transport.
type Publisher struct {
	transport Transport
	subject   string
	path      string
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubject overrides DefaultSubject.
func WithSubject(s string) Option { return func(p *Publisher) { p.subject = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Publisher) { p.logger = l } }

// WithPath labels metrics with the ingestion path ("pull" or "push").
func WithPath(path string) Option { return func(p *Publisher) { p.path = path } }

// New returns a Publisher writing to t.
func New(t Transport, opts ...Option) *Publisher {
	p := &Publisher{transport: t, subject: DefaultSubject, path: "unknown", logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish groups records by window_start_time_ns, splits each group into
// chunks within the transport ceiling and publishes them in order. A failed
// chunk does not stop later chunks; the returned error joins every chunk
// failure and the Report tells which chunks went out. A record that alone
// exceeds the ceiling is dropped, logged and counted as rejected. It is not
// an error: retrying the window would never deliver it.
func (p *Publisher) Publish(ctx context.Context, records []types.Record) (Report, error) {
	var report Report
	if len(records) == 0 {
		return report, nil
	}
	ceiling := p.transport.MaxPayload()
	var errs []error
	for _, g := range groupByWindow(records) {
		encoded := make([][]byte, 0, len(g.records))
		for _, r := range g.records {
			b, err := json.Marshal(r)
			if err != nil {
				errs = append(errs, fmt.Errorf("encode record %s: %w", r.ID(), err))
				return report, errors.Join(errs...)
			}
			if ceiling > 0 && int64(len(b)+2) > ceiling {
				report.Dropped = append(report.Dropped, p.drop(g.start, r, len(b)+2, ceiling))
				continue
			}
			encoded = append(encoded, b)
		}
		if len(encoded) == 0 {
			continue
		}
		recSizes := sizes(encoded)
		spans := Split(recSizes, ceiling)
		if len(spans) > 1 {
			p.logger.Info("chunking window payload",
				"window_start", g.start, "bytes", arraySize(recSizes),
				"max_payload", ceiling, "chunks", len(spans))
		}
		for i, s := range spans {
			c := Chunk{WindowStart: g.start, Index: i, Records: s.Len(), Bytes: s.Bytes}
			c.Err = p.transport.Publish(ctx, p.subject, encodeArray(encoded[s.From:s.To], s.Bytes))
			p.observe(c)
			if c.Err != nil {
				p.logger.Error("publish chunk failed",
					"subject", p.subject, "window_start", g.start, "chunk", i,
					"of", len(spans), "records", c.Records, "bytes", c.Bytes, "error", c.Err)
				errs = append(errs, fmt.Errorf("window %s chunk %d/%d: %w",
					g.start.Format(time.RFC3339), i+1, len(spans), c.Err))
			}
			report.Chunks = append(report.Chunks, c)
		}
	}
	return report, errors.Join(errs...)
}

func (p *Publisher) drop(start time.Time, r types.Record, size int, ceiling int64) Dropped {
	d := Dropped{WindowStart: start, ID: r.ID(), Bytes: size}
	p.logger.Warn("dropping record",
		"subject", p.subject, "window_start", start, "id", d.ID,
		"bytes", size, "max_payload", ceiling, "error", ErrRecordTooLarge)
	metrics.RecordsRejected.WithLabelValues(p.path).Inc()
	return d
}

func (p *Publisher) observe(c Chunk) {
	status := "ok"
	if c.Err != nil {
		status = "error"
	} else {
		metrics.RecordsPublished.WithLabelValues(p.path).Add(float64(c.Records))
	}
	metrics.ChunksPublished.WithLabelValues(p.path, status).Inc()
}

type windowGroup struct {
	start   time.Time
	records []types.Record
}

// groupByWindow keeps arrival order inside a group and orders groups by window start.
func groupByWindow(records []types.Record) []windowGroup {
	idx := make(map[int64]int)
	var groups []windowGroup
	for _, r := range records {
		ns, _ := r.WindowStartNanos()
		i, ok := idx[ns]
		if !ok {
			i = len(groups)
			idx[ns] = i
			groups = append(groups, windowGroup{start: time.Unix(0, ns).UTC()})
		}
		groups[i].records = append(groups[i].records, r)
	}
	sort.SliceStable(groups, func(a, b int) bool { return groups[a].start.Before(groups[b].start) })
	return groups
}

func sizes(encoded [][]byte) []int {
	out := make([]int, len(encoded))
	for i, b := range encoded {
		out[i] = len(b)
	}
	return out
}

func encodeArray(parts [][]byte, size int) []byte {
	var buf bytes.Buffer
	buf.Grow(size)
	buf.WriteByte('[')
	for i, b := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
