package testutil

import (
	"bytes"
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/types"
)

// Message is one payload captured by FakeTransport.
type Message struct {
	Subject string
	Data    []byte
}

// FakeTransport records published messages in memory. Safe for concurrent use.
type FakeTransport struct {
	mu       sync.Mutex
	ceiling  int64
	failOn   map[int]error
	calls    int
	messages []Message
	closed   bool
}

// NewFakeTransport returns a transport with the given payload ceiling.
func NewFakeTransport(ceiling int64) *FakeTransport {
	return &FakeTransport{ceiling: ceiling, failOn: make(map[int]error)}
}

// FailOn makes the call-th Publish (0-based, counted across the transport's life) return err.
func (f *FakeTransport) FailOn(call int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[call] = err
}

// Publish implements publish.Transport.
func (f *FakeTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if err, ok := f.failOn[call]; ok {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.messages = append(f.messages, Message{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

// MaxPayload implements publish.Transport.
func (f *FakeTransport) MaxPayload() int64 { return f.ceiling }

// Close marks the transport closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Messages returns a copy of the captured messages.
func (f *FakeTransport) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Records decodes every captured message and returns the records in publish order.
func (f *FakeTransport) Records() ([]types.Record, error) {
	var out []types.Record
	for _, m := range f.Messages() {
		dec := json.NewDecoder(bytes.NewReader(m.Data))
		dec.UseNumber()
		var recs []types.Record
		if err := dec.Decode(&recs); err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
