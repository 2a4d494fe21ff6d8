package types

import (
	"strconv"
	"time"
)

// Field names added to every record on its way to the transport.
const (
	FieldID          = "_id"
	FieldTime        = "time"
	FieldWindowNanos = "window_start_time_ns"
	FieldWindowMilli = "window_dt"
)

// Record is one log document: the raw fields as decoded from the store or an
// HTTP body, enriched in place before publishing.
// Numbers are kept as json.Number so 19-digit nanosecond values survive decoding.
type Record map[string]any

// ID returns the record's _id as a string, or "" when absent.
func (r Record) ID() string {
	switch v := r[FieldID].(type) {
	case string:
		return v
	case nil:
		return ""
	case interface{ String() string }:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WindowStartNanos returns the window_start_time_ns field set by enrichment.
func (r Record) WindowStartNanos() (int64, bool) {
	switch v := r[FieldWindowNanos].(type) {
	case int64:
		return v, true
	case interface{ Int64() (int64, error) }:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window of length d starting at start.
func NewWindow(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

// StartMillis returns Start as epoch milliseconds.
func (w Window) StartMillis() int64 { return w.Start.UnixMilli() }

// EndMillis returns End as epoch milliseconds.
func (w Window) EndMillis() int64 { return w.End.UnixMilli() }

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return "[" + strconv.FormatInt(w.StartMillis(), 10) + ", " + strconv.FormatInt(w.EndMillis(), 10) + ")"
}

// Checkpoint is the exclusive upper bound of time already processed by the pull path.
type Checkpoint struct {
	LastProcessedEnd time.Time
}

// CheckpointFromMillis builds a Checkpoint from its stored epoch-ms form.
func CheckpointFromMillis(ms int64) Checkpoint {
	return Checkpoint{LastProcessedEnd: time.UnixMilli(ms).UTC()}
}

// Millis returns the stored epoch-ms form.
func (c Checkpoint) Millis() int64 { return c.LastProcessedEnd.UnixMilli() }
