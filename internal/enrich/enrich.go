// Package enrich shapes a batch of raw records for publishing: canonical time,
// window and bin keys, and a synthesized _id.
package enrich

import (
	"fmt"
	"strconv"

	"github.com/rawlogs/rawlogs/internal/recordid"
	"github.com/rawlogs/rawlogs/internal/timestamp"
	"github.com/rawlogs/rawlogs/internal/types"
	"github.com/rawlogs/rawlogs/internal/window"
)

// RecordError reports one record that could not be enriched.
type RecordError struct {
	Index  int
	Record types.Record
	Err    error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

// Result is the enriched batch plus the records that were rejected.
// Records keeps the input order.
type Result struct {
	Records  []types.Record
	Rejected []RecordError
}

// Enricher applies timestamp normalization, window assignment and ID synthesis.
type Enricher struct {
	Normalizer timestamp.Normalizer
	// KeepStoreID keeps a record's existing _id. Set it only where the _id
	// comes from the document store; client supplied IDs are not unique.
	KeepStoreID bool
}

// Enrich returns enriched copies of in. A record whose time cannot be read is
// rejected without affecting the rest of the batch. Every record gets an _id
// from a per-batch Sequencer unless KeepStoreID is set and it already has one.
func (e *Enricher) Enrich(in []types.Record) Result {
	recs := make([]types.Record, len(in))
	raw := make([]any, len(in))
	for i, r := range in {
		recs[i] = Flatten(r)
		raw[i] = recs[i][types.FieldTime]
	}
	canon, errs := e.Normalizer.NormalizeAll(raw)

	res := Result{Records: make([]types.Record, 0, len(recs))}
	seq := recordid.NewSequencer()
	for i, rec := range recs {
		if errs[i] != nil {
			res.Rejected = append(res.Rejected, RecordError{Index: i, Record: in[i], Err: errs[i]})
			continue
		}
		t, err := timestamp.Parse(canon[i])
		if err != nil {
			res.Rejected = append(res.Rejected, RecordError{Index: i, Record: in[i], Err: err})
			continue
		}
		a := window.Assign(t)
		rec[types.FieldTime] = canon[i]
		rec[types.FieldWindowNanos] = a.WindowStartNanos()
		rec[types.FieldWindowMilli] = a.WindowStart.UnixMilli()
		for _, b := range a.Bins {
			rec[b.Field] = b.Millis
		}
		id := seq.Next(t.UnixNano())
		if !e.KeepStoreID || rec.ID() == "" {
			rec[types.FieldID] = id
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

// Flatten returns a copy of r with nested objects expanded into dotted keys,
// null values replaced by "" and a non-string id field stringified.
func Flatten(r types.Record) types.Record {
	out := make(types.Record, len(r))
	flattenInto(out, "", r)
	if id, ok := out["id"]; ok {
		if _, isStr := id.(string); !isStr {
			out["id"] = stringify(id)
		}
	}
	return out
}

func flattenInto(out types.Record, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case map[string]any:
			if len(x) == 0 {
				out[key] = x
				continue
			}
			flattenInto(out, key, x)
		case types.Record:
			flattenInto(out, key, x)
		case nil:
			out[key] = ""
		default:
			out[key] = v
		}
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case interface{ String() string }:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
