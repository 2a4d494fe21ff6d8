package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/rawlogs/rawlogs/internal/types"
)

// SampleRecords returns a small push-path batch: one record without time,
// two sharing an epoch-seconds timestamp and one ISO timestamp.
func SampleRecords() []types.Record {
	return []types.Record{
		{"log": "hello"},
		{"log": "connection refused from 10.0.0.1", "time": "1610000000"},
		{"log": "connection refused from 10.0.0.2", "time": "1610000000"},
		{"log": "server started", "time": "2021-01-07T06:14:05.250Z"},
	}
}

// GenerateRecords returns n records starting at start, step apart, each with a
// log field of payloadLen characters. Times are ISO strings.
func GenerateRecords(n int, start time.Time, step time.Duration, payloadLen int) []types.Record {
	out := make([]types.Record, n)
	for i := 0; i < n; i++ {
		msg := fmt.Sprintf("line %06d ", i)
		if pad := payloadLen - len(msg); pad > 0 {
			msg += strings.Repeat("x", pad)
		}
		out[i] = types.Record{
			"log":  msg,
			"time": start.Add(time.Duration(i) * step).UTC().Format(time.RFC3339Nano),
		}
	}
	return out
}

// Docs pairs generated records with their instants for a MemorySearcher.
func Docs(n int, start time.Time, step time.Duration) []Doc {
	recs := GenerateRecords(n, start, step, 16)
	out := make([]Doc, n)
	for i, r := range recs {
		r["_id"] = fmt.Sprintf("doc-%d", i)
		out[i] = Doc{At: start.Add(time.Duration(i) * step), Record: r}
	}
	return out
}
