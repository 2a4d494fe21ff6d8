// Package window assigns records to fixed 60-second windows and coarser aggregation bins.
package window

import "time"

// Period is the width of a publishing window.
const Period = 60 * time.Second

// BinSpec names one aggregation bin and its width.
type BinSpec struct {
	Field  string
	Period time.Duration
}

// Bins are the aggregation bins added to every record, finest first.
var Bins = []BinSpec{
	{Field: "insights_10min_bin", Period: 10 * time.Minute},
	{Field: "insights_30min_bin", Period: 30 * time.Minute},
	{Field: "insights_60min_bin", Period: 60 * time.Minute},
}

// Bin is an assigned aggregation bin, expressed in epoch milliseconds.
type Bin struct {
	Field  string
	Millis int64
}

// Assignment is the window and bins of one timestamp.
type Assignment struct {
	WindowStart time.Time
	Bins        []Bin
}

// WindowStartNanos returns WindowStart as epoch nanoseconds.
func (a Assignment) WindowStartNanos() int64 { return a.WindowStart.UnixNano() }

// Assign floors t to its window and to each bin.
func Assign(t time.Time) Assignment {
	a := Assignment{
		WindowStart: Floor(t, Period),
		Bins:        make([]Bin, len(Bins)),
	}
	for i, b := range Bins {
		a.Bins[i] = Bin{Field: b.Field, Millis: Floor(t, b.Period).UnixMilli()}
	}
	return a
}

// Floor rounds t down to a multiple of d since the Unix epoch, in UTC.
func Floor(t time.Time, d time.Duration) time.Time {
	ns := t.UnixNano()
	step := int64(d)
	rem := ns % step
	if rem < 0 {
		rem += step
	}
	return time.Unix(0, ns-rem).UTC()
}
