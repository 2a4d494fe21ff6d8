package publish

// Span is a contiguous run [From, To) of a batch and the size of its JSON array.
type Span struct {
	From, To int
	Bytes    int
}

// Len returns the number of records in the span.
func (s Span) Len() int { return s.To - s.From }

// arraySize is the exact length of a JSON array holding elements of the given sizes.
func arraySize(sizes []int) int {
	n := 2
	for i, s := range sizes {
		if i > 0 {
			n++
		}
		n += s
	}
	return n
}

// Split partitions records (given by their encoded sizes) into contiguous
// spans. It computes max(1, ceil(total/ceiling)) near-equal spans, the first
// total%count of them one record longer, then halves any span still above the
// ceiling. A span holding a single oversized record is returned as is.
func Split(recSizes []int, ceiling int64) []Span {
	if len(recSizes) == 0 {
		return nil
	}
	total := arraySize(recSizes)
	count := 1
	if ceiling > 0 {
		count = int((int64(total) + ceiling - 1) / ceiling)
	}
	if count < 1 {
		count = 1
	}
	if count > len(recSizes) {
		count = len(recSizes)
	}
	base, extra := len(recSizes)/count, len(recSizes)%count
	var out []Span
	from := 0
	for i := 0; i < count; i++ {
		n := base
		if i < extra {
			n++
		}
		out = appendFitting(out, recSizes, from, from+n, ceiling)
		from += n
	}
	return out
}

func appendFitting(out []Span, recSizes []int, from, to int, ceiling int64) []Span {
	size := arraySize(recSizes[from:to])
	if int64(size) <= ceiling || to-from == 1 || ceiling <= 0 {
		return append(out, Span{From: from, To: to, Bytes: size})
	}
	mid := from + (to-from)/2
	out = appendFitting(out, recSizes, from, mid, ceiling)
	return appendFitting(out, recSizes, mid, to, ceiling)
}
