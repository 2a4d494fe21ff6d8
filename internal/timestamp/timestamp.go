// Package timestamp turns heterogeneous raw time values into one canonical
// UTC string with microsecond precision.
package timestamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical timestamp form every enriched record carries.
const Layout = "2006-01-02T15:04:05.000000Z"

// nanoDigits is the digit count of a nanosecond epoch in the current era.
const nanoDigits = 19

// ErrUnparseable is returned for a value that is neither an epoch number nor a timestamp string.
var ErrUnparseable = errors.New("unparseable timestamp")

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Format renders t in the canonical layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Raw stringifies a raw time value. ok is false for absent values:
// nil, and strings that are empty or whitespace.
func Raw(v any) (s string, ok bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		s = x.String()
		if _, err := x.Int64(); err != nil {
			if f, ferr := x.Float64(); ferr == nil {
				s = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		s = strconv.Itoa(x)
	case int64:
		s = strconv.FormatInt(x, 10)
	default:
		s = strings.TrimSpace(fmt.Sprint(x))
	}
	return s, s != ""
}

// IsNumeric reports whether s is an unsigned decimal number, optionally with a fraction.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if intPart == "" || !allDigits(intPart) {
		return false
	}
	return !hasFrac || allDigits(frac)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// FromEpochDigits applies the length-based unit heuristic to a numeric string.
// The integer part is right-padded with zeros to 19 digits and read as
// nanoseconds since the epoch. When rawLen exceeds 19 the value is divided by
// 10^(rawLen-19). rawLen is the length of the raw value the digits came from.
//
// Short values are assumed to be coarser units of the current era, so a
// genuinely small epoch value is misread. That ambiguity is inherent to the
// heuristic.
func FromEpochDigits(digits string, rawLen int) (time.Time, error) {
	if !IsNumeric(digits) {
		return time.Time{}, fmt.Errorf("%w: %q is not numeric", ErrUnparseable, digits)
	}
	intPart, _, _ := strings.Cut(digits, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if len(intPart) < nanoDigits {
		intPart += strings.Repeat("0", nanoDigits-len(intPart))
	}
	if rawLen > nanoDigits {
		drop := rawLen - nanoDigits
		if drop >= len(intPart) {
			intPart = "0"
		} else {
			intPart = intPart[:len(intPart)-drop]
		}
	}
	ns, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q out of range", ErrUnparseable, digits)
	}
	return time.Unix(0, ns).UTC(), nil
}

// Parse reads an ISO-8601-like timestamp. Values without a zone are UTC.
func Parse(s string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

// Normalizer canonicalizes the time values of a batch.
type Normalizer struct {
	// Now supplies the instant used for absent values; time.Now when nil.
	Now func() time.Time
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

// NormalizeAll returns the canonical form of every raw value, index-aligned.
// Present values are grouped by string length: a group whose members are all
// numeric is read with FromEpochDigits, any other group is parsed as
// timestamp strings. errs[i] is non-nil when value i could not be read; a
// failure never affects other values.
func (n Normalizer) NormalizeAll(raw []any) (out []string, errs []error) {
	out = make([]string, len(raw))
	errs = make([]error, len(raw))
	now := Format(n.now())

	byLen := make(map[int][]int)
	strs := make([]string, len(raw))
	for i, v := range raw {
		s, ok := Raw(v)
		if !ok {
			out[i] = now
			continue
		}
		strs[i] = s
		byLen[len(s)] = append(byLen[len(s)], i)
	}
	for length, idx := range byLen {
		numeric := true
		for _, i := range idx {
			if !IsNumeric(strs[i]) {
				numeric = false
				break
			}
		}
		for _, i := range idx {
			var t time.Time
			var err error
			if numeric {
				t, err = FromEpochDigits(strs[i], length)
			} else {
				t, err = Parse(strs[i])
			}
			if err != nil {
				errs[i] = err
				continue
			}
			out[i] = Format(t)
		}
	}
	return out, errs
}

// Normalize canonicalizes a single value.
func (n Normalizer) Normalize(v any) (string, error) {
	out, errs := n.NormalizeAll([]any{v})
	return out[0], errs[0]
}
