package timestamp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.UTC)

func TestNormalize(t *testing.T) {
	n := Normalizer{Now: func() time.Time { return fixedNow }}
	tests := []struct {
		name string
		raw  any
		want string
	}{
		{"absent", nil, "2024-03-01T12:30:45.123456Z"},
		{"blank", "   ", "2024-03-01T12:30:45.123456Z"},
		{"seconds", "1610000000", "2021-01-07T06:13:20.000000Z"},
		{"millis", "1610000000123", "2021-01-07T06:13:20.123000Z"},
		{"micros", "1610000000123456", "2021-01-07T06:13:20.123456Z"},
		{"nanos", "1610000000123456789", "2021-01-07T06:13:20.123456Z"},
		{"over 19 digits", "161000000012345678900", "2021-01-07T06:13:20.123456Z"},
		{"json number", json.Number("1610000000"), "2021-01-07T06:13:20.000000Z"},
		{"fraction truncated", "1610000000.75", "2021-01-07T06:13:20.000000Z"},
		{"rfc3339", "2021-01-07T06:13:20Z", "2021-01-07T06:13:20.000000Z"},
		{"offset", "2021-01-07T08:13:20+02:00", "2021-01-07T06:13:20.000000Z"},
		{"space separated", "2021-01-07 06:13:20.5", "2021-01-07T06:13:20.500000Z"},
		{"date only", "2021-01-07", "2021-01-07T00:00:00.000000Z"},
		{"canonical", "2021-01-07T06:13:20.123456Z", "2021-01-07T06:13:20.123456Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.raw)
			if err != nil {
				t.Fatalf("Normalize(%v): %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%v) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_Unparseable(t *testing.T) {
	n := Normalizer{Now: func() time.Time { return fixedNow }}
	for _, raw := range []any{"not a time", "-1610000000", "9999999999999999999"} {
		if _, err := n.Normalize(raw); !errors.Is(err, ErrUnparseable) {
			t.Errorf("Normalize(%v) err = %v, want ErrUnparseable", raw, err)
		}
	}
}

func TestNormalizeAll_IsolatesFailures(t *testing.T) {
	n := Normalizer{Now: func() time.Time { return fixedNow }}
	out, errs := n.NormalizeAll([]any{"1610000000", "garbage", nil, "1610000001"})
	if errs[0] != nil || errs[2] != nil || errs[3] != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if errs[1] == nil {
		t.Error("expected error for garbage")
	}
	if out[0] != "2021-01-07T06:13:20.000000Z" || out[3] != "2021-01-07T06:13:21.000000Z" {
		t.Errorf("out = %v", out)
	}
	if out[2] != Format(fixedNow) {
		t.Errorf("absent value = %s", out[2])
	}
}

func TestNormalizeAll_MixedLengthGroupParsesAsStrings(t *testing.T) {
	// Both values are 10 characters long; the group is not all numeric, so the
	// digits are read as a timestamp string and fail.
	n := Normalizer{Now: func() time.Time { return fixedNow }}
	out, errs := n.NormalizeAll([]any{"1610000000", "2021-01-07"})
	if errs[0] == nil {
		t.Error("expected numeric value in mixed group to fail")
	}
	if errs[1] != nil || out[1] != "2021-01-07T00:00:00.000000Z" {
		t.Errorf("date value: %s %v", out[1], errs[1])
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	n := Normalizer{Now: func() time.Time { return fixedNow }}
	for _, raw := range []string{
		"1610000000", "1610000000123", "1610000000123456", "1610000000123456789",
		"161000000012345678900", "1700000000999999999", "2021-01-07T06:13:20Z",
	} {
		once, err := n.Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", raw, err)
		}
		twice, err := n.Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent for %s: %s then %s", raw, once, twice)
		}
	}
}

func TestFromEpochDigits(t *testing.T) {
	got, err := FromEpochDigits("1610000000", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got.Unix() != 1610000000 || got.Nanosecond() != 0 {
		t.Errorf("got %v", got)
	}
	got, err = FromEpochDigits("0000000000000000001610", 22)
	if err != nil {
		t.Fatal(err)
	}
	if got.UnixNano() != 1610000000000000 {
		t.Errorf("leading zeros: got %d", got.UnixNano())
	}
	if _, err := FromEpochDigits("12ab", 4); !errors.Is(err, ErrUnparseable) {
		t.Errorf("err = %v", err)
	}
}

func TestIsNumeric(t *testing.T) {
	for s, want := range map[string]bool{
		"123": true, "1.5": true, "": false, ".5": false, "1.": true,
		"1e9": false, "-1": false, "12:00": false,
	} {
		if got := IsNumeric(s); got != want {
			t.Errorf("IsNumeric(%q) = %v, want %v", s, got, want)
		}
	}
}
