package receiver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/rawlogs/rawlogs/internal/enrich"
	"github.com/rawlogs/rawlogs/internal/publish"
	"github.com/rawlogs/rawlogs/internal/testutil"
	"github.com/rawlogs/rawlogs/internal/timestamp"
	"github.com/rawlogs/rawlogs/internal/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestServer(t *testing.T) (*httptest.Server, *Receiver, *testutil.FakeTransport) {
	t.Helper()
	ft := testutil.NewFakeTransport(1 << 20)
	now := time.Date(2021, 1, 7, 6, 14, 5, 0, time.UTC)
	enr := &enrich.Enricher{Normalizer: timestamp.Normalizer{Now: func() time.Time { return now }}}
	r := New(Config{Logger: quiet}, publish.New(ft, publish.WithLogger(quiet)), enr)
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv, r, ft
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitRecords(t *testing.T, r *Receiver, ft *testutil.FakeTransport) []types.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	recs, err := ft.Records()
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestIngest_Array(t *testing.T) {
	srv, r, ft := newTestServer(t)
	resp := post(t, srv.URL, `[{"log":"a","time":"1610000000"},{"log":"b","time":"1610000000"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
	b, _ := io.ReadAll(resp.Body)
	if len(b) != 0 {
		t.Errorf("body = %q, want empty", b)
	}
	recs := waitRecords(t, r, ft)
	if len(recs) != 2 {
		t.Fatalf("published %d records", len(recs))
	}
	if recs[0]["time"] != recs[1]["time"] {
		t.Errorf("times differ: %v %v", recs[0]["time"], recs[1]["time"])
	}
	if recs[0].ID() == recs[1].ID() {
		t.Errorf("ids collide: %s", recs[0].ID())
	}
	if got := ft.Messages()[0].Subject; got != publish.DefaultSubject {
		t.Errorf("subject = %q", got)
	}
}

func TestIngest_ClientIDsAreReplaced(t *testing.T) {
	srv, r, ft := newTestServer(t)
	resp := post(t, srv.URL, `[{"_id":"dup","log":"a","time":"1610000000"},{"_id":"dup","log":"b","time":"1610000000"}]`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	recs := waitRecords(t, r, ft)
	if len(recs) != 2 {
		t.Fatalf("published %d records", len(recs))
	}
	if recs[0].ID() == "dup" || recs[0].ID() == recs[1].ID() {
		t.Errorf("ids = %s, %s; want distinct synthesized ids", recs[0].ID(), recs[1].ID())
	}
}

func TestIngest_SingleObjectWithoutTime(t *testing.T) {
	srv, r, ft := newTestServer(t)
	resp := post(t, srv.URL, `{"log":"hello","kubernetes":{"pod":"api-1"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	recs := waitRecords(t, r, ft)
	if len(recs) != 1 {
		t.Fatalf("published %d records", len(recs))
	}
	rec := recs[0]
	if rec["time"] != "2021-01-07T06:14:05.000000Z" {
		t.Errorf("time = %v", rec["time"])
	}
	if rec["kubernetes.pod"] != "api-1" {
		t.Errorf("flattened field missing: %v", rec)
	}
	if rec.ID() == "" {
		t.Error("missing _id")
	}
}

func TestIngest_BadBodies(t *testing.T) {
	srv, r, ft := newTestServer(t)
	for _, body := range []string{
		``,
		`{"log":`,
		`"just a string"`,
		`[{"log":"a"}, 3]`,
		`{"log":"a"} trailing`,
	} {
		resp := post(t, srv.URL, body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("body %q: status = %d, want 404", body, resp.StatusCode)
			continue
		}
		var out struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(out.Detail, "Something wrong with request") {
			t.Errorf("body %q: detail = %q", body, out.Detail)
		}
	}
	if recs := waitRecords(t, r, ft); len(recs) != 0 {
		t.Errorf("bad bodies published %d records", len(recs))
	}
}

func TestIngest_EmptyArray(t *testing.T) {
	srv, r, ft := newTestServer(t)
	if resp := post(t, srv.URL, `[]`); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if recs := waitRecords(t, r, ft); len(recs) != 0 {
		t.Errorf("published %d records", len(recs))
	}
}

func TestIngest_BadTimestampDropsRecord(t *testing.T) {
	srv, r, ft := newTestServer(t)
	post(t, srv.URL, `[{"log":"ok","time":"2021-01-07T06:14:05Z"},{"log":"bad","time":"not a time at all"}]`)
	recs := waitRecords(t, r, ft)
	if len(recs) != 1 || recs[0]["log"] != "ok" {
		t.Errorf("published %v", recs)
	}
}

func TestIngest_BodyTooLarge(t *testing.T) {
	ft := testutil.NewFakeTransport(1 << 20)
	r := New(Config{MaxBodyBytes: 16, Logger: quiet}, publish.New(ft), &enrich.Enricher{})
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	if resp := post(t, srv.URL, `{"log":"this body is longer than sixteen bytes"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(b) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, b)
	}
}

func TestWait_HonoursContext(t *testing.T) {
	r := New(Config{Logger: quiet}, nil, nil)
	r.wg.Add(1)
	defer r.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); err == nil {
		t.Error("expected deadline error")
	}
}
