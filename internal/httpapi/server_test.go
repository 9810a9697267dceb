package httpapi_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/doortally/doortally/internal/httpapi"
	"github.com/doortally/doortally/internal/tally/service"
	"github.com/doortally/doortally/internal/tally/store/memory"
	"github.com/doortally/doortally/internal/tally/types"
)

// newTestServer wires the full dependency graph on an in-memory store and
// returns an httptest.Server to hit with a plain http.Client.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	ledger := service.NewLedger(memory.NewEventStore(), service.LedgerConfig{}, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          ":0",
		Ledger:        ledger,
		RetentionDays: 7,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

// ── Record ───────────────────────────────────────────────────────────────────

func TestRecordEvent_Valid(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":5,"event_type":"A_IN"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var ev types.Event
	decodeBody(t, resp, &ev)
	if ev.ID == 0 {
		t.Error("expected server-assigned id")
	}
	if ev.DoorNumber != 5 || ev.EventType != types.EventAIn {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.OccurredAt.IsZero() {
		t.Error("expected server-assigned timestamp")
	}
}

func TestRecordEvent_Validation(t *testing.T) {
	ts := newTestServer(t)

	cases := []string{
		`{"door_number":0,"event_type":"A_IN"}`,
		`{"door_number":27,"event_type":"A_IN"}`,
		`{"door_number":5,"event_type":"C_IN"}`,
		`{"door_number":5,"event_type":""}`,
	}
	for _, body := range cases {
		resp := postJSON(t, ts.URL+"/v1/events", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, resp.StatusCode)
		}
		var e struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &e)
		if e.Error != "validation_error" {
			t.Errorf("body %s: expected validation_error, got %q", body, e.Error)
		}
	}
}

func TestRecordEvent_BadJSON(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":5,`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown fields are rejected — in particular, callers cannot smuggle
	// their own timestamps in.
	resp = postJSON(t, ts.URL+"/v1/events",
		`{"door_number":5,"event_type":"A_IN","timestamp_utc":"2020-01-01T00:00:00Z"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// ── Recent ───────────────────────────────────────────────────────────────────

func TestRecent_DefaultLimit(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 12; i++ {
		resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":1,"event_type":"B_IN"}`)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var evs []types.Event
	decodeBody(t, resp, &evs)
	if len(evs) != 10 {
		t.Errorf("expected default limit of 10 events, got %d", len(evs))
	}
}

func TestRecent_BadLimit(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/events?limit=abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

// ── Undo ─────────────────────────────────────────────────────────────────────

func TestUndoByID(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":5,"event_type":"A_IN"}`)
	var ev types.Event
	decodeBody(t, resp, &ev)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete,
			fmt.Sprintf("%s/v1/events/%d", ts.URL, ev.ID), nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(); got != http.StatusNoContent {
		t.Fatalf("first undo: expected 204, got %d", got)
	}
	if got := del(); got != http.StatusNotFound {
		t.Errorf("second undo: expected 404, got %d", got)
	}
}

func TestUndoLast(t *testing.T) {
	ts := newTestServer(t)

	// Nothing recorded yet.
	resp := postJSON(t, ts.URL+"/v1/events/undo_last", `{"door_number":5,"event_type":"A_IN"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on empty ledger, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/events", `{"door_number":5,"event_type":"A_IN"}`)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/v1/events/undo_last", `{"door_number":5,"event_type":"A_IN"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// ── Export ───────────────────────────────────────────────────────────────────

func TestExport_CSV(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":2,"event_type":"A_OUT"}`)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/export")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv content type, got %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header + 3 rows, got %d records", len(records))
	}
	want := []string{"id", "door_number", "event_type", "timestamp_utc"}
	for i, col := range want {
		if records[0][i] != col {
			t.Errorf("header column %d: expected %q, got %q", i, col, records[0][i])
		}
	}
}

// ── Cleanup ──────────────────────────────────────────────────────────────────

func TestCleanup(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/events", `{"door_number":1,"event_type":"A_IN"}`)
	resp.Body.Close()

	// Fresh events are inside the window; nothing purged.
	resp = postJSON(t, ts.URL+"/v1/cleanup", `{"retention_days":7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Purged int64 `json:"purged"`
	}
	decodeBody(t, resp, &out)
	if out.Purged != 0 {
		t.Errorf("expected 0 purged, got %d", out.Purged)
	}

	resp = postJSON(t, ts.URL+"/v1/cleanup", `{"retention_days":-1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for negative retention, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
