package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/store/memory"
)

func appendEvent(t *testing.T, bus *memory.Bus, ev domain.Event) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	if err := bus.StreamAppend(context.Background(), domain.EventStream, payload); err != nil {
		t.Fatalf("StreamAppend: %v", err)
	}
}

func TestListEventsReplaysStream(t *testing.T) {
	bus := memory.NewBus()
	h := NewEventsHandler(bus, testLogger())

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	appendEvent(t, bus, domain.Event{Type: domain.EventMarketCreated, MarketID: 1, Timestamp: at})
	appendEvent(t, bus, domain.Event{Type: domain.EventMarketResolved, MarketID: 1, Timestamp: at.Add(time.Hour)})

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Entries []struct {
			ID    string       `json:"id"`
			Event domain.Event `json:"event"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(resp.Entries))
	}
	if resp.Entries[0].Event.Type != domain.EventMarketCreated {
		t.Fatalf("first event = %q", resp.Entries[0].Event.Type)
	}

	// Resume from the first entry's cursor.
	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?after="+resp.Entries[0].ID, nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal resume: %v", err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Event.Type != domain.EventMarketResolved {
		t.Fatalf("resume entries = %+v", resp.Entries)
	}
}

func TestListEventsEmptyStream(t *testing.T) {
	h := NewEventsHandler(memory.NewBus(), testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"entries\":[]}\n" && got != "{\"entries\":[]}" {
		t.Fatalf("body = %q", got)
	}
}

func TestListEventsRejectsBadLimit(t *testing.T) {
	h := NewEventsHandler(memory.NewBus(), testLogger())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?limit=0", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
