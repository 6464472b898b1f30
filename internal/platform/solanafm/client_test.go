package solanafm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func TestEventsParsesTypesAndAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("address"); got != "Tok" {
			t.Errorf("address = %q", got)
		}
		_, _ = w.Write([]byte(`{"events":[
			{"type":"liquidity_withdrawal","amount":9000,"timestamp":1700000000},
			{"type":"TRANSFER","amount":"12.5"},
			{"type":"SWAP"}]}`))
	}))
	defer srv.Close()

	events, err := NewClient(srv.URL, "").Events(context.Background(), "Tok")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	if events[0].Type != "LIQUIDITY_WITHDRAWAL" || events[0].Amount != 9000 || events[0].Timestamp == nil {
		t.Errorf("event[0] = %+v", events[0])
	}
	if events[1].Amount != 12.5 || events[1].Timestamp != nil {
		t.Errorf("event[1] = %+v", events[1])
	}
	if events[2].Amount != 0 {
		t.Errorf("event[2] = %+v", events[2])
	}
}

func TestEventsServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Events(context.Background(), "Tok")
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
}
