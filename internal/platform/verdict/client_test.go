package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/snipebot/internal/domain"
)

func TestUnsafeReadsNestedField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokens/Tok" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "k" {
			t.Errorf("missing api key header")
		}
		_, _ = w.Write([]byte(`{"report":{"risky":"true"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		URLTemplate:  srv.URL + "/tokens/{address}",
		Field:        "report.risky",
		APIKeyHeader: "X-API-Key",
		APIKey:       "k",
	})
	unsafe, err := c.Unsafe(context.Background(), "Tok")
	if err != nil {
		t.Fatalf("Unsafe: %v", err)
	}
	if !unsafe {
		t.Error("expected unsafe verdict")
	}
}

func TestUnsafeMissingFieldIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"other":1}`))
	}))
	defer srv.Close()

	_, err := NewClient(Config{URLTemplate: srv.URL + "/{address}"}).Unsafe(context.Background(), "x")
	if !errors.Is(err, domain.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestParseBool(t *testing.T) {
	cases := []struct {
		in      any
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{"false", false, false},
		{json.Number("1"), true, false},
		{json.Number("0"), false, false},
		{json.Number("0.5"), false, true},
		{"maybe", false, true},
		{nil, false, true},
	}
	for _, c := range cases {
		got, err := ParseBool(c.in)
		if (err != nil) != c.wantErr || got != c.want {
			t.Errorf("ParseBool(%v) = %v, %v; want %v, err=%v", c.in, got, err, c.want, c.wantErr)
		}
	}
}
