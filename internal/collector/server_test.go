package collector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roman-kulish/spindle-monitor/internal/synth"
)

func get(t *testing.T, srv *httptest.Server, query string) (int, Response) {
	t.Helper()

	resp, err := http.Get(srv.URL + "/?" + query)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body Response
	if resp.StatusCode == http.StatusOK {
		if err = json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return resp.StatusCode, body
}

func newTestServer(t *testing.T, options ...func(*Server)) (*Server, *httptest.Server) {
	t.Helper()

	options = append([]func(*Server){
		WithSeed(1),
		WithGeneratorOptions(synth.WithAxes(10, 5, 100, 4)),
	}, options...)

	s := NewServer(options...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestServer_Lifecycle(t *testing.T) {
	s, srv := newTestServer(t)

	status, body := get(t, srv, "action=fetch&channel=1")
	if status != http.StatusOK || len(body.SpectrogramData) != 0 {
		t.Fatalf("fetch before start: expected empty 200, got %d with %d samples", status, len(body.SpectrogramData))
	}

	status, body = get(t, srv, "action=start&channel=1")
	if status != http.StatusOK || len(body.SpectrogramData) != 20 {
		t.Fatalf("start: expected 20 samples, got %d with %d samples", status, len(body.SpectrogramData))
	}
	if !s.Producing("1") {
		t.Error("channel 1 should be producing after start")
	}

	status, body = get(t, srv, "action=fetch&channel=1")
	if status != http.StatusOK || len(body.SpectrogramData) != 20 {
		t.Fatalf("fetch: expected 20 samples, got %d with %d samples", status, len(body.SpectrogramData))
	}

	for i := 0; i < 2; i++ {
		if status, _ = get(t, srv, "action=stop&channel=1"); status != http.StatusOK {
			t.Fatalf("stop #%d: expected 200, got %d", i+1, status)
		}
	}
	if s.Producing("1") {
		t.Error("channel 1 should not be producing after stop")
	}

	_, body = get(t, srv, "action=fetch&channel=1")
	if len(body.SpectrogramData) != 0 {
		t.Errorf("fetch after stop: expected no samples, got %d", len(body.SpectrogramData))
	}
}

func TestServer_BadRequests(t *testing.T) {
	_, srv := newTestServer(t)

	testCases := []struct {
		name  string
		query string
	}{
		{"unknown action", "action=reboot"},
		{"missing action", "channel=1"},
		{"unknown channel", "action=start&channel=9"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if status, _ := get(t, srv, tc.query); status != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", status)
			}
		})
	}
}

func TestServer_InjectedFailures(t *testing.T) {
	_, srv := newTestServer(t, WithFailureRate(1))

	get(t, srv, "action=start")
	if status, _ := get(t, srv, "action=fetch"); status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
}
