package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/mavbus/internal/bus"
	"github.com/danmuck/mavbus/internal/ratecontrol"
	"github.com/danmuck/mavbus/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type fakeLink struct {
	stats bus.Stats
	done  chan struct{}
	err   error
}

func newFakeLink() *fakeLink {
	return &fakeLink{done: make(chan struct{}), stats: bus.Stats{Mode: "async", FramesDecoded: 12}}
}

func (l *fakeLink) Stats() bus.Stats { return l.stats }
func (l *fakeLink) Done() <-chan struct{} { return l.done }
func (l *fakeLink) Err() error { return l.err }

type fakeRates struct {
	reqs     []ratecontrol.Request
	stopAlls []uint8
	err      error
}

func (r *fakeRates) Set(_ context.Context, req ratecontrol.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	return nil
}

func (r *fakeRates) StopAll(_ context.Context, sys uint8) error {
	if r.err != nil {
		return r.err
	}
	r.stopAlls = append(r.stopAlls, sys)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeLink, *fakeRates) {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	link := newFakeLink()
	rates := &fakeRates{}
	return New(link, rates, Options{Name: "mavbus-test", TargetSystem: 1, TargetComponent: 1}), link, rates
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
	}
	return body
}

func TestHealthAndStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	rr := do(s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || decode(t, rr)["service"] != "mavbus-test" {
		t.Fatalf("unexpected health response %d %s", rr.Code, rr.Body.String())
	}

	rr = do(s, http.MethodGet, "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status %d", rr.Code)
	}
	body := decode(t, rr)
	if body["mode"] != "async" || body["frames_decoded"] != float64(12) {
		t.Fatalf("unexpected stats body %v", body)
	}
}

func TestReadyReflectsLinkState(t *testing.T) {
	s, link, _ := newTestServer(t)
	if rr := do(s, http.MethodGet, "/ready", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rr.Code)
	}
	link.err = fmt.Errorf("%w: read: unplugged", bus.ErrTransportIO)
	close(link.done)
	rr := do(s, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after link loss, got %d", rr.Code)
	}
	if reason, _ := decode(t, rr)["reason"].(string); !strings.Contains(reason, "unplugged") {
		t.Fatalf("expected link loss reason, got %q", reason)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	do(s, http.MethodGet, "/health", "")
	rr := do(s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "mavbus_http_requests_total") {
		t.Fatalf("metrics missing request counter: %d", rr.Code)
	}
}

func TestSetStreamUsesConfiguredTarget(t *testing.T) {
	s, _, rates := newTestServer(t)
	rr := do(s, http.MethodPost, "/streams/position", `{"rate": 4}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}
	if len(rates.reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(rates.reqs))
	}
	want := ratecontrol.Request{TargetSystem: 1, TargetComponent: 1, Stream: ratecontrol.StreamPosition, Rate: 4, Start: true}
	if rates.reqs[0] != want {
		t.Fatalf("request got=%+v want=%+v", rates.reqs[0], want)
	}

	rr = do(s, http.MethodPost, "/streams/10", `{"rate": 0, "start": false, "target_system": 2, "target_component": 0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d body=%s", rr.Code, rr.Body.String())
	}
	got := rates.reqs[1]
	if got.Stream != ratecontrol.StreamExtra1 || got.Start || got.TargetSystem != 2 || got.TargetComponent != 0 {
		t.Fatalf("unexpected stop request %+v", got)
	}
}

func TestSetStreamErrors(t *testing.T) {
	s, _, rates := newTestServer(t)
	cases := []struct {
		path string
		body string
		want int
	}{
		{path: "/streams/gps", body: `{"rate": 1}`, want: http.StatusNotFound},
		{path: "/streams/position", body: `{"rate": `, want: http.StatusBadRequest},
		{path: "/streams/position", body: `{"rate": -1}`, want: http.StatusBadRequest},
		{path: "/streams/position", body: `{"rate": 70000}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rr := do(s, http.MethodPost, tc.path, tc.body); rr.Code != tc.want {
			t.Fatalf("%s %s: got %d want %d body=%s", tc.path, tc.body, rr.Code, tc.want, rr.Body.String())
		}
	}
	if len(rates.reqs) != 0 {
		t.Fatalf("invalid requests reached the controller")
	}

	rates.err = bus.ErrClosed
	if rr := do(s, http.MethodPost, "/streams/position", `{"rate": 1}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed bus expected 503, got %d", rr.Code)
	}
	rates.err = errors.New("unexpected")
	if rr := do(s, http.MethodPost, "/streams/position", `{"rate": 1}`); rr.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected failure expected 500, got %d", rr.Code)
	}
}

func TestStopAll(t *testing.T) {
	s, _, rates := newTestServer(t)
	rr := do(s, http.MethodPost, "/stop-all", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if len(rates.stopAlls) != 1 || rates.stopAlls[0] != 1 {
		t.Fatalf("stop all not forwarded: %v", rates.stopAlls)
	}
}

func TestServeStopsWhenLinkGoesDown(t *testing.T) {
	s, link, _ := newTestServer(t)
	s.opts.Addr = "127.0.0.1:0"
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()

	link.err = fmt.Errorf("%w: read: unplugged", bus.ErrTransportIO)
	close(link.done)
	if err := <-errCh; !errors.Is(err, bus.ErrTransportIO) {
		t.Fatalf("expected link loss from Serve, got %v", err)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.opts.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
