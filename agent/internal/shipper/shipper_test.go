package shipper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/linekpi/linekpi/agent/internal/collect"
	"github.com/linekpi/linekpi/agent/internal/config"
	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
	"github.com/linekpi/linekpi/pkg/types"
)

// mockServer records pushes and answers with scripted status codes.
type mockServer struct {
	mu       sync.Mutex
	paths    []string
	headers  []http.Header
	bodies   []PushBody
	statuses []int // consumed in order; 204 once empty
}

func (m *mockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := http.StatusNoContent
	if len(m.statuses) > 0 {
		code = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	if code/100 == 2 {
		var body PushBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.paths = append(m.paths, r.Method+" "+r.URL.Path)
		m.headers = append(m.headers, r.Header.Clone())
		m.bodies = append(m.bodies, body)
	}
	w.WriteHeader(code)
}

func (m *mockServer) received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bodies)
}

func startTestServer(t *testing.T, m *mockServer) string {
	t.Helper()
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv.URL
}

func makeResult(id string) *collect.Result {
	heads := []types.HeadChannel{{
		Name:          "press",
		TotalDuration: 480,
		Channels: []types.Channel{
			{Name: "run", Intervals: []types.TimeInterval{{Start: 0, End: 300}}},
		},
	}}
	cfg := kpi.Configuration{TargetBasis: kpi.PerHour, TargetRate: 10}.WithDefaults()
	return collect.Evaluate(id, heads, cfg, time.Now())
}

func agentCfg(endpoint string) config.AgentConfig {
	return config.AgentConfig{
		ServerEndpoint: endpoint,
		BufferSize:     10,
		PushInterval:   time.Second,
	}
}

func newFastShipper(cfg config.AgentConfig) *Shipper {
	s := New(cfg)
	s.bo = newBackoff(5*time.Millisecond, 20*time.Millisecond)
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

// --- Tests ---

func TestShipper_DeliversPush(t *testing.T) {
	m := &mockServer{}
	s := newFastShipper(agentCfg(startTestServer(t, m)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeResult("line 1"))
	waitFor(t, func() bool { return m.received() == 1 })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[0] != "PUT /api/v1/lines/line 1" {
		t.Errorf("path = %q", m.paths[0])
	}
	body := m.bodies[0]
	if body.Config.TargetBasis != kpi.PerHour || body.Config.TargetRate != 10 {
		t.Errorf("config = %+v", body.Config)
	}
	raw, _ := json.Marshal(body.Heads)
	heads, err := interchange.Import(raw)
	if err != nil {
		t.Fatalf("heads do not re-import: %v", err)
	}
	if len(heads) != 1 || heads[0].Channels[0].Intervals[0].End != 300 {
		t.Errorf("heads = %+v", heads)
	}
}

func TestShipper_RetriesTransientErrors(t *testing.T) {
	m := &mockServer{statuses: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	s := newFastShipper(agentCfg(startTestServer(t, m)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeResult("line-1"))
	waitFor(t, func() bool { return m.received() == 1 })
}

func TestShipper_DiscardsPermanentErrors(t *testing.T) {
	m := &mockServer{statuses: []int{http.StatusUnprocessableEntity}}
	s := newFastShipper(agentCfg(startTestServer(t, m)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeResult("rejected"))
	s.Ship(makeResult("accepted"))
	waitFor(t, func() bool { return m.received() == 1 })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paths[0] != "PUT /api/v1/lines/accepted" {
		t.Errorf("delivered %q, want the second push only", m.paths[0])
	}
}

func TestShipper_APIKeyHeader(t *testing.T) {
	t.Setenv("LINEKPI_TEST_KEY", "k3y")
	m := &mockServer{}
	cfg := agentCfg(startTestServer(t, m))
	cfg.ServerAuth = config.AuthConfig{Mode: "apikey", Header: "X-API-Key", KeyEnv: "LINEKPI_TEST_KEY"}
	s := newFastShipper(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go s.Run(ctx)

	s.Ship(makeResult("line-1"))
	waitFor(t, func() bool { return m.received() == 1 })

	m.mu.Lock()
	defer m.mu.Unlock()
	if got := m.headers[0].Get("X-API-Key"); got != "k3y" {
		t.Errorf("X-API-Key = %q, want k3y", got)
	}
}

func TestShipper_BufferEvictsOldest(t *testing.T) {
	cfg := agentCfg("http://unused")
	cfg.BufferSize = 2
	s := New(cfg)

	s.Ship(makeResult("a"))
	s.Ship(makeResult("b"))
	s.Ship(makeResult("c"))

	if len(s.buf) != 2 {
		t.Fatalf("buffer len = %d, want 2", len(s.buf))
	}
	if first := <-s.buf; first.lineID != "b" {
		t.Errorf("oldest remaining = %q, want b", first.lineID)
	}
}

// queuedLines drains the buffer and returns the line of every queued push.
func queuedLines(s *Shipper) []string {
	var ids []string
	for len(s.buf) > 0 {
		ids = append(ids, (<-s.buf).lineID)
	}
	return ids
}

func TestShipper_OverflowReplacesSameLine(t *testing.T) {
	cfg := agentCfg("http://unused")
	cfg.BufferSize = 3
	s := New(cfg)

	for _, id := range []string{"b", "a", "a", "a"} {
		s.Ship(makeResult(id))
	}

	got := queuedLines(s)
	want := []string{"b", "a", "a"}
	if len(got) != len(want) {
		t.Fatalf("queued = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queued = %v, want %v", got, want)
		}
	}
}

func TestShipper_OverflowKeepsNewestOfLine(t *testing.T) {
	cfg := agentCfg("http://unused")
	cfg.BufferSize = 2
	s := New(cfg)

	first := makeResult("a")
	first.Config.ActualOutput = 1
	latest := makeResult("a")
	latest.Config.ActualOutput = 99
	s.Ship(first)
	s.Ship(makeResult("b"))
	s.Ship(latest)

	if b := <-s.buf; b.lineID != "b" {
		t.Fatalf("head of queue = %q, want b", b.lineID)
	}
	a := <-s.buf
	var body PushBody
	if err := json.Unmarshal(a.body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.lineID != "a" || body.Config.ActualOutput != 99 {
		t.Errorf("queued a push: line %q actual_output %g, want the newest (99)", a.lineID, body.Config.ActualOutput)
	}

	// No c is queued, so the globally oldest push makes room.
	s.Ship(makeResult("a"))
	s.Ship(makeResult("b"))
	s.Ship(makeResult("c"))
	if got := queuedLines(s); len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("queued = %v, want [b c]", got)
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Second, 4*time.Second)
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
		d := b.next()
		lo, hi := want*3/4, want*5/4
		if d < lo || d > hi {
			t.Errorf("step %d: %v outside [%v, %v]", i, d, lo, hi)
		}
	}
	b.reset()
	if b.current != time.Second {
		t.Errorf("reset: current = %v", b.current)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range tests {
		if got := isPermanent(&statusError{code: tc.code}); got != tc.want {
			t.Errorf("isPermanent(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
