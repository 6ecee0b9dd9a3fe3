package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/linekpi/linekpi/agent/internal/collect"
	"github.com/linekpi/linekpi/agent/internal/config"
	"github.com/linekpi/linekpi/pkg/interchange"
	"github.com/linekpi/linekpi/pkg/kpi"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// PushBody is the JSON body of PUT /api/v1/lines/{id}.
type PushBody struct {
	Config kpi.Configuration         `json:"config"`
	Heads  []interchange.HeadPayload `json:"heads"`
}

type push struct {
	lineID string
	body   []byte
}

// Shipper buffers collect.Results and ships them to linekpi-server.
// Ship() is non-blocking; when the buffer is full the newest push of a line
// replaces its queued one, or the oldest push is evicted if the line has
// none queued. Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg    config.AgentConfig
	buf    chan push
	client *http.Client
	bo     *backoff

	// enqueue serializes Ship so an overflow rebuild is never interleaved
	// with another producer. Run only receives.
	enqueue sync.Mutex
}

// New creates a Shipper using the given agent config.
func New(cfg config.AgentConfig) *Shipper {
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan push, cfg.BufferSize),
		client: &http.Client{Timeout: sendTimeout},
		bo:     newBackoff(backoffInitial, backoffMax),
	}
}

// Ship encodes res and enqueues it. If the buffer is full, a queued push for
// the same line is dropped in favour of res; failing that the oldest entry
// is evicted to make room.
func (s *Shipper) Ship(res *collect.Result) {
	body, err := json.Marshal(PushBody{
		Config: res.Config,
		Heads:  interchange.Export(res.Heads),
	})
	if err != nil {
		slog.Error("shipper: encode push body", "line", res.LineID, "err", err)
		return
	}
	p := push{lineID: res.LineID, body: body}

	s.enqueue.Lock()
	defer s.enqueue.Unlock()

	select {
	case s.buf <- p:
		return
	default:
	}
	s.makeRoom(p.lineID)
	select {
	case s.buf <- p:
	default:
		slog.Error("shipper: buffer full, dropping push", "line", p.lineID)
	}
}

// makeRoom frees one slot of a full buffer, preferring the oldest queued
// push of lineID. Queue order of the remaining pushes is kept. Called with
// s.enqueue held.
func (s *Shipper) makeRoom(lineID string) {
	queued := make([]push, 0, cap(s.buf))
	for drained := false; !drained; {
		select {
		case q := <-s.buf:
			queued = append(queued, q)
		default:
			drained = true
		}
	}
	if len(queued) < cap(s.buf) {
		// Run took something while draining.
		for _, q := range queued {
			s.buf <- q
		}
		return
	}

	victim := 0
	for i, q := range queued {
		if q.lineID == lineID {
			victim = i
			break
		}
	}
	if queued[victim].lineID == lineID {
		slog.Debug("shipper: buffer full, replaced queued push", "line", lineID)
	} else {
		slog.Warn("shipper: buffer full, evicted oldest push",
			"line", queued[victim].lineID, "buffer_cap", cap(s.buf))
	}
	for i, q := range queued {
		if i != victim {
			s.buf <- q
		}
	}
}

// Run drains the buffer, sending pushes to the server. Transient failures
// are retried with backoff until they succeed or ctx is cancelled.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-s.buf:
			s.deliver(ctx, p)
		}
	}
}

// deliver sends p, retrying transient failures.
func (s *Shipper) deliver(ctx context.Context, p push) {
	for {
		err := s.send(ctx, p)
		if err == nil {
			s.bo.reset()
			slog.Debug("shipper: push delivered", "line", p.lineID)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if isPermanent(err) {
			slog.Error("shipper: permanent send error, discarding push",
				"line", p.lineID, "err", err)
			return
		}

		wait := s.bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.cfg.ServerEndpoint,
			"line", p.lineID,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

// isPermanent reports whether err means the push itself was rejected and
// retrying cannot help.
func isPermanent(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	return se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests
}

func (s *Shipper) send(ctx context.Context, p push) error {
	endpoint := strings.TrimRight(s.cfg.ServerEndpoint, "/") + "/api/v1/lines/" + url.PathEscape(p.lineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(p.body))
	if err != nil {
		return &statusError{code: http.StatusBadRequest, body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	auth := s.cfg.ServerAuth
	switch auth.Mode {
	case "apikey":
		req.Header.Set(auth.Header, auth.Key())
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http put: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
