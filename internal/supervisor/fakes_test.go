package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/healthsup/internal/health"
	"github.com/loykin/healthsup/internal/history"
	"github.com/loykin/healthsup/internal/process"
)

// fakeController hands out synthetic handles and tracks how many are live.
type fakeController struct {
	mu        sync.Mutex
	nextPID   int
	live      map[*process.Handle]bool
	startErrs []error
	stopErr   error
	starts    int
	stops     int
	maxLive   int
	ops       []string
	onStart   func(h *process.Handle)
}

func newFakeController() *fakeController {
	return &fakeController{nextPID: 1000, live: map[*process.Handle]bool{}}
}

func (c *fakeController) Start(spec process.Spec) (*process.Handle, error) {
	c.mu.Lock()
	if len(c.startErrs) > 0 {
		err := c.startErrs[0]
		c.startErrs = c.startErrs[1:]
		if err != nil {
			c.ops = append(c.ops, "launch_error")
			c.mu.Unlock()
			return nil, err
		}
	}
	c.nextPID++
	h := &process.Handle{Name: spec.Name, PID: c.nextPID, RunID: fmt.Sprintf("run-%d", c.nextPID), StartedAt: time.Now()}
	c.live[h] = true
	c.starts++
	if len(c.live) > c.maxLive {
		c.maxLive = len(c.live)
	}
	c.ops = append(c.ops, "start")
	hook := c.onStart
	c.mu.Unlock()
	if hook != nil {
		hook(h)
	}
	return h, nil
}

func (c *fakeController) Stop(h *process.Handle, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil || !c.live[h] {
		return nil
	}
	if c.stopErr != nil {
		return c.stopErr
	}
	delete(c.live, h)
	c.stops++
	c.ops = append(c.ops, "stop")
	return nil
}

func (c *fakeController) IsAlive(h *process.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return h != nil && c.live[h]
}

// exit simulates the child dying on its own.
func (c *fakeController) exit(h *process.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.live, h)
}

func (c *fakeController) liveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *fakeController) snapshot() (starts, stops, maxLive int, ops []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.maxLive, append([]string(nil), c.ops...)
}

// scriptProber replays statuses, then calls onExhausted and reports Healthy.
type scriptProber struct {
	mu          sync.Mutex
	script      []health.Status
	calls       int
	onExhausted func()
}

func (p *scriptProber) Probe(_ context.Context, _ health.Config) health.Result {
	p.mu.Lock()
	p.calls++
	i := p.calls - 1
	var (
		st   health.Status
		done func()
	)
	if i < len(p.script) {
		st = p.script[i]
	} else {
		st = health.Healthy
		done = p.onExhausted
	}
	p.mu.Unlock()
	if done != nil {
		done()
	}
	res := health.Result{Status: st, Latency: time.Millisecond}
	if st != health.Healthy {
		res.Reason = "scripted " + st.String()
	}
	return res
}

func (p *scriptProber) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// fakeClock advances virtual time on every wait and fires immediately.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.t = c.t.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// memSink collects history events.
type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) count(t history.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (m *memSink) byType(t history.EventType) []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	sup    *Supervisor
	ctrl   *fakeController
	prober *scriptProber
	clock  *fakeClock
	sink   *memSink
}

func testSpec() process.Spec {
	return process.Spec{Name: "cleaning", Command: []string{"python3", "start.py"}}
}

func testHealth(threshold int) health.Config {
	return health.Config{
		URL:              "http://127.0.0.1:80/api/stats",
		Timeout:          500 * time.Millisecond,
		Interval:         time.Second,
		FailureThreshold: threshold,
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// newHarness wires a supervisor to fakes. The prober shuts the supervisor
// down once its script is exhausted.
func newHarness(t testing.TB, threshold int, policy RestartPolicy, script ...health.Status) *harness {
	t.Helper()
	h := &harness{
		ctrl:   newFakeController(),
		prober: &scriptProber{script: script},
		clock:  newFakeClock(),
		sink:   &memSink{},
	}
	sup, err := New(Options{
		Spec:       testSpec(),
		Health:     testHealth(threshold),
		Policy:     policy,
		Controller: h.ctrl,
		Prober:     h.prober,
		Logger:     quietLogger(),
		History:    h.sink,
	})
	require.NoError(t, err)
	sup.now = h.clock.Now
	sup.after = h.clock.After
	h.prober.onExhausted = sup.Shutdown
	h.sup = sup
	return h
}

func (h *harness) run(t testing.TB) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- h.sup.Run(context.Background()) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		h.sup.Shutdown()
		t.Fatalf("supervisor did not finish")
		return nil
	}
}
