package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerFresh registers all collectors on a private registry, resetting the
// package gate so every test starts from a known state.
func registerFresh(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := registerFresh(t)
	require.NoError(t, Register(reg), "second register is a no-op")

	ObserveProbe("api", "healthy", 0.01)
	ObserveProbe("api", "error", 0.5)
	SetConsecutiveFailures("api", 2)
	IncStart("api")
	IncRestart("api")
	IncStop("api")
	IncLaunchFailure("api")
	ObserveRestartDelay("api", 1.5)
	RecordStateTransition("api", "running", "degraded")
	SetCurrentState("api", "degraded", true)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	want := map[string]bool{
		"healthsup_health_probes_total":                false,
		"healthsup_health_probe_duration_seconds":      false,
		"healthsup_health_consecutive_failures":        false,
		"healthsup_process_starts_total":               false,
		"healthsup_process_restarts_total":             false,
		"healthsup_process_stops_total":                false,
		"healthsup_process_launch_failures_total":      false,
		"healthsup_process_restart_delay_seconds":      false,
		"healthsup_supervisor_state_transitions_total": false,
		"healthsup_supervisor_current_state":           false,
	}
	for _, mf := range mfs {
		if _, ok := want[mf.GetName()]; ok {
			want[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range want {
		assert.True(t, ok, "expected to find metric %s", n)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(probes.WithLabelValues("api", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(consecutiveFailures.WithLabelValues("api")))
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncStart("x")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, 200, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "healthsup_process_starts_total"))
}

func TestConcurrentIncrements(t *testing.T) {
	reg := registerFresh(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncStart("c")
			IncRestart("c")
			ObserveProbe("c", "unhealthy", 0.001)
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 50.0, testutil.ToFloat64(processRestarts.WithLabelValues("c")))
}

func TestMetricsBeforeRegister(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	// no-ops, must not panic
	ObserveProbe("test", "healthy", 1)
	IncStart("test")
	IncRestart("test")
	IncStop("test")
	IncLaunchFailure("test")
	RecordStateTransition("test", "starting", "running")
	SetCurrentState("test", "running", true)
}

func TestSampleProcessSelf(t *testing.T) {
	registerFresh(t)
	u, err := SampleProcess("self", os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, u.RSSBytes, uint64(0))
	assert.Greater(t, u.NumThreads, int32(0))
	assert.Equal(t, float64(u.RSSBytes), testutil.ToFloat64(processRSS.WithLabelValues("self")))

	ForgetProcess("self")
	_, err = SampleProcess("nobody", 0)
	assert.Error(t, err)
}

func TestSampleProcessCPUIsPerInterval(t *testing.T) {
	registerFresh(t)
	defer ForgetProcess("busy")

	first, err := SampleProcess("busy", os.Getpid())
	require.NoError(t, err)
	assert.Zero(t, first.CPUPercent, "first sample of a run has no interval")

	sampled.Lock()
	h := sampled.procs["busy"]
	sampled.Unlock()
	require.NotNil(t, h)

	_, err = SampleProcess("busy", os.Getpid())
	require.NoError(t, err)
	sampled.Lock()
	assert.Same(t, h, sampled.procs["busy"], "handle is reused between samples")
	sampled.Unlock()

	ForgetProcess("busy")
	again, err := SampleProcess("busy", os.Getpid())
	require.NoError(t, err)
	assert.Zero(t, again.CPUPercent, "a forgotten service starts a new interval")
}

func TestRegisterError(t *testing.T) {
	original := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(original)

	err := Register(&errorRegisterer{})
	require.Error(t, err)
	assert.Equal(t, "test registration error", err.Error())
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}
func (e *errorRegisterer) MustRegister(...prometheus.Collector)  {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
