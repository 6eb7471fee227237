package main

import (
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/loykin/healthsup/internal/server"
	"github.com/loykin/healthsup/internal/supervisor"
)

type fakeBackend struct {
	down atomic.Bool
}

func (b *fakeBackend) Statuses() []supervisor.Status {
	st, _ := b.Status("cleaning")
	return []supervisor.Status{st}
}

func (b *fakeBackend) Status(name string) (supervisor.Status, bool) {
	if name != "cleaning" {
		return supervisor.Status{}, false
	}
	return supervisor.Status{Service: "cleaning", State: supervisor.StateRunning, PID: 31337}, true
}

func (b *fakeBackend) Shutdown() { b.down.Store(true) }

func startFakeAPI(t *testing.T) (string, *fakeBackend) {
	t.Helper()
	b := &fakeBackend{}
	ts := httptest.NewServer(server.NewRouter(b, "/api", false).Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/api", b
}
