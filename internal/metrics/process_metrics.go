package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var (
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage of the supervised child since the previous sample; 0 on the first sample of a run.",
		}, []string{"service"},
	)
	processRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "memory_rss_bytes",
			Help:      "Resident set size of the supervised child.",
		}, []string{"service"},
	)
	processThreads = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "healthsup",
			Subsystem: "process",
			Name:      "num_threads",
			Help:      "Thread count of the supervised child.",
		}, []string{"service"},
	)
)

// Usage is one resource sample of a child process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	NumThreads int32   `json:"num_threads"`
}

// sampled holds one gopsutil handle per service so CPU percent is measured
// between consecutive samples rather than over the child's lifetime.
var sampled = struct {
	sync.Mutex
	procs map[string]*gopsproc.Process
}{procs: map[string]*gopsproc.Process{}}

// sampleHandle returns the cached handle for service, replacing it when the
// child's pid changed.
func sampleHandle(service string, pid int) (*gopsproc.Process, error) {
	if p, ok := sampled.procs[service]; ok && p.Pid == int32(pid) {
		return p, nil
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	sampled.procs[service] = p
	return p, nil
}

// SampleProcess reads CPU, memory and thread usage for pid and publishes
// it under service. Missing fields are left zero; only a vanished process is
// reported as an error.
func SampleProcess(service string, pid int) (Usage, error) {
	var u Usage
	if pid <= 0 {
		return u, fmt.Errorf("invalid pid %d", pid)
	}
	sampled.Lock()
	defer sampled.Unlock()
	p, err := sampleHandle(service, pid)
	if err != nil {
		return u, err
	}
	if v, err := p.Percent(0); err == nil {
		u.CPUPercent = v
	}
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		u.RSSBytes = mi.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	if regOK.Load() {
		processCPUPercent.WithLabelValues(service).Set(u.CPUPercent)
		processRSS.WithLabelValues(service).Set(float64(u.RSSBytes))
		processThreads.WithLabelValues(service).Set(float64(u.NumThreads))
	}
	return u, nil
}

// ForgetProcess drops resource series and the cached handle for a service
// whose child is gone.
func ForgetProcess(service string) {
	sampled.Lock()
	delete(sampled.procs, service)
	sampled.Unlock()
	processCPUPercent.DeleteLabelValues(service)
	processRSS.DeleteLabelValues(service)
	processThreads.DeleteLabelValues(service)
}
