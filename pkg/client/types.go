package client

import "time"

// ProbeResult is the last health probe of a service.
type ProbeResult struct {
	Status     string        `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Usage is the sampled resource usage of a child.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	NumThreads int32   `json:"num_threads"`
}

// ServiceStatus represents the supervisor view of one service.
type ServiceStatus struct {
	Service             string       `json:"service"`
	State               string       `json:"state"`
	PID                 int          `json:"pid,omitempty"`
	RunID               string       `json:"run_id,omitempty"`
	StartedAt           time.Time    `json:"started_at,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Restarts            int          `json:"restarts"`
	LaunchFailures      int          `json:"launch_failures"`
	LastRestartAt       time.Time    `json:"last_restart_at,omitempty"`
	LastProbeAt         time.Time    `json:"last_probe_at,omitempty"`
	LastProbe           *ProbeResult `json:"last_probe,omitempty"`
	LastError           string       `json:"last_error,omitempty"`
	Usage               *Usage       `json:"usage,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
