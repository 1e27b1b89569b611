package s3

import (
	"sync"
	"time"
)

// BackendMetrics tracks S3 backend request metrics
type BackendMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	Probes          int64         `json:"probes"`
	Downloads       int64         `json:"downloads"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// metricsRecorder aggregates BackendMetrics under a mutex.
type metricsRecorder struct {
	mu      sync.RWMutex
	metrics BackendMetrics
}

// record records one request with its duration and error status.
func (m *metricsRecorder) record(duration time.Duration, isError bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.Requests++
	if isError {
		m.metrics.Errors++
	}

	// Calculate rolling average latency
	if m.metrics.Requests == 1 {
		m.metrics.AverageLatency = duration
	} else {
		m.metrics.AverageLatency = time.Duration(
			(int64(m.metrics.AverageLatency)*9 + int64(duration)) / 10,
		)
	}
}

func (m *metricsRecorder) recordProbe() {
	m.mu.Lock()
	m.metrics.Probes++
	m.mu.Unlock()
}

func (m *metricsRecorder) recordDownload(bytes int64) {
	m.mu.Lock()
	m.metrics.Downloads++
	m.metrics.BytesDownloaded += bytes
	m.mu.Unlock()
}

func (m *metricsRecorder) recordError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.LastError = err.Error()
	m.metrics.LastErrorTime = time.Now()
}

func (m *metricsRecorder) snapshot() BackendMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
