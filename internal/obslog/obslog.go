// Package obslog carries the ambient logging and metrics stack for the
// curler daemon: leveled startup logging via appscode/go's golog wrapper,
// crash recovery via appscode/go/runtime, and a Prometheus registry
// tracking job throughput, latency, and connection health.
package obslog

import (
	"net/http"
	"net/http/pprof"

	logs "github.com/appscode/go/log/golog"
	"github.com/appscode/go/runtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsProcessed counts completed jobs by outcome ("ok" or "error").
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curler_jobs_processed_total",
		Help: "Jobs handled by the curler adapter, labeled by outcome.",
	}, []string{"outcome"})

	// JobDuration observes the time the curler adapter spends processing
	// each job, labeled the same way as JobsProcessed.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "curler_job_duration_seconds",
		Help:    "Time the curler adapter spent processing a job.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// ActiveConnections tracks the number of broker connections currently
	// up and running a worker pool.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curler_active_connections",
		Help: "Gearman broker connections currently established.",
	})

	// ReconnectAttempts counts reconnect attempts made per broker address.
	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curler_reconnect_attempts_total",
		Help: "Reconnect attempts made after a broker connection was lost.",
	}, []string{"broker"})
)

// InitLogging wires up appscode's leveled logging, matching the teacher's
// own cmd/server.go startup sequence.
func InitLogging() {
	logs.InitLogs()
}

// FlushLogs flushes any buffered log output. Callers defer this right
// after InitLogging.
func FlushLogs() {
	logs.FlushLogs()
}

// HandleCrash recovers a panic in the caller's goroutine, logging it
// instead of bringing the process down. The curl command defers it around
// the whole daemon run; per-job panics are recovered by the worker package
// itself.
func HandleCrash() {
	runtime.HandleCrash()
}

// DebugMux returns an http.ServeMux serving /metrics (Prometheus) and the
// standard net/http/pprof endpoints, for mounting on a debug listener.
func DebugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
