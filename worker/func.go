package worker

import (
	"encoding/json"
	"runtime"
	"time"
)

// JobFunc processes a Job and returns the bytes to report back as
// WORK_COMPLETE, or an error to report as WORK_EXCEPTION + WORK_FAIL.
type JobFunc func(Job) ([]byte, error)

// jobFunc pairs a registered handler with its optional per-execution
// timeout (zero means unlimited).
type jobFunc struct {
	fn      JobFunc
	timeout time.Duration
}

type jobFuncs map[string]*jobFunc

type systemInfo struct {
	GOOS, GOARCH, GOROOT, Version string
	NumCPU, NumGoroutine          int
	NumCgoCall                    int64
}

// SysInfo is a diagnostic JobFunc that reports the worker process's Go
// runtime information. Useful to register under a well-known function
// name for fleet introspection.
func SysInfo(job Job) ([]byte, error) {
	return json.Marshal(&systemInfo{
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		GOROOT:       runtime.GOROOT(),
		Version:      runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCgoCall:   runtime.NumCgoCall(),
	})
}

// MemInfo is a diagnostic JobFunc that reports the worker process's
// memory statistics.
func MemInfo(job Job) ([]byte, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return json.Marshal(&stats)
}
