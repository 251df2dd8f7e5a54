package client

import "errors"

// ErrJobFailed is returned by JobHandle.Wait when the broker reports
// WORK_FAIL for the submitted job.
var ErrJobFailed = errors.New("client: job failed")

// ErrJobException carries the WORK_EXCEPTION message a worker reported
// before its terminal WORK_FAIL. It is a distinct error from ErrJobFailed
// so callers that care can tell "failed with diagnostic" from "failed, no
// detail" apart.
type ErrJobException struct {
	Message string
}

func (e *ErrJobException) Error() string {
	return "client: job exception: " + e.Message
}
