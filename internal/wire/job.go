package wire

import (
	"bytes"
	"fmt"
)

// Job is the immutable job description delivered by a JOB_ASSIGN or
// JOB_ASSIGN_UNIQ frame: a broker-assigned handle, the function name the
// job was submitted under, an optional client-supplied unique ID, and the
// opaque payload.
type Job struct {
	Handle   string
	Function string
	UniqueID string
	Payload  []byte
}

// ParseJob splits a JOB_ASSIGN/JOB_ASSIGN_UNIQ payload on NUL. uniq selects
// which framing to expect: false for the three-field JOB_ASSIGN form
// (handle, function, data), true for the four-field JOB_ASSIGN_UNIQ form
// (handle, function, unique ID, data).
func ParseJob(payload []byte, uniq bool) (Job, error) {
	n := 3
	if uniq {
		n = 4
	}
	parts := bytes.SplitN(payload, []byte{0}, n)
	if len(parts) != n {
		return Job{}, fmt.Errorf("wire: malformed job assign payload (want %d fields, got %d)", n, len(parts))
	}
	job := Job{
		Handle:   string(parts[0]),
		Function: string(parts[1]),
	}
	if uniq {
		job.UniqueID = string(parts[2])
		job.Payload = parts[3]
	} else {
		job.Payload = parts[2]
	}
	return job, nil
}
