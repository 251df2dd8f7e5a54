package worker

import (
	"strconv"

	"github.com/hipchat/curler/internal/wire"
)

// Job is what a registered JobFunc is handed: a broker-assigned handle, the
// function name it was grabbed under, the payload, and hooks for the
// streaming updates Gearman supports mid-execution.
type Job interface {
	Handle() string
	Function() string
	UniqueID() string
	Data() []byte

	// SendData streams partial output back to a submitter waiting on this
	// job, via WORK_DATA. SendWarning does the same via WORK_WARNING.
	SendData(data []byte)
	SendWarning(data []byte)

	// UpdateStatus reports numerator/denominator progress via WORK_STATUS.
	UpdateStatus(numerator, denominator int)
}

// job is the concrete Job implementation, bound to the Worker (and thus
// the Session) it was grabbed from so its streaming methods can write
// directly.
type job struct {
	w       *Worker
	handle  string
	fn      string
	uniqID  string
	payload []byte
}

func newJob(w *Worker, wj wire.Job) *job {
	return &job{w: w, handle: wj.Handle, fn: wj.Function, uniqID: wj.UniqueID, payload: wj.Payload}
}

func (j *job) Handle() string   { return j.handle }
func (j *job) Function() string { return j.fn }
func (j *job) UniqueID() string { return j.uniqID }
func (j *job) Data() []byte     { return j.payload }

func (j *job) SendData(data []byte) {
	j.w.sess.SendRaw(wire.WorkData, append([]byte(j.handle+"\x00"), data...))
}

func (j *job) SendWarning(data []byte) {
	j.w.sess.SendRaw(wire.WorkWarning, append([]byte(j.handle+"\x00"), data...))
}

func (j *job) UpdateStatus(numerator, denominator int) {
	payload := j.handle + "\x00" + strconv.Itoa(numerator) + "\x00" + strconv.Itoa(denominator)
	j.w.sess.SendRaw(wire.WorkStatus, []byte(payload))
}
