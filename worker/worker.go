// Package worker implements the Gearman worker role on top of a
// wire.Session: function registration, the GRAB_JOB/PRE_SLEEP/NOOP
// handshake, and job execution with WORK_COMPLETE/WORK_EXCEPTION/WORK_FAIL
// reporting.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hipchat/curler/internal/wire"
)

// Worker drives jobs for one Gearman session. Multiple driver goroutines
// (see Run) may share a single Worker, since Gearman guarantees ordered
// replies per connection: N outstanding GRAB_JOBs resolve in FIFO order,
// not by caller identity, which is fine because job units are equivalent.
type Worker struct {
	sess *wire.Session

	mu    sync.Mutex
	funcs jobFuncs

	sleepMu sync.Mutex
	sleepCh chan struct{}

	activeJobs sync.WaitGroup

	ErrorHandler ErrorHandler
}

// New builds a Worker bound to sess. sess is not registered with the
// broker until RegisterFunc/SetClientID calls are made.
func New(sess *wire.Session) *Worker {
	w := &Worker{
		sess:  sess,
		funcs: make(jobFuncs),
	}
	sess.Subscribe(w.onUnsolicited)
	return w
}

func (w *Worker) onUnsolicited(cmd wire.Command, payload []byte) {
	if cmd == wire.Noop {
		w.wake()
	}
}

func (w *Worker) err(e error) {
	if e != nil && w.ErrorHandler != nil {
		w.ErrorHandler(e)
	}
}

// SetClientID sends SET_CLIENT_ID. Fire-and-forget.
func (w *Worker) SetClientID(id string) error {
	return w.sess.SendRaw(wire.SetClientID, []byte(id))
}

// RegisterFunc records name -> handler and sends CAN_DO (or CAN_DO_TIMEOUT
// if timeout is non-zero) to the broker.
func (w *Worker) RegisterFunc(name string, handler JobFunc, timeout time.Duration) error {
	w.mu.Lock()
	if _, exists := w.funcs[name]; exists {
		w.mu.Unlock()
		return fmt.Errorf("worker: function already registered: %s", name)
	}
	w.funcs[name] = &jobFunc{fn: handler, timeout: timeout}
	w.mu.Unlock()

	if timeout <= 0 {
		return w.sess.SendRaw(wire.CanDo, []byte(name))
	}
	payload := make([]byte, len(name)+5)
	copy(payload, name)
	payload[len(name)] = 0
	putBE32(payload[len(name)+1:], uint32(timeout/time.Second))
	return w.sess.SendRaw(wire.CanDoTimeout, payload)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// RemoveFunc forgets name and tells the broker CANT_DO.
func (w *Worker) RemoveFunc(name string) error {
	w.mu.Lock()
	if _, exists := w.funcs[name]; !exists {
		w.mu.Unlock()
		return fmt.Errorf("worker: function not registered: %s", name)
	}
	delete(w.funcs, name)
	w.mu.Unlock()
	return w.sess.SendRaw(wire.CantDo, []byte(name))
}

// sleep returns the shared sleep channel, sending PRE_SLEEP to the broker
// only for the first concurrent sleeper; later callers attach to the same
// channel so one NOOP wakes them all.
func (w *Worker) sleep() (<-chan struct{}, error) {
	w.sleepMu.Lock()
	if w.sleepCh != nil {
		ch := w.sleepCh
		w.sleepMu.Unlock()
		return ch, nil
	}
	ch := make(chan struct{})
	w.sleepCh = ch
	w.sleepMu.Unlock()

	if err := w.sess.SendRaw(wire.PreSleep, nil); err != nil {
		return nil, err
	}
	return ch, nil
}

// wake releases every current sleeper. A NOOP that arrives with nobody
// sleeping is simply absorbed.
func (w *Worker) wake() {
	w.sleepMu.Lock()
	defer w.sleepMu.Unlock()
	if w.sleepCh != nil {
		close(w.sleepCh)
		w.sleepCh = nil
	}
}

// GetJob blocks until a job is assigned: it sends GRAB_JOB, and on NO_JOB
// enters the PRE_SLEEP/NOOP handshake before retrying, repeating until the
// broker assigns work or ctx is done.
func (w *Worker) GetJob(ctx context.Context) (Job, error) {
	for {
		cmd, payload, err := w.sess.Send(ctx, wire.GrabJob, nil)
		if err != nil {
			return nil, err
		}
		switch cmd {
		case wire.JobAssign:
			wj, err := wire.ParseJob(payload, false)
			if err != nil {
				return nil, err
			}
			return newJob(w, wj), nil
		case wire.JobAssignUniq:
			wj, err := wire.ParseJob(payload, true)
			if err != nil {
				return nil, err
			}
			return newJob(w, wj), nil
		case wire.NoJob:
			ch, err := w.sleep()
			if err != nil {
				return nil, err
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		default:
			return nil, fmt.Errorf("worker: unexpected reply to GRAB_JOB: %v", cmd)
		}
	}
}

type result struct {
	data []byte
	err  error
}

// DoJob grabs one job and runs it to completion.
func (w *Worker) DoJob(ctx context.Context) error {
	j, err := w.GetJob(ctx)
	if err != nil {
		return err
	}
	return w.execute(ctx, j.(*job))
}

// DoJobs runs DoJob in a loop until keepGoing returns false, ctx is done,
// or the session fails.
func (w *Worker) DoJobs(ctx context.Context, keepGoing func() bool) error {
	for keepGoing() {
		if err := w.DoJob(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run spawns numWorkers concurrent DoJobs drivers sharing this Worker's
// session, staggered 100ms apart to avoid a thundering herd of GRAB_JOBs
// at startup. It blocks until every driver returns (ctx canceled, session
// lost, or keepGoing turns false for all of them).
func (w *Worker) Run(ctx context.Context, numWorkers int, keepGoing func() bool) error {
	if w.sess == nil {
		return ErrNoSession
	}
	w.mu.Lock()
	n := len(w.funcs)
	w.mu.Unlock()
	if n == 0 {
		return ErrNoFuncs
	}

	var wg sync.WaitGroup
	errs := make(chan error, numWorkers)
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		delay := time.Duration(i) * 100 * time.Millisecond
		go func(delay time.Duration) {
			defer wg.Done()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			errs <- w.DoJobs(ctx, keepGoing)
		}(delay)
	}
	wg.Wait()
	close(errs)
	var first error
	for e := range errs {
		if e != nil && first == nil {
			first = e
		}
	}
	return first
}

// Shutdown waits for any in-flight handlers to finish before returning.
// Callers are expected to have already arranged for keepGoing to return
// false (and, at the supervisor level, sent CANT_DO / closed the session)
// so no new GRAB_JOB is issued once this is called.
func (w *Worker) Shutdown() {
	w.activeJobs.Wait()
}

func (w *Worker) execute(ctx context.Context, j *job) error {
	w.activeJobs.Add(1)
	defer w.activeJobs.Done()

	w.mu.Lock()
	f, ok := w.funcs[j.fn]
	w.mu.Unlock()

	var res result
	if !ok {
		res = result{err: fmt.Errorf("worker: function does not exist: %s", j.fn)}
	} else {
		res = w.runGuarded(ctx, f, j)
	}

	if res.err == nil {
		return w.reportComplete(j, res.data)
	}
	w.err(res.err)
	return w.reportFailure(j, res.err)
}

// runGuarded invokes f.fn in its own goroutine so a timeout can abandon
// it, and recovers any panic the handler raises.
func (w *Worker) runGuarded(ctx context.Context, f *jobFunc, j *job) result {
	handlerCtx := ctx
	var cancel context.CancelFunc
	if f.timeout > 0 {
		handlerCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					done <- result{err: e}
				} else {
					done <- result{err: ErrUnknown}
				}
			}
		}()
		data, err := f.fn(j)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-handlerCtx.Done():
		return result{err: ErrTimeout}
	}
}

func (w *Worker) reportComplete(j *job, data []byte) error {
	payload := append([]byte(j.handle+"\x00"), data...)
	return w.sess.SendRaw(wire.WorkComplete, payload)
}

func (w *Worker) reportFailure(j *job, cause error) error {
	msg := fmt.Sprintf("%T(%s)", cause, cause.Error())
	if err := w.sess.SendRaw(wire.WorkException, append([]byte(j.handle+"\x00"), msg...)); err != nil {
		return err
	}
	return w.sess.SendRaw(wire.WorkFail, []byte(j.handle+"\x00"))
}
