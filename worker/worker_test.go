package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hipchat/curler/internal/wire"
	"github.com/hipchat/curler/internal/wiretest"
)

func newTestWorker(t *testing.T) (*Worker, *wiretest.Broker) {
	t.Helper()
	sess, broker := wiretest.Pipe(t)
	return New(sess), broker
}

func TestGetJobSleepPath(t *testing.T) {
	w, broker := newTestWorker(t)
	ctx := context.Background()

	jobCh := make(chan Job, 1)
	errCh := make(chan error, 1)
	go func() {
		j, err := w.GetJob(ctx)
		if err != nil {
			errCh <- err
			return
		}
		jobCh <- j
	}()

	// GRAB_JOB -> NO_JOB
	if f := broker.Recv(t); f.Command != wire.GrabJob {
		t.Fatalf("expected GRAB_JOB, got %v", f.Command)
	}
	broker.Send(t, wire.NoJob, nil)

	// PRE_SLEEP observed
	if f := broker.Recv(t); f.Command != wire.PreSleep {
		t.Fatalf("expected PRE_SLEEP, got %v", f.Command)
	}
	broker.Send(t, wire.Noop, nil)

	// GRAB_JOB again -> JOB_ASSIGN
	if f := broker.Recv(t); f.Command != wire.GrabJob {
		t.Fatalf("expected second GRAB_JOB, got %v", f.Command)
	}
	broker.Send(t, wire.JobAssign, []byte("H:1\x00reverse\x00payload"))

	select {
	case j := <-jobCh:
		if j.Handle() != "H:1" || j.Function() != "reverse" || string(j.Data()) != "payload" {
			t.Fatalf("unexpected job: %+v", j)
		}
	case err := <-errCh:
		t.Fatalf("GetJob failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job assignment")
	}
}

func TestSleepCoalescing(t *testing.T) {
	w, broker := newTestWorker(t)

	const n = 5
	sleepers := make(chan (<-chan struct{}), n)
	for i := 0; i < n; i++ {
		go func() {
			ch, err := w.sleep()
			if err == nil {
				sleepers <- ch
			}
		}()
	}

	// Exactly one PRE_SLEEP should reach the wire despite N concurrent
	// sleepers: the first creates the shared channel and sends PRE_SLEEP,
	// the others attach to that same channel without writing anything.
	if f := broker.Recv(t); f.Command != wire.PreSleep {
		t.Fatalf("expected PRE_SLEEP, got %v", f.Command)
	}
	chs := make([]<-chan struct{}, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ch := <-sleepers:
			chs = append(chs, ch)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for all sleepers")
		}
	}
	for _, ch := range chs[1:] {
		if ch != chs[0] {
			t.Fatal("concurrent sleepers did not share one sleep channel")
		}
	}

	// A single NOOP wakes every sleeper.
	broker.Send(t, wire.Noop, nil)
	for _, ch := range chs {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for all sleepers to wake")
		}
	}
}

func TestExecuteReportsWorkComplete(t *testing.T) {
	w, broker := newTestWorker(t)
	ctx := context.Background()

	// The pipe is unbuffered: CAN_DO's write only completes once the broker
	// reads it, so register from another goroutine.
	go w.RegisterFunc("reverse", func(j Job) ([]byte, error) {
		return []byte("drow"), nil
	}, 0)
	broker.Recv(t) // CAN_DO

	doneCh := make(chan error, 1)
	go func() { doneCh <- w.DoJob(ctx) }()

	broker.Recv(t) // GRAB_JOB
	broker.Send(t, wire.JobAssign, []byte("H:9\x00reverse\x00word"))

	f := broker.Recv(t)
	if f.Command != wire.WorkComplete {
		t.Fatalf("expected WORK_COMPLETE, got %v", f.Command)
	}
	if string(f.Payload) != "H:9\x00drow" {
		t.Fatalf("payload = %q", f.Payload)
	}

	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("DoJob: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestExecuteUnregisteredFunctionReportsFailure(t *testing.T) {
	w, broker := newTestWorker(t)
	ctx := context.Background()

	doneCh := make(chan error, 1)
	go func() { doneCh <- w.DoJob(ctx) }()

	broker.Recv(t) // GRAB_JOB
	broker.Send(t, wire.JobAssign, []byte("H:2\x00missing\x00data"))

	f := broker.Recv(t)
	if f.Command != wire.WorkException {
		t.Fatalf("expected WORK_EXCEPTION, got %v", f.Command)
	}
	f = broker.Recv(t)
	if f.Command != wire.WorkFail {
		t.Fatalf("expected WORK_FAIL, got %v", f.Command)
	}

	<-doneCh
}

func TestExecuteHandlerErrorReportsExceptionThenFail(t *testing.T) {
	w, broker := newTestWorker(t)
	ctx := context.Background()

	go w.RegisterFunc("boom", func(j Job) ([]byte, error) {
		return nil, errBoom
	}, 0)
	broker.Recv(t)

	doneCh := make(chan error, 1)
	go func() { doneCh <- w.DoJob(ctx) }()

	broker.Recv(t)
	broker.Send(t, wire.JobAssign, []byte("H:3\x00boom\x00d"))

	if f := broker.Recv(t); f.Command != wire.WorkException {
		t.Fatalf("expected WORK_EXCEPTION, got %v", f.Command)
	}
	if f := broker.Recv(t); f.Command != wire.WorkFail {
		t.Fatalf("expected WORK_FAIL, got %v", f.Command)
	}
	<-doneCh
}

func TestRunRejectsNoFuncs(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.Run(context.Background(), 1, func() bool { return true })
	if !errors.Is(err, ErrNoFuncs) {
		t.Fatalf("Run() = %v, want ErrNoFuncs", err)
	}
}

var errBoom = errors.New("boom")
