package client

import (
	"context"
	"testing"
	"time"

	"github.com/hipchat/curler/internal/wire"
	"github.com/hipchat/curler/internal/wiretest"
)

func newTestClient(t *testing.T) (*Client, *wiretest.Broker) {
	t.Helper()
	sess, broker := wiretest.Pipe(t)
	return New(sess), broker
}

func TestSubmitForegroundHappyPath(t *testing.T) {
	c, broker := newTestClient(t)
	ctx := context.Background()

	handleCh := make(chan *JobHandle, 1)
	errCh := make(chan error, 1)
	go func() {
		h, err := c.Submit(ctx, "reverse", []byte("hello"), "")
		if err != nil {
			errCh <- err
			return
		}
		handleCh <- h
	}()

	f := broker.Recv(t)
	if f.Command != wire.SubmitJob {
		t.Fatalf("expected SUBMIT_JOB, got %v", f.Command)
	}
	if string(f.Payload) != "reverse\x00\x00hello" {
		t.Fatalf("payload = %q", f.Payload)
	}
	broker.Send(t, wire.JobCreated, []byte("H:1"))

	var handle *JobHandle
	select {
	case handle = <-handleCh:
	case err := <-errCh:
		t.Fatalf("Submit failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	if handle.Handle() != "H:1" {
		t.Fatalf("handle = %q", handle.Handle())
	}

	resultCh := make(chan []byte, 1)
	resultErrCh := make(chan error, 1)
	go func() {
		data, err := handle.Wait(ctx)
		if err != nil {
			resultErrCh <- err
			return
		}
		resultCh <- data
	}()

	broker.Send(t, wire.WorkComplete, []byte("H:1\x00olleh"))

	select {
	case data := <-resultCh:
		if string(data) != "olleh" {
			t.Fatalf("result = %q", data)
		}
	case err := <-resultErrCh:
		t.Fatalf("Wait failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSubmitForegroundFailure(t *testing.T) {
	c, broker := newTestClient(t)
	ctx := context.Background()

	handleCh := make(chan *JobHandle, 1)
	go func() {
		h, _ := c.Submit(ctx, "fn", []byte("d"), "")
		handleCh <- h
	}()
	broker.Recv(t)
	broker.Send(t, wire.JobCreated, []byte("H:2"))
	handle := <-handleCh

	errCh := make(chan error, 1)
	go func() {
		_, err := handle.Wait(ctx)
		errCh <- err
	}()
	broker.Send(t, wire.WorkFail, []byte("H:2\x00"))

	select {
	case err := <-errCh:
		if err != ErrJobFailed {
			t.Fatalf("err = %v, want ErrJobFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSubmitBackgroundDoesNotTrack(t *testing.T) {
	c, broker := newTestClient(t)
	ctx := context.Background()

	handleCh := make(chan *JobHandle, 1)
	go func() {
		h, _ := c.SubmitBackground(ctx, "fn", []byte("d"), "")
		handleCh <- h
	}()
	f := broker.Recv(t)
	if f.Command != wire.SubmitJobBG {
		t.Fatalf("expected SUBMIT_JOB_BG, got %v", f.Command)
	}
	broker.Send(t, wire.JobCreated, []byte("H:3"))

	handle := <-handleCh
	if handle.Handle() != "H:3" {
		t.Fatalf("handle = %q", handle.Handle())
	}

	c.mu.Lock()
	_, tracked := c.pending["H:3"]
	c.mu.Unlock()
	if tracked {
		t.Fatal("background submission should not be tracked")
	}
}

func TestWorkDataAccumulates(t *testing.T) {
	c, broker := newTestClient(t)
	ctx := context.Background()

	handleCh := make(chan *JobHandle, 1)
	go func() {
		h, _ := c.Submit(ctx, "fn", []byte("d"), "")
		handleCh <- h
	}()
	broker.Recv(t)
	broker.Send(t, wire.JobCreated, []byte("H:4"))
	handle := <-handleCh

	broker.Send(t, wire.WorkData, []byte("H:4\x00chunk1"))
	broker.Send(t, wire.WorkWarning, []byte("H:4\x00careful"))

	deadline := time.Now().Add(2 * time.Second)
	for len(handle.WorkData()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if string(handle.WorkData()) != "chunk1" {
		t.Fatalf("WorkData = %q", handle.WorkData())
	}
	if string(handle.WorkWarning()) != "careful" {
		t.Fatalf("WorkWarning = %q", handle.WorkWarning())
	}
}

func TestStatus(t *testing.T) {
	c, broker := newTestClient(t)
	ctx := context.Background()

	statusCh := make(chan Status, 1)
	go func() {
		s, err := c.Status(ctx, "H:5")
		if err != nil {
			t.Error(err)
			return
		}
		statusCh <- s
	}()

	f := broker.Recv(t)
	if f.Command != wire.GetStatus || string(f.Payload) != "H:5" {
		t.Fatalf("request = %+v", f)
	}
	broker.Send(t, wire.StatusRes, []byte("H:5\x001\x001\x0050\x00100"))

	select {
	case s := <-statusCh:
		if !s.Known || !s.Running || s.Numerator != 50 || s.Denominator != 100 {
			t.Fatalf("status = %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
