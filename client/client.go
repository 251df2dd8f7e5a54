// Package client implements the Gearman job-submission role on top of a
// wire.Session: foreground and background submission at three priorities,
// and status polling. It is provided for completeness — the deployed
// curler daemon only uses the worker package — but is fully supported.
package client

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hipchat/curler/internal/wire"
)

// result is what a JobHandle's terminal wait resolves with.
type result struct {
	data []byte
	err  error
}

// JobHandle tracks one submitted job. Wait blocks for the terminal
// WORK_COMPLETE/WORK_FAIL/WORK_EXCEPTION. WorkData/WorkWarning accumulate
// any streaming updates the worker sent in the meantime; nothing resolves
// the terminal wait early based on them — it's the caller's call whether
// and when to consume them.
type JobHandle struct {
	handle string
	done   chan result

	mu          sync.Mutex
	workData    [][]byte
	workWarning [][]byte
}

// Handle returns the broker-assigned job handle.
func (h *JobHandle) Handle() string { return h.handle }

// Wait blocks until the job reaches a terminal state or ctx is done.
func (h *JobHandle) Wait(ctx context.Context) ([]byte, error) {
	select {
	case r := <-h.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WorkData returns every WORK_DATA chunk received so far, concatenated.
func (h *JobHandle) WorkData() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bytes.Join(h.workData, nil)
}

// WorkWarning returns every WORK_WARNING chunk received so far,
// concatenated.
func (h *JobHandle) WorkWarning() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return bytes.Join(h.workWarning, nil)
}

func (h *JobHandle) appendData(b []byte) {
	h.mu.Lock()
	h.workData = append(h.workData, append([]byte{}, b...))
	h.mu.Unlock()
}

func (h *JobHandle) appendWarning(b []byte) {
	h.mu.Lock()
	h.workWarning = append(h.workWarning, append([]byte{}, b...))
	h.mu.Unlock()
}

// Client submits jobs over one wire.Session and correlates their terminal
// replies back to the caller-held JobHandle, keyed by the handle the
// broker assigned at JOB_CREATED. The FIFO is never touched directly here:
// WORK_COMPLETE/WORK_FAIL/WORK_EXCEPTION/WORK_DATA/WORK_WARNING are all
// unsolicited as far as the session is concerned, so Client is purely a
// Subscribe-driven router over a handle map.
type Client struct {
	sess *wire.Session

	mu      sync.Mutex
	pending map[string]*JobHandle

	ErrorHandler func(error)
}

// New builds a Client bound to sess.
func New(sess *wire.Session) *Client {
	c := &Client{
		sess:    sess,
		pending: make(map[string]*JobHandle),
	}
	sess.Subscribe(c.onUnsolicited)
	return c
}

func (c *Client) onUnsolicited(cmd wire.Command, payload []byte) {
	switch cmd {
	case wire.WorkComplete, wire.WorkFail, wire.WorkException, wire.WorkData, wire.WorkWarning:
	default:
		return
	}

	handle, rest := splitHandle(payload)

	c.mu.Lock()
	h, ok := c.pending[handle]
	terminal := cmd == wire.WorkComplete || cmd == wire.WorkFail || cmd == wire.WorkException
	if ok && terminal {
		delete(c.pending, handle)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	switch cmd {
	case wire.WorkComplete:
		h.done <- result{data: rest}
	case wire.WorkFail:
		h.done <- result{err: ErrJobFailed}
	case wire.WorkException:
		h.done <- result{err: &ErrJobException{Message: string(rest)}}
	case wire.WorkData:
		h.appendData(rest)
	case wire.WorkWarning:
		h.appendWarning(rest)
	}
}

func splitHandle(payload []byte) (handle string, rest []byte) {
	idx := bytes.IndexByte(payload, 0)
	if idx == -1 {
		return string(payload), nil
	}
	return string(payload[:idx]), payload[idx+1:]
}

func (c *Client) register(handle string) *JobHandle {
	h := &JobHandle{handle: handle, done: make(chan result, 1)}
	c.mu.Lock()
	c.pending[handle] = h
	c.mu.Unlock()
	return h
}

func (c *Client) submit(ctx context.Context, cmd wire.Command, function string, data []byte, uniqueID string) (*JobHandle, error) {
	payload := buildPayload(function, uniqueID, data)
	replyCmd, replyPayload, err := c.sess.Send(ctx, cmd, payload)
	if err != nil {
		return nil, err
	}
	if replyCmd != wire.JobCreated {
		return nil, fmt.Errorf("client: unexpected reply to submit: %v", replyCmd)
	}
	return c.register(string(replyPayload)), nil
}

func (c *Client) submitBackground(ctx context.Context, cmd wire.Command, function string, data []byte, uniqueID string) (*JobHandle, error) {
	payload := buildPayload(function, uniqueID, data)
	replyCmd, replyPayload, err := c.sess.Send(ctx, cmd, payload)
	if err != nil {
		return nil, err
	}
	if replyCmd != wire.JobCreated {
		return nil, fmt.Errorf("client: unexpected reply to submit: %v", replyCmd)
	}
	h := &JobHandle{handle: string(replyPayload), done: make(chan result, 1)}
	h.done <- result{}
	return h, nil
}

func buildPayload(function, uniqueID string, data []byte) []byte {
	buf := make([]byte, 0, len(function)+1+len(uniqueID)+1+len(data))
	buf = append(buf, function...)
	buf = append(buf, 0)
	buf = append(buf, uniqueID...)
	buf = append(buf, 0)
	buf = append(buf, data...)
	return buf
}

// Submit submits a normal-priority foreground job.
func (c *Client) Submit(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submit(ctx, wire.SubmitJob, function, data, uniqueID)
}

// SubmitHigh submits a high-priority foreground job.
func (c *Client) SubmitHigh(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submit(ctx, wire.SubmitJobHigh, function, data, uniqueID)
}

// SubmitLow submits a low-priority foreground job.
func (c *Client) SubmitLow(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submit(ctx, wire.SubmitJobLow, function, data, uniqueID)
}

// SubmitBackground submits a normal-priority background job; the returned
// handle resolves at JOB_CREATED and is not tracked further.
func (c *Client) SubmitBackground(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submitBackground(ctx, wire.SubmitJobBG, function, data, uniqueID)
}

// SubmitBackgroundLow submits a low-priority background job.
func (c *Client) SubmitBackgroundLow(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submitBackground(ctx, wire.SubmitJobLowBG, function, data, uniqueID)
}

// SubmitBackgroundHigh submits a high-priority background job.
func (c *Client) SubmitBackgroundHigh(ctx context.Context, function string, data []byte, uniqueID string) (*JobHandle, error) {
	return c.submitBackground(ctx, wire.SubmitJobHighBG, function, data, uniqueID)
}

// Status polls GET_STATUS for handle.
func (c *Client) Status(ctx context.Context, handle string) (Status, error) {
	cmd, payload, err := c.sess.Send(ctx, wire.GetStatus, []byte(handle))
	if err != nil {
		return Status{}, err
	}
	if cmd != wire.StatusRes {
		return Status{}, fmt.Errorf("client: unexpected reply to GET_STATUS: %v", cmd)
	}
	fields := bytes.SplitN(payload, []byte{0}, 5)
	if len(fields) != 5 {
		return Status{}, fmt.Errorf("client: malformed STATUS_RES payload: %q", payload)
	}
	known, err := strconv.ParseBool(string(fields[1]))
	if err != nil {
		return Status{}, fmt.Errorf("client: malformed STATUS_RES known flag: %w", err)
	}
	running, err := strconv.ParseBool(string(fields[2]))
	if err != nil {
		return Status{}, fmt.Errorf("client: malformed STATUS_RES running flag: %w", err)
	}
	numerator, err := strconv.ParseUint(string(fields[3]), 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("client: malformed STATUS_RES numerator: %w", err)
	}
	denominator, err := strconv.ParseUint(string(fields[4]), 10, 64)
	if err != nil {
		return Status{}, fmt.Errorf("client: malformed STATUS_RES denominator: %w", err)
	}
	return Status{
		Handle:      string(fields[0]),
		Known:       known,
		Running:     running,
		Numerator:   numerator,
		Denominator: denominator,
	}, nil
}
