package wire

import (
	"container/list"
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
)

// callResult is what a pending Send call is eventually resolved with.
type callResult struct {
	cmd     Command
	payload []byte
	err     error
}

// Session owns one TCP connection: it serializes outbound frames, keeps a
// FIFO of pending-response channels, and fans unsolicited frames out to
// subscribers. All FIFO/subscriber mutation happens under mu; the actual
// conn.Write for a Send call happens inside the same critical section as
// the FIFO push so that two concurrent Send calls resolve in the order
// their frames were written, per the Gearman per-connection ordering
// guarantee.
type Session struct {
	conn net.Conn
	dec  *Decoder

	mu      sync.Mutex
	pending *list.List // of chan callResult
	subs    map[int]func(Command, []byte)
	nextSub int
	closed  bool
	closeErr error

	done chan struct{}
}

// NewSession takes ownership of conn and starts its reader goroutine.
func NewSession(conn net.Conn) *Session {
	s := &Session{
		conn:    conn,
		dec:     NewDecoder(conn),
		pending: list.New(),
		subs:    make(map[int]func(Command, []byte)),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// SendRaw writes a frame with no expectation of a correlated reply. Used
// for fire-and-forget commands (CAN_DO, SET_CLIENT_ID, PRE_SLEEP, WORK_*
// replies) and for unsolicited commands that the broker answers out of
// band.
func (s *Session) SendRaw(cmd Command, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	_, err := s.conn.Write(Encode(cmd, payload))
	s.mu.Unlock()
	if err != nil {
		s.loseConnection(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return s.closeErr
	}
	return nil
}

// Send writes a frame and blocks until the correlated reply arrives, ctx
// is done, or the connection is lost. The reply channel is buffered so a
// context cancellation never desynchronizes the FIFO: the reply, when it
// eventually arrives, is simply dropped on the floor instead of handed to
// an abandoned caller.
func (s *Session) Send(ctx context.Context, cmd Command, payload []byte) (Command, []byte, error) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return 0, nil, err
	}
	ch := make(chan callResult, 1)
	el := s.pending.PushBack(ch)
	_, err := s.conn.Write(Encode(cmd, payload))
	if err != nil {
		s.pending.Remove(el)
		s.mu.Unlock()
		s.loseConnection(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		return 0, nil, s.closeErr
	}
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res.cmd, res.payload, res.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Echo is a convenience wrapper over Send(ECHO_REQ, payload).
func (s *Session) Echo(ctx context.Context, payload []byte) ([]byte, error) {
	if payload == nil {
		payload = []byte("hello")
	}
	_, data, err := s.Send(ctx, EchoReq, payload)
	return data, err
}

// Subscribe registers cb to receive every unsolicited frame, in arrival
// order, until the returned cancel func is called. Duplicate Subscribe
// calls with equivalent callbacks are not deduplicated by value — each
// call returns its own independent subscription token.
func (s *Session) Subscribe(cb func(Command, []byte)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close tears down the transport and fails every pending call with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.loseConnection(ErrSessionClosed)
	return nil
}

// Done returns a channel that closes once the reader loop has exited
// (connection lost or closed).
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session stopped, or nil if it is still live.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) loseConnection(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	pending := s.pending
	s.pending = list.New()
	s.mu.Unlock()

	s.conn.Close()
	for el := pending.Front(); el != nil; el = el.Next() {
		ch := el.Value.(chan callResult)
		ch <- callResult{err: err}
	}
	close(s.done)
}

func (s *Session) readLoop() {
	for {
		frame, err := s.dec.Next()
		if err != nil {
			s.loseConnection(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}
		if frame.Command.IsUnsolicited() {
			s.dispatchUnsolicited(frame)
			continue
		}
		s.mu.Lock()
		el := s.pending.Front()
		if el == nil {
			s.mu.Unlock()
			s.loseConnection(ErrProtocol)
			return
		}
		s.pending.Remove(el)
		s.mu.Unlock()

		ch := el.Value.(chan callResult)
		ch <- callResult{cmd: frame.Command, payload: frame.Payload}
	}
}

func (s *Session) dispatchUnsolicited(frame Frame) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids) // subscription order
	cbs := make([]func(Command, []byte), 0, len(ids))
	for _, id := range ids {
		cbs = append(cbs, s.subs[id])
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		s.safeCall(cb, frame.Command, frame.Payload)
	}
}

// safeCall recovers a panicking subscriber so one bad subscriber doesn't
// stop delivery to the others.
func (s *Session) safeCall(cb func(Command, []byte), cmd Command, payload []byte) {
	defer func() { recover() }()
	cb(cmd, payload)
}
