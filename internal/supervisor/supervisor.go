// Package supervisor implements the connection supervisor (C5): for each
// configured Gearman broker address it dials a TCP connection, builds a
// wire.Session and a worker.Worker on top of it, registers the curler job
// function, and spawns a pool of worker drivers that share the session.
// Lost connections are retried with a bounded delay; a clean Shutdown
// drains in-flight jobs rather than aborting them.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hipchat/curler/internal/obslog"
	"github.com/hipchat/curler/internal/wire"
	"github.com/hipchat/curler/worker"
)

// ErrExhausted is returned by Run when a broker's reconnect attempts are
// exhausted (fatal: the caller is expected to log it and exit).
var ErrExhausted = errors.New("supervisor: reconnect attempts exhausted")

const (
	// ReconnectDelay is the fixed wait between reconnect attempts.
	ReconnectDelay = 5 * time.Second
	// MaxReconnectAttempts is the number of retries allowed before a
	// broker is given up on (10 minutes total at the default delay).
	MaxReconnectAttempts = 120
	// DialTimeout bounds each individual connection attempt.
	DialTimeout = 10 * time.Second
	// DriverStagger is the delay between spawning successive worker
	// drivers on a freshly (re)connected session, to avoid a thundering
	// herd of GRAB_JOBs at startup.
	DriverStagger = 100 * time.Millisecond
)

// Config describes one curler daemon's worker side: the brokers to dial,
// the function to register, and the handler to run for each job.
type Config struct {
	// Brokers is the list of "host:port" Gearman servers to dial, one
	// connection (and worker pool) per address.
	Brokers []string
	// Function is the Gearman function name registered with each broker.
	Function string
	// Handler processes each grabbed job; typically *curler.Adapter.Handle.
	Handler worker.JobFunc
	// NumWorkers is the number of concurrent DoJobs drivers sharing each
	// broker's session.
	NumWorkers int
	// Logf receives supervisor-level log lines (connect/reconnect/give up).
	// Defaults to the stdlib log package if nil.
	Logf func(format string, args ...any)
	// ReconnectDelay overrides the fixed wait between reconnect attempts.
	// Defaults to ReconnectDelay (5s) if zero; tests shrink this to avoid
	// real wall-clock waits.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts overrides the retry budget before a broker is
	// given up on. Defaults to MaxReconnectAttempts (120) if zero.
	MaxReconnectAttempts int
}

type brokerConn struct {
	mu   sync.Mutex
	sess *wire.Session
	w    *worker.Worker
}

func (b *brokerConn) set(sess *wire.Session, w *worker.Worker) {
	b.mu.Lock()
	b.sess, b.w = sess, w
	b.mu.Unlock()
}

func (b *brokerConn) clear() {
	b.mu.Lock()
	b.sess, b.w = nil, nil
	b.mu.Unlock()
}

// sysInfoFunc and memInfoFunc name the diagnostic functions registered
// alongside the main job queue function, for fleet introspection.
func sysInfoFunc(fn string) string { return fn + ".sysinfo" }
func memInfoFunc(fn string) string { return fn + ".meminfo" }

// registerFuncs registers the configured job function plus the built-in
// SysInfo/MemInfo diagnostic functions, so a broker admin can grab a
// worker's runtime stats the same way any other job is grabbed.
func (s *Supervisor) registerFuncs(w *worker.Worker) error {
	if err := w.RegisterFunc(s.cfg.Function, s.cfg.Handler, 0); err != nil {
		return err
	}
	if err := w.RegisterFunc(sysInfoFunc(s.cfg.Function), worker.SysInfo, 0); err != nil {
		return err
	}
	if err := w.RegisterFunc(memInfoFunc(s.cfg.Function), worker.MemInfo, 0); err != nil {
		return err
	}
	return nil
}

// Supervisor owns one worker pool per configured broker and drives
// reconnection and graceful shutdown across all of them.
type Supervisor struct {
	cfg      Config
	stopping atomic.Bool
	conns    []*brokerConn
}

// New builds a Supervisor from cfg. cfg.NumWorkers defaults to 5 if <= 0.
func New(cfg Config) *Supervisor {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 5
	}
	if cfg.Logf == nil {
		cfg.Logf = defaultLogf
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = ReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = MaxReconnectAttempts
	}
	s := &Supervisor{cfg: cfg, conns: make([]*brokerConn, len(cfg.Brokers))}
	for i := range s.conns {
		s.conns[i] = &brokerConn{}
	}
	return s
}

// Run dials every configured broker concurrently and blocks until all of
// them exit: each either observes ctx done, observes Shutdown having been
// called, or exhausts its reconnect budget. The first non-nil, non-context
// error among them is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Brokers) == 0 {
		return fmt.Errorf("supervisor: no brokers configured")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(s.cfg.Brokers))
	for i, addr := range s.cfg.Brokers {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			errs <- s.runBroker(ctx, i, addr)
		}(i, addr)
	}
	wg.Wait()
	close(errs)

	var first error
	for e := range errs {
		if e != nil && first == nil && !errors.Is(e, context.Canceled) && !errors.Is(e, context.DeadlineExceeded) {
			first = e
		}
	}
	return first
}

func (s *Supervisor) runBroker(ctx context.Context, idx int, addr string) error {
	attempts := 0
	for {
		if s.stopping.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := net.DialTimeout("tcp", addr, DialTimeout)
		if err != nil {
			if !s.retryOrGiveUp(ctx, addr, &attempts, err) {
				return fmt.Errorf("%w: %s: %v", ErrExhausted, addr, err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		sess := wire.NewSession(conn)
		w := worker.New(sess)
		w.ErrorHandler = func(e error) {
			s.cfg.Logf("supervisor: %s: job error: %v", addr, e)
		}
		if err := s.registerFuncs(w); err != nil {
			sess.Close()
			if !s.retryOrGiveUp(ctx, addr, &attempts, err) {
				return fmt.Errorf("%w: %s: %v", ErrExhausted, addr, err)
			}
			continue
		}

		attempts = 0
		s.conns[idx].set(sess, w)
		obslog.ActiveConnections.Inc()
		s.cfg.Logf("supervisor: connected to %s, registered %q, spawning %d workers", addr, s.cfg.Function, s.cfg.NumWorkers)

		keepGoing := func() bool { return !s.stopping.Load() }
		runErr := w.Run(ctx, s.cfg.NumWorkers, keepGoing)
		w.Shutdown()
		obslog.ActiveConnections.Dec()
		s.conns[idx].clear()

		if s.stopping.Load() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !s.retryOrGiveUp(ctx, addr, &attempts, runErr) {
			return fmt.Errorf("%w: %s: %v", ErrExhausted, addr, runErr)
		}
	}
}

// retryOrGiveUp logs the failure, increments the reconnect-attempts
// counter, and sleeps ReconnectDelay, returning early only if ctx is done;
// a Shutdown during the sleep is not noticed until the sleep ends. It
// reports false once attempts exceeds MaxReconnectAttempts.
func (s *Supervisor) retryOrGiveUp(ctx context.Context, addr string, attempts *int, cause error) bool {
	*attempts++
	obslog.ReconnectAttempts.WithLabelValues(addr).Inc()
	if *attempts > s.cfg.MaxReconnectAttempts {
		return false
	}
	s.cfg.Logf("supervisor: %s: connection lost (%v), reconnecting in %s (attempt %d/%d)",
		addr, cause, s.cfg.ReconnectDelay, *attempts, s.cfg.MaxReconnectAttempts)

	select {
	case <-time.After(s.cfg.ReconnectDelay):
	case <-ctx.Done():
	}
	return true
}

// Shutdown drains every live broker connection: it stops any further
// GRAB_JOB from being issued (the stopping flag, observed by keepGoing),
// sends CANT_DO for each registered function (the job function and its
// sysinfo/meminfo companions) so the broker stops assigning new work to
// this connection, and closes the session — which fails any GRAB_JOB or
// PRE_SLEEP currently in flight, letting that driver's DoJobs loop return
// promptly. It then waits for any handler already executing to finish, or
// for ctx to be done, whichever comes first. Unblocking the drivers is
// deliberately not keyed off ctx: a
// blocked worker sitting in GRAB_JOB will never notice ctx cancellation on
// its own, only a session failure, per the design note that a naive
// "wait for in-flight work" shutdown would otherwise stall until the next
// job arrives.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.stopping.Store(true)

	for _, c := range s.conns {
		c.mu.Lock()
		sess, w := c.sess, c.w
		c.mu.Unlock()
		if sess == nil {
			continue
		}
		for _, fn := range []string{s.cfg.Function, sysInfoFunc(s.cfg.Function), memInfoFunc(s.cfg.Function)} {
			if err := w.RemoveFunc(fn); err != nil {
				s.cfg.Logf("supervisor: CANT_DO during shutdown failed for %q: %v", fn, err)
			}
		}
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		for _, c := range s.conns {
			c.mu.Lock()
			w := c.w
			c.mu.Unlock()
			if w != nil {
				w.Shutdown()
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func defaultLogf(format string, args ...any) {
	log.Printf(format, args...)
}
