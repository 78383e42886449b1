// Package session tracks the health of the single live browser session and
// re-establishes it after a session-fatal failure.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"flash-buyer/internal/browser"

	"go.uber.org/zap"
)

// State of the monitored session.
type State int

const (
	Detached State = iota
	Connected
	Unresponsive
	Recovering
	Failed
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Connected:
		return "connected"
	case Unresponsive:
		return "unresponsive"
	case Recovering:
		return "recovering"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrSessionFatal marks a failure of the session rather than of an element.
	ErrSessionFatal = errors.New("session is unusable")
	// ErrRecoveryFailed ends the current run.
	ErrRecoveryFailed = errors.New("session recovery failed")
	ErrNotConnected   = errors.New("no live session")
)

// Options configures a Monitor.
type Options struct {
	// Reuse prefers attaching to an externally managed browser, falling back
	// to a fresh launch.
	Reuse             bool
	LandingURL        string
	ProbeTimeout      time.Duration
	NavigationTimeout time.Duration
	ReleaseTimeout    time.Duration
}

// Monitor owns the single live session handle. Every state change happens
// under mu, so at most one recovery runs at a time.
type Monitor struct {
	mu        sync.Mutex
	connector browser.Connector
	opts      Options
	sess      browser.Session
	state     State
	// current mirrors state so State never waits behind a recovery.
	current   atomic.Int32
	log       *zap.Logger

	recoveries int
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

func NewMonitor(connector browser.Connector, opts Options, log *zap.Logger) *Monitor {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 5 * time.Second
	}
	return &Monitor{connector: connector, opts: opts, log: log, state: Detached}
}

func (m *Monitor) State() State {
	return State(m.current.Load())
}

// Recoveries counts recovery sequences started.
func (m *Monitor) Recoveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recoveries
}

// Session returns the live handle, or nil when not connected.
func (m *Monitor) Session() browser.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.sess
}

// setState must be called with m.mu held.
func (m *Monitor) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.current.Store(int32(to))
	m.log.Debug("session state", zap.Stringer("from", from), zap.Stringer("to", to))
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// Connect establishes the first session of a run.
func (m *Monitor) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Connected {
		return nil
	}
	sess, err := m.establish(ctx)
	if err != nil {
		return err
	}
	m.sess = sess
	m.setState(Connected)
	return nil
}

// establish must be called with m.mu held.
func (m *Monitor) establish(ctx context.Context) (browser.Session, error) {
	if m.opts.Reuse {
		sess, err := m.connector.Attach(ctx)
		if err == nil {
			m.log.Info("reattached to existing browser session")
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn("reattach failed, launching a fresh browser", zap.Error(err))
	}

	sess, err := m.connector.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return sess, nil
}

// CheckHealth probes the session by reading its location. A failed probe
// moves Connected to Unresponsive.
func (m *Monitor) CheckHealth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil || m.state == Detached || m.state == Failed {
		return ErrNotConnected
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	_, err := m.sess.CurrentLocation(pctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.log.Warn("health probe failed", zap.Error(err))
	m.setState(Unresponsive)
	return fmt.Errorf("%w: probe failed: %w", ErrSessionFatal, err)
}

// Recover tears the current session down, best-effort, and establishes a
// new one, confirming it by loading the landing page. Any failure in the
// sequence leaves the monitor Failed and returns ErrRecoveryFailed.
func (m *Monitor) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Failed {
		return ErrRecoveryFailed
	}
	if m.state == Connected {
		m.setState(Unresponsive)
	}
	m.setState(Recovering)
	m.recoveries++
	m.log.Warn("recovering browser session")

	if old := m.sess; old != nil {
		m.sess = nil
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.ReleaseTimeout)
		if err := old.Release(rctx); err != nil {
			m.log.Debug("ignoring teardown error", zap.Error(err))
		}
		cancel()
	}

	sess, err := m.establish(ctx)
	if err != nil {
		m.setState(Failed)
		return fmt.Errorf("%w: %w", ErrRecoveryFailed, err)
	}

	if m.opts.LandingURL != "" {
		nctx, cancel := context.WithTimeout(ctx, m.opts.NavigationTimeout)
		err = sess.Navigate(nctx, m.opts.LandingURL)
		cancel()
		if err != nil {
			_ = sess.Release(context.WithoutCancel(ctx))
			m.setState(Failed)
			return fmt.Errorf("%w: landing page: %w", ErrRecoveryFailed, err)
		}
	}

	m.sess = sess
	m.setState(Connected)
	m.log.Info("browser session recovered", zap.Bool("reused", sess.Reused()))
	return nil
}

// Guard runs op against the live session as a risky operation: the session
// is probed first and recovered if unresponsive, and a session-fatal error
// from op triggers one recovery followed by exactly one retry.
func (m *Monitor) Guard(ctx context.Context, op func(ctx context.Context, s browser.Session) error) error {
	if err := m.CheckHealth(ctx); err != nil {
		if !errors.Is(err, ErrSessionFatal) && !errors.Is(err, ErrNotConnected) {
			return err
		}
		if err := m.Recover(ctx); err != nil {
			return err
		}
	}

	err := op(ctx, m.Session())
	if !IsFatal(err) {
		return err
	}

	m.log.Warn("session-fatal error, recovering before retry", zap.Error(err))
	if rerr := m.Recover(ctx); rerr != nil {
		return rerr
	}
	return op(ctx, m.Session())
}

// Release gives the session back: an owned browser is closed, a reused one
// is only detached.
func (m *Monitor) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sess
	m.sess = nil
	if m.state != Failed {
		m.setState(Detached)
	}
	if sess == nil {
		return nil
	}
	return sess.Release(ctx)
}
