package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Manager owns the runtime for one run and enforces that at most one
// session is open at any time.
type Manager struct {
	runtime Runtime
	metrics *Metrics
	active  Session
	mu      sync.Mutex
	closed  bool
}

// NewManager creates a Manager backed by the provided runtime. metrics may be nil.
func NewManager(runtime Runtime, metrics *Metrics) *Manager {
	return &Manager{
		runtime: runtime,
		metrics: metrics,
	}
}

// OpenSession allocates a new isolated session. It fails with ErrSessionBusy
// while the previous session is still open.
func (m *Manager) OpenSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if m == nil || m.runtime == nil {
		return nil, ErrUnavailable
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrUnavailable
	}
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrSessionBusy
	}
	m.mu.Unlock()

	sess, err := m.runtime.NewSession(ctx, cfg.Normalize())
	if err != nil {
		return nil, err
	}
	wrapped := &instrumentedSession{Session: sess, metrics: m.metrics}

	m.mu.Lock()
	m.active = wrapped
	m.mu.Unlock()
	m.metrics.RecordSessionCreated(sess.ID())
	return wrapped, nil
}

// CloseSession closes sess and releases the slot for the next one.
func (m *Manager) CloseSession(sess Session) (Artifacts, error) {
	if m == nil {
		return Artifacts{}, ErrUnavailable
	}
	if sess == nil {
		return Artifacts{}, ErrSessionClosed
	}
	m.mu.Lock()
	if m.active != sess {
		m.mu.Unlock()
		return Artifacts{}, ErrSessionClosed
	}
	m.active = nil
	m.mu.Unlock()

	arts, err := sess.Close()
	m.metrics.RecordSessionClosed(sess.ID())
	return arts, err
}

// Active returns the open session, if any.
func (m *Manager) Active() (Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// Close closes any open session and terminates the runtime.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	active := m.active
	m.active = nil
	m.mu.Unlock()

	var errs []error
	if active != nil {
		if _, err := active.Close(); err != nil {
			errs = append(errs, err)
		}
		m.metrics.RecordSessionClosed(active.ID())
	}
	if m.runtime != nil {
		if err := m.runtime.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// instrumentedSession records latency and outcome of every call.
type instrumentedSession struct {
	Session
	metrics *Metrics
}

func (s *instrumentedSession) observe(kind ActionKind, start time.Time, err error) error {
	s.metrics.RecordAction(s.ID(), kind, err == nil, time.Since(start))
	return err
}

func (s *instrumentedSession) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	return s.observe(ActionNavigate, start, s.Session.Navigate(ctx, url))
}

func (s *instrumentedSession) Click(ctx context.Context, label string) error {
	start := time.Now()
	return s.observe(ActionClick, start, s.Session.Click(ctx, label))
}

func (s *instrumentedSession) Fill(ctx context.Context, label, value string) error {
	start := time.Now()
	return s.observe(ActionFill, start, s.Session.Fill(ctx, label, value))
}

func (s *instrumentedSession) Select(ctx context.Context, option, label string) error {
	start := time.Now()
	return s.observe(ActionSelect, start, s.Session.Select(ctx, option, label))
}

func (s *instrumentedSession) TextVisible(ctx context.Context, text string) (bool, error) {
	start := time.Now()
	ok, err := s.Session.TextVisible(ctx, text)
	s.metrics.RecordAction(s.ID(), ActionTextVisible, err == nil, time.Since(start))
	return ok, err
}

func (s *instrumentedSession) Screenshot(ctx context.Context, path string) error {
	start := time.Now()
	return s.observe(ActionScreenshot, start, s.Session.Screenshot(ctx, path))
}
