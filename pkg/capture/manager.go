package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/google/uuid"
)

// Session modes.
const (
	ModeEnroll = "enroll"
	ModeVerify = "verify"
)

// SessionInfo describes a background session of a Manager.
type SessionInfo struct {
	ID         string        `json:"id"`
	Mode       string        `json:"mode"`
	Profile    string        `json:"profile"`
	MemberID   string        `json:"member_id,omitempty"`
	Scope      string        `json:"scope,omitempty"`
	State      State         `json:"state"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      *SessionError `json:"error,omitempty"`
}

// Running reports whether the session has not finished yet.
func (s SessionInfo) Running() bool {
	return s.FinishedAt == nil
}

type managed struct {
	info   SessionInfo
	orch   *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns at most one background capture session at a time.
type Manager struct {
	mu       sync.Mutex
	base     *Orchestrator
	profiles map[string]Profile
	current  *managed
}

// ErrNoSession is returned when there is no session to stop or inspect.
var ErrNoSession = errors.New("no capture session")

// NewManager creates a manager. Sessions run on orchestrators derived from
// base for the requested profile; an empty profile name uses base as is.
func NewManager(base *Orchestrator, profiles ...Profile) *Manager {
	m := &Manager{
		base:     base,
		profiles: make(map[string]Profile, len(profiles)),
	}
	for _, p := range profiles {
		m.profiles[p.Name] = p
	}
	return m
}

func (m *Manager) orchestrator(profile string) (*Orchestrator, error) {
	if profile == "" {
		return m.base, nil
	}
	p, ok := m.profiles[profile]
	if !ok {
		return nil, fmt.Errorf("unknown capture profile: %s", profile)
	}
	return m.base.WithProfile(p), nil
}

// StartEnrollment starts an enrollment session for memberID in the background.
func (m *Manager) StartEnrollment(memberID, profile string) (SessionInfo, error) {
	if memberID == "" {
		return SessionInfo{}, errors.New("member id is required")
	}
	return m.start(SessionInfo{Mode: ModeEnroll, MemberID: memberID, Profile: profile}, func(ctx context.Context, o *Orchestrator) error {
		_, err := o.Enroll(ctx, memberID)
		return err
	})
}

// StartVerification starts the verification loop over scope in the background.
func (m *Manager) StartVerification(scope, profile string) (SessionInfo, error) {
	return m.start(SessionInfo{Mode: ModeVerify, Scope: scope, Profile: profile}, func(ctx context.Context, o *Orchestrator) error {
		return o.Verify(ctx, scope)
	})
}

func (m *Manager) start(info SessionInfo, fn func(context.Context, *Orchestrator) error) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.info.Running() {
		return SessionInfo{}, ErrSessionActive
	}

	orch, err := m.orchestrator(info.Profile)
	if err != nil {
		return SessionInfo{}, err
	}

	info.ID = uuid.NewString()
	info.Profile = orch.Profile().Name
	info.StartedAt = time.Now()
	info.State = StateIdle

	ctx, cancel := context.WithCancel(WithSessionID(context.Background(), info.ID))
	s := &managed{
		info:   info,
		orch:   orch,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.current = s

	go m.runSession(ctx, s, fn)

	logging.Component("capture").WithFields(logging.Fields{
		"session": info.ID,
		"mode":    info.Mode,
	}).Info("Session started")
	return info, nil
}

func (m *Manager) runSession(ctx context.Context, s *managed, fn func(context.Context, *Orchestrator) error) {
	defer close(s.done)
	defer s.cancel()

	err := fn(ctx, s.orch)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	s.info.FinishedAt = &now
	s.info.State = s.orch.State()
	var serr *SessionError
	switch {
	case errors.As(err, &serr):
		s.info.Error = serr
	case err != nil:
		s.info.Error = &SessionError{Message: err.Error(), Err: err}
	}
}

// Current returns the active or most recent session.
func (m *Manager) Current() (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return SessionInfo{}, ErrNoSession
	}
	info := m.current.info
	if info.Running() {
		info.State = m.current.orch.State()
	}
	return info, nil
}

// Stop cancels the active session and waits until it released the camera.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}

	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
