package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	profiledomain "tutorhub/backend/internal/profile/domain"
	sessiondomain "tutorhub/backend/internal/session/domain"
	teledomain "tutorhub/backend/internal/telemetry/domain"
)

// fakeProvider is an in-memory AuthProvider. Events are delivered synchronously from emit.
type fakeProvider struct {
	mu           sync.Mutex
	current      *sessiondomain.Session
	currentErr   error
	currentGate  chan struct{}
	immediate    *sessiondomain.Session
	hasImmediate bool
	signOutErr   error
	listeners    map[int]func(*sessiondomain.Session)
	nextID       int
	signOuts     int
	unsubscribes int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: make(map[int]func(*sessiondomain.Session))}
}

func (p *fakeProvider) setCurrent(s *sessiondomain.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
}

func (p *fakeProvider) CurrentSession(ctx context.Context) (*sessiondomain.Session, error) {
	p.mu.Lock()
	s, err, gate := p.current, p.currentErr, p.currentGate
	p.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s, err
}

func (p *fakeProvider) Subscribe(fn func(*sessiondomain.Session)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	immediate, has := p.immediate, p.hasImmediate
	p.mu.Unlock()
	if has {
		fn(immediate)
	}
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
		p.unsubscribes++
	}
}

func (p *fakeProvider) emit(s *sessiondomain.Session) {
	p.mu.Lock()
	fns := make([]func(*sessiondomain.Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signOuts++
	err := p.signOutErr
	if err == nil {
		p.current = nil
	}
	p.mu.Unlock()
	if err == nil {
		p.emit(nil)
	}
	return err
}

func (p *fakeProvider) unsubscribeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unsubscribes
}

// fakeStore is an in-memory ProfileStore with per-email errors and gates.
type fakeStore struct {
	mu       sync.Mutex
	profiles map[string]*profiledomain.Profile
	errs     map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
}

func newFakeStore(profiles ...*profiledomain.Profile) *fakeStore {
	s := &fakeStore{
		profiles: make(map[string]*profiledomain.Profile),
		errs:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
	for _, p := range profiles {
		s.profiles[sessiondomain.NormalizeEmail(p.Email)] = p
	}
	return s
}

// block makes lookups for email wait until the returned release func is called.
func (s *fakeStore) block(email string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[email] = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, email)
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *fakeStore) failWith(email string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[email] = err
}

func (s *fakeStore) GetByEmail(ctx context.Context, email string) (*profiledomain.Profile, error) {
	s.mu.Lock()
	s.calls[email]++
	p, err, gate := s.profiles[email], s.errs[email], s.gates[email]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) callCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[email]
}

// recordingEmitter keeps every emitted telemetry event.
type recordingEmitter struct {
	mu     sync.Mutex
	events []*teledomain.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, event *teledomain.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEmitter) count(t teledomain.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func session(subject, email string) *sessiondomain.Session {
	return &sessiondomain.Session{
		Subject:     subject,
		Email:       email,
		AccessToken: "token-" + subject,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
}

func profile(email string, role profiledomain.Role) *profiledomain.Profile {
	return &profiledomain.Profile{
		ID:       "profile-" + email,
		Email:    email,
		FullName: "Profile " + email,
		Role:     role,
		UserType: profiledomain.UserTypeTeacher,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
