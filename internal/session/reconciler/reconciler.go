// Package reconciler keeps a single consistent view of the signed-in identity by merging
// auth provider session events with profile store lookups.
//
// One goroutine owns every transition. Provider and store calls run in helper goroutines
// and post their results back tagged with the generation that started them; a result whose
// generation is no longer current is discarded.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	profiledomain "tutorhub/backend/internal/profile/domain"
	sessiondomain "tutorhub/backend/internal/session/domain"
	"tutorhub/backend/internal/telemetry"
	teledomain "tutorhub/backend/internal/telemetry/domain"
)

const (
	defaultProviderTimeout      = 5 * time.Second
	defaultProfileLookupTimeout = 3 * time.Second
	inboxSize                   = 64
	maxIssues                   = 32
	eventSource                 = "session-reconciler"
)

// AuthProvider issues sessions and pushes session changes.
type AuthProvider interface {
	// CurrentSession returns the active session, or nil when nobody is signed in.
	CurrentSession(ctx context.Context) (*sessiondomain.Session, error)
	// Subscribe registers fn for session changes, delivered sequentially in order. A nil session means signed out.
	Subscribe(fn func(*sessiondomain.Session)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// ProfileStore looks up profiles by email. A missing row is (nil, nil).
type ProfileStore interface {
	GetByEmail(ctx context.Context, email string) (*profiledomain.Profile, error)
}

// Options configures a Reconciler. Zero values select defaults.
type Options struct {
	ProviderTimeout      time.Duration
	ProfileLookupTimeout time.Duration
	Logger               *zap.Logger
	Emitter              telemetry.EventEmitter
	MeterProvider        metric.MeterProvider
	TracerProvider       trace.TracerProvider
	Now                  func() time.Time
}

// fetchRequest asks for the current session. initial marks the fetch issued by Initialize.
type fetchRequest struct {
	initial bool
}

type fetchResult struct {
	gen     uint64
	session *sessiondomain.Session
	err     error
}

type sessionEvent struct {
	session *sessiondomain.Session
}

type lookupResult struct {
	gen     uint64
	session *sessiondomain.Session
	profile *profiledomain.Profile
	err     error
}

type signOutRequest struct {
	done chan struct{}
}

// Reconciler owns the process-wide ReconciledIdentity.
type Reconciler struct {
	provider        AuthProvider
	store           ProfileStore
	logger          *zap.Logger
	emitter         telemetry.EventEmitter
	metrics         *metrics
	tracer          trace.Tracer
	providerTimeout time.Duration
	lookupTimeout   time.Duration
	now             func() time.Time

	inbox       chan any
	stop        chan struct{}
	loopDone    chan struct{}
	initialized chan struct{}
	started     atomic.Bool
	stopOnce    sync.Once
	helpers     sync.WaitGroup
	baseCtx     context.Context
	cancel      context.CancelFunc

	subMu       sync.Mutex
	unsubscribe func()
	disposed    bool

	mu       sync.RWMutex
	state    ReconciledIdentity
	watchers map[chan ReconciledIdentity]struct{}
	issues   []error

	// Owned by the loop goroutine. initGen is the generation of Initialize's fetch; nothing older
	// than it may mark the identity initialized.
	gen      uint64
	initGen  uint64
	initDone bool
}

// New returns a Reconciler in the uninitialized state. Call Initialize once from process bootstrap.
func New(provider AuthProvider, store ProfileStore, opts Options) (*Reconciler, error) {
	if provider == nil {
		return nil, errors.New("reconciler: auth provider is required")
	}
	if store == nil {
		return nil, errors.New("reconciler: profile store is required")
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = defaultProviderTimeout
	}
	if opts.ProfileLookupTimeout <= 0 {
		opts.ProfileLookupTimeout = defaultProfileLookupTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = metricnoop.NewMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = tracenoop.NewTracerProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m, err := newMetrics(opts.MeterProvider)
	if err != nil {
		return nil, err
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		provider:        provider,
		store:           store,
		logger:          opts.Logger.Named("reconciler"),
		emitter:         opts.Emitter,
		metrics:         m,
		tracer:          opts.TracerProvider.Tracer(instrumentationName),
		providerTimeout: opts.ProviderTimeout,
		lookupTimeout:   opts.ProfileLookupTimeout,
		now:             opts.Now,
		inbox:           make(chan any, inboxSize),
		stop:            make(chan struct{}),
		loopDone:        make(chan struct{}),
		initialized:     make(chan struct{}),
		baseCtx:         baseCtx,
		cancel:          cancel,
		watchers:        make(map[chan ReconciledIdentity]struct{}),
	}, nil
}

// Initialize starts the reconciler, subscribes to session changes and resolves the current session.
// It returns once the first resolution is applied, or with ctx's error. Provider and store calls are
// bounded by the configured timeouts, so resolution always completes. A second call returns ErrAlreadyInitialized.
func (r *Reconciler) Initialize(ctx context.Context) error {
	select {
	case <-r.stop:
		return ErrDisposed
	default:
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	go r.run()

	unsubscribe := r.provider.Subscribe(r.onSessionEvent)
	r.subMu.Lock()
	if r.disposed {
		r.subMu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrDisposed
	}
	r.unsubscribe = unsubscribe
	r.subMu.Unlock()

	if !r.post(fetchRequest{initial: true}) {
		return ErrDisposed
	}
	select {
	case <-r.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stop:
		return ErrDisposed
	}
}

// Refresh asks the provider for the current session again. Initialization never retries on its own.
func (r *Reconciler) Refresh() error {
	if !r.started.Load() {
		return ErrNotInitialized
	}
	if !r.post(fetchRequest{}) {
		return ErrDisposed
	}
	return nil
}

// SignOut signs out at the provider and then clears local state whether or not the provider call
// succeeded. The provider failure, if any, is returned as a *sessiondomain.ProviderError for display only.
func (r *Reconciler) SignOut(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	err := r.provider.SignOut(pctx)
	cancel()
	if err != nil {
		err = asProviderError("sign_out", err)
		r.record(err, r.Snapshot().Generation)
	}

	if r.started.Load() {
		done := make(chan struct{})
		if r.post(signOutRequest{done: done}) {
			select {
			case <-done:
				return err
			case <-r.loopDone:
			}
		}
	}
	r.clearDirect()
	return err
}

// Snapshot returns the current identity.
func (r *Reconciler) Snapshot() ReconciledIdentity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Issues returns the most recent recorded errors and warnings, oldest first.
func (r *Reconciler) Issues() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]error, len(r.issues))
	copy(out, r.issues)
	return out
}

// Watch returns a channel that receives the current identity and then every change.
// Slow readers only see the latest value. The channel closes when ctx is done or on Dispose.
func (r *Reconciler) Watch(ctx context.Context) <-chan ReconciledIdentity {
	ch := make(chan ReconciledIdentity, 1)
	r.mu.Lock()
	select {
	case <-r.stop:
		r.mu.Unlock()
		close(ch)
		return ch
	default:
	}
	ch <- r.state
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-r.stop:
			return
		}
		r.mu.Lock()
		if _, ok := r.watchers[ch]; ok {
			delete(r.watchers, ch)
			close(ch)
		}
		r.mu.Unlock()
	}()
	return ch
}

// Dispose releases the provider subscription, stops the loop and closes all watchers. Safe to call more than once.
func (r *Reconciler) Dispose() {
	r.subMu.Lock()
	if r.disposed {
		r.subMu.Unlock()
		return
	}
	r.disposed = true
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.subMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	r.stopOnce.Do(func() { close(r.stop) })
	if r.started.Load() {
		<-r.loopDone
	}
	r.cancel()
	r.helpers.Wait()

	r.mu.Lock()
	for ch := range r.watchers {
		close(ch)
	}
	r.watchers = make(map[chan ReconciledIdentity]struct{})
	r.mu.Unlock()
}

// onSessionEvent is the provider subscription callback.
func (r *Reconciler) onSessionEvent(s *sessiondomain.Session) {
	r.post(sessionEvent{session: s})
}

// post enqueues m for the loop. It returns false once the reconciler is stopping.
func (r *Reconciler) post(m any) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.stop:
		return false
	}
}

func (r *Reconciler) run() {
	defer close(r.loopDone)
	for {
		select {
		case <-r.stop:
			return
		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Reconciler) handle(m any) {
	switch m := m.(type) {
	case fetchRequest:
		r.gen++
		if m.initial {
			r.initGen = r.gen
		}
		cur := r.Snapshot()
		cur.Loading = true
		cur.Generation = r.gen
		r.publish(cur)
		r.fetchCurrent(r.gen)
	case fetchResult:
		if m.gen != r.gen {
			r.discard("current_session", m.gen)
			return
		}
		if m.err != nil {
			r.record(asProviderError("current_session", m.err), m.gen)
			r.clear("provider_error")
			return
		}
		r.accept(m.session)
	case sessionEvent:
		r.gen++
		r.accept(m.session)
	case lookupResult:
		if m.gen != r.gen {
			r.discard("profile_lookup", m.gen)
			return
		}
		r.resolve(m)
	case signOutRequest:
		r.gen++
		r.clear("sign_out")
		close(m.done)
	}
}

// accept starts reconciling s under the current generation. Nil or expired sessions clear immediately.
func (r *Reconciler) accept(s *sessiondomain.Session) {
	if s == nil {
		r.clear("signed_out")
		return
	}
	if s.Expired(r.now()) {
		r.clear("expired")
		return
	}
	cur := r.Snapshot()
	next := ReconciledIdentity{
		Loading:     true,
		Initialized: r.initDone,
		Generation:  r.gen,
	}
	if cur.User != nil && cur.User.Subject == s.Subject {
		next.User = cur.User
		next.Role = cur.Role
	}
	r.publish(next)
	r.lookupProfile(r.gen, s)
}

func (r *Reconciler) resolve(m lookupResult) {
	profile := m.profile
	if m.err != nil {
		r.record(&StoreError{Email: m.session.Email, Err: m.err}, m.gen)
		profile = nil
	}
	user, role, warnings := merge(m.session, profile)
	for _, w := range warnings {
		r.record(w, m.gen)
	}
	r.settle()
	r.publish(ReconciledIdentity{
		User:        user,
		Role:        role,
		Initialized: r.initDone,
		Generation:  r.gen,
	})
	r.markInitialized()
	r.metrics.transition("authenticated")
	r.logger.Debug("session: resolved",
		zap.String("subject", user.Subject),
		zap.String("role", string(role)),
		zap.Uint64("generation", r.gen),
	)
	r.emit(teledomain.EventSessionResolved, user.Subject, user.Email, r.gen, string(role))
}

func (r *Reconciler) clear(reason string) {
	r.settle()
	r.publish(ReconciledIdentity{Initialized: r.initDone, Generation: r.gen})
	r.markInitialized()
	r.metrics.transition("anonymous")
	r.logger.Debug("session: cleared", zap.String("reason", reason), zap.Uint64("generation", r.gen))
	r.emit(teledomain.EventSessionCleared, "", "", r.gen, reason)
}

// clearDirect clears state when the loop is not running.
func (r *Reconciler) clearDirect() {
	r.mu.Lock()
	next := r.state
	next.User = nil
	next.Role = ""
	next.Loading = false
	r.setLocked(next)
	r.mu.Unlock()
}

// settle marks the identity initialized once a transition at or after Initialize's fetch lands.
// Transitions from subscription-time events before that fetch stay uninitialized.
func (r *Reconciler) settle() {
	if r.initGen != 0 && r.gen >= r.initGen {
		r.initDone = true
	}
}

func (r *Reconciler) markInitialized() {
	if !r.initDone {
		return
	}
	select {
	case <-r.initialized:
	default:
		close(r.initialized)
	}
}

func (r *Reconciler) discard(result string, gen uint64) {
	r.metrics.discard(result)
	r.logger.Debug("session: discarded stale result",
		zap.String("result", result),
		zap.Uint64("result_generation", gen),
		zap.Uint64("current_generation", r.gen),
	)
	r.emit(teledomain.EventStaleResultDiscarded, "", "", gen, result)
}

func (r *Reconciler) fetchCurrent(gen uint64) {
	r.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
		defer cancel()
		ctx, span := r.tracer.Start(ctx, "reconciler.current_session",
			trace.WithAttributes(attribute.Int64("session.generation", int64(gen))))
		s, err := r.provider.CurrentSession(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "current session")
		}
		span.End()
		r.post(fetchResult{gen: gen, session: s, err: err})
	})
}

func (r *Reconciler) lookupProfile(gen uint64, s *sessiondomain.Session) {
	r.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		defer cancel()
		ctx, span := r.tracer.Start(ctx, "reconciler.profile_lookup",
			trace.WithAttributes(
				attribute.Int64("session.generation", int64(gen)),
				attribute.String("session.subject", s.Subject),
			))
		start := time.Now()
		p, err := r.store.GetByEmail(ctx, sessiondomain.NormalizeEmail(s.Email))
		outcome := "found"
		switch {
		case err != nil:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "profile lookup")
		case p == nil:
			outcome = "not_found"
		}
		r.metrics.lookupDuration(float64(time.Since(start).Microseconds())/1000, outcome)
		span.End()
		r.post(lookupResult{gen: gen, session: s, profile: p, err: err})
	})
}

// spawn runs fn in a helper goroutine bound to the reconciler lifetime. Called only from the loop.
func (r *Reconciler) spawn(fn func(ctx context.Context)) {
	r.helpers.Add(1)
	go func() {
		defer r.helpers.Done()
		fn(r.baseCtx)
	}()
}

func (r *Reconciler) publish(next ReconciledIdentity) {
	r.mu.Lock()
	r.setLocked(next)
	r.mu.Unlock()
}

// setLocked stores next and hands it to every watcher, replacing any unread value. Caller holds r.mu.
func (r *Reconciler) setLocked(next ReconciledIdentity) {
	r.state = next
	for ch := range r.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}

// record keeps err for Issues, logs it and emits telemetry.
func (r *Reconciler) record(err error, gen uint64) {
	r.mu.Lock()
	if len(r.issues) == maxIssues {
		r.issues = append(r.issues[:0], r.issues[1:]...)
	}
	r.issues = append(r.issues, err)
	r.mu.Unlock()

	var (
		pe *sessiondomain.ProviderError
		se *StoreError
		iw *IntegrityWarning
	)
	switch {
	case errors.As(err, &pe):
		r.metrics.issue("provider_error")
		r.logger.Warn("session: auth provider failed, resolving anonymous",
			zap.String("op", pe.Op), zap.Uint64("generation", gen), zap.Error(err))
		r.emit(teledomain.EventProviderError, "", "", gen, err.Error())
	case errors.As(err, &se):
		r.metrics.issue("store_error")
		r.logger.Warn("session: profile lookup failed, using session-only identity",
			zap.String("email", se.Email), zap.Uint64("generation", gen), zap.Error(err))
		r.emit(teledomain.EventStoreError, "", se.Email, gen, err.Error())
	case errors.As(err, &iw):
		r.metrics.issue("integrity_warning")
		r.logger.Warn("session: integrity warning",
			zap.String("kind", iw.Kind), zap.String("subject", iw.Subject), zap.Uint64("generation", gen), zap.Error(err))
		r.emit(teledomain.EventIntegrityWarning, iw.Subject, iw.SessionEmail, gen, err.Error())
	default:
		r.logger.Warn("session: recorded error", zap.Error(err))
	}
}

func (r *Reconciler) emit(t teledomain.EventType, subject, email string, gen uint64, detail string) {
	if r.emitter == nil {
		return
	}
	telemetry.EmitAsync(r.emitter, r.logger, &teledomain.Event{
		ID:         uuid.NewString(),
		Type:       t,
		Source:     eventSource,
		Subject:    subject,
		Email:      email,
		Generation: gen,
		Detail:     detail,
		CreatedAt:  r.now().UTC(),
	})
}

func asProviderError(op string, err error) error {
	var pe *sessiondomain.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &sessiondomain.ProviderError{Op: op, Err: err}
}
