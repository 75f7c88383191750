// Package session owns the authenticated identity and its bearer token.
//
// Every transition (login, logout, invalidation, restore) bumps the
// epoch and notifies subscribers synchronously before the call returns,
// so dependents can drop per-identity state and discard responses to
// requests issued under an older epoch.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"spesync/internal/core"
	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
)

// ErrExpired is returned by Restore when the persisted token is past its
// expiry and was dropped without asking the service.
var ErrExpired = &core.Error{Kind: core.KindAuthentication, Message: "session expired"}

// ErrSuperseded is returned by Login when another transition (usually a
// Logout) happened while the credentials were being checked. The login
// result is dropped.
var ErrSuperseded = errors.New("session changed while logging in")

// State is a snapshot of the session.
type State struct {
	Authenticated bool
	Identity      core.Identity
	Epoch         uint64
}

// Listener observes transitions. It runs on the goroutine that caused the
// transition and must not call back into Login, Logout or Restore.
type Listener func(State)

type Options struct {
	Logger  *log.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

type Store struct {
	auth    service.Authenticator
	tokens  TokenStore
	logger  *log.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu        sync.Mutex
	state     State
	token     string
	listeners map[int]Listener
	nextID    int
}

func New(auth service.Authenticator, tokens TokenStore, opts Options) *Store {
	if tokens == nil {
		tokens = &MemoryTokens{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		auth:      auth,
		tokens:    tokens,
		logger:    opts.Logger.WithComponent(log.ComponentSession),
		metrics:   opts.Metrics,
		now:       opts.Now,
		listeners: map[int]Listener{},
	}
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) IsAuthenticated() bool {
	return s.Current().Authenticated
}

func (s *Store) Epoch() uint64 {
	return s.Current().Epoch
}

// Token returns the bearer token and the epoch it belongs to. The token is
// "" when logged out.
func (s *Store) Token() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.state.Epoch
}

// Login exchanges credentials for a session. On failure nothing changes.
func (s *Store) Login(ctx context.Context, username, password string) error {
	startEpoch := s.Epoch()
	token, who, err := s.auth.Login(ctx, username, password)
	if err != nil {
		s.logger.WarnContext(ctx, "Login failed", log.NewFields().
			WithOperation(log.OpLogin).
			WithError(err).ToSlice()...)
		return err
	}

	st, ok := s.transitionFrom(startEpoch, true, who, token)
	if !ok {
		s.metrics.Stale(log.ComponentSession)
		s.logger.InfoContext(ctx, "Dropping login superseded by another transition",
			log.FieldUsername, who.Username)
		return ErrSuperseded
	}
	if err := s.tokens.Save(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "Persisting token failed, session will not survive a restart",
			log.FieldError, err.Error())
	}
	s.metrics.Transition(log.OpLogin)
	s.logger.InfoContext(ctx, "Logged in",
		log.FieldUsername, who.Username,
		log.FieldEpoch, st.Epoch)
	return nil
}

// Restore validates a persisted token with the service. Any failure,
// including network errors, tears the session down and clears the
// stored token, unless another transition happened meanwhile. No stored
// token is not an error.
func (s *Store) Restore(ctx context.Context) error {
	token, err := s.tokens.Load(ctx)
	if err != nil {
		s.teardown(ctx, "token store unreadable")
		return err
	}
	if token == "" {
		return nil
	}
	if s.expired(token) {
		s.teardown(ctx, "token expired")
		return ErrExpired
	}

	startEpoch := s.Epoch()
	who, err := s.auth.CurrentUser(ctx, token)
	if err != nil {
		s.logger.WarnContext(ctx, "Restoring session failed", log.NewFields().
			WithOperation(log.OpRestore).
			WithError(err).ToSlice()...)
		if s.Epoch() != startEpoch {
			// Someone logged in or out while we were asking; the
			// rejection concerns a token that is no longer ours.
			s.metrics.Stale(log.ComponentSession)
			return nil
		}
		s.teardown(ctx, "restore rejected")
		return err
	}

	st, ok := s.transitionFrom(startEpoch, true, who, token)
	if !ok {
		s.metrics.Stale(log.ComponentSession)
		return nil
	}
	s.metrics.Transition(log.OpRestore)
	s.logger.InfoContext(ctx, "Session restored",
		log.FieldUsername, who.Username,
		log.FieldEpoch, st.Epoch)
	return nil
}

// Logout clears the session unconditionally.
func (s *Store) Logout(ctx context.Context) {
	s.teardown(ctx, "logout")
	s.metrics.Transition(log.OpLogout)
}

// Invalidate ends the session after the service rejected its credentials.
func (s *Store) Invalidate(ctx context.Context, cause error) {
	reason := "credentials rejected"
	if cause != nil {
		reason = cause.Error()
	}
	s.teardown(ctx, reason)
	s.metrics.Transition("invalidate")
}

// InvalidateIfRejected calls Invalidate when err is an authentication
// failure and reports whether it did.
func (s *Store) InvalidateIfRejected(ctx context.Context, err error) bool {
	if err == nil || !errors.Is(err, core.ErrAuthentication) {
		return false
	}
	s.Invalidate(ctx, err)
	return true
}

func (s *Store) teardown(ctx context.Context, reason string) {
	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "Clearing stored token failed", log.FieldError, err.Error())
	}
	st := s.transition(false, core.Identity{}, "")
	s.logger.InfoContext(ctx, "Session ended", log.FieldReason, reason, log.FieldEpoch, st.Epoch)
}

// transition installs the new state and notifies listeners outside the lock.
func (s *Store) transition(authenticated bool, who core.Identity, token string) State {
	s.mu.Lock()
	return s.install(authenticated, who, token)
}

// transitionFrom is transition, applied only while the epoch is still
// expected. It reports false and changes nothing otherwise.
func (s *Store) transitionFrom(expected uint64, authenticated bool, who core.Identity, token string) (State, bool) {
	s.mu.Lock()
	if s.state.Epoch != expected {
		s.mu.Unlock()
		return s.Current(), false
	}
	return s.install(authenticated, who, token), true
}

// install must be called with s.mu held and releases it.
func (s *Store) install(authenticated bool, who core.Identity, token string) State {
	s.state = State{Authenticated: authenticated, Identity: who, Epoch: s.state.Epoch + 1}
	s.token = token
	st := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextID; i++ {
		if l, ok := s.listeners[i]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(st)
	}
	return st
}

// expired reads the exp claim without verifying the signature. Tokens that
// are not JWTs are left to the service.
func (s *Store) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && !claims.ExpiresAt.After(s.now())
}
