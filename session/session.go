// Package session owns authentication state: whether the user is signed in,
// who they are, and the lifecycle of the access/refresh token pair.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/ebm/cache"
	"github.com/jmcleod/ebm/model"
	"github.com/jmcleod/ebm/observable"
)

// UserTTL is how long the current user snapshot stays cached.
const UserTTL = 60 * time.Minute

var (
	// ErrAuthFailed is returned when the session could not be renewed. The
	// session is cleared before it is returned.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNoRefreshToken is wrapped by ErrAuthFailed when no refresh token is
	// available.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrSignedOut is wrapped by ErrAuthFailed when the session ended while
	// a refresh was in flight.
	ErrSignedOut = errors.New("signed out during refresh")
)

// Reason explains why a session is signed out.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonLogout        Reason = "logout"
	ReasonRefreshFailed Reason = "refresh_failed"
)

// State is the published session state.
type State struct {
	Authenticated bool
	User          *model.User
	// Reason is set when a signed-in session was cleared.
	Reason Reason
}

// Backend is the token exchange and user endpoint.
type Backend interface {
	Login(ctx context.Context, email, password string) (*model.AuthToken, error)
	Refresh(ctx context.Context, refreshToken string) (*model.AuthToken, error)
	Logout(ctx context.Context) error
	CurrentUser(ctx context.Context) (*model.User, error)
}

// Store is the session store.
type Store struct {
	backend Backend
	cache   *cache.Store
	logger  *slog.Logger
	now     func() time.Time
	state   *observable.Subject[State]

	mu      sync.Mutex
	access  *memguard.Enclave
	refresh *memguard.Enclave
	// gen counts sign-outs. An exchange started under an older gen must not
	// bring the session back.
	gen uint64

	// refreshMu serializes refreshes. A caller that waited behind a
	// successful exchange reuses its tokens instead of exchanging again.
	refreshMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty, unauthenticated session store.
func New(backend Backend, c *cache.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cache:   c,
		logger:  slog.Default(),
		now:     time.Now,
		state:   observable.New(State{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state.
func (s *Store) State() State {
	return s.state.Value()
}

// IsAuthenticated reports whether a session is active.
func (s *Store) IsAuthenticated() bool {
	return s.state.Value().Authenticated
}

// CurrentUser returns the signed-in user, or nil.
func (s *Store) CurrentUser() *model.User {
	return s.state.Value().User
}

// Subscribe registers fn for session changes.
func (s *Store) Subscribe(fn func(State)) func() {
	return s.state.Subscribe(fn)
}

// Restore re-establishes a session from cached tokens. A token that has not
// expired is trusted immediately with the cached user snapshot, then the
// user is refreshed from the backend. An expired token is renewed first.
func (s *Store) Restore(ctx context.Context) {
	var access, refresh string
	if !s.cache.Get(cache.KeyAuthToken, &access) || access == "" {
		s.logger.Debug("no stored session")
		return
	}
	s.cache.Get(cache.KeyRefreshToken, &refresh)
	s.setTokens(access, refresh)

	if s.tokenExpired(access) {
		s.logger.Info("stored access token expired, refreshing")
		if err := s.Refresh(ctx); err != nil {
			s.logger.Warn("session restore failed", slog.Any("error", err))
			return
		}
	} else {
		var user model.User
		var cached *model.User
		if s.cache.Get(cache.KeyCurrentUser, &user) {
			cached = &user
		}
		s.state.Set(State{Authenticated: true, User: cached})
	}
	s.fetchUser(ctx)
}

// Login exchanges credentials for a token pair and signs the user in.
// Credential errors are returned unchanged and leave the session untouched.
func (s *Store) Login(ctx context.Context, email, password string) error {
	tok, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	s.storeTokens(tok)

	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		s.logger.Warn("fetching user after login failed", slog.Any("error", err))
		s.state.Set(State{Authenticated: true})
		return nil
	}
	s.cacheUser(user)
	s.state.Set(State{Authenticated: true, User: user})
	s.logger.Info("signed in", slog.String("user_id", user.ID))
	return nil
}

// Logout ends the session. The backend call is best effort; local state is
// always cleared.
func (s *Store) Logout(ctx context.Context) {
	if err := s.backend.Logout(ctx); err != nil {
		s.logger.Warn("remote logout failed", slog.Any("error", err))
	}
	s.clear(ReasonLogout)
}

// Refresh renews the token pair. Any failure clears the session and returns
// an error wrapping ErrAuthFailed.
func (s *Store) Refresh(ctx context.Context) error {
	stale := s.AccessToken()
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if current := s.AccessToken(); current != "" && current != stale {
		return nil
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	refresh := s.openToken(func() *memguard.Enclave { return s.refresh })
	if refresh == "" {
		s.cache.Get(cache.KeyRefreshToken, &refresh)
	}
	if refresh == "" {
		s.clear(ReasonRefreshFailed)
		return fmt.Errorf("%w: %w", ErrAuthFailed, ErrNoRefreshToken)
	}

	tok, err := s.backend.Refresh(ctx, refresh)
	if err != nil {
		if !s.sameGen(gen) {
			return fmt.Errorf("%w: %w", ErrAuthFailed, ErrSignedOut)
		}
		s.clear(ReasonRefreshFailed)
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	if !s.commitTokens(gen, tok) {
		s.logger.Info("discarding tokens refreshed after sign-out")
		return fmt.Errorf("%w: %w", ErrAuthFailed, ErrSignedOut)
	}
	s.state.Update(func(st State) State {
		if !s.sameGen(gen) {
			return st
		}
		return State{Authenticated: true, User: st.User}
	})
	return nil
}

// RefreshAccessToken lets the HTTP client renew tokens after a 401.
func (s *Store) RefreshAccessToken(ctx context.Context) error {
	return s.Refresh(ctx)
}

// AccessToken returns the current access token, or "".
func (s *Store) AccessToken() string {
	return s.openToken(func() *memguard.Enclave { return s.access })
}

func (s *Store) fetchUser(ctx context.Context) {
	user, err := s.backend.CurrentUser(ctx)
	if err != nil {
		s.logger.Warn("fetching current user failed", slog.Any("error", err))
		return
	}
	s.cacheUser(user)
	s.state.Update(func(st State) State {
		if !st.Authenticated {
			return st
		}
		return State{Authenticated: true, User: user}
	})
}

func (s *Store) cacheUser(user *model.User) {
	if err := s.cache.Put(cache.KeyCurrentUser, user, UserTTL); err != nil {
		s.logger.Warn("caching current user failed", slog.Any("error", err))
	}
}

func (s *Store) storeTokens(tok *model.AuthToken) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.commitTokens(gen, tok)
}

// commitTokens installs and persists tok unless the session was cleared
// since gen was read.
func (s *Store) commitTokens(gen uint64, tok *model.AuthToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.access = enclave(tok.AccessToken)
	s.refresh = enclave(tok.RefreshToken)
	if err := s.cache.Put(cache.KeyAuthToken, tok.AccessToken, 0); err != nil {
		s.logger.Warn("caching access token failed", slog.Any("error", err))
	}
	if err := s.cache.Put(cache.KeyRefreshToken, tok.RefreshToken, 0); err != nil {
		s.logger.Warn("caching refresh token failed", slog.Any("error", err))
	}
	return true
}

func (s *Store) sameGen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

func (s *Store) setTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = enclave(access)
	s.refresh = enclave(refresh)
}

func (s *Store) openToken(pick func() *memguard.Enclave) string {
	s.mu.Lock()
	e := pick()
	s.mu.Unlock()
	if e == nil {
		return ""
	}
	buf, err := e.Open()
	if err != nil {
		s.logger.Warn("opening token enclave failed", slog.Any("error", err))
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

func (s *Store) clear(reason Reason) {
	s.mu.Lock()
	s.gen++
	s.access = nil
	s.refresh = nil
	s.cache.Delete(cache.KeyAuthToken)
	s.cache.Delete(cache.KeyRefreshToken)
	s.cache.Delete(cache.KeyCurrentUser)
	s.mu.Unlock()

	prev := s.state.Value()
	s.state.Set(State{Reason: reason})
	if prev.Authenticated {
		s.logger.Info("signed out", slog.String("reason", string(reason)))
	}
}

// tokenExpired reads exp without verifying the signature; verification is
// the backend's job. Undecodable tokens count as expired.
func (s *Store) tokenExpired(raw string) bool {
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return true
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Before(s.now())
}

func enclave(token string) *memguard.Enclave {
	if token == "" {
		return nil
	}
	return memguard.NewEnclave([]byte(token))
}
