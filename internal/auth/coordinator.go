package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"besedka/internal/logx"
	"besedka/internal/storage"

	"github.com/rs/zerolog"
)

const DefaultMaxRefreshAttempts = 1

var (
	// ErrRefreshLimit is returned once consecutive failed refreshes reach the
	// ceiling. The endpoint is not contacted.
	ErrRefreshLimit = errors.New("refresh attempt limit exceeded")
	// ErrNoRefreshCredentials means the store has no name or refresh token.
	ErrNoRefreshCredentials = errors.New("no username or refresh token")
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, name, refreshToken string) (accessToken, newRefreshToken string, err error)
}

type RefresherFunc func(ctx context.Context, name, refreshToken string) (string, string, error)

func (f RefresherFunc) Refresh(ctx context.Context, name, refreshToken string) (string, string, error) {
	return f(ctx, name, refreshToken)
}

type CoordinatorOption func(*Coordinator)

// WithMaxAttempts sets the ceiling of consecutive failed refreshes.
func WithMaxAttempts(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.maxAttempts = n
	}
}

// WithFailureHandler registers the re-authentication redirect. It runs after
// local identity state has been purged.
func WithFailureHandler(fn func(error)) CoordinatorOption {
	return func(c *Coordinator) {
		c.onFailure = fn
	}
}

type result struct {
	token string
	err   error
}

type waiter struct {
	seq uint64
	ch  chan result
}

// Coordinator runs at most one token refresh at a time. Callers arriving
// while a refresh is in flight wait for its outcome and are released in
// arrival order.
type Coordinator struct {
	store       storage.CredentialStore
	refresher   Refresher
	maxAttempts int
	onFailure   func(error)
	logger      zerolog.Logger

	mu       sync.Mutex
	inFlight bool
	waiters  []*waiter
	nextSeq  uint64
	attempts int

	// onResolve observes waiter release order in tests.
	onResolve func(seq uint64)
}

func NewCoordinator(store storage.CredentialStore, refresher Refresher, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       store,
		refresher:   refresher,
		maxAttempts: DefaultMaxRefreshAttempts,
		logger:      logx.Component("auth"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a fresh access token, either by refreshing or by waiting for
// the refresh already in flight.
func (c *Coordinator) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.inFlight {
		w := &waiter{seq: c.nextSeq, ch: make(chan result, 1)}
		c.nextSeq++
		c.waiters = append(c.waiters, w)
		c.logger.Debug().Uint64("waiter", w.seq).Int("queued", len(c.waiters)).Msg("refresh in flight, waiting")
		c.mu.Unlock()

		select {
		case r := <-w.ch:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.inFlight = true
	c.mu.Unlock()

	// Waiters depend on this outcome, so the caller leaving early must not
	// abort it.
	token, err := c.refresh(context.WithoutCancel(ctx))

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inFlight = false
	c.mu.Unlock()

	for _, w := range waiters {
		w.ch <- result{token: token, err: err}
		if c.onResolve != nil {
			c.onResolve(w.seq)
		}
	}
	return token, err
}

// Attempts is the number of consecutive failed refreshes.
func (c *Coordinator) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Reset clears the attempt counter after a fresh login.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
}

func (c *Coordinator) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.attempts >= c.maxAttempts {
		c.mu.Unlock()
		c.logger.Warn().Int("max_attempts", c.maxAttempts).Msg("refresh attempt limit reached")
		c.fail(ErrRefreshLimit)
		return "", ErrRefreshLimit
	}
	c.mu.Unlock()

	id, err := c.store.Identity()
	if err != nil && !errors.Is(err, storage.ErrNoIdentity) {
		return "", fmt.Errorf("read identity: %w", err)
	}
	if id.Name == "" || id.RefreshToken == "" {
		c.logger.Warn().Bool("has_name", id.Name != "").Bool("has_refresh_token", id.RefreshToken != "").Msg("cannot refresh")
		return "", ErrNoRefreshCredentials
	}

	c.mu.Lock()
	c.attempts++
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info().Str("user", id.Name).Int("attempt", attempt).Msg("refreshing access token")
	access, refreshToken, err := c.refresher.Refresh(ctx, id.Name, id.RefreshToken)
	if err != nil {
		err = fmt.Errorf("refresh token: %w", err)
		c.logger.Error().Err(err).Str("user", id.Name).Msg("token refresh failed")
		c.fail(err)
		return "", err
	}

	if err := c.store.SetTokens(access, refreshToken); err != nil {
		err = fmt.Errorf("store refreshed tokens: %w", err)
		c.fail(err)
		return "", err
	}

	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.logger.Info().Str("user", id.Name).Msg("access token refreshed")
	return access, nil
}

// fail purges every piece of local identity state and hands off to the
// re-authentication redirect.
func (c *Coordinator) fail(cause error) {
	if err := c.store.Clear(); err != nil {
		c.logger.Error().Err(err).Msg("failed to clear credentials")
	}
	if c.onFailure != nil {
		c.onFailure(cause)
	}
}
