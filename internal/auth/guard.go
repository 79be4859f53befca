package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Errors
var (
	ErrTokenExpired   = errors.New("access token expired")
	ErrNoApprovalKey  = errors.New("approval key issuer returned an empty key")
	ErrAccountMissing = errors.New("account not found")
)

// AuthError reports an authentication failure. It is fatal to a connect
// attempt, never to the process.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "auth: " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Issuer obtains a streaming approval key.
type Issuer interface {
	IssueApprovalKey(ctx context.Context, appKey, appSecret string, live bool) (string, error)
}

// Store persists a credential between runs.
type Store interface {
	Load() (*Credential, error)
	Save(cred Credential) error
}

// Guard gates connection attempts on the credential's state.
type Guard struct {
	issuer Issuer
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	cred Credential
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		g.now = now
	}
}

// WithGuardLogger sets the logger.
func WithGuardLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGuard creates a guard. store may be nil when persistence is not wanted.
func NewGuard(cred Credential, issuer Issuer, store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		cred:   cred,
		issuer: issuer,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsExpired reports whether the access token has expired (KST).
func (g *Guard) IsExpired() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cred.ExpiredAt(g.now())
}

// Check returns an *AuthError wrapping ErrTokenExpired if the token has expired.
func (g *Guard) Check() error {
	if g.IsExpired() {
		g.mu.RLock()
		expiry := g.cred.TokenExpiry
		g.mu.RUnlock()
		return &AuthError{Op: "check token", Err: fmt.Errorf("%w at %s", ErrTokenExpired, FormatExpiry(expiry))}
	}
	return nil
}

// EnsureApprovalKey issues an approval key if none is held. A new key is
// persisted; persistence failures are logged and otherwise ignored.
func (g *Guard) EnsureApprovalKey(ctx context.Context) error {
	g.mu.RLock()
	cred := g.cred
	g.mu.RUnlock()

	if cred.ApprovalKey != "" {
		return nil
	}

	g.logger.Info("issuing approval key", "mode", cred.Mode(), "account", cred.AccountNo)

	key, err := g.issuer.IssueApprovalKey(ctx, cred.AppKey, cred.AppSecret, cred.Live)
	if err != nil {
		return &AuthError{Op: "issue approval key", Err: err}
	}
	if key == "" {
		return &AuthError{Op: "issue approval key", Err: ErrNoApprovalKey}
	}

	g.mu.Lock()
	g.cred.ApprovalKey = key
	cred = g.cred
	g.mu.Unlock()

	g.persist(cred)
	return nil
}

// ApprovalKey returns the current approval key, empty if not yet issued.
func (g *Guard) ApprovalKey() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cred.ApprovalKey
}

// Credential returns a copy of the guarded credential.
func (g *Guard) Credential() Credential {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cred
}

func (g *Guard) persist(cred Credential) {
	if g.store == nil {
		return
	}
	if err := g.store.Save(cred); err != nil {
		g.logger.Warn("failed to persist credential", "account", cred.AccountNo, "error", err)
	}
}
