package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/sessions"
	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/log"
)

const (
	// SessionName is the only cookie Firebase Hosting forwards to functions.
	SessionName = "__session"
	SignInPath  = "/signIn"

	sessionCookieKey = "sid"
	ErrorMsgLogField = "errorMsg"
	userIDLogField   = "userID"
)

var ErrNotReady = errors.New("session manager not initialized")

type EventKind int

const (
	// EventReady is the first notification, sent once the provider is connected.
	EventReady EventKind = iota
	EventSignedIn
	EventSignedOut
)

// Event is an auth-state notification. User is nil for EventReady. Session is
// the browser session being signed in or out; subscribers may change its
// values before it is saved. It is nil for EventReady.
type Event struct {
	Kind    EventKind
	User    *User
	Session *sessions.Session
}

// ConnectFunc opens the identity provider.
type ConnectFunc func(ctx context.Context) (Provider, error)

// LogoutResult describes a finished sign-out. The session cookie is always
// dropped; Revoked reports whether the user's refresh tokens were revoked on
// every device, and RevokeErr why that failed.
type LogoutResult struct {
	UID       string
	Revoked   bool
	RevokedAt time.Time
	RevokeErr error
}

type ManagerOption func(*Manager)

// WithRevokeOnLogout makes Logout also revoke the user's refresh tokens, which
// ends the sessions of every browser and device.
func WithRevokeOnLogout(revoke bool) ManagerOption {
	return func(m *Manager) { m.revokeOnLogout = revoke }
}

type userCtxKey struct{}

// Manager is the process-wide session context: it owns the provider
// connection, resolves the current user of each request from the session
// cookie, and fans auth-state notifications out to subscribers.
//
// Init must be called once before the manager serves requests; until it
// succeeds Gate answers every request with a loading page. Close tears the
// manager down and drops all subscriptions.
type Manager struct {
	connect        ConnectFunc
	store          sessions.Store
	sessionTTL     time.Duration
	revokeOnLogout bool

	mu       sync.RWMutex
	provider Provider
	loading  bool
	closed   bool
	subs     map[uint64]func(context.Context, Event)
	nextSub  uint64
	ready    sync.Once
}

func NewManager(connect ConnectFunc, store sessions.Store, sessionTTL time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		connect:    connect,
		store:      store,
		sessionTTL: sessionTTL,
		loading:    true,
		subs:       make(map[uint64]func(context.Context, Event)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init connects the provider and clears the loading flag exactly once. Calls
// after the first success return nil without connecting again.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.RLock()
	connected := m.provider != nil
	m.mu.RUnlock()
	if connected {
		return nil
	}

	provider, err := m.connect(ctx)
	if err != nil {
		return apperr.New(apperr.KindNetwork, "connect", err)
	}

	m.ready.Do(func() {
		m.mu.Lock()
		m.provider = provider
		m.loading = false
		m.mu.Unlock()
		log.LoggerFromContext(ctx).Info("identity provider connected")
		m.notify(ctx, Event{Kind: EventReady})
	})
	return nil
}

// Close drops every subscription. Requests arriving afterwards see the loading page.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[uint64]func(context.Context, Event))
}

func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading || m.closed
}

// Provider returns the connected provider or ErrNotReady.
func (m *Manager) Provider() (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.loading || m.closed {
		return nil, ErrNotReady
	}
	return m.provider, nil
}

// Subscribe registers fn for auth-state notifications. The returned function
// unsubscribes and may be called more than once.
func (m *Manager) Subscribe(fn func(context.Context, Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ctx context.Context, e Event) {
	m.mu.RLock()
	fns := make([]func(context.Context, Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()
	for _, fn := range fns {
		fn(ctx, e)
	}
}

// Current resolves the request's user from a bearer ID token or the session
// cookie. It returns nil without error when the visitor is not signed in.
func (m *Manager) Current(r *http.Request) (*User, error) {
	provider, err := m.Provider()
	if err != nil {
		return nil, err
	}
	ctx := r.Context()

	if token, err := BearerTokenFromRequest(r); err == nil {
		user, err := provider.VerifyIDToken(ctx, token)
		if err != nil {
			if apperr.Is(err, apperr.KindNetwork) {
				return nil, err
			}
			log.LoggerFromContext(ctx).Info("bearer token rejected", slog.String(ErrorMsgLogField, err.Error()))
			return nil, nil
		}
		return user, nil
	}

	session, _ := m.store.Get(r, SessionName)
	cookie, _ := session.Values[sessionCookieKey].(string)
	if cookie == "" {
		return nil, nil
	}
	user, err := provider.VerifySessionCookie(ctx, cookie)
	if err != nil {
		if apperr.Is(err, apperr.KindNetwork) {
			return nil, err
		}
		log.LoggerFromContext(ctx).Info("session cookie rejected", slog.String(ErrorMsgLogField, err.Error()))
		return nil, nil
	}
	return user, nil
}

// Establish stores a session cookie for a fresh sign-in credential.
// Subscribers see EventSignedIn before the session is saved.
func (m *Manager) Establish(w http.ResponseWriter, r *http.Request, cred *Credential) error {
	provider, err := m.Provider()
	if err != nil {
		return err
	}
	cookie, err := provider.SessionCookie(r.Context(), cred.IDToken, m.sessionTTL)
	if err != nil {
		return err
	}

	session, _ := m.store.Get(r, SessionName)
	session.Values[sessionCookieKey] = cookie
	user := cred.User
	m.notify(r.Context(), Event{Kind: EventSignedIn, User: &user, Session: session})

	if err := session.Save(r, w); err != nil {
		return apperr.New(apperr.KindUnknown, "saveSession", err)
	}
	return nil
}

// Logout ends this browser's session. The cookie is forgotten even when the
// optional token revocation fails; the error is non-nil only when the session
// could not be saved.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request, user *User) (*LogoutResult, error) {
	ctx := r.Context()
	logger := log.LoggerFromContext(ctx).With(slog.String(userIDLogField, user.UID))
	result := &LogoutResult{UID: user.UID}

	if m.revokeOnLogout {
		if err := m.revoke(ctx, user.UID); err != nil {
			logger.Error("error while revoking tokens", slog.String(ErrorMsgLogField, err.Error()))
			result.RevokeErr = err
		} else {
			result.Revoked = true
			result.RevokedAt = time.Now()
		}
	}

	session, _ := m.store.Get(r, SessionName)
	delete(session.Values, sessionCookieKey)
	m.notify(ctx, Event{Kind: EventSignedOut, User: user, Session: session})
	if err := session.Save(r, w); err != nil {
		logger.Error("error while saving session", slog.String(ErrorMsgLogField, err.Error()))
		return nil, apperr.New(apperr.KindUnknown, "saveSession", err)
	}

	logger.Info("signed out", slog.Bool("revoked", result.Revoked))
	return result, nil
}

func (m *Manager) revoke(ctx context.Context, uid string) error {
	provider, err := m.Provider()
	if err != nil {
		return err
	}
	return provider.SignOut(ctx, uid)
}

// Gate replaces every response with the loading page until Init succeeds.
func (m *Manager) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Loading() {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(loadingPage))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser runs next with the resolved user in the context, or redirects
// to the sign-in page.
func (m *Manager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Current(r)
		if err != nil {
			log.LoggerFromContext(r.Context()).Error("error while resolving session", slog.String(ErrorMsgLogField, err.Error()))
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		if user == nil {
			http.Redirect(w, r, SignInPath, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, user)
}

func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userCtxKey{}).(*User)
	return user
}

const loadingPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading...</title></head>
<body><main class="centered"><h1>Loading...</h1></main></body></html>
`
