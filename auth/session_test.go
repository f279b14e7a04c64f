package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/klipach/contactcast/apperr"
	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/auth/authtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T, opts ...auth.ManagerOption) (*auth.Manager, *authtest.Provider) {
	t.Helper()
	provider := authtest.NewProvider()
	store := sessions.NewCookieStore([]byte(testSecret))
	m := auth.NewManager(func(context.Context) (auth.Provider, error) { return provider, nil }, store, time.Hour, opts...)
	t.Cleanup(m.Close)
	return m, provider
}

// signIn establishes a session and returns the cookies to replay.
func signIn(t *testing.T, m *auth.Manager, p *authtest.Provider, email, password string) []*http.Cookie {
	t.Helper()
	cred, err := auth.SignIn(context.Background(), p, email, password)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, m.Establish(rec, httptest.NewRequest(http.MethodPost, "/signIn", nil), cred))
	return rec.Result().Cookies()
}

func requestWith(cookies []*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestGateWhileLoading(t *testing.T) {
	m, _ := newManager(t)
	called := false
	h := m.Gate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, called)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Loading...")

	require.NoError(t, m.Init(context.Background()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitFailureKeepsLoading(t *testing.T) {
	m := auth.NewManager(func(context.Context) (auth.Provider, error) {
		return nil, errors.New("no credentials")
	}, sessions.NewCookieStore([]byte(testSecret)), time.Hour)

	err := m.Init(context.Background())
	assert.True(t, apperr.Is(err, apperr.KindNetwork))
	assert.True(t, m.Loading())
	_, err = m.Provider()
	assert.ErrorIs(t, err, auth.ErrNotReady)
}

func TestInitConnectsOnce(t *testing.T) {
	provider := authtest.NewProvider()
	calls := 0
	m := auth.NewManager(func(context.Context) (auth.Provider, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("metadata server unreachable")
		}
		return provider, nil
	}, sessions.NewCookieStore([]byte(testSecret)), time.Hour)

	assert.Error(t, m.Init(context.Background()))
	require.NoError(t, m.Init(context.Background()))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestSubscribeSeesSession(t *testing.T) {
	m, p := newManager(t)
	p.AddUser("ana@example.com", "secret1")
	require.NoError(t, m.Init(context.Background()))

	m.Subscribe(func(_ context.Context, e auth.Event) {
		if e.Kind == auth.EventSignedIn {
			e.Session.Values["greeting"] = "hello " + e.User.Email
		}
	})
	cookies := signIn(t, m, p, "ana@example.com", "secret1")

	store := sessions.NewCookieStore([]byte(testSecret))
	session, err := store.Get(requestWith(cookies), auth.SessionName)
	require.NoError(t, err)
	assert.Equal(t, "hello ana@example.com", session.Values["greeting"])
}

func TestSubscribe(t *testing.T) {
	m, p := newManager(t)
	p.AddUser("ana@example.com", "secret1")

	var mu sync.Mutex
	var got []auth.EventKind
	unsubscribe := m.Subscribe(func(_ context.Context, e auth.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Kind)
	})

	require.NoError(t, m.Init(context.Background()))
	// a second Init does not notify again
	require.NoError(t, m.Init(context.Background()))
	cookies := signIn(t, m, p, "ana@example.com", "secret1")

	user, err := m.Current(requestWith(cookies))
	require.NoError(t, err)
	_, err = m.Logout(httptest.NewRecorder(), requestWith(cookies), user)
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()
	signIn(t, m, p, "ana@example.com", "secret1")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []auth.EventKind{auth.EventReady, auth.EventSignedIn, auth.EventSignedOut}, got)
}

func TestCurrent(t *testing.T) {
	m, p := newManager(t)
	p.AddUser("ana@example.com", "secret1")
	require.NoError(t, m.Init(context.Background()))

	t.Run("anonymous", func(t *testing.T) {
		user, err := m.Current(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("session cookie", func(t *testing.T) {
		user, err := m.Current(requestWith(signIn(t, m, p, "ana@example.com", "secret1")))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "ana@example.com", user.Email)
	})

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+p.IDToken("ana@example.com"))
		user, err := m.Current(req)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "ana@example.com", user.Email)
	})

	t.Run("bearer token while provider unreachable", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+p.IDToken("ana@example.com"))
		p.VerifyUnavailable = true
		defer func() { p.VerifyUnavailable = false }()
		user, err := m.Current(req)
		assert.True(t, apperr.Is(err, apperr.KindNetwork))
		assert.Nil(t, user)
	})

	t.Run("invalid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer forged")
		user, err := m.Current(req)
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestLogout(t *testing.T) {
	m, p := newManager(t)
	p.AddUser("ana@example.com", "secret1")
	require.NoError(t, m.Init(context.Background()))
	browserA := signIn(t, m, p, "ana@example.com", "secret1")
	browserB := signIn(t, m, p, "ana@example.com", "secret1")
	user, err := m.Current(requestWith(browserA))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	result, err := m.Logout(rec, requestWith(browserA), user)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, user.UID, result.UID)
	assert.False(t, result.Revoked)

	after, err := m.Current(requestWith(rec.Result().Cookies()))
	require.NoError(t, err)
	assert.Nil(t, after)

	// other browsers of the same account stay signed in
	other, err := m.Current(requestWith(browserB))
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, user.UID, other.UID)
}

func TestLogoutRevoke(t *testing.T) {
	m, p := newManager(t, auth.WithRevokeOnLogout(true))
	p.AddUser("ana@example.com", "secret1")
	require.NoError(t, m.Init(context.Background()))
	browserA := signIn(t, m, p, "ana@example.com", "secret1")
	browserB := signIn(t, m, p, "ana@example.com", "secret1")
	user, err := m.Current(requestWith(browserA))
	require.NoError(t, err)

	t.Run("provider failure still signs out", func(t *testing.T) {
		p.FailSignOut = true
		defer func() { p.FailSignOut = false }()
		rec := httptest.NewRecorder()
		result, err := m.Logout(rec, requestWith(browserA), user)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.False(t, result.Revoked)
		assert.True(t, apperr.Is(result.RevokeErr, apperr.KindNetwork))

		after, err := m.Current(requestWith(rec.Result().Cookies()))
		require.NoError(t, err)
		assert.Nil(t, after)
	})

	t.Run("revokes every browser", func(t *testing.T) {
		result, err := m.Logout(httptest.NewRecorder(), requestWith(browserA), user)
		require.NoError(t, err)
		assert.True(t, result.Revoked)
		assert.NoError(t, result.RevokeErr)

		other, err := m.Current(requestWith(browserB))
		require.NoError(t, err)
		assert.Nil(t, other)
	})
}

func TestRequireUser(t *testing.T) {
	m, p := newManager(t)
	p.AddUser("ana@example.com", "secret1")
	require.NoError(t, m.Init(context.Background()))

	var seen *auth.User
	h := m.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, auth.SignInPath, rec.Header().Get("Location"))
	assert.Nil(t, seen)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestWith(signIn(t, m, p, "ana@example.com", "secret1")))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ana@example.com", seen.Email)

	// session and bearer clients both get 503 while verification is down
	seen = nil
	p.VerifyUnavailable = true
	for _, req := range []*http.Request{
		requestWith(signIn(t, m, p, "ana@example.com", "secret1")),
		httptest.NewRequest(http.MethodGet, "/", nil),
	} {
		if req.Header.Get("Cookie") == "" {
			req.Header.Set("Authorization", "Bearer "+p.IDToken("ana@example.com"))
		}
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Nil(t, seen)
	}
}

func TestCredentialOperations(t *testing.T) {
	p := authtest.NewProvider()
	ctx := context.Background()

	cred, err := auth.SignUp(ctx, p, "bo@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "bo@example.com", cred.User.Email)

	cred, err = auth.SignUp(ctx, p, "bo@example.com", "secret1")
	assert.Nil(t, cred)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	cred, err = auth.SignIn(ctx, p, "bo@example.com", "wrong")
	assert.Nil(t, cred)
	assert.True(t, apperr.Is(err, apperr.KindAuth))

	cred, err = auth.SignIn(ctx, p, "bo@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, cred.IDToken)
	assert.Equal(t, 2, p.SignInCalls)
	assert.Equal(t, 2, p.SignUpCalls)
}
