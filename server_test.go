package contactcast

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/auth/authtest"
	"github.com/klipach/contactcast/config"
	"github.com/klipach/contactcast/contact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "contactcast", Port: "0"},
		Firebase: config.FirebaseConfig{ProjectID: "demo", APIKey: "key", SessionTTL: time.Hour},
		Session:  config.SessionConfig{Secret: "0123456789abcdef0123456789abcdef"},
		Store:    config.StoreConfig{Driver: config.StoreMemory},
		Contacts: config.ContactsConfig{Limit: 5, EnforceLimit: true},
		Dispatch: config.DispatchConfig{Mode: config.DispatchBestEffort},
		State:    config.StateConfig{Driver: config.StateMemory, TTL: time.Hour},
		Logging:  config.LoggingConfig{Level: "error", Sink: config.SinkStdout},
	}
}

func newTestServer(t *testing.T, connect auth.ConnectFunc) *Server {
	t.Helper()
	s, err := NewServer(context.Background(), testConfig(), WithConnect(connect))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerBecomesReady(t *testing.T) {
	provider := authtest.NewProvider()
	s := newTestServer(t, func(context.Context) (auth.Provider, error) { return provider, nil })

	require.Eventually(t, s.Ready, time.Second, 10*time.Millisecond)
	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, s, "/signIn")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Login")
}

func TestServerRetriesConnect(t *testing.T) {
	provider := authtest.NewProvider()
	var calls atomic.Int32
	s := newTestServer(t, func(context.Context) (auth.Provider, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("metadata server unreachable")
		}
		return provider, nil
	})

	rec := get(t, s, "/signIn")
	if !s.Ready() {
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "Loading...")
		assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/healthz").Code)
	}

	require.Eventually(t, s.Ready, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.Equal(t, http.StatusOK, get(t, s, "/signIn").Code)
}

func TestServerMetrics(t *testing.T) {
	provider := authtest.NewProvider()
	s := newTestServer(t, func(context.Context) (auth.Provider, error) { return provider, nil })
	require.Eventually(t, s.Ready, time.Second, 10*time.Millisecond)

	form := url.Values{"email": {"nobody@example.com"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/signIn", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(traceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `contactcast_operations_total{op="signIn",outcome="failure"}`)
}

func TestServerUsesInjectedStore(t *testing.T) {
	provider := authtest.NewProvider()
	provider.AddUser("ada@example.com", "s3cret-pass")
	store := contact.NewMemoryStore(0)
	_, err := store.CreateContact(context.Background(), contact.Contact{Name: "Grace"})
	require.NoError(t, err)

	s, err := NewServer(context.Background(), testConfig(),
		WithConnect(func(context.Context) (auth.Provider, error) { return provider, nil }),
		WithStore(store),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.Eventually(t, s.Ready, time.Second, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+provider.IDToken("ada@example.com"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Grace")
}

func TestDispatchMode(t *testing.T) {
	assert.Equal(t, contact.Atomic, dispatchMode(config.DispatchAtomic))
	assert.Equal(t, contact.BestEffort, dispatchMode(config.DispatchBestEffort))
	assert.Equal(t, contact.BestEffort, dispatchMode(""))
}
