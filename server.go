package contactcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/klipach/contactcast/auth"
	"github.com/klipach/contactcast/config"
	"github.com/klipach/contactcast/contact"
	"github.com/klipach/contactcast/log"
	"github.com/klipach/contactcast/page"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

const (
	ErrorMsgLogField = "errorMsg"
	methodLogField   = "method"
	pathLogField     = "path"
	attemptLogField  = "attempt"

	traceHeader   = "X-Cloud-Trace-Context"
	initRetryWait = time.Second
)

// Server is the wired application: session manager, contact client, page
// handlers and the resources they hold.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	manager *auth.Manager
	pages   *page.Pages
	handler http.Handler
	closers []func() error
	done    chan struct{}
	once    sync.Once
}

type Option func(*options)

type options struct {
	connect auth.ConnectFunc
	store   contact.Store
	states  page.StateStore
}

// WithConnect replaces the Firebase provider, e.g. with authtest in tests.
func WithConnect(fn auth.ConnectFunc) Option {
	return func(o *options) { o.connect = fn }
}

func WithStore(store contact.Store) Option {
	return func(o *options) { o.store = store }
}

func WithStateStore(states page.StateStore) Option {
	return func(o *options) { o.states = states }
}

func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{cfg: cfg, done: make(chan struct{})}

	logger, err := s.newLogger(ctx)
	if err != nil {
		return nil, fmt.Errorf("error while creating logger: %w", err)
	}
	s.logger = logger
	ctx = log.WithLogger(ctx, logger)

	if o.store == nil {
		if o.store, err = s.newStore(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("error while opening contact store: %w", err)
		}
	}
	if o.states == nil {
		if o.states, err = s.newStateStore(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("error while opening state store: %w", err)
		}
	}
	if o.connect == nil {
		o.connect = s.connectFirebase
	}

	cookies := sessions.NewCookieStore([]byte(cfg.Session.Secret))
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Firebase.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	}

	s.manager = auth.NewManager(o.connect, cookies, cfg.Firebase.SessionTTL,
		auth.WithRevokeOnLogout(cfg.Session.RevokeOnLogout),
	)
	contacts := contact.NewClient(o.store, cfg.Contacts.Limit, dispatchMode(cfg.Dispatch.Mode))
	pages, err := page.New(s.manager, contacts, o.states, cookies)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error while parsing templates: %w", err)
	}
	s.pages = pages

	r := mux.NewRouter()
	r.Use(s.requestLogger)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	gated := r.NewRoute().Subrouter()
	gated.Use(s.manager.Gate)
	pages.Register(gated)
	s.handler = r

	go s.initManager(ctx)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Ready reports whether the identity provider is connected.
func (s *Server) Ready() bool {
	return !s.manager.Loading()
}

// Close releases stores and log clients in reverse order of creation.
func (s *Server) Close() error {
	s.once.Do(func() { close(s.done) })
	if s.pages != nil {
		s.pages.Close()
	}
	if s.manager != nil {
		s.manager.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// initManager retries until the provider connects or the server goes away.
// Until then every page answers with the loading placeholder.
func (s *Server) initManager(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		err := s.manager.Init(ctx)
		if err == nil {
			return
		}
		s.logger.Error("error while connecting identity provider",
			slog.Int(attemptLogField, attempt),
			slog.String(ErrorMsgLogField, err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-time.After(initRetryWait):
		}
	}
}

func (s *Server) connectFirebase(ctx context.Context) (auth.Provider, error) {
	return auth.NewFirebaseProvider(ctx, auth.FirebaseConfig{
		ProjectID:          s.cfg.Firebase.ProjectID,
		APIKey:             s.cfg.Firebase.APIKey,
		CredentialsFile:    s.cfg.Firebase.CredentialsFile,
		IdentityToolkitURL: s.cfg.Firebase.IdentityToolkitURL,
	})
}

func (s *Server) newLogger(ctx context.Context) (*slog.Logger, error) {
	level := log.ParseLevel(s.cfg.Logging.Level)
	if s.cfg.Logging.Sink != config.SinkCloud {
		return slog.New(log.NewCloudLoggingHandlerTo(os.Stdout, level)), nil
	}
	h, closeFn, err := log.NewClientHandler(ctx, s.cfg.Firebase.ProjectID, s.cfg.Logging.LogID, level)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeFn)
	return slog.New(h), nil
}

func (s *Server) newStore(ctx context.Context) (contact.Store, error) {
	store, closeFn, err := OpenStore(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, closeFn)
	return store, nil
}

// OpenStore opens the contact store selected by store.driver. The returned
// function releases its connections.
func OpenStore(ctx context.Context, cfg *config.Config) (contact.Store, func() error, error) {
	limit := 0
	if cfg.Contacts.EnforceLimit {
		limit = cfg.Contacts.Limit
	}

	switch cfg.Store.Driver {
	case config.StorePostgres:
		db, err := contact.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := contact.NewPostgresStore(db, limit)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db.Close, nil
	case config.StoreMemory:
		return contact.NewMemoryStore(limit), func() error { return nil }, nil
	default:
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		client, err := firestore.NewClient(ctx, cfg.Firebase.ProjectID, opts...)
		if err != nil {
			return nil, nil, err
		}
		return contact.NewFirestoreStore(client, limit), client.Close, nil
	}
}

func (s *Server) newStateStore(ctx context.Context) (page.StateStore, error) {
	if s.cfg.State.Driver != config.StateRedis {
		return page.NewMemoryStateStore(s.cfg.State.TTL), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.State.RedisAddress,
		Password: s.cfg.State.RedisPassword,
		DB:       s.cfg.State.RedisDB,
	})
	s.closers = append(s.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return page.NewRedisStateStore(client, s.cfg.State.TTL), nil
}

func dispatchMode(mode string) contact.Mode {
	if mode == config.DispatchAtomic {
		return contact.Atomic
	}
	return contact.BestEffort
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	if s.manager.Loading() {
		http.Error(w, "loading", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// requestLogger puts a logger carrying the request's trace into the context.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if trace := log.TraceFromHeader(s.cfg.Firebase.ProjectID, r.Header.Get(traceHeader)); trace != "" {
			ctx = log.WithTraceID(ctx, trace)
		}
		logger := s.logger.With(
			slog.String(methodLogField, r.Method),
			slog.String(pathLogField, r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(log.WithLogger(ctx, logger)))
	})
}
