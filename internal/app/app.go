package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/composr-connector/internal/dispatch"
	"github.com/florianilch/composr-connector/internal/lifecycle"
	"github.com/florianilch/composr-connector/internal/proxy"
	"github.com/florianilch/composr-connector/internal/tokenstore"
)

// App wires storage, credentials and dispatch, and runs the local proxy.
type App struct {
	cfg     *Config
	baseURL string

	store      *tokenstore.Store
	lifecycle  *lifecycle.Lifecycle
	dispatcher *dispatch.Dispatcher
	proxy      *proxy.Proxy

	closers []io.Closer
}

// New creates a new App instance. Only storage backends that need a connection perform I/O.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	baseURL, err := cfg.API.ResolveBaseURL()
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, baseURL: baseURL}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	a.store, err = a.newStore(ctx, jar)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	httpTransport := newTransport(cfg.API, jar)

	authClient, err := newAuthClient(baseURL, cfg, httpTransport)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}

	a.lifecycle, err = lifecycle.New(a.store, authClient,
		lifecycle.WithAuthOptions(defaultAuthOptions(cfg.Auth)),
		lifecycle.WithClockSkew(cfg.Auth.ClockSkew),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create auth lifecycle: %w", err)
	}

	a.dispatcher, err = dispatch.New(a.lifecycle, baseURL,
		dispatch.WithTransport(httpTransport),
		dispatch.WithEndpoints(cfg.API.Endpoints),
	)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a.proxy, err = proxy.New(&dispatch.RoundTripper{
		Tokens: a.lifecycle,
		Base:   httpTransport.RoundTripper(),
	}, baseURL, a.lifecycle)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return a, nil
}

// Lifecycle returns the credential lifecycle.
func (a *App) Lifecycle() *lifecycle.Lifecycle {
	return a.lifecycle
}

// Dispatcher returns the authenticated request dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Store returns the two-tier token store.
func (a *App) Store() *tokenstore.Store {
	return a.store
}

// BaseURL returns the resolved API base URL.
func (a *App) BaseURL() string {
	return a.baseURL
}

// Close releases storage connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Start initializes the session, starts the proxy and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	if err := a.lifecycle.Init(ctx); err != nil {
		// Client tokens are retried lazily on the first proxied request
		slog.WarnContext(ctx, "initial client login failed", "error", err)
	}
	slog.InfoContext(ctx, "session initialized", "authenticated", a.lifecycle.Authenticated())

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "upstream", a.baseURL)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if err := a.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing storage: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// newStore builds both tiers and the store that merges them.
func (a *App) newStore(ctx context.Context, jar http.CookieJar) (*tokenstore.Store, error) {
	durable, err := a.newBackend(ctx, a.cfg.Storage.Durable)
	if err != nil {
		return nil, fmt.Errorf("durable tier: %w", err)
	}
	session, err := a.newBackend(ctx, a.cfg.Storage.Session)
	if err != nil {
		return nil, fmt.Errorf("session tier: %w", err)
	}

	var opts []tokenstore.StoreOption
	if len(a.cfg.Auth.Cookies) > 0 {
		cookieURL, err := url.Parse(a.baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid cookie URL: %w", err)
		}
		opts = append(opts, tokenstore.WithCookies(jar, cookieURL, a.cfg.Auth.Cookies...))
	}

	return tokenstore.NewStore(durable, session, opts...)
}

// newBackend creates the backend for one tier. Connections are registered for Close.
func (a *App) newBackend(ctx context.Context, cfg StorageTierConfig) (tokenstore.Backend, error) {
	switch cfg.Type {
	case StorageTypeMemory:
		return tokenstore.NewMemoryBackend(), nil
	case StorageTypeFile:
		return tokenstore.NewFileBackend(cfg.File)
	case StorageTypeKeyring:
		return tokenstore.NewKeyringBackend(cfg.KeyringService)
	case StorageTypeEnv:
		return tokenstore.NewEnvBackend(cfg.EnvPrefix)
	case StorageTypeRedis:
		backend, err := tokenstore.NewRedisBackend(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend)
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
