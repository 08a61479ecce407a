package pointwallet

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	walletinterfaces "github.com/kaigoh/pointwallet/wallet_interfaces"
	"github.com/kaigoh/pointwallet/wallet_interfaces/grpcwallet"
	"github.com/kaigoh/pointwallet/wallet_interfaces/httpwallet"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const VERSION = 0

const (
	bootstrapRetry = 5 * time.Second
	gcInterval     = time.Minute
)

var defaultConfig = &Config{
	Listen: "127.0.0.1:7410",
	Logging: LoggingConfig{
		Level:  "info",
		Format: LogFormatText,
	},
	RateLimit: RateLimitConfig{
		Enabled:           boolPtr(true),
		RequestsPerMinute: 120,
		Burst:             20,
	},
	Auth: AuthConfig{
		MaxAgeSeconds: 300,
	},
	Backend: BackendConfig{
		Type:           BackendTypeInternal,
		TimeoutSeconds: 10,
		InitialBalance: "100",
	},
	Transfer: TransferConfig{
		Destination: "0xC01011611e3501C6b3F6dC4B6d3FE644d21aB301",
	},
	State: StateConfig{
		Path: "pointwallet.db",
	},
}

// Server exposes the command surface and event stream over HTTP.
type Server struct {
	store   *ConfigStore
	coord   *Coordinator
	hub     *Hub
	surface *CommandSurface
	limiter *rateLimiter
}

func NewServer(store *ConfigStore, coord *Coordinator, hub *Hub) *Server {
	return &Server{
		store:   store,
		coord:   coord,
		hub:     hub,
		surface: NewCommandSurface(coord),
		limiter: newRateLimiter(store),
	}
}

// openBackend returns the configured backend and a func releasing it.
func openBackend(cfg BackendConfig) (walletinterfaces.Backend, func() error, error) {
	switch cfg.Type {
	case BackendTypeInternal:
		initial, err := decimal.NewFromString(cfg.InitialBalance)
		if err != nil {
			return nil, nil, err
		}
		ledger, err := newInternalLedgerGRPC(initial)
		if err != nil {
			return nil, nil, err
		}
		return withTimeout(ledger.Backend(), cfg.Timeout()), ledger.Close, nil
	case BackendTypeGRPC:
		client := grpcwallet.NewClient(cfg.Address)
		return withTimeout(client, cfg.Timeout()), client.Close, nil
	case BackendTypeHTTP:
		return httpwallet.NewClient(cfg.Address, cfg.Timeout()), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unsupported backend type %q", cfg.Type)
}

func Run(configPath string) error {
	if configPath == "" {
		configPath = "config.yml"
	}

	cfg, err := LoadOrCreateConfig(configPath, defaultConfig)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	InitLogger(cfg.Logging)
	slog.Info("config loaded", "path", configPath, "listen", cfg.Listen, "backend", cfg.Backend.Type)

	store := NewConfigStore(configPath, cfg)
	if err := ensureAuthSecret(store); err != nil {
		slog.Error("auth secret generation failed", "error", err)
		return err
	}
	if store.Get().Auth.Secret == "" {
		slog.Warn("command surface is unauthenticated", "listen", cfg.Listen)
	}

	db, err := OpenStore(cfg.State)
	if err != nil {
		slog.Error("state store failed to open", "path", cfg.State.Path, "error", err)
		return err
	}
	defer db.Close()

	backend, closeBackend, err := openBackend(cfg.Backend)
	if err != nil {
		slog.Error("wallet backend failed to start", "type", cfg.Backend.Type, "error", err)
		return err
	}
	defer closeBackend()

	hub := NewHub()
	coord := NewCoordinator(CoordinatorDeps{
		Backend:     backend,
		Settings:    db,
		History:     db,
		Dialog:      NewHubPresenter(hub),
		Notifier:    hub,
		Destination: cfg.Transfer.Destination,
	})

	watcher, err := WatchConfigFile(configPath, store)
	if err != nil {
		slog.Error("config watcher failed to start", "path", configPath, "error", err)
		return err
	}
	defer watcher.Close()
	slog.Info("config watcher started", "path", configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(store, coord, hub).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("command server listening", "addr", s.Addr)
		if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return db.RunGC(ctx, gcInterval)
	})

	g.Go(func() error {
		return bootstrapUntilReady(ctx, coord, bootstrapRetry)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server exited", "error", err)
		return err
	}
	slog.Info("server stopped")
	return nil
}

// ensureAuthSecret generates and persists a command secret when the surface
// listens beyond loopback without one.
func ensureAuthSecret(store *ConfigStore) error {
	cfg := store.Get()
	if cfg.Auth.Secret != "" || isLoopbackListen(cfg.Listen) {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	if err := store.Update(func(c *Config) error {
		c.Auth.Secret = base64.RawURLEncoding.EncodeToString(buf)
		return nil
	}); err != nil {
		return err
	}
	slog.Info("auth secret generated", "listen", cfg.Listen, "hint", "pointwallet token --config <path>")
	return nil
}

func isLoopbackListen(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// bootstrapUntilReady retries wallet bootstrap and the initial address load
// until both succeed or ctx ends. The backend is often started alongside us.
func bootstrapUntilReady(ctx context.Context, coord *Coordinator, every time.Duration) error {
	for {
		err := coord.Bootstrap(ctx)
		if err == nil {
			if coord.GetAddress() != "" {
				return nil
			}
			err = coord.LoadAccount(ctx)
			if err == nil {
				return nil
			}
		}
		slog.Warn("wallet not ready, retrying", "in", every, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

// timeoutBackend bounds every backend call, including submissions whose
// caller context is detached from cancellation.
type timeoutBackend struct {
	next    walletinterfaces.Backend
	timeout time.Duration
}

func withTimeout(b walletinterfaces.Backend, d time.Duration) walletinterfaces.Backend {
	if d <= 0 {
		return b
	}
	return &timeoutBackend{next: b, timeout: d}
}

func (b *timeoutBackend) GenerateCredentials(ctx context.Context) (walletinterfaces.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.GenerateCredentials(ctx)
}

func (b *timeoutBackend) FetchAddress(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.FetchAddress(ctx, token)
}

func (b *timeoutBackend) FetchAccountHash(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.FetchAccountHash(ctx, token)
}

func (b *timeoutBackend) FetchBalance(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.FetchBalance(ctx, token)
}

func (b *timeoutBackend) SubmitTransfer(ctx context.Context, token, destination, amount string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.next.SubmitTransfer(ctx, token, destination, amount)
}
