package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/complylens/complylens/internal/audit"
	"github.com/complylens/complylens/internal/cache"
	"github.com/complylens/complylens/internal/compliance"
	"github.com/complylens/complylens/internal/config"
	"github.com/complylens/complylens/internal/evidence"
	"github.com/complylens/complylens/internal/metrics"
	"github.com/complylens/complylens/internal/policy"
	"github.com/complylens/complylens/internal/registry"
	"github.com/complylens/complylens/internal/resolve"
	"github.com/complylens/complylens/internal/trend"
)

// app bundles the wired subsystems one CLI invocation needs.
type app struct {
	cfg      config.Config
	resolver *resolve.Resolver
	service  *compliance.Service
	sampler  *trend.Sampler
}

// runApp loads config, wires the registry client and its consumers, starts
// the metrics listener, and invokes fn under a signal-aware context. The
// listener shuts down when fn returns or on SIGINT/SIGTERM.
func runApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, err := resolveAccessToken(cmd, cfg.RegistryAccessToken)
	if err != nil {
		return err
	}

	client, err := registry.New(cfg.RegistryBaseURL, registry.Session{
		TenantID:    cfg.RegistryTenantID,
		AccessToken: token,
	}, audit.NewLogSink(slog.Default()))
	if err != nil {
		return err
	}
	client.HTTP = &http.Client{Timeout: cfg.RequestTimeout}

	store := cache.NewMemory()
	resolver := resolve.New(client, store, cfg.RegistryTenantID, cfg.CatalogTTL)
	required := policy.New(client, resolver)
	controls := policy.NewControlCatalog(client, store, cfg.RegistryTenantID, cfg.ControlsTTL)
	engine := evidence.New(client, resolver, cfg.EvidenceFetchWorkers)
	service := compliance.NewService(resolver, required, engine, controls, store, cfg.RegistryTenantID, cfg.SnapshotTTL)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, metricsErr := metrics.StartServer(ctx, cfg.MetricsAddr)

	runErr := fn(ctx, &app{
		cfg:      cfg,
		resolver: resolver,
		service:  service,
		sampler:  trend.New(engine),
	})

	select {
	case err := <-metricsErr:
		if runErr == nil {
			runErr = err
		}
	default:
	}
	return runErr
}

// resolveAccessToken falls back to an interactive prompt when the environment
// does not carry a token and stdin is a terminal.
func resolveAccessToken(cmd *cobra.Command, fromEnv string) (string, error) {
	if fromEnv != "" {
		return fromEnv, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("REGISTRY_ACCESS_TOKEN is required")
	}

	cmd.PrintErr("Registry access token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.PrintErrln()
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", errors.New("access token is empty")
	}
	return string(raw), nil
}
