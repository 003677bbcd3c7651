package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/workshop-mailer/internal/api"
	"github.com/ignite/workshop-mailer/internal/config"
	"github.com/ignite/workshop-mailer/internal/mail"
	"github.com/ignite/workshop-mailer/internal/mailing"
	"github.com/ignite/workshop-mailer/internal/pkg/distlock"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/routing"
	"github.com/ignite/workshop-mailer/internal/service/distribution"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
	"github.com/ignite/workshop-mailer/internal/storage"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is already in use: %w", addr, err)
	}
	return ln.Close()
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := checkPortAvailable(cfg.Server.Addr()); err != nil {
		return fmt.Errorf("pre-flight check: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("storage initialized", "backend", cfg.Storage.Backend)

	gateway, err := newGateway(ctx, cfg.Mail)
	if err != nil {
		return err
	}
	logger.Info("mail gateway initialized", "provider", cfg.Mail.Provider)

	userOpts := []users.Option{}
	if cfg.Notifications.On() {
		templates := mailing.NewTemplateService(cfg.Notifications.TemplateDir)
		if err := templates.Validate(); err != nil {
			return fmt.Errorf("notification templates: %w", err)
		}
		userOpts = append(userOpts, users.WithNotifier(mailing.NewNotifier(templates, gateway)))
	}

	resolver := routing.NewResolver(cfg.Inbound.RoutingDomain)
	engineOpts := []distribution.Option{
		distribution.WithResolver(resolver),
		distribution.WithLocker(distlock.NewFactory(store.redis, store.db), cfg.Inbound.DedupTTL()),
	}
	archive, err := newArchive(ctx, cfg.Inbound)
	if err != nil {
		return err
	}
	if archive != nil {
		engineOpts = append(engineOpts, distribution.WithArchive(storage.NewInbound(archive, cfg.Inbound.ArchivePrefix)))
	}

	health := api.NewHealthChecker()
	for _, c := range store.checks {
		health.Add(c.name, c.slowAfter, c.check)
	}

	server := api.NewServer(cfg.Server, api.Deps{
		Users:     users.NewService(store.users, userOpts...),
		Workshops: workshops.NewService(store.workshops, resolver),
		Engine:    distribution.NewEngine(store.users, store.workshops, gateway, engineOpts...),
		Health:    health,
		Inbound:   cfg.Inbound,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-done:
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func newGateway(ctx context.Context, cfg config.MailConfig) (mail.Gateway, error) {
	from := mail.Sender{Name: cfg.FromName, Address: cfg.FromAddress}
	switch cfg.Provider {
	case config.ProviderMailgun:
		return mail.NewMailgunGateway(cfg.Mailgun, from), nil
	case config.ProviderSES:
		gw, err := mail.NewSESGateway(ctx, cfg.SES, from)
		if err != nil {
			return nil, fmt.Errorf("ses gateway: %w", err)
		}
		return gw, nil
	default:
		return mail.NewLogGateway(), nil
	}
}

// newArchive returns nil when inbound mail is not archived.
func newArchive(ctx context.Context, cfg config.InboundConfig) (storage.Archive, error) {
	switch {
	case cfg.ArchiveBucket != "":
		a, err := storage.NewS3Archive(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion, cfg.ArchiveProfile, cfg.ArchiveEndpoint)
		if err != nil {
			return nil, fmt.Errorf("inbound archive: %w", err)
		}
		logger.Info("inbound archive on S3", "bucket", cfg.ArchiveBucket)
		return a, nil
	case cfg.ArchiveDir != "":
		a, err := storage.NewLocal(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("inbound archive: %w", err)
		}
		logger.Info("inbound archive on disk", "dir", cfg.ArchiveDir)
		return a, nil
	default:
		return nil, nil
	}
}

