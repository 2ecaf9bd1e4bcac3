package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/eyeconictv/common-component/internal/config"
	"github.com/eyeconictv/common-component/internal/host"
)

func main() {
	configPath := pflag.String("config", envOrDefault("COMPONENT_CONFIG", ""), "YAML config file")
	listen := pflag.String("listen", "", "listen address")
	storageRoot := pflag.String("storage-root", "", "directory served by the local-storage peer")
	unauthorized := pflag.Bool("unauthorized", false, "make the licensing peer refuse every request")
	companies := pflag.StringSlice("authorized-company", nil, "company id accepted by /v1/widget/auth (repeatable)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	if value := strings.TrimSpace(*listen); value != "" {
		cfg.Host.Listen = value
	}
	if value := strings.TrimSpace(*storageRoot); value != "" {
		cfg.Host.StorageRoot = value
	}
	if *unauthorized {
		cfg.Host.LicensingAuthorized = false
	}
	if len(*companies) > 0 {
		cfg.Host.AuthorizedCompanies = *companies
	}
	if strings.TrimSpace(cfg.Host.StorageRoot) == "" {
		logrus.Fatalf("storage root is required (--storage-root or COMPONENT_HOST_STORAGE_ROOT)")
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("host stopped")
	}
}

type devHost struct {
	hub       *host.Hub
	licensing *host.LicensingPeer
	storage   *host.StoragePeer
	handler   http.Handler
}

func newDevHost(cfg *config.Config, logger logrus.FieldLogger) (*devHost, error) {
	hub := host.NewHub(host.HubOptions{Logger: logger})
	licensingPeer, err := host.NewLicensingPeer(hub, cfg.Host.LicensingAuthorized, logger)
	if err != nil {
		hub.Close()
		return nil, err
	}
	storagePeer, err := host.NewStoragePeer(hub, cfg.Host.StorageRoot, logger)
	if err != nil {
		_ = licensingPeer.Close()
		hub.Close()
		return nil, err
	}
	api := host.NewAuthAPI(host.AuthAPIConfig{
		AuthorizedCompanies: cfg.Host.AuthorizedCompanies,
		PartnerCode:         cfg.Licensing.PartnerCode,
		RateLimitMax:        cfg.Host.AuthRateLimit,
		Logger:              logger,
	})
	return &devHost{
		hub:       hub,
		licensing: licensingPeer,
		storage:   storagePeer,
		handler:   newMux(hub, api),
	}, nil
}

func (h *devHost) Close() {
	_ = h.storage.Close()
	_ = h.licensing.Close()
	h.hub.Close()
}

func newMux(hub http.Handler, api http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/messaging", hub)
	mux.Handle("/", api)
	return mux
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	dev, err := newDevHost(cfg, logger)
	if err != nil {
		return err
	}
	defer dev.Close()

	server := &http.Server{
		Addr:              cfg.Host.Listen,
		Handler:           dev.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.Host.Listen, "root": dev.storage.Root()}).Info("component host listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dev.hub.Close()
	return server.Shutdown(shutdownCtx)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
