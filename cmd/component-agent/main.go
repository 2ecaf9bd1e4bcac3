package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/eyeconictv/common-component/internal/analytics"
	"github.com/eyeconictv/common-component/internal/bus"
	"github.com/eyeconictv/common-component/internal/config"
	"github.com/eyeconictv/common-component/internal/events"
	"github.com/eyeconictv/common-component/internal/filewatch"
	"github.com/eyeconictv/common-component/internal/licensing"
	"github.com/eyeconictv/common-component/internal/playlist"
	"github.com/eyeconictv/common-component/internal/verdictcache"
)

var (
	errNoConnection       = errors.New("message bus unavailable")
	errModulesUnavailable = errors.New("required modules unavailable")
)

type agentOptions struct {
	watch    []string
	fileType filewatch.FileType
}

func main() {
	configPath := pflag.String("config", envOrDefault("COMPONENT_CONFIG", ""), "YAML config file")
	busURL := pflag.String("bus-url", "", "message bus URL")
	companyID := pflag.String("company-id", "", "company id used for licensing; empty asks the licensing peer")
	cacheDSN := pflag.String("cache-dsn", "", "verdict cache DSN (file path, memory://, postgres://)")
	channel := pflag.String("channel", "", "licensing channel when no company id is set (storage|rpp)")
	watch := pflag.StringSlice("watch", nil, "paths to watch once authorized; folders end in /")
	fileType := pflag.String("file-type", envOrDefault("COMPONENT_FILE_TYPE", ""), "restrict watched files to image or video")
	logLevel := pflag.String("log-level", "", "log level")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	applyFlag(&cfg.Bus.URL, *busURL)
	applyFlag(&cfg.Component.CompanyID, *companyID)
	applyFlag(&cfg.Cache.DSN, *cacheDSN)
	applyFlag(&cfg.Licensing.Channel, *channel)
	applyFlag(&cfg.LogLevel, *logLevel)
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid config: %v", err)
	}
	filter, err := filewatch.ParseFileType(*fileType)
	if err != nil {
		logrus.Fatalf("invalid --file-type: %v", err)
	}

	logger := newLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = runAgent(ctx, cfg, agentOptions{watch: *watch, fileType: filter}, os.Stdout, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Fatal("component agent stopped")
	}
}

func runAgent(ctx context.Context, cfg *config.Config, opts agentOptions, out io.Writer, logger *logrus.Logger) error {
	client, err := bus.NewWSClient(bus.WSClientOptions{
		URL:        cfg.Bus.URL,
		ClientName: cfg.Bus.ClientName,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Connect(ctx); err != nil {
		logger.WithError(err).Warn("message bus connect failed")
	} else {
		go func() {
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrClientClosed) {
				logger.WithError(err).Warn("message bus stopped")
			}
		}()
	}

	store, err := verdictcache.BuildStoreFromDSN(cfg.Cache.DSN)
	if err != nil {
		return fmt.Errorf("verdict cache: %w", err)
	}
	reporter := analytics.New(client, analytics.Config{
		ProjectName:     cfg.Analytics.ProjectName,
		DatasetName:     cfg.Analytics.DatasetName,
		FailedEntryFile: cfg.Analytics.FailedEntryFile,
		Table:           cfg.Analytics.Table,
		ComponentName:   cfg.Component.Name,
	}, analytics.Context{
		DisplayID:        cfg.Component.DisplayID,
		CompanyID:        cfg.Component.CompanyID,
		ComponentVersion: cfg.Component.Version,
	}, logger)

	var checker licensing.Checker
	if strings.TrimSpace(cfg.Component.CompanyID) != "" {
		httpChecker := licensing.NewHTTPChecker(cfg.AuthBaseURL(), cfg.Licensing.PartnerCode, &http.Client{Timeout: cfg.Licensing.HTTPTimeout})
		httpChecker.SetMaxRetries(cfg.Licensing.MaxRetries)
		checker = httpChecker
	}
	channel, err := licensing.ParseChannel(cfg.Licensing.Channel)
	if err != nil {
		return err
	}

	stream := events.NewStream()
	defer stream.Close()
	resolver, err := licensing.NewResolver(client, stream, licensing.Options{
		Identity:            cfg.Component.CompanyID,
		Channel:             channel,
		Store:               store,
		Namespace:           cfg.Cache.Namespace,
		TTL:                 cfg.Cache.TTL,
		Checker:             checker,
		CheckTimeout:        cfg.Licensing.CheckTimeout,
		NegotiationInterval: cfg.Licensing.NegotiationInterval,
		NegotiationAttempts: cfg.Licensing.NegotiationAttempts,
		Announce:            cfg.Licensing.Announce,
		Logger:              logger,
		Reporter:            reporter,
	})
	if err != nil {
		return err
	}
	defer resolver.Close()

	printer := &jsonPrinter{encoder: json.NewEncoder(out)}
	notifier := playlist.NewNotifier(printer, reporter, playlist.Options{Logger: logger})
	defer notifier.ClearDoneTimeout()

	tracker, err := filewatch.NewTracker(client, resolver, stream, filewatch.Options{
		RequiredPeers:     cfg.Bus.RequiredPeers,
		DiscoveryInterval: cfg.Bus.DiscoveryInterval,
		DiscoveryAttempts: cfg.Bus.DiscoveryAttempts,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	defer tracker.Close()

	ready := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-stream.C():
			if !ok {
				return nil
			}
			printer.print(event)
			switch event.Kind {
			case events.KindNoConnection:
				return errNoConnection
			case events.KindRequiredModulesUnavailable:
				return errModulesUnavailable
			case events.KindAuthorized:
				notifier.EmitReadyForEvents()
				tracker.WatchFiles(opts.fileType, opts.watch...)
			case events.KindUnauthorized:
				notifier.EmitDone()
			case events.KindFileAvailable:
				if !ready {
					ready = true
					notifier.EmitReady()
				}
			}
		}
	}
}

// jsonPrinter writes one JSON document per line. It doubles as the playlist
// item so lifecycle calls show up alongside events.
type jsonPrinter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *jsonPrinter) print(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.encoder.Encode(v)
}

func (p *jsonPrinter) CallReady()      { p.print(map[string]string{"playlist": "ready"}) }
func (p *jsonPrinter) CallDone()       { p.print(map[string]string{"playlist": "done"}) }
func (p *jsonPrinter) CallRSParamGet() { p.print(map[string]string{"playlist": "ready-for-events"}) }

func newLogger(cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.Level())
	return logger
}

func applyFlag(target *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*target = value
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
