package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/bus"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/config"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/imds"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/monitor"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/ops"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/internal/webhook"
	"github.com/leachandryan/cloudflare-spot-manager-for-azure/pkg/telemetry"
)

const serviceName = "spot-agent"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath   string
		webhookURL   string
		apiKey       string
		intervalSec  int
		heartbeatSec int
		opsAddr      string
		logFile      string
		natsURL      string
		dedupTTLSec  int
	)

	cmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Monitor an Azure spot VM for eviction notices and notify a webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// Flags win over environment and file.
			flags := cmd.Flags()
			if flags.Changed("webhook") {
				cfg.WebhookURL = webhookURL
			}
			if flags.Changed("api-key") {
				cfg.APIKey = apiKey
			}
			if flags.Changed("interval") {
				cfg.CheckInterval = time.Duration(intervalSec) * time.Second
			}
			if flags.Changed("heartbeat") {
				cfg.HeartbeatInterval = time.Duration(heartbeatSec) * time.Second
			}
			if flags.Changed("ops-addr") {
				cfg.OpsAddr = opsAddr
			}
			if flags.Changed("log-file") {
				cfg.LogFile = logFile
			}
			if flags.Changed("nats-url") {
				cfg.NATSURL = natsURL
			}
			if flags.Changed("dedup-ttl") {
				cfg.DedupTTL = time.Duration(dedupTTLSec) * time.Second
			}

			// No monitoring without credentials.
			if err := cfg.Validate(); err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to an optional YAML configuration file")
	cmd.Flags().StringVar(&webhookURL, "webhook", config.DefaultWebhookURL, "Webhook URL to notify")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Webhook API key (or "+config.EnvAPIKey+")")
	cmd.Flags().IntVar(&intervalSec, "interval", int(config.DefaultCheckInterval/time.Second), "Check interval in seconds")
	cmd.Flags().IntVar(&heartbeatSec, "heartbeat", int(config.DefaultHeartbeatInterval/time.Second), "Heartbeat interval in seconds")
	cmd.Flags().StringVar(&opsAddr, "ops-addr", "", "Listen address for health and metrics endpoints (empty disables)")
	cmd.Flags().StringVar(&logFile, "log-file", config.DefaultLogFile, "Log file path (empty disables the file sink)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS endpoint for publishing detected events (empty disables)")
	cmd.Flags().IntVar(&dedupTTLSec, "dedup-ttl", 0, "Seconds before processed events expire from the dedup set (0 keeps them forever)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO starting azure spot VM monitor")
	logger.Printf("INFO webhook URL: %s", cfg.WebhookURL)

	meta := imds.NewClient(cfg.MetadataEndpoint)
	sender := webhook.NewSender(cfg.WebhookURL, cfg.APIKey, telemetry.Transport(nil), logger)
	tracker := monitor.NewTracker(cfg.DedupTTL)
	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	opts := monitor.Options{
		CheckInterval:     cfg.CheckInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}

	if cfg.NATSURL != "" {
		pub, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			// The bus is a diagnostic feed; losing it must not stop
			// eviction monitoring.
			logger.Printf("WARN event bus unavailable, continuing without it: %v", err)
		} else {
			defer pub.Close()
			opts.Publisher = pub
		}
	}

	mon := monitor.New(opts, meta, sender, tracker, metrics, logger)

	errCh := make(chan error, 2)

	if cfg.OpsAddr != "" {
		srv := ops.NewServer(cfg.OpsAddr, mon.Ready, logger)
		srv.Middleware = middleware
		go func() {
			if err := srv.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	go func() {
		errCh <- mon.Run(ctx)
	}()

	err = <-errCh
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Printf("INFO monitor stopped")
	return nil
}
