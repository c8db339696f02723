package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"wabridge/internal/access"
	"wabridge/internal/bus"
	"wabridge/internal/channel"
	"wabridge/internal/config"
	"wabridge/internal/gateway"
	"wabridge/internal/metrics"
	"wabridge/internal/store"

	"github.com/spf13/cobra"
)

const (
	pruneInterval = time.Hour

	// How long a webhook waits for room in a full gateway queue.
	queuePublishWait = 250 * time.Millisecond
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and gateway bridge",
		Long:  "Serves the provider webhook, the health and send endpoints, and forwards inbound messages to the gateway. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.WhatsApp.Enabled {
		return fmt.Errorf("whatsapp channel is disabled in %s", resolveConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger, 0)
	queue := bus.NewQueue(cfg.Gateway.QueueSize, queuePublishWait, logger)

	var approvals access.ApprovalLookup
	if cfg.Store.Enabled {
		eventLog, err := store.Open(cfg.Store.DBPath, logger)
		if err != nil {
			return fmt.Errorf("event log: %w", err)
		}
		defer eventLog.Close()
		eventLog.Subscribe(events)
		approvals = eventLog.Pairings(cfg.WhatsApp.PairingTTLDays)
		go pruneEvents(ctx, eventLog, cfg.Store.RetentionDays)
	}

	ch, err := newChannel(cfg, events, channel.Handlers{
		OnMessage: queue.Publish,
		OnAccessDenied: func(phone, policy string) {
			logger.Debug("access denied", "phone", phone, "policy", policy)
		},
	}, approvals)
	if err != nil {
		return err
	}

	mux := buildMux(cfg, ch)

	forwarder := gateway.NewForwarder(gateway.ForwarderConfig{
		URL:     cfg.Gateway.ForwardURL,
		APIKey:  cfg.Gateway.APIKey,
		Timeout: time.Duration(cfg.Gateway.ForwardTimeoutMs) * time.Millisecond,
		Logger:  logger,
	})
	go forwarder.Run(ctx, queue.Subscribe())

	if cfg.General.SessionSweepMinutes > 0 {
		go ch.Sessions().RunSweeper(ctx, time.Duration(cfg.General.SessionSweepMinutes)*time.Minute)
	}
	go ch.Monitor().Run(ctx, time.Duration(cfg.General.HealthProbeSeconds)*time.Second, ch.Probe)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := gateway.NewServer(addr, mux, logger)
	logger.Info("wabridge started. Press Ctrl+C to stop.",
		"webhook", cfg.WhatsApp.WebhookPath,
		"send", cfg.Gateway.SendPath,
		"forward", cfg.Gateway.ForwardURL != "",
	)

	err = srv.Start(ctx)
	logger.Info("shutting down...")
	queue.Close()
	return err
}

// buildMux mounts the webhook, health, send and (optionally) metrics endpoints.
func buildMux(cfg *config.Config, ch *channel.Channel) *http.ServeMux {
	webhookPath := cfg.WhatsApp.WebhookPath
	if webhookPath == "" {
		webhookPath = config.DefaultWebhookPath
	}

	mux := http.NewServeMux()
	mux.Handle(webhookPath, channel.NewRouter(channel.RouterConfig{Channel: ch, Logger: logger}))
	mux.Handle("GET "+webhookPath+"/health", ch.HealthHandler())
	if cfg.Gateway.SendPath != "" {
		mux.Handle(cfg.Gateway.SendPath, gateway.NewSendAPI(gateway.SendAPIConfig{
			Sender: ch,
			APIKey: cfg.Gateway.APIKey,
			Logger: logger,
		}))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint != "" {
		mux.Handle("GET "+cfg.Metrics.Endpoint, metrics.Collector.Handler())
	}
	return mux
}

func pruneEvents(ctx context.Context, eventLog *store.EventLog, retentionDays int) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if n, err := eventLog.Prune(ctx, cutoff); err != nil {
			logger.Warn("event log prune failed", "err", err)
		} else if n > 0 {
			logger.Debug("pruned old events", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
