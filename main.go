// Package main is the entry point for the ABD Monzo to Slack bridge
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/baely/abd/internal/bridge"
	"github.com/baely/abd/internal/common/errors"
	"github.com/baely/abd/internal/common/logger"
	"github.com/baely/abd/internal/config"
	"github.com/baely/abd/internal/monzo"
	"github.com/baely/abd/internal/notification"
	"github.com/baely/abd/internal/server"
	"github.com/baely/abd/internal/slack"
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "abd",
		Short:         "Relay Monzo transactions to Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables take precedence)")
	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "abd %s\n", version)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	// Initialize logger
	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithFormat(cfg.LogFormat),
	)
	slog.SetDefault(log)

	domain, err := url.Parse(cfg.Domain)
	if err != nil || domain.Hostname() == "" {
		return errors.Wrap(errors.ErrInvalidInput, "DOMAIN must be an absolute URL, got %q", cfg.Domain)
	}

	// Initialize clients
	monzoClient := monzo.NewClient(monzo.Config{
		ClientID:      cfg.Monzo.ClientID,
		ClientSecret:  cfg.Monzo.ClientSecret,
		Domain:        cfg.Domain,
		WebhookSecret: cfg.Monzo.WebhookSecret,
		AccountID:     cfg.Monzo.AccountID,
		Logger:        log.With("component", "monzo"),
	})
	slackClient := slack.NewClient(slack.Config{
		Token:            cfg.Slack.BotToken,
		HeartbeatChannel: cfg.Slack.HeartbeatChannel,
		HeartbeatEnabled: cfg.Slack.Heartbeat,
		Logger:           log.With("component", "slack"),
	})

	// Initialize services
	bridgeService := bridge.New(bridge.Config{
		Monzo:         monzoClient,
		Slack:         slackClient,
		Classifier:    notification.New(monzoClient, cfg.Slack.UserID, log.With("component", "notification")),
		WebhookSecret: cfg.Monzo.WebhookSecret,
		SigningSecret: cfg.Slack.SigningSecret,
		LogChannel:    cfg.Slack.LogChannel,
		Workers:       cfg.EventWorkers,
		Logger:        log,
	})
	watchdog := bridge.NewWatchdog(bridge.WatchdogConfig{
		Monzo:         monzoClient,
		Slack:         slackClient,
		UserID:        cfg.Slack.UserID,
		Interval:      cfg.Watchdog.Interval,
		RetryInterval: cfg.Watchdog.RetryInterval,
		Logger:        log.With("component", "watchdog"),
	})

	// Register domain handlers
	s := server.New(server.Config{
		Addr:   cfg.Addr(),
		Logger: log,
	})
	s.RegisterDomain(domain.Hostname(), bridgeService.Chi())
	s.RegisterFallback(bridgeService.Chi())

	if err := slackClient.Heartbeat(ctx, ":ac-bells: ADB is online!"); err != nil {
		log.Warn("Failed to announce startup", "error", err)
	}

	// Event workers outlive the signal so queued deliveries still reach Slack
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	bridgeService.Start(workCtx)

	go func() {
		_ = watchdog.Run(ctx)
	}()

	log.Info("Starting ABD", "environment", cfg.Environment, "domain", domain.Hostname(), "version", version)
	err = s.Run(ctx)

	bridgeService.Close()
	if err != nil {
		log.Error("Server failed", "error", err)
		return err
	}
	log.Info("ABD stopped")
	return nil
}
