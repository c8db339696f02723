package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"wabridge/internal/access"
	"wabridge/internal/account"
	"wabridge/internal/bus"
	"wabridge/internal/channel"
	"wabridge/internal/config"
	"wabridge/internal/gupshup"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = newLogger("info")

	root := &cobra.Command{
		Use:   "wabridge",
		Short: "wabridge: WhatsApp Business channel for the messaging gateway",
		Long:  "wabridge receives WhatsApp webhooks from Gupshup, forwards them to the gateway, and sends replies inside or outside the 24h session window.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.wabridge/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(accountsCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(pairingCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.General.LogLevel)
	return cfg, nil
}

// newChannel resolves the configured accounts and builds the channel.
func newChannel(cfg *config.Config, events *bus.EventBus, handlers channel.Handlers, approvals access.ApprovalLookup) (*channel.Channel, error) {
	accounts, err := account.Resolve(cfg.WhatsApp)
	if err != nil {
		return nil, err
	}
	return channel.New(channel.Config{
		Accounts:       accounts,
		DefaultAccount: account.DefaultAccountName(cfg.WhatsApp, accounts),
		APIBase:        cfg.WhatsApp.APIBase,
		Send: gupshup.SendOptions{
			Attempts: cfg.WhatsApp.SendAttempts,
			Timeout:  time.Duration(cfg.WhatsApp.SendTimeoutMs) * time.Millisecond,
		},
		AccessPolicy: cfg.WhatsApp.AccessPolicy,
		AllowFrom:    []string(cfg.WhatsApp.AllowFrom),
		Approvals:    approvals,
		SendRate:     float64(cfg.WhatsApp.SendRatePerMinute),
		SendBurst:    cfg.WhatsApp.SendBurst,
		Handlers:     handlers,
		Events:       events,
		Logger:       logger,
	})
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		accountName string
		inSession   bool
	)
	cmd := &cobra.Command{
		Use:   "send [phone] [text]",
		Short: "Send a text message through the provider",
		Long: `Sends one text message. A fresh process has no session history, so the
message goes out as a template unless --in-session is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ch, err := newChannel(cfg, nil, channel.Handlers{}, nil)
			if err != nil {
				return err
			}
			if inSession {
				ch.Sessions().RecordInbound(args[0])
			}

			env := newTextEnvelope(args[0], args[1], accountName)
			res := ch.SendMessage(cmd.Context(), env)
			data, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(data))
			if !res.Success {
				return fmt.Errorf("send failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&accountName, "account", "a", "", "account to send from (default: configured default)")
	cmd.Flags().BoolVar(&inSession, "in-session", false, "treat the recipient as inside the 24h window")
	return cmd
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List resolved WhatsApp accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			accounts, err := account.Resolve(cfg.WhatsApp)
			if err != nil {
				return err
			}
			def := account.DefaultAccountName(cfg.WhatsApp, accounts)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tAPP\tPHONE\tAPI KEY\tTEMPLATES\tDEFAULT")
			for _, a := range accounts {
				mark := ""
				if a.Name == def {
					mark = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					a.Name, a.AppID, a.PhoneNumber, config.MaskSecret(a.APIKey), len(a.Templates), mark)
			}
			return tw.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. whatsapp.accessPolicy)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config and resolve every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			accounts, err := account.Resolve(cfg.WhatsApp)
			if err != nil {
				return err
			}
			logger.Info("config ok", "path", resolveConfigPath(), "accounts", len(accounts))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func probeAccounts(ctx context.Context, ch *channel.Channel) map[string]error {
	out := make(map[string]error)
	for _, a := range ch.Accounts() {
		pctx, cancel := context.WithTimeout(ctx, gupshup.DefaultProbeTimeout)
		out[a.Name] = ch.Probe(pctx, a.Name)
		cancel()
	}
	return out
}
