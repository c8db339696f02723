package main

import (
	"fmt"
	"os"
	"os/user"
	"text/tabwriter"
	"time"

	"wabridge/internal/config"
	"wabridge/internal/store"

	"github.com/spf13/cobra"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage phones approved under the pairing access policy",
		Long: `Approvals are stored in the event database and are read on every inbound
message, so changes apply to a running server immediately.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "approve [phone]",
		Short: "Approve a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, p, closeFn, err := openPairings()
			if err != nil {
				return err
			}
			defer closeFn()
			if cfg.WhatsApp.AccessPolicy != "pairing" {
				logger.Warn("access policy is not pairing; the approval has no effect until it is", "policy", cfg.WhatsApp.AccessPolicy)
			}
			return p.Approve(cmd.Context(), args[0], operatorName())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [phone]",
		Short: "Revoke a phone number's approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, closeFn, err := openPairings()
			if err != nil {
				return err
			}
			defer closeFn()
			return p.Revoke(cmd.Context(), args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List approved phone numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, p, closeFn, err := openPairings()
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := p.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHONE\tAPPROVED BY\tPAIRED\tEXPIRES")
			for _, pr := range list {
				expires := "never"
				if pr.ExpiresAt != nil {
					expires = pr.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pr.Phone, pr.ApprovedBy, pr.PairedAt.Format(time.RFC3339), expires)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func openPairings() (*config.Config, *store.Pairings, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.Store.Enabled {
		return nil, nil, nil, fmt.Errorf("pairing approvals need the event store (store.enabled: true)")
	}
	eventLog, err := store.Open(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, eventLog.Pairings(cfg.WhatsApp.PairingTTLDays), func() { eventLog.Close() }, nil
}

func operatorName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
