package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"wabridge/internal/store"

	"github.com/spf13/cobra"
)

func eventsCmd() *cobra.Command {
	var (
		limit     int
		eventType string
		messageID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent channel events from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("event log is disabled (store.enabled: false)")
			}
			eventLog, err := store.Open(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer eventLog.Close()

			var entries []store.Entry
			if messageID != "" {
				entries, err = eventLog.ByMessage(cmd.Context(), messageID)
			} else {
				entries, err = eventLog.Recent(cmd.Context(), limit, eventType)
			}
			if err != nil {
				return err
			}

			if asJSON {
				data, _ := json.MarshalIndent(entries, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tACCOUNT\tPHONE\tMESSAGE\tSTATUS")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Type, e.Account, e.Phone, e.MessageID, e.Status)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "only show this event type (e.g. message.status)")
	cmd.Flags().StringVarP(&messageID, "message", "m", "", "show the history of one message id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
