package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetmsg/fleetmsg/internal/client"
	"github.com/fleetmsg/fleetmsg/internal/transport"
)

// newCheckCmd probes the messaging API with the effective configuration and
// prints a one-screen health report. Useful before blaming the dashboard.
func newCheckCmd(configPath, baseURL, token, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify API connectivity and report unread totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, *baseURL, *token, *logLevel)
			if err != nil {
				return err
			}

			adapter, err := transport.New(transport.Options{
				BaseURL:        cfg.API.BaseURL,
				Token:          cfg.API.Token,
				SessionID:      cfg.API.SessionID,
				RequestTimeout: cfg.API.RequestTimeout,
			})
			if err != nil {
				return fmt.Errorf("init transport: %w", err)
			}

			api, err := client.New(client.Config{
				Adapter:    adapter,
				RetryDelay: cfg.API.RetryDelay,
			})
			if err != nil {
				return fmt.Errorf("init client: %w", err)
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			threads, err := api.ListThreads(ctx, cfg.Sync.DirectoryLimit)
			if err != nil {
				return fmt.Errorf("list threads: %s", transport.Humanize(err))
			}
			fmt.Fprintf(out, "threads:   %d\n", len(threads))

			channels, err := api.ListChannels(ctx)
			if err != nil {
				return fmt.Errorf("list channels: %s", transport.Humanize(err))
			}
			fmt.Fprintf(out, "channels:  %d\n", len(channels))

			summary, err := api.UnreadSummary(ctx)
			if err != nil {
				return fmt.Errorf("unread summary: %s", transport.Humanize(err))
			}
			fmt.Fprintf(out, "unread:    %d across %d conversations\n",
				summary.TotalUnread, len(summary.PerConversation))

			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}
