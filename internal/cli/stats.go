package cli

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
)

func newStatsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize persisted file records by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrExit()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return &configError{err: err}
			}
			defer st.Close()

			statuses := []core.Status{core.StatusPending, core.StatusInProgress, core.StatusCompleted, core.StatusFailed, core.StatusSkipped}
			var totalBytes int64
			for _, s := range statuses {
				recs, err := st.IterByStatus(ctx, s, store.StatusFilter{})
				if err != nil {
					return &transportError{err: err}
				}
				var bytes int64
				for _, rec := range recs {
					bytes += rec.DownloadedBytes
				}
				totalBytes += bytes
				cmd.Printf("%-12s %6d files  %s\n", s, len(recs), humanize.Bytes(uint64(bytes)))
			}
			cmd.Printf("%-12s %13s\n", "total", humanize.Bytes(uint64(totalBytes)))
			return nil
		},
	}
	return cmd
}
