package cli

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
)

func newPerformanceCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "performance",
		Short: "Report retry/failure rates as a proxy for RateGovernor health",
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

			completed, err := st.IterByStatus(ctx, core.StatusCompleted, store.StatusFilter{})
			if err != nil {
				return &transportError{err: err}
			}
			failed, err := st.IterByStatus(ctx, core.StatusFailed, store.StatusFilter{})
			if err != nil {
				return &transportError{err: err}
			}

			var totalBytes int64
			var totalAttempts int
			for _, rec := range completed {
				totalBytes += rec.DownloadedBytes
				totalAttempts += rec.Attempts
			}
			cmd.Printf("completed=%d  failed=%d  total_bytes=%s  avg_attempts=%.2f\n",
				len(completed), len(failed), humanize.Bytes(uint64(totalBytes)), avg(totalAttempts, len(completed)))

			floodWaits := 0
			for _, rec := range failed {
				if rec.LastErrorKind == core.ErrorKindFloodWait {
					floodWaits++
				}
			}
			cmd.Printf("flood_wait_failures=%d\n", floodWaits)
			return nil
		},
	}
	return cmd
}

func avg(total, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}
