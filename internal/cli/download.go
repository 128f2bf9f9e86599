package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/coordinator"
	"github.com/teleaudio/teleaudio/internal/enumerator"
	"github.com/teleaudio/teleaudio/internal/fetcher"
	"github.com/teleaudio/teleaudio/internal/rategovernor"
	"github.com/teleaudio/teleaudio/internal/store"
	"github.com/teleaudio/teleaudio/internal/telegram"
	"github.com/teleaudio/teleaudio/internal/workerpool"
)

func newDownloadCmd(ctx context.Context) *cobra.Command {
	var (
		limit    int64
		parallel int
		output   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "download <peer...>",
		Short: "Download every audio file from one or more channels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, peers []string) error {
			cfg, err := loadConfigOrExit()
			if err != nil {
				return err
			}
			if parallel > 0 {
				cfg.MaxWorkers = parallel
			}
			if output != "" {
				cfg.DownloadDir = output
			}
			if limit > 0 {
				cfg.GlobalLimit = limit
			}
			if force {
				cfg.ForceReemitFailed = true
			}
			if err := cfg.Validate(); err != nil {
				return &configError{err: err}
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return &configError{err: err}
			}
			defer logger.Sync()

			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return &configError{err: err}
			}
			defer st.Close()

			client, err := telegram.Dial(ctx, telegram.Options{AppID: cfg.AppID, AppHash: cfg.AppHash, SessionPath: cfg.SessionPath})
			if err != nil {
				return &transportError{err: err}
			}

			authorized, err := client.Status(ctx)
			if err != nil {
				return &transportError{err: err}
			}
			if !authorized {
				return &authError{err: fmt.Errorf("session is not authorized; run `teleaudio login` first")}
			}

			coord := coordinator.New(coordinator.Config{
				Peers:     peers,
				Limit:     cfg.GlobalLimit,
				Force:     cfg.ForceReemitFailed,
				Direction: cfg.DirectionValue(),
				Governor: rategovernor.Config{
					Capacity:         cfg.RateCapacity,
					RefillPerSecond:  cfg.RateRefillPerSecond,
					PenaltyFactor:    0.5,
					RefillFloor:      0.1,
					RecoveryFactor:   1.25,
					RecoveryInterval: 60 * time.Second,
				},
				Pool: workerpool.Config{
					Workers:       cfg.MaxWorkers,
					QueueDepth:    4 * cfg.MaxWorkers,
					BaseDelay:     cfg.RetryBaseDelay(),
					MaxDelay:      cfg.RetryMaxDelay(),
					MaxAttempts:   cfg.MaxAttempts,
					JitterPercent: 0.25,
				},
				Fetch: fetcher.Config{
					ChunkSize:          cfg.ChunkSizeBytes,
					PersistEveryChunks: 8,
					PersistEvery:       5 * time.Second,
					ChunkTimeout:       cfg.ChunkTimeout(),
				},
				Enumerator: enumerator.Config{BatchSize: 50, DownloadDir: cfg.DownloadDir},
			}, client, st, logger)

			summary, err := coord.Run(ctx)
			if err != nil {
				return &transportError{err: err}
			}

			cmd.Printf("attempted=%d completed=%d failed=%d skipped=%d total_bytes=%d\n",
				summary.Attempted, summary.Completed, summary.Failed, summary.Skipped, summary.TotalBytes)
			return nil
		},
	}

	cmd.Flags().Int64Var(&limit, "limit", 0, "maximum number of files to download across all peers")
	cmd.Flags().IntVar(&parallel, "parallel", 0, "worker pool size override (1-10)")
	cmd.Flags().StringVar(&output, "output", "", "download directory override")
	cmd.Flags().BoolVar(&force, "force", false, "re-emit FAILED/SKIPPED records")

	return cmd
}
