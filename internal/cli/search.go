package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
)

func newSearchCmd(ctx context.Context) *cobra.Command {
	var (
		format  string
		status  string
		minSize int64
		maxSize int64
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search persisted file records",
		Args:  cobra.MaximumNArgs(1),
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

			s := core.StatusCompleted
			if status != "" {
				s = core.Status(status)
			}
			recs, err := st.IterByStatus(ctx, s, store.StatusFilter{Format: core.Format(format)})
			if err != nil {
				return &transportError{err: err}
			}

			var query string
			if len(args) > 0 {
				query = args[0]
			}

			for _, rec := range recs {
				if minSize > 0 && rec.DeclaredSize < minSize {
					continue
				}
				if maxSize > 0 && rec.DeclaredSize > maxSize {
					continue
				}
				if query != "" && !matchesQuery(rec, query) {
					continue
				}
				cmd.Printf("%s\t%s\t%s\t%d bytes\t%s\n", rec.FileID, rec.Title, rec.Artist, rec.DeclaredSize, rec.TargetPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "filter by audio format (mp3, flac, ogg, m4a, wav, opus)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (default COMPLETED)")
	cmd.Flags().Int64Var(&minSize, "min-size", 0, "minimum declared size in bytes")
	cmd.Flags().Int64Var(&maxSize, "max-size", 0, "maximum declared size in bytes")

	return cmd
}

func matchesQuery(rec core.FileRecord, query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(rec.Title), q) ||
		strings.Contains(strings.ToLower(rec.Artist), q) ||
		strings.Contains(strings.ToLower(rec.Album), q)
}
