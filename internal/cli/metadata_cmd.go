package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/metadata"
	"github.com/teleaudio/teleaudio/internal/store"
)

func newMetadataCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata <file_id>",
		Short: "Show or re-extract metadata for a completed file",
		Args:  cobra.ExactArgs(1),
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

			rec, err := st.Get(ctx, args[0])
			if err != nil {
				return &configError{err: err}
			}

			if rec.Title != "" || rec.Artist != "" {
				cmd.Printf("title=%q artist=%q album=%q\n", rec.Title, rec.Artist, rec.Album)
				return nil
			}

			extractor := metadata.New()
			m, err := extractor.Extract(rec.TargetPath)
			if err != nil {
				cmd.Printf("no embedded metadata available: %v\n", err)
				return nil
			}
			if err := st.UpdateMetadata(ctx, rec.FileID, m.Title, m.Artist, m.Album, m.DurationSeconds, m.BitrateKbps); err != nil {
				return &transportError{err: err}
			}
			cmd.Printf("title=%q artist=%q album=%q\n", m.Title, m.Artist, m.Album)
			return nil
		},
	}
	return cmd
}
