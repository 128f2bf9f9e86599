package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/store"
)

func newGroupsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List every peer a prior run has scanned",
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

			cursors, err := st.AllPeerCursors(ctx)
			if err != nil {
				return &transportError{err: err}
			}
			for _, c := range cursors {
				cmd.Printf("%d\t%s\tcursor=%d\tlast_scan=%s\n", c.PeerID, c.DisplayName, c.LastScannedMessageID, c.LastScanAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	return cmd
}
