package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teleaudio/teleaudio/internal/telegram"
)

func newLoginCmd(ctx context.Context) *cobra.Command {
	var phone string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate the session file against a Telegram account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrExit()
			if err != nil {
				return err
			}
			if phone == "" {
				return &configError{err: fmt.Errorf("--phone is required")}
			}

			client, err := telegram.Dial(ctx, telegram.Options{AppID: cfg.AppID, AppHash: cfg.AppHash, SessionPath: cfg.SessionPath})
			if err != nil {
				return &transportError{err: err}
			}

			authorized, err := client.Status(ctx)
			if err != nil {
				return &transportError{err: err}
			}
			if authorized {
				cmd.Println("session already authorized")
				return nil
			}

			reader := bufio.NewReader(os.Stdin)
			err = client.Bootstrap(ctx, phone,
				func() (string, error) { return prompt(cmd, reader, "Enter the code you received: ") },
				func() (string, error) { return prompt(cmd, reader, "Enter your 2FA password: ") },
			)
			if err != nil {
				return &authError{err: err}
			}

			cmd.Println("login succeeded; session saved to", cfg.SessionPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "phone number in international format, e.g. +15551234567")
	return cmd
}

func prompt(cmd *cobra.Command, reader *bufio.Reader, label string) (string, error) {
	cmd.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
