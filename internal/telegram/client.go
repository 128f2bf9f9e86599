package telegram

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// Client wraps a *telegram.Client plus the run-context plumbing a gotd/td
// application needs, adapted from the retrieved TeleTurbo TGClient — the
// background client.Run loop, ready-channel handshake, and session-file
// storage are carried over in spirit; the GUI-specific auth-flow channel
// fields are replaced by the synchronous CLI flow of Bootstrap.
type Client struct {
	tg     *telegram.Client
	api    *tg.Client
	runCtx context.Context

	appID   int
	appHash string

	peers *peerCache
}

// Options configures Dial. SessionPath must point at a file gotd/td's
// telegram.FileSessionStorage can read/write; the core never manages this
// file's lifecycle beyond reading it (non-goal).
type Options struct {
	AppID       int
	AppHash     string
	SessionPath string
}

// Dial starts the background MTProto client connection and blocks until it
// is ready to serve API calls, mirroring TeleTurbo's NewClient ready/errCh
// handshake.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	sessionStorage := &telegram.FileSessionStorage{Path: opts.SessionPath}

	tgClient := telegram.NewClient(opts.AppID, opts.AppHash, telegram.Options{
		SessionStorage: sessionStorage,
	})

	c := &Client{tg: tgClient, appID: opts.AppID, appHash: opts.AppHash, peers: newPeerCache()}

	ready := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		if err := tgClient.Run(ctx, func(runCtx context.Context) error {
			c.runCtx = runCtx
			c.api = tgClient.API()
			close(ready)
			<-runCtx.Done()
			return runCtx.Err()
		}); err != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ready:
		return c, nil
	case err := <-errCh:
		return nil, fmt.Errorf("telegram: client failed to start: %w", err)
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("telegram: client timed out connecting")
	}
}

// Status reports whether the session on disk is already authorized.
func (c *Client) Status(ctx context.Context) (bool, error) {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

// Bootstrap runs the interactive phone-code/2FA login flow (C9), adapted
// from TeleTurbo's StartLogin/SubmitCode/SubmitPassword trio into a single
// synchronous call driven by the supplied prompt functions — this package
// has no GUI bridge, so prompts come from the CLI's stdin reader.
func (c *Client) Bootstrap(ctx context.Context, phone string, promptCode func() (string, error), promptPassword func() (string, error)) error {
	sentCode, err := c.api.AuthSendCode(ctx, &tg.AuthSendCodeRequest{
		PhoneNumber: phone,
		APIID:       c.appID,
		APIHash:     c.appHash,
		Settings:    tg.CodeSettings{},
	})
	if err != nil {
		return fmt.Errorf("telegram: send code: %w", err)
	}

	sent, ok := sentCode.(*tg.AuthSentCode)
	if !ok {
		// *tg.AuthSentCodeSuccess means the account was already authorized
		// via a previously approved login (no code needed).
		return nil
	}

	code, err := promptCode()
	if err != nil {
		return fmt.Errorf("telegram: read code: %w", err)
	}

	signInResult, err := c.api.AuthSignIn(ctx, &tg.AuthSignInRequest{
		PhoneNumber:   phone,
		PhoneCodeHash: sent.PhoneCodeHash,
		PhoneCode:     code,
	})
	if err == nil {
		if _, ok := signInResult.(*tg.AuthAuthorization); ok {
			return nil
		}
		return fmt.Errorf("telegram: unexpected sign-in response %T", signInResult)
	}

	if !isPasswordNeeded(err) {
		return fmt.Errorf("telegram: sign in: %w", err)
	}

	return c.submitPassword(ctx, promptPassword)
}

func (c *Client) submitPassword(ctx context.Context, promptPassword func() (string, error)) error {
	password, err := promptPassword()
	if err != nil {
		return fmt.Errorf("telegram: read password: %w", err)
	}

	cfg, err := c.api.AccountGetPassword(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get password config: %w", err)
	}
	if cfg.CurrentAlgo == nil {
		return fmt.Errorf("telegram: account has no 2FA password configured")
	}

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("telegram: generate srp seed: %w", err)
	}

	srpHash, err := auth.PasswordHash([]byte(password), cfg.SRPID, cfg.SRPB, seed, cfg.CurrentAlgo)
	if err != nil {
		return fmt.Errorf("telegram: compute srp hash: %w", err)
	}

	if _, err := c.api.AuthCheckPassword(ctx, srpHash); err != nil {
		return fmt.Errorf("telegram: check password: %w", err)
	}
	return nil
}

// isPasswordNeeded detects the SESSION_PASSWORD_NEEDED RPC error the way
// TeleTurbo's own SubmitCode handler did: a plain substring check against
// the error text rather than a typed RPC-error inspection.
func isPasswordNeeded(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SESSION_PASSWORD_NEEDED")
}
