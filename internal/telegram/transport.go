// Package telegram implements C8/C9 — the Transport contract
// against github.com/gotd/td, plus the phone-code/2FA auth bootstrap C9
// adapted from the retrieved TeleTurbo TGClient. Everything in this package
// is an external collaborator to the core engine packages (store, fetcher,
// workerpool, enumerator, coordinator): they depend only on the Transport
// interface below, never on gotd/td types directly.
package telegram

import (
	"context"
	"iter"

	"github.com/teleaudio/teleaudio/internal/core"
)

// FileRef opaquely identifies a remote file location; only this package
// knows its concrete shape (a tg.InputFileLocationClass).
type FileRef struct {
	inner any
}

// ChunkResult is the Transport contract's fetch_chunk return value .
type ChunkResult struct {
	Bytes        []byte
	IsLast       bool
	ObservedSize int64 // 0 when not reported by this response
}

// Audio describes the audio payload of a Message, when present.
type Audio struct {
	FileRef      FileRef
	DeclaredSize int64
	Mime         string
	Format       core.Format
	Filename     string
}

// Message is one history entry as seen by IterMessages.
type Message struct {
	MessageID  int64
	SenderName string
	Audio      *Audio // nil when the message carries no audio payload
}

// Transport is the contract consumed by Fetcher and Enumerator .
// FloodWait, Unauthorized, and FileReferenceExpired are communicated as the
// typed errors in internal/core, never as ad hoc string matching.
type Transport interface {
	FetchChunk(ctx context.Context, ref FileRef, offset, length int64) (ChunkResult, error)
	IterMessages(ctx context.Context, peerID int64, cursor int64, direction core.Direction) iter.Seq2[Message, error]
	ResolvePeer(ctx context.Context, ref string) (int64, string, error)
	RefreshFileRef(ctx context.Context, peerID int64, messageID int64) (FileRef, error)
}
