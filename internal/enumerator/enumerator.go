// Package enumerator implements C6 — the per-peer lazy DownloadTask stream,
// grounded on the Transport.IterMessages contract (internal/telegram) for
// the walk direction and on Store.UpsertFile for the dedupe decision. The
// persisted cursor is the highest audio message id seen; with NewestFirst a
// later run stops at that id, so older messages that an earlier run did not
// reach (for instance because the limit stopped it) are not revisited.
package enumerator

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
	"github.com/teleaudio/teleaudio/internal/telegram"
)

// Lister is the Transport surface Enumerator needs.
type Lister interface {
	IterMessages(ctx context.Context, peerID int64, cursor int64, direction core.Direction) iter.Seq2[telegram.Message, error]
}

// CursorStore is the Store surface Enumerator needs.
type CursorStore interface {
	GetPeerCursor(ctx context.Context, peerID int64) (core.PeerCursor, error)
	SetPeerCursor(ctx context.Context, peerID, messageID int64, displayName string) error
	UpsertFile(ctx context.Context, rec core.FileRecord) (store.UpsertOutcome, *core.FileRecord, error)
}

// Config tunes Enumerator batching.
type Config struct {
	BatchSize   int // messages persisted before PeerCursor advances
	Force       bool
	DownloadDir string // root directory target_path is assigned under
}

func DefaultConfig() Config { return Config{BatchSize: 50} }

// Enumerator produces DownloadTasks for one peer at a time.
type Enumerator struct {
	cfg       Config
	transport Lister
	store     CursorStore
}

func New(cfg Config, transport Lister, store CursorStore) *Enumerator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Enumerator{cfg: cfg, transport: transport, store: store}
}

// Stream walks peerID's history from its persisted cursor, yielding a
// DownloadTask for every newly discovered (or --force re-emitted) audio
// message, and stops once remaining reaches zero (the global `limit` shared
// atomically across every peer's Enumerator). displayName, the
// peer's human title, is discovered from the first message batch and
// persisted onto PeerCursor.
func (e *Enumerator) Stream(ctx context.Context, peerID int64, direction core.Direction, remaining *atomic.Int64) iter.Seq2[core.DownloadTask, error] {
	return func(yield func(core.DownloadTask, error) bool) {
		cursor, err := e.store.GetPeerCursor(ctx, peerID)
		if err != nil {
			yield(core.DownloadTask{}, fmt.Errorf("enumerator: load cursor: %w", err))
			return
		}

		highestSeen := cursor.LastScannedMessageID
		sinceBatchPersist := 0
		displayName := cursor.DisplayName

		for msg, msgErr := range e.transport.IterMessages(ctx, peerID, cursor.LastScannedMessageID, direction) {
			if msgErr != nil {
				yield(core.DownloadTask{}, msgErr)
				return
			}
			if remaining != nil && remaining.Load() <= 0 {
				e.persistCursor(peerID, highestSeen, displayName)
				return
			}
			if msg.SenderName != "" && displayName == "" {
				displayName = msg.SenderName
			}

			if msg.Audio == nil {
				continue
			}
			if msg.MessageID > highestSeen {
				highestSeen = msg.MessageID
			}

			rec := core.FileRecord{
				FileID:       fileIDFor(peerID, msg.MessageID),
				PeerID:       peerID,
				MessageID:    msg.MessageID,
				DeclaredSize: msg.Audio.DeclaredSize,
				Mime:         msg.Audio.Mime,
				Format:       msg.Audio.Format,
				SenderName:   msg.SenderName,
				GroupTitle:   displayName,
				TargetPath:   e.targetPath(peerID, displayName, msg),
				Status:       core.StatusPending,
			}

			outcome, existing, err := e.store.UpsertFile(ctx, rec)
			if err != nil {
				yield(core.DownloadTask{}, fmt.Errorf("enumerator: upsert: %w", err))
				return
			}

			sinceBatchPersist++
			if sinceBatchPersist >= e.cfg.BatchSize {
				e.persistCursor(peerID, highestSeen, displayName)
				sinceBatchPersist = 0
			}

			emit := outcome == store.Inserted
			if !emit && outcome == store.AlreadyExists && e.cfg.Force {
				switch existing.Status {
				case core.StatusFailed, core.StatusSkipped:
					emit = true
				}
			}
			if !emit {
				continue
			}

			if remaining != nil {
				if remaining.Add(-1) < 0 {
					remaining.Add(1)
					e.persistCursor(peerID, highestSeen, displayName)
					return
				}
			}

			if !yield(core.DownloadTask{Record: *existing}, nil) {
				e.persistCursor(peerID, highestSeen, displayName)
				return
			}
		}

		e.persistCursor(peerID, highestSeen, displayName)
	}
}

func (e *Enumerator) persistCursor(peerID, messageID int64, displayName string) {
	if messageID == 0 {
		return
	}
	// Best-effort: a failed cursor persist here is recoverable on the next
	// invocation (it simply re-scans a bounded tail), so it is not treated
	// as fatal to the whole peer stream.
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.store.SetPeerCursor(persistCtx, peerID, messageID, displayName)
}

func fileIDFor(peerID, messageID int64) string {
	return fmt.Sprintf("%d:%d", peerID, messageID)
}

// targetPath assigns the local path a FileRecord downloads to, the "once
// assignment is decided" step the design notes leaves to the implementer: a
// directory named after groupTitle (or the peer id when that is empty) under
// DownloadDir, and one file per message, named from the message id followed
// by the audio's own filename when Telegram reports one, or by the format's
// extension otherwise.
func (e *Enumerator) targetPath(peerID int64, groupTitle string, msg telegram.Message) string {
	group := sanitizeComponent(groupTitle)
	if group == "" {
		group = fmt.Sprintf("%d", peerID)
	}
	name := sanitizeComponent(msg.Audio.Filename)
	if name == "" {
		name = fmt.Sprintf("%d%s", msg.MessageID, extensionFor(msg.Audio.Format))
	} else {
		name = fmt.Sprintf("%d_%s", msg.MessageID, name)
	}
	return filepath.Join(e.cfg.DownloadDir, group, name)
}

// sanitizeComponent strips characters that would otherwise escape the
// intended download directory or confuse a filesystem (path separators,
// NUL, and leading/trailing space). No pack library offers this, so it is
// a small stdlib helper rather than an imported dependency.
func sanitizeComponent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		default:
			return r
		}
	}, s)
	return s
}

func extensionFor(format core.Format) string {
	switch format {
	case core.FormatMP3:
		return ".mp3"
	default:
		return "." + string(format)
	}
}
