// Package fetcher implements C4 — the chunked transfer loop that drives a
// single claimed FileRecord from its resumed offset to completion, adapted
// from the retrieved TeleTurbo download loop's progress-tracking shape
// (speed samples, atomic byte counters) but rebuilt around the Transport
// contract instead of gotd/td's own parallel downloader.Download helper, so
// RateGovernor and ResumeManager sit on the hot path instead of being
// bypassed by it.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/logging"
	"github.com/teleaudio/teleaudio/internal/metadata"
	"github.com/teleaudio/teleaudio/internal/resume"
	"github.com/teleaudio/teleaudio/internal/telegram"
)

// ChunkFetcher is the subset of telegram.Transport a Fetcher needs to pull
// bytes; kept narrow so tests can fake it without a live gotd/td client.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, ref telegram.FileRef, offset, length int64) (telegram.ChunkResult, error)
}

// Acquirer is the RateGovernor surface Fetcher needs.
type Acquirer interface {
	Acquire(ctx context.Context, n int) error
	Penalize(waitSeconds float64)
}

// ProgressStore is the Store surface Fetcher needs beyond resume.ProgressRecorder.
type ProgressStore interface {
	resume.ProgressRecorder
	Complete(ctx context.Context, fileID, finalChecksum string, finalSize int64) error
	UpdateMetadata(ctx context.Context, fileID, title, artist, album string, durationSeconds, bitrateKbps int) error
}

// MetadataExtractor is the tag-reading surface Fetcher needs; satisfied by
// *metadata.Extractor.
type MetadataExtractor interface {
	Extract(path string) (metadata.Metadata, error)
}

// Config tunes the transfer loop.
type Config struct {
	ChunkSize          int64
	PersistEveryChunks int
	PersistEvery       time.Duration
	ChunkTimeout       time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          1 << 20, // 1 MiB
		PersistEveryChunks: 8,
		PersistEvery:       5 * time.Second,
		ChunkTimeout:       30 * time.Second,
	}
}

// Fetcher drives one file's transfer to completion or a classified error.
type Fetcher struct {
	cfg       Config
	transport ChunkFetcher
	governor  Acquirer
	store     ProgressStore
	resumer   *resume.Manager
	extractor MetadataExtractor
	logger    logging.Logger
}

func New(cfg Config, transport ChunkFetcher, governor Acquirer, store ProgressStore, logger logging.Logger) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		transport: transport,
		governor:  governor,
		store:     store,
		resumer:   resume.NewManager(),
		extractor: metadata.New(),
		logger:    logger,
	}
}

// Run executes the chunk loop against rec, whose FileRef was
// already resolved by the caller (the coordinator/workerpool layer, which
// alone knows the concrete telegram.FileRef type). It returns a typed error
// from internal/core on any non-success outcome; nil means Store.complete
// has already been called.
func (f *Fetcher) Run(ctx context.Context, rec core.FileRecord, ref telegram.FileRef) error {
	state, err := f.resumer.Prepare(rec)
	if err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(state.PartPath), 0o755); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: fmt.Errorf("fetcher: create target directory: %w", err)}
	}

	file, err := os.OpenFile(state.PartPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: fmt.Errorf("fetcher: open part file: %w", err)}
	}
	defer file.Close()

	if _, err := file.Seek(state.StartOffset, 0); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: fmt.Errorf("fetcher: seek: %w", err)}
	}

	lastPersist := time.Now()
	chunksSincePersist := 0

	for {
		if err := ctx.Err(); err != nil {
			_ = state.Persist(context.Background(), file, rec.FileID, rec.DeclaredSize, f.store)
			return &core.Retriable{Kind: core.ErrorKindTransient, Err: err}
		}

		if err := f.governor.Acquire(ctx, 1); err != nil {
			return &core.Retriable{Kind: core.ErrorKindTransient, Err: err}
		}

		chunkCtx, cancel := context.WithTimeout(ctx, f.cfg.ChunkTimeout)
		result, err := f.transport.FetchChunk(chunkCtx, ref, state.Offset(), f.cfg.ChunkSize)
		cancel()

		if err != nil {
			if fw, ok := err.(*core.FloodWait); ok {
				f.governor.Penalize(float64(fw.WaitSeconds))
				continue
			}
			if core.IsNonRetriable(err) || core.IsFatal(err) {
				_ = state.Persist(context.Background(), file, rec.FileID, rec.DeclaredSize, f.store)
				return err
			}
			if core.IsRetriable(err) {
				_ = state.Persist(context.Background(), file, rec.FileID, rec.DeclaredSize, f.store)
				return err
			}
			// Transient: do not extend the hasher, just persist last good offset.
			_ = state.Persist(context.Background(), file, rec.FileID, rec.DeclaredSize, f.store)
			return &core.Retriable{Kind: core.ErrorKindTransient, Err: err}
		}

		if len(result.Bytes) > 0 {
			if _, err := file.Write(result.Bytes); err != nil {
				return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: fmt.Errorf("fetcher: write chunk: %w", err)}
			}
			state.Extend(result.Bytes)
		}
		chunksSincePersist++

		if chunksSincePersist >= f.cfg.PersistEveryChunks || time.Since(lastPersist) >= f.cfg.PersistEvery {
			if err := state.Persist(ctx, file, rec.FileID, rec.DeclaredSize, f.store); err != nil {
				return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: err}
			}
			lastPersist = time.Now()
			chunksSincePersist = 0
		}

		if result.IsLast {
			return f.finish(ctx, file, rec, state, result.ObservedSize)
		}
	}
}

func (f *Fetcher) finish(ctx context.Context, file *os.File, rec core.FileRecord, state *resume.State, observedSize int64) error {
	if err := state.Persist(ctx, file, rec.FileID, rec.DeclaredSize, f.store); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: err}
	}

	finalSize := state.Offset()
	if observedSize > 0 {
		finalSize = observedSize
	}
	if rec.DeclaredSize > 0 && finalSize != rec.DeclaredSize {
		return &core.NonRetriable{Kind: core.ErrorKindIntegrity, Err: fmt.Errorf(
			"fetcher: size mismatch: declared %d observed %d", rec.DeclaredSize, finalSize)}
	}

	checksum := state.Checksum()
	if err := file.Close(); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: err}
	}
	if err := resume.Finalize(rec.TargetPath); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: fmt.Errorf("fetcher: finalize rename: %w", err)}
	}
	if err := f.store.Complete(ctx, rec.FileID, checksum, finalSize); err != nil {
		return &core.NonRetriable{Kind: core.ErrorKindStorage, Err: err}
	}

	f.extractMetadata(ctx, rec)
	return nil
}

// extractMetadata reads embedded tags off the completed file and persists
// them, best-effort: a failure here never fails the download it belongs to,
// it is only logged.
func (f *Fetcher) extractMetadata(ctx context.Context, rec core.FileRecord) {
	m, err := f.extractor.Extract(rec.TargetPath)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("metadata extraction failed", "file_id", rec.FileID, "error", err)
		}
		return
	}
	if err := f.store.UpdateMetadata(ctx, rec.FileID, m.Title, m.Artist, m.Album, m.DurationSeconds, m.BitrateKbps); err != nil {
		if f.logger != nil {
			f.logger.Warn("metadata persist failed", "file_id", rec.FileID, "error", err)
		}
	}
}
