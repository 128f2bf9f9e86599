// Package resume implements C3 — validating and continuing a partially
// downloaded file using an incremental SHA-256 hash of the on-disk prefix,
// adapted from the retrieved bodaay-HuggingFaceModelDownloader downloader's
// ".part" staging convention (open question: ".part" + atomic rename
// is the choice made here).
package resume

import (
	"context"
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/teleaudio/teleaudio/internal/core"
)

// PartSuffix is appended to TargetPath while a transfer is incomplete.
const PartSuffix = ".part"

// State is the in-memory, per-file resume state threaded through a Fetcher
// run. It is never persisted directly — ResumeManager.Persist writes its
// derived fields into Store.
type State struct {
	PartPath    string
	StartOffset int64
	hasher      hash.Hash
	offset      int64
}

// Offset returns the current validated offset (in-memory, before Persist).
func (s *State) Offset() int64 { return s.offset }

// sha256 hashers in the Go standard library implement
// encoding.BinaryMarshaler/Unmarshaler, which would allow cloning an
// in-flight hash state (the ChecksumEngine contract's `clone()` operation).
// This package only asserts that here; Prepare reseeds the hasher by
// reading the part file back from disk.
var _ encoding.BinaryMarshaler = sha256.New()

type Manager struct{}

func NewManager() *Manager { return &Manager{} }

// Prepare implements `prepare`. It validates any existing on-disk
// prefix against rec.PartialChecksum and decides the true starting offset.
func (m *Manager) Prepare(rec core.FileRecord) (*State, error) {
	partPath := rec.TargetPath + PartSuffix

	info, err := os.Stat(partPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("resume: stat %s: %w", partPath, err)
		}
		return &State{PartPath: partPath, StartOffset: 0, hasher: sha256.New(), offset: 0}, nil
	}

	size := info.Size()
	if rec.DeclaredSize > 0 && size > rec.DeclaredSize {
		if err := os.Truncate(partPath, 0); err != nil {
			return nil, fmt.Errorf("resume: truncate oversized part: %w", err)
		}
		return &State{PartPath: partPath, StartOffset: 0, hasher: sha256.New(), offset: 0}, nil
	}
	if size == 0 {
		return &State{PartPath: partPath, StartOffset: 0, hasher: sha256.New(), offset: 0}, nil
	}

	digest, err := hashPrefix(partPath, size)
	if err != nil {
		return nil, fmt.Errorf("resume: hash prefix: %w", err)
	}
	if digest != rec.PartialChecksum {
		if err := os.Truncate(partPath, 0); err != nil {
			return nil, fmt.Errorf("resume: truncate mismatched part: %w", err)
		}
		return &State{PartPath: partPath, StartOffset: 0, hasher: sha256.New(), offset: 0}, nil
	}

	h := sha256.New()
	f, err := os.Open(partPath)
	if err != nil {
		return nil, fmt.Errorf("resume: reopen for hash seed: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("resume: reseed hasher: %w", err)
	}

	return &State{PartPath: partPath, StartOffset: size, hasher: h, offset: size}, nil
}

func hashPrefix(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.CopyN(h, f, n); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Extend implements `extend`: updates the running hash in memory
// and returns the new offset. Pure — does not touch disk or Store.
func (s *State) Extend(chunk []byte) int64 {
	s.hasher.Write(chunk)
	s.offset += int64(len(chunk))
	return s.offset
}

// Checksum returns the hex digest of the hash state as of the last Extend.
func (s *State) Checksum() string {
	// Sum does not mutate the hasher's running state in the stdlib
	// implementation, so this is safe to call mid-transfer.
	sum := s.hasher.Sum(nil)
	return hex.EncodeToString(sum)
}

// ProgressRecorder persists validated progress into Store; Fetcher supplies
// *store.Store through this narrow interface so this package does not import
// store.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, fileID string, newOffset int64, partialChecksum string, declaredSize int64) error
}

// Persist implements `persist`: fsyncs the part file's on-disk
// bytes, then records the offset/checksum in Store — in that order, so a
// crash between the two never reports an offset Store cannot verify against
// disk (the coherence property property 4).
func (s *State) Persist(ctx context.Context, f *os.File, fileID string, declaredSize int64, recorder ProgressRecorder) error {
	if err := f.Sync(); err != nil {
		return fmt.Errorf("resume: fsync: %w", err)
	}
	if err := recorder.RecordProgress(ctx, fileID, s.offset, s.Checksum(), declaredSize); err != nil {
		return fmt.Errorf("resume: record progress: %w", err)
	}
	return nil
}

// Finalize atomically renames the ".part" file to its final target path on
// clean completion (open question resolution).
func Finalize(targetPath string) error {
	return os.Rename(targetPath+PartSuffix, targetPath)
}
