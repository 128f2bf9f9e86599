package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/telegram"
)

type fakeTransport struct {
	chunks [][]byte
	calls  int
	served int
	failAt int
	failErr error
}

func (f *fakeTransport) FetchChunk(ctx context.Context, ref telegram.FileRef, offset, length int64) (telegram.ChunkResult, error) {
	call := f.calls
	f.calls++
	if f.failErr != nil && call == f.failAt {
		return telegram.ChunkResult{}, f.failErr
	}
	idx := f.served
	f.served++
	if idx >= len(f.chunks) {
		return telegram.ChunkResult{IsLast: true}, nil
	}
	isLast := idx == len(f.chunks)-1
	return telegram.ChunkResult{Bytes: f.chunks[idx], IsLast: isLast}, nil
}

type fakeGovernor struct {
	penalties []float64
}

func (g *fakeGovernor) Acquire(ctx context.Context, n int) error { return nil }
func (g *fakeGovernor) Penalize(waitSeconds float64)             { g.penalties = append(g.penalties, waitSeconds) }

type fakeStore struct {
	progress map[string]int64
	completed bool
	finalChecksum string
	finalSize int64
}

func newFakeStore() *fakeStore { return &fakeStore{progress: make(map[string]int64)} }

func (s *fakeStore) RecordProgress(ctx context.Context, fileID string, newOffset int64, partialChecksum string, declaredSize int64) error {
	s.progress[fileID] = newOffset
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, fileID, finalChecksum string, finalSize int64) error {
	s.completed = true
	s.finalChecksum = finalChecksum
	s.finalSize = finalSize
	return nil
}

func (s *fakeStore) UpdateMetadata(ctx context.Context, fileID, title, artist, album string, durationSeconds, bitrateKbps int) error {
	return nil
}

func digest(chunks ...[]byte) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func TestRunCompletesFreshDownload(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "song.mp3")
	chunkA := []byte("hello ")
	chunkB := []byte("world")

	rec := core.FileRecord{FileID: "f1", TargetPath: target, DeclaredSize: int64(len(chunkA) + len(chunkB))}
	transport := &fakeTransport{chunks: [][]byte{chunkA, chunkB}}
	governor := &fakeGovernor{}
	store := newFakeStore()

	fetcher := New(Config{ChunkSize: 1024, PersistEveryChunks: 1, PersistEvery: time.Hour, ChunkTimeout: 5 * time.Second}, transport, governor, store, nil)

	err := fetcher.Run(context.Background(), rec, telegram.FileRef{})
	require.NoError(t, err)
	require.True(t, store.completed)
	require.Equal(t, digest(chunkA, chunkB), store.finalChecksum)
	require.Equal(t, int64(len(chunkA)+len(chunkB)), store.finalSize)

	_, err = os.Stat(target)
	require.NoError(t, err)
	_, err = os.Stat(target + ".part")
	require.True(t, os.IsNotExist(err))
}

func TestRunAppliesPenaltyOnFloodWait(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "song.mp3")
	chunkA := []byte("payload")

	rec := core.FileRecord{FileID: "f2", TargetPath: target, DeclaredSize: int64(len(chunkA))}
	transport := &fakeTransport{chunks: [][]byte{chunkA}, failAt: 0, failErr: &core.FloodWait{WaitSeconds: 0}}
	governor := &fakeGovernor{}
	store := newFakeStore()

	fetcher := New(Config{ChunkSize: 1024, PersistEveryChunks: 1, PersistEvery: time.Hour, ChunkTimeout: 5 * time.Second}, transport, governor, store, nil)

	err := fetcher.Run(context.Background(), rec, telegram.FileRef{})
	require.NoError(t, err)
	require.Len(t, governor.penalties, 1)
	require.True(t, store.completed)
}

func TestRunReturnsRetriableOnTransientError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "song.mp3")

	rec := core.FileRecord{FileID: "f3", TargetPath: target, DeclaredSize: 10}
	transientErr := &core.Retriable{Kind: core.ErrorKindTransient, Err: os.ErrDeadlineExceeded}
	transport := &fakeTransport{chunks: [][]byte{[]byte("abc")}, failAt: 0, failErr: transientErr}
	governor := &fakeGovernor{}
	store := newFakeStore()

	fetcher := New(Config{ChunkSize: 1024, PersistEveryChunks: 1, PersistEvery: time.Hour, ChunkTimeout: 5 * time.Second}, transport, governor, store, nil)

	err := fetcher.Run(context.Background(), rec, telegram.FileRef{})
	require.Error(t, err)
	require.True(t, core.IsRetriable(err))
	require.False(t, store.completed)
}

func TestRunReturnsIntegrityErrorOnSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "song.mp3")

	rec := core.FileRecord{FileID: "f4", TargetPath: target, DeclaredSize: 999}
	transport := &fakeTransport{chunks: [][]byte{[]byte("short")}}
	governor := &fakeGovernor{}
	store := newFakeStore()

	fetcher := New(Config{ChunkSize: 1024, PersistEveryChunks: 1, PersistEvery: time.Hour, ChunkTimeout: 5 * time.Second}, transport, governor, store, nil)

	err := fetcher.Run(context.Background(), rec, telegram.FileRef{})
	require.Error(t, err)
	require.True(t, core.IsNonRetriable(err))
	require.False(t, store.completed)
}
