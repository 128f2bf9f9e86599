package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teleaudio/teleaudio/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertFileIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := core.FileRecord{FileID: "f1", PeerID: 1, MessageID: 10, TargetPath: "/tmp/f1.mp3"}

	outcome, _, err := s.UpsertFile(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, Inserted, outcome)

	outcome, _, err = s.UpsertFile(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, AlreadyExists, outcome)
}

func TestTryClaimSingleWinner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	claimed := make([]bool, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := s.TryClaim(ctx, "f1")
			require.NoError(t, err)
			claimed[i] = outcome == Claimed
		}()
	}
	wg.Wait()

	count := 0
	for _, c := range claimed {
		if c {
			count++
		}
	}
	require.Equal(t, 1, count, "exactly one concurrent claimant should win")
}

func TestTryClaimNotFound(t *testing.T) {
	s := openTestStore(t)
	outcome, _, err := s.TryClaim(context.Background(), "missing")
	require.NoError(t, err)
	require.Equal(t, ClaimNotFound, outcome)
}

func TestRecordProgressMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", DeclaredSize: 100, TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)

	require.NoError(t, s.RecordProgress(ctx, "f1", 50, "abc", 0))
	require.NoError(t, s.RecordProgress(ctx, "f1", 60, "def", 0))

	err = s.RecordProgress(ctx, "f1", 10, "ghi", 0)
	require.ErrorIs(t, err, core.ErrNonMonotonicOffset)
}

func TestCompleteIdempotentOnMatchingChecksum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)
	_, _, err = s.TryClaim(ctx, "f1")
	require.NoError(t, err)

	require.NoError(t, s.Complete(ctx, "f1", "checksum-a", 100))
	require.NoError(t, s.Complete(ctx, "f1", "checksum-a", 100)) // idempotent replay

	err = s.Complete(ctx, "f1", "checksum-b", 100)
	require.ErrorIs(t, err, core.ErrConflictingCompletion)
}

func TestFailRetriableReturnsToPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)
	_, _, err = s.TryClaim(ctx, "f1")
	require.NoError(t, err)

	require.NoError(t, s.Fail(ctx, "f1", core.ErrorKindTransient, true, 3, time.Now().Add(time.Second)))
	rec, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, core.StatusPending, rec.Status)
	require.Equal(t, 1, rec.Attempts)
}

func TestFailExhaustedGoesToFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)
	_, _, err = s.TryClaim(ctx, "f1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		if i < 2 {
			require.NoError(t, s.Fail(ctx, "f1", core.ErrorKindTransient, true, 3, time.Now().Add(time.Second)))
			_, _, err = s.TryClaim(ctx, "f1")
			require.NoError(t, err)
		}
	}
	require.NoError(t, s.Fail(ctx, "f1", core.ErrorKindTransient, true, 3, time.Now().Add(time.Second)))
	rec, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, rec.Status)
}

func TestPeerCursorMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetPeerCursor(ctx, 1, 100, "Test Group"))
	require.NoError(t, s.SetPeerCursor(ctx, 1, 50, "")) // lower id ignored

	cur, err := s.GetPeerCursor(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), cur.LastScannedMessageID)
}

func TestRevertInProgress(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _, err := s.UpsertFile(ctx, core.FileRecord{FileID: "f1", TargetPath: "/tmp/f1.mp3"})
	require.NoError(t, err)
	_, _, err = s.TryClaim(ctx, "f1")
	require.NoError(t, err)

	n, err := s.RevertInProgress(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rec, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, core.StatusPending, rec.Status)
}
