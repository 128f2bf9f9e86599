package enumerator

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teleaudio/teleaudio/internal/core"
	"github.com/teleaudio/teleaudio/internal/store"
	"github.com/teleaudio/teleaudio/internal/telegram"
)

type fakeLister struct {
	messages []telegram.Message
}

func (l *fakeLister) IterMessages(ctx context.Context, peerID int64, cursor int64, direction core.Direction) iter.Seq2[telegram.Message, error] {
	return func(yield func(telegram.Message, error) bool) {
		for _, m := range l.messages {
			if !yield(m, nil) {
				return
			}
		}
	}
}

type fakeCursorStore struct {
	cursor  core.PeerCursor
	records map[string]core.FileRecord
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{records: make(map[string]core.FileRecord)}
}

func (s *fakeCursorStore) GetPeerCursor(ctx context.Context, peerID int64) (core.PeerCursor, error) {
	return s.cursor, nil
}

func (s *fakeCursorStore) SetPeerCursor(ctx context.Context, peerID, messageID int64, displayName string) error {
	if messageID > s.cursor.LastScannedMessageID {
		s.cursor.LastScannedMessageID = messageID
	}
	if displayName != "" {
		s.cursor.DisplayName = displayName
	}
	return nil
}

func (s *fakeCursorStore) UpsertFile(ctx context.Context, rec core.FileRecord) (store.UpsertOutcome, *core.FileRecord, error) {
	if existing, ok := s.records[rec.FileID]; ok {
		return store.AlreadyExists, &existing, nil
	}
	s.records[rec.FileID] = rec
	inserted := rec
	return store.Inserted, &inserted, nil
}

func audioMessage(id int64) telegram.Message {
	return telegram.Message{MessageID: id, SenderName: "bot", Audio: &telegram.Audio{DeclaredSize: 100, Mime: "audio/mpeg", Format: core.FormatMP3}}
}

func TestStreamEmitsNewAudioMessages(t *testing.T) {
	lister := &fakeLister{messages: []telegram.Message{audioMessage(1), audioMessage(2), {MessageID: 3}}}
	cstore := newFakeCursorStore()
	e := New(Config{BatchSize: 50}, lister, cstore)

	var tasks []core.DownloadTask
	for task, err := range e.Stream(context.Background(), 42, core.DirectionNewestFirst, nil) {
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	require.Len(t, tasks, 2)
	require.Equal(t, int64(2), cstore.cursor.LastScannedMessageID)
}

func TestStreamSkipsAlreadyInProgressRecord(t *testing.T) {
	lister := &fakeLister{messages: []telegram.Message{audioMessage(1)}}
	cstore := newFakeCursorStore()
	cstore.records["42:1"] = core.FileRecord{FileID: "42:1", Status: core.StatusInProgress}
	e := New(Config{BatchSize: 50}, lister, cstore)

	var tasks []core.DownloadTask
	for task, err := range e.Stream(context.Background(), 42, core.DirectionNewestFirst, nil) {
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.Empty(t, tasks)
}

func TestStreamReemitsFailedWhenForced(t *testing.T) {
	lister := &fakeLister{messages: []telegram.Message{audioMessage(1)}}
	cstore := newFakeCursorStore()
	cstore.records["42:1"] = core.FileRecord{FileID: "42:1", Status: core.StatusFailed}
	e := New(Config{BatchSize: 50, Force: true}, lister, cstore)

	var tasks []core.DownloadTask
	for task, err := range e.Stream(context.Background(), 42, core.DirectionNewestFirst, nil) {
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.Len(t, tasks, 1)
}

func TestStreamHonorsGlobalLimit(t *testing.T) {
	lister := &fakeLister{messages: []telegram.Message{audioMessage(1), audioMessage(2), audioMessage(3)}}
	cstore := newFakeCursorStore()
	e := New(Config{BatchSize: 50}, lister, cstore)

	var remaining atomic.Int64
	remaining.Store(1)

	var tasks []core.DownloadTask
	for task, err := range e.Stream(context.Background(), 42, core.DirectionNewestFirst, &remaining) {
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	require.Len(t, tasks, 1)
}
