package telegram

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/gotd/td/tg"

	"github.com/teleaudio/teleaudio/internal/core"
)

// peerCache remembers the InputPeerClass gotd/td needs for any call against
// a peer previously seen via ResolvePeer or IterMessages — MTProto requires
// the access hash alongside the bare numeric ID for channels and users, so a
// peerID alone (as carried by core.FileRecord/PeerCursor) is not enough.
type peerCache struct {
	mu    sync.RWMutex
	peers map[int64]tg.InputPeerClass
}

func newPeerCache() *peerCache {
	return &peerCache{peers: make(map[int64]tg.InputPeerClass)}
}

func (c *peerCache) put(id int64, p tg.InputPeerClass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[id] = p
}

func (c *peerCache) get(id int64) (tg.InputPeerClass, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[id]
	return p, ok
}

// ResolvePeer resolves a channel username (with or without the leading @) to
// a stable peerID and display title, adapted from TeleTurbo's
// ResolveUsername / GetChannelPeer pair, and populates the shared peerCache
// so later FetchChunk/IterMessages calls never need to re-resolve. Every
// reference is looked up as a username: a numeric channel id is not resolved
// as an id.
func (c *Client) ResolvePeer(ctx context.Context, ref string) (int64, string, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "@")

	resolved, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: ref})
	if err != nil {
		return 0, "", fmt.Errorf("telegram: resolve username %q: %w", ref, err)
	}

	for _, chat := range resolved.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			peer := &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}
			c.peers.put(channel.ID, peer)
			return channel.ID, channel.Title, nil
		}
	}
	return 0, "", fmt.Errorf("telegram: %q did not resolve to a channel", ref)
}

// RefreshFileRef re-fetches the message carrying fileID/messageID to obtain a
// fresh FileReference. The coordinator calls it before every transfer, since
// a FileRecord never stores its FileRef.
func (c *Client) RefreshFileRef(ctx context.Context, peerID int64, messageID int64) (FileRef, error) {
	peer, ok := c.peerFor(peerID)
	if !ok {
		return FileRef{}, fmt.Errorf("telegram: unknown peer %d", peerID)
	}
	channelPeer, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return FileRef{}, fmt.Errorf("telegram: peer %d is not a channel", peerID)
	}

	messages, err := c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: &tg.InputChannel{ChannelID: channelPeer.ChannelID, AccessHash: channelPeer.AccessHash},
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: int(messageID)}},
	})
	if err != nil {
		return FileRef{}, fmt.Errorf("telegram: refresh file ref: %w", err)
	}

	msg, ok := firstMessage(messages)
	if !ok {
		return FileRef{}, fmt.Errorf("telegram: message %d not found", messageID)
	}
	_, loc, _, _, err := audioFromMessage(msg)
	if err != nil {
		return FileRef{}, err
	}
	return FileRef{inner: loc}, nil
}

func (c *Client) peerFor(peerID int64) (tg.InputPeerClass, bool) {
	if c.peers == nil {
		return nil, false
	}
	return c.peers.get(peerID)
}

// FetchChunk implements the Transport contract's fetch_chunk 
// against tg.UploadGetFileRequest. gotd/td requires offset and limit to be
// aligned to 4KB boundaries; offset and length are passed through unchanged,
// so requests are aligned only when the caller's chunk size is a multiple
// of 4096.
func (c *Client) FetchChunk(ctx context.Context, ref FileRef, offset, length int64) (ChunkResult, error) {
	loc, ok := ref.inner.(tg.InputFileLocationClass)
	if !ok {
		return ChunkResult{}, fmt.Errorf("telegram: invalid file ref")
	}

	result, err := c.api.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Location: loc,
		Offset:   offset,
		Limit:    int(length),
	})
	if err != nil {
		return ChunkResult{}, classifyUploadError(err)
	}

	switch f := result.(type) {
	case *tg.UploadFile:
		return ChunkResult{Bytes: f.Bytes, IsLast: len(f.Bytes) < int(length)}, nil
	case *tg.UploadFileCDNRedirect:
		return ChunkResult{}, fmt.Errorf("telegram: CDN redirect delivery unsupported")
	default:
		return ChunkResult{}, fmt.Errorf("telegram: unexpected upload.File variant %T", result)
	}
}

// IterMessages implements the Transport contract's message stream 
// via repeated tg.MessagesGetHistoryRequest pagination, honoring
// core.Direction the way the enumerator's cursor semantics require.
func (c *Client) IterMessages(ctx context.Context, peerID int64, cursor int64, direction core.Direction) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		peer, ok := c.peerFor(peerID)
		if !ok {
			yield(Message{}, fmt.Errorf("telegram: unknown peer %d", peerID))
			return
		}
		inputPeer := peerToInputPeer(peer)

		offsetID := 0
		const pageSize = 100
		for {
			if err := ctx.Err(); err != nil {
				yield(Message{}, err)
				return
			}

			history, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     inputPeer,
				OffsetID: offsetID,
				Limit:    pageSize,
			})
			if err != nil {
				yield(Message{}, classifyHistoryError(err))
				return
			}

			msgs := messagesOf(history)
			if len(msgs) == 0 {
				return
			}

			for _, m := range msgs {
				msg, ok := m.(*tg.Message)
				if !ok {
					continue
				}
				if direction == core.DirectionOldestFirst && int64(msg.ID) <= cursor {
					continue
				}
				if direction == core.DirectionNewestFirst && int64(msg.ID) <= cursor {
					return
				}

				out := Message{MessageID: int64(msg.ID), SenderName: senderNameOf(msg)}
				if audio, _, declaredSize, mime, err := audioFromMessage(msg); err == nil {
					out.Audio = &Audio{
						FileRef:      FileRef{inner: audio},
						DeclaredSize: declaredSize,
						Mime:         mime,
						Format:       formatFromMime(mime),
						Filename:     filenameOfMessage(msg),
					}
				}

				if !yield(out, nil) {
					return
				}
			}

			offsetID = int(msgs[len(msgs)-1].(*tg.Message).ID)
			if len(msgs) < pageSize {
				return
			}
		}
	}
}

func peerToInputPeer(p tg.InputPeerClass) tg.InputPeerClass { return p }

func messagesOf(h tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := h.(type) {
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesChannelMessages:
		return m.Messages
	default:
		return nil
	}
}

func firstMessage(h tg.MessagesMessagesClass) (*tg.Message, bool) {
	msgs := messagesOf(h)
	if len(msgs) == 0 {
		return nil, false
	}
	msg, ok := msgs[0].(*tg.Message)
	return msg, ok
}

func senderNameOf(msg *tg.Message) string {
	if msg.PostAuthor != "" {
		return msg.PostAuthor
	}
	return ""
}

func filenameOfMessage(msg *tg.Message) string {
	doc, ok := documentOf(msg)
	if !ok {
		return ""
	}
	for _, attr := range doc.Attributes {
		if fa, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return fa.FileName
		}
	}
	return ""
}

func documentOf(msg *tg.Message) (*tg.Document, bool) {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok || media.Document == nil {
		return nil, false
	}
	doc, ok := media.Document.(*tg.Document)
	return doc, ok
}

// audioFromMessage extracts a playable audio document from a message, the
// same extraction TeleTurbo's extractFileInfo performed for arbitrary
// media — narrowed here to audio-typed documents only, since non-audio
// attachments fall outside this system's scope (non-goal).
func audioFromMessage(msg *tg.Message) (tg.InputFileLocationClass, tg.InputFileLocationClass, int64, string, error) {
	doc, ok := documentOf(msg)
	if !ok {
		return nil, nil, 0, "", fmt.Errorf("telegram: message has no document")
	}
	if !isAudioDocument(doc) {
		return nil, nil, 0, "", fmt.Errorf("telegram: document is not audio")
	}

	loc := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}
	return loc, loc, doc.Size, doc.MimeType, nil
}

func isAudioDocument(doc *tg.Document) bool {
	if strings.HasPrefix(doc.MimeType, "audio/") {
		return true
	}
	for _, attr := range doc.Attributes {
		switch attr.(type) {
		case *tg.DocumentAttributeAudio:
			return true
		}
	}
	return false
}

func formatFromMime(mime string) core.Format {
	switch {
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return core.FormatMP3
	case strings.Contains(mime, "flac"):
		return core.FormatFLAC
	case strings.Contains(mime, "ogg"):
		return core.FormatOGG
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return core.FormatM4A
	case strings.Contains(mime, "wav"):
		return core.FormatWAV
	case strings.Contains(mime, "opus"):
		return core.FormatOpus
	default:
		return core.FormatOther
	}
}

// classifyUploadError maps gotd/td RPC errors from upload.getFile into the
// core error taxonomy : FLOOD_WAIT_* becomes core.FloodWait,
// FILE_REFERENCE_EXPIRED becomes a retriable core.Retriable (the coordinator
// calls RefreshFileRef before each transfer), AUTH_KEY_UNREGISTERED and
// SESSION_REVOKED become core.Fatal, everything else is treated as transient.
func classifyUploadError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FLOOD_WAIT_"):
		return &core.FloodWait{WaitSeconds: parseFloodWaitSeconds(msg)}
	case strings.Contains(msg, "FILE_REFERENCE_EXPIRED"):
		return &core.Retriable{Kind: core.ErrorKindFileReferenceExpired, Err: err}
	case strings.Contains(msg, "AUTH_KEY_UNREGISTERED"), strings.Contains(msg, "SESSION_REVOKED"):
		return &core.Fatal{Kind: core.ErrorKindAuth, Err: err}
	default:
		return &core.Retriable{Kind: core.ErrorKindTransient, Err: err}
	}
}

func classifyHistoryError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "FLOOD_WAIT_") {
		return &core.FloodWait{WaitSeconds: parseFloodWaitSeconds(msg)}
	}
	return &core.Retriable{Kind: core.ErrorKindTransient, Err: err}
}

func parseFloodWaitSeconds(msg string) int {
	idx := strings.Index(msg, "FLOOD_WAIT_")
	if idx < 0 {
		return 1
	}
	rest := msg[idx+len("FLOOD_WAIT_"):]
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 1
	}
	return n
}
