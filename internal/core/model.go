// Package core defines the shared data model for the download engine: the
// persistent FileRecord/PeerCursor types and the in-memory DownloadTask the
// Enumerator hands to the WorkerPool.
package core

import "time"

// Status is the lifecycle state of a FileRecord: a named string type whose
// valid values are the constants below. The compiler does not stop other
// strings from being converted to it, and it does not check transitions.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusSkipped    Status = "SKIPPED"
)

// Format is the derived audio container/codec classification.
type Format string

const (
	FormatMP3   Format = "mp3"
	FormatFLAC  Format = "flac"
	FormatOGG   Format = "ogg"
	FormatM4A   Format = "m4a"
	FormatWAV   Format = "wav"
	FormatOpus  Format = "opus"
	FormatOther Format = "other"
)

// ErrorKind tags the taxonomy It is carried on FileRecord as
// diagnostic context, not used for control flow (control flow uses the typed
// errors in this package).
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindTransient            ErrorKind = "Transient"
	ErrorKindFloodWait            ErrorKind = "FloodWait"
	ErrorKindFileReferenceExpired ErrorKind = "FileReferenceExpired"
	ErrorKindAuth                 ErrorKind = "Auth"
	ErrorKindIntegrity            ErrorKind = "Integrity"
	ErrorKindStorage              ErrorKind = "Storage"
	ErrorKindStateConflict        ErrorKind = "StateConflict"
	ErrorKindInternal             ErrorKind = "Internal"
)

// FileRecord is one row per remote audio artifact ever seen, keyed by FileID.
// See for the invariants this type must uphold; Store is the only
// component allowed to persist mutations to it.
type FileRecord struct {
	FileID          string `gorm:"primaryKey"`
	PeerID          int64  `gorm:"index:idx_peer_status"`
	MessageID       int64
	DeclaredSize    int64
	Mime            string
	Format          Format
	TargetPath      string
	Status          Status `gorm:"index:idx_peer_status;index:idx_status"`
	DownloadedBytes int64
	PartialChecksum string
	FinalChecksum   string

	Attempts     int
	LastErrorKind ErrorKind
	LastErrorAt   *time.Time
	NextEligibleAt *time.Time

	// Populated by MetadataExtractor (C10) after completion; all optional.
	Title           string
	Artist          string
	Album           string
	DurationSeconds int
	BitrateKbps     int

	GroupTitle string
	SenderName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FileRecord) TableName() string { return "file_records" }

// PeerCursor is the per-peer enumeration bookmark described in
type PeerCursor struct {
	PeerID               int64 `gorm:"primaryKey"`
	LastScannedMessageID int64
	LastScanAt           time.Time
	DisplayName          string
}

func (PeerCursor) TableName() string { return "peer_cursors" }

// Direction controls which way Enumerator walks a peer's message history.
type Direction string

const (
	DirectionNewestFirst Direction = "NewestFirst"
	DirectionOldestFirst Direction = "OldestFirst"
)

// DownloadTask is produced by Enumerator and consumed by WorkerPool. It is
// never persisted — restart recovery goes through Store + PeerCursor, not
// through replaying in-flight tasks.
type DownloadTask struct {
	Record   FileRecord
	Priority int
}
