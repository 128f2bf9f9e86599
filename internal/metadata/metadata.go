// Package metadata implements C10 — the MetadataExtractor contract, reading
// embedded tags from the completed file on disk via github.com/dhowden/tag.
// This is an out-of-pack dependency: no retrieved repo does audio tag
// parsing, so it is named directly rather than grounded on an example.
package metadata

import (
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// Metadata is the MetadataExtractor contract's return value.
type Metadata struct {
	Title           string
	Artist          string
	Album           string
	DurationSeconds int
	BitrateKbps     int
	Format          string
}

// Extractor reads ID3/FLAC/OGG/MP4 tags from a completed download.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract opens path and reads its embedded tags. Failure here is never
// fatal to a download — callers decide what to do with a non-nil error,
// typically just logging it.
func (e *Extractor) Extract(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("metadata: read tags: %w", err)
	}

	// tag.ReadFrom parses container/tag metadata only, not audio frames, so
	// duration and bitrate are left at zero — a decoding library would be
	// needed for those and none is present anywhere in the retrieved pack.
	return Metadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
		Format: string(m.Format()),
	}, nil
}
