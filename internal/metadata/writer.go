// Package metadata persists post metadata next to downloaded media, either
// embedded into the file itself or as a JSON sidecar.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/grabbit/grabbit/internal/models"
	"github.com/grabbit/grabbit/internal/recovery"
)

// Metadata is the subset of post fields persisted alongside media.
type Metadata struct {
	PostID    string         `json:"post_id"`
	Title     string         `json:"title"`
	Author    string         `json:"author"`
	Source    string         `json:"source"`
	URL       string         `json:"url"`
	CreatedAt time.Time      `json:"created_at"`
	Score     *int           `json:"score,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// FromPost builds the persisted metadata for a post.
func FromPost(post models.Post) Metadata {
	return Metadata{
		PostID:    post.ID,
		Title:     post.Title,
		Author:    post.Author,
		Source:    post.Source,
		URL:       post.URL,
		CreatedAt: post.CreatedAt,
		Score:     post.Score,
		Attrs:     post.Attrs,
	}
}

// Result reports which artifacts were produced for one media file.
type Result struct {
	Embedded       bool
	SidecarWritten bool
	SidecarPath    string
}

// Embedder writes metadata into a media file in place. Implementations
// return ErrUnsupportedFormat for files they cannot handle.
type Embedder interface {
	Embed(path string, md Metadata) error
}

// ErrUnsupportedFormat reports a media format the embedder cannot write to.
var ErrUnsupportedFormat = fmt.Errorf("format does not support embedded metadata")

// Writer persists metadata for downloaded media. A nil embedder means
// sidecar-only operation.
type Writer struct {
	embedder Embedder
}

// NewWriter creates a Writer. embedder may be nil.
func NewWriter(embedder Embedder) *Writer {
	return &Writer{embedder: embedder}
}

// Embed writes metadata into the media file itself. Unsupported formats are
// permanent failures: retrying never makes a JPEG out of a webm.
func (w *Writer) Embed(path string, md Metadata) error {
	if w.embedder == nil {
		return recovery.Permanent(fmt.Errorf("embed %s: %w", path, ErrUnsupportedFormat))
	}
	if err := w.embedder.Embed(path, md); err != nil {
		return recovery.Permanent(fmt.Errorf("embed %s: %w", path, err))
	}
	return nil
}

// WriteSidecar writes metadata as deterministic JSON next to the media file
// and returns the sidecar path. Write failures are resource errors.
func (w *Writer) WriteSidecar(path string, md Metadata) (string, error) {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata for %s: %w", md.PostID, err)
	}
	sidecar := path + ".json"
	if err := os.WriteFile(sidecar, append(data, '\n'), 0o644); err != nil {
		return "", recovery.Resource(fmt.Errorf("write sidecar: %w", err))
	}
	return sidecar, nil
}

// Apply persists metadata with best effort on both artifacts: it tries to
// embed, then always writes the sidecar. A post never ends up with zero
// metadata artifacts unless the sidecar write itself fails.
func (w *Writer) Apply(path string, md Metadata) (Result, error) {
	var res Result
	embedErr := w.Embed(path, md)
	res.Embedded = embedErr == nil

	sidecar, sidecarErr := w.WriteSidecar(path, md)
	if sidecarErr == nil {
		res.SidecarWritten = true
		res.SidecarPath = sidecar
	}

	if !res.Embedded && !res.SidecarWritten {
		return res, sidecarErr
	}
	return res, nil
}
