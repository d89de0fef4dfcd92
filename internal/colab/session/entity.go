package session

import (
	"github.com/blockwise/colabd/internal/colab/protocol"
	"github.com/blockwise/colabd/internal/colab/snapcodec"
)

// Meta is the versioning metadata every shared entity carries. Versions
// start at 1 on the first write; first-edited fields are sticky for the
// entity's lifetime in RAM.
type Meta struct {
	Version       int64
	FirstEditedBy string
	FirstEditedAt int64 // Unix milliseconds
	UpdatedBy     string
	UpdatedAt     int64
}

// touch records one successful mutation by editor at ts.
func (m *Meta) touch(editor string, ts int64) {
	if m.Version == 0 {
		m.FirstEditedBy = editor
		m.FirstEditedAt = ts
	}
	m.Version++
	m.UpdatedBy = editor
	m.UpdatedAt = ts
}

func (m Meta) wire(etag string) protocol.EntityMeta {
	return protocol.EntityMeta{
		Version:       m.Version,
		Etag:          etag,
		FirstEditedBy: m.FirstEditedBy,
		FirstEditedAt: m.FirstEditedAt,
		UpdatedBy:     m.UpdatedBy,
		UpdatedAt:     m.UpdatedAt,
	}
}

// Element is a generic shared element (block, sprite, variable, ...)
// keyed by element id. The element's type names its entity kind.
type Element struct {
	ID   string
	Type string
	Data map[string]any
	Meta
}

// Etag returns the element's current weak ETag.
func (e *Element) Etag() string {
	return protocol.ETag(e.Type, e.ID, e.Version)
}

// SpriteMetrics is the per-sprite metrics entity derived from
// sprite_update frames.
type SpriteMetrics struct {
	SpriteID string
	Metrics  map[string]any
	Meta
}

// Etag returns the metrics entity's current weak ETag.
func (s *SpriteMetrics) Etag() string {
	return protocol.ETag(protocol.KindSpriteMetrics, s.SpriteID, s.Version)
}

// Snapshot holds one sprite's serialized editor state. The payload is
// kept zstd-compressed; snapshots run to two million characters and
// compress extremely well.
type Snapshot struct {
	SpriteID   string
	compressed []byte
	Meta
}

// Etag returns the snapshot entity's current weak ETag.
func (s *Snapshot) Etag() string {
	return protocol.ETag(protocol.KindWorkspaceSnapshot, s.SpriteID, s.Version)
}

func (s *Snapshot) setText(text string) {
	s.compressed = snapcodec.Compress([]byte(text))
}

// Text inflates the stored snapshot payload.
func (s *Snapshot) Text() (string, error) {
	b, err := snapcodec.Decompress(s.compressed)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
