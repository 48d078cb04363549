// Package blob models the Content Blob entity — the full sanitized text of
// one source file, keyed by its repository-relative path.
package blob

import "time"

// Blob is one source file's full content as persisted by the Blob Store
// Adapter, keyed by its repository-relative path.
type Blob struct {
	id        string
	repoID    string
	content   string
	metadata  map[string]any
	createdAt time.Time
	updatedAt time.Time
}

// New builds a Blob for a fresh save. Content should already have passed
// through Sanitize.
func New(id, repoID, content string, metadata map[string]any) Blob {
	now := time.Now()
	return Blob{
		id:        id,
		repoID:    repoID,
		content:   content,
		metadata:  copyMeta(metadata),
		createdAt: now,
		updatedAt: now,
	}
}

// Reconstruct rebuilds a Blob from persisted fields, e.g. when a store
// adapter reads a row back from GORM.
func Reconstruct(id, repoID, content string, metadata map[string]any, createdAt, updatedAt time.Time) Blob {
	return Blob{
		id:        id,
		repoID:    repoID,
		content:   content,
		metadata:  copyMeta(metadata),
		createdAt: createdAt,
		updatedAt: updatedAt,
	}
}

// ID returns the blob's primary key — the file's repository-relative path.
func (b Blob) ID() string { return b.id }

// RepoID returns the owning repository's id.
func (b Blob) RepoID() string { return b.repoID }

// Content returns the sanitized file text.
func (b Blob) Content() string { return b.content }

// Metadata returns a defensive copy of the free-form metadata map.
func (b Blob) Metadata() map[string]any { return copyMeta(b.metadata) }

// CreatedAt returns when the blob was first saved.
func (b Blob) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns when the blob was last saved.
func (b Blob) UpdatedAt() time.Time { return b.updatedAt }

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SanitizeResult reports what Sanitize did to a piece of content.
type SanitizeResult struct {
	Content        string
	BytesStripped  int
}

// Sanitize strips every U+0000 byte and every C0 control character except
// line feed (0x0A), carriage return (0x0D), and tab (0x09). It never
// errors; the count of stripped bytes is reported for logging.
func Sanitize(content string) SanitizeResult {
	src := []byte(content)
	out := make([]byte, 0, len(src))
	stripped := 0
	for _, b := range src {
		if b < 0x20 && b != 0x0A && b != 0x0D && b != 0x09 {
			stripped++
			continue
		}
		out = append(out, b)
	}
	return SanitizeResult{Content: string(out), BytesStripped: stripped}
}
