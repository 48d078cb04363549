// Package chunk models the ephemeral Code Chunk emitted by the chunker.
// Chunks are never persisted; they live for the duration of one ingestion
// job before being embedded and folded into vector records.
package chunk

import "fmt"

// Chunk is a syntactically meaningful slice of source text — a function,
// method, class, or similar block — with a stable, location-derived ID.
type Chunk struct {
	id        string
	chunkType string
	name      string
	content   string
	startLine int
	endLine   int
}

// New builds a Chunk, deriving its canonical ID from filePath, name, and
// chunkType per the "{filePath}:{name}:{nodeType}:L{startLine}" scheme.
// name is "anonymous" when the block has no attached identifier.
func New(filePath, name, chunkType, content string, startLine, endLine int) Chunk {
	if name == "" {
		name = "anonymous"
	}
	return Chunk{
		id:        CanonicalID(filePath, name, chunkType, startLine),
		chunkType: chunkType,
		name:      name,
		content:   content,
		startLine: startLine,
		endLine:   endLine,
	}
}

// CanonicalID builds the chunk ID scheme fixed by the data model:
// "{filePath}:{name}:{nodeType}:L{startLine}".
func CanonicalID(filePath, name, nodeType string, startLine int) string {
	return fmt.Sprintf("%s:%s:%s:L%d", filePath, name, nodeType, startLine)
}

// ID returns the chunk's canonical, file-unique identifier.
func (c Chunk) ID() string { return c.id }

// Type returns the grammar node type the chunk was captured from.
func (c Chunk) Type() string { return c.chunkType }

// Name returns the resolved identifier name, or "anonymous".
func (c Chunk) Name() string { return c.name }

// Content returns the chunk's source text, including any leading
// comment/decorator chain absorbed during context expansion.
func (c Chunk) Content() string { return c.content }

// StartLine returns the 1-indexed inclusive start line.
func (c Chunk) StartLine() int { return c.startLine }

// EndLine returns the 1-indexed inclusive end line.
func (c Chunk) EndLine() int { return c.endLine }

// IsBlank reports whether the chunk's content is empty or whitespace-only.
// The worker drops such chunks before embedding.
func (c Chunk) IsBlank() bool {
	for _, r := range c.content {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		default:
			return false
		}
	}
	return true
}

// DuplicateIDs scans a slice of chunks and returns any IDs that occur more
// than once, in first-seen order. An empty result means the batch is
// clean — chunk IDs emitted for one file must be pairwise distinct.
func DuplicateIDs(chunks []Chunk) []string {
	seen := make(map[string]int, len(chunks))
	var dupes []string
	for _, c := range chunks {
		seen[c.id]++
		if seen[c.id] == 2 {
			dupes = append(dupes, c.id)
		}
	}
	return dupes
}
