// Package vectorrecord models the Vector Record entity persisted only
// inside the vector store, plus the flat-map query Filter the Vector
// Store Adapter and Retriever both speak.
package vectorrecord

import (
	"fmt"
	"sort"
	"time"

	"github.com/rephole/rephole/domain/rerrors"
)

// Reserved metadata keys. User-supplied meta is filtered to strip any of
// these before being merged into a record, so these names always win.
const (
	KeyID           = "id"
	KeyCategory     = "category"
	KeyWorkspaceID  = "workspaceId"
	KeyUserID       = "userId"
	KeyTimestamp    = "timestamp"
	KeyFilePath     = "filePath"
	KeyFileType     = "fileType"
	KeyChunkIndex   = "chunkIndex"
	KeyChunkType    = "chunkType"
	KeyParentID     = "parentId"
	KeyRepositoryID = "repositoryId"
	KeyRepoID       = "repoId"
	KeyFunctionName = "functionName"
	KeyStartLine    = "startLine"
	KeyEndLine      = "endLine"

	// CategoryRepository is the fixed category value for every record
	// produced by the ingestion pipeline.
	CategoryRepository = "repository"
)

// ReservedKeys lists every metadata key the system controls. Order is
// insignificant; it exists for membership tests and for producing
// deterministic "stripped keys" logging.
var ReservedKeys = []string{
	KeyID, KeyCategory, KeyWorkspaceID, KeyUserID, KeyTimestamp,
	KeyFilePath, KeyFileType, KeyChunkIndex, KeyChunkType, KeyParentID,
	KeyRepositoryID, KeyRepoID, KeyFunctionName, KeyStartLine, KeyEndLine,
}

var reservedSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(ReservedKeys))
	for _, k := range ReservedKeys {
		m[k] = struct{}{}
	}
	return m
}()

// IsReserved reports whether a metadata key is one of the system-owned
// fields that user-supplied meta may never overwrite.
func IsReserved(key string) bool {
	_, ok := reservedSet[key]
	return ok
}

// HasOnlyPrimitiveValues reports whether every value in meta is a flat
// scalar. Unlike SanitizeMeta, it does not consider reserved key names —
// it exists for the producer's enqueue-time validation, where a caller's
// choice to reuse a reserved key name is a worker-time stripping concern,
// not a rejection reason.
func HasOnlyPrimitiveValues(meta map[string]any) bool {
	for _, v := range meta {
		if !IsPrimitive(v) {
			return false
		}
	}
	return true
}

// SanitizeMeta strips reserved keys and non-primitive values (arrays,
// nested maps, nil) from caller-supplied metadata. It returns the
// surviving primitive mapping and the list of keys that were dropped, in
// sorted order, for warning logs.
func SanitizeMeta(meta map[string]any) (survivors map[string]any, dropped []string) {
	survivors = make(map[string]any, len(meta))
	for k, v := range meta {
		if IsReserved(k) {
			dropped = append(dropped, k)
			continue
		}
		if !IsPrimitive(v) {
			dropped = append(dropped, k)
			continue
		}
		survivors[k] = v
	}
	sort.Strings(dropped)
	return survivors, dropped
}

// IsPrimitive reports whether v is a flat scalar value (string, bool, or
// numeric) that is safe to store as metadata. Nested maps, arrays, and nil
// are rejected.
func IsPrimitive(v any) bool {
	switch v.(type) {
	case nil:
		return false
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// Record is one vector record — a chunk's embedding plus the metadata the
// Retriever and filtered search rely on.
type Record struct {
	id       string
	vector   []float64
	content  string
	metadata map[string]any
}

// BuildParams carries the fields needed to assemble one record's
// metadata, before any caller-supplied meta is merged in.
type BuildParams struct {
	ChunkID      string
	Vector       []float64
	Content      string
	WorkspaceID  string
	UserID       string
	FilePath     string
	FileType     string
	ChunkIndex   int
	ChunkType    string
	ParentID     string
	RepositoryID string
	RepoID       string
	FunctionName string
	StartLine    int
	EndLine      int
	UserMeta     map[string]any
	Timestamp    time.Time
}

// Build assembles a Record from BuildParams. UserMeta is merged before
// the reserved fields are written, so reserved names always win. Callers
// should pass UserMeta already through SanitizeMeta; Build re-applies
// the reserved-key filter defensively.
func Build(p BuildParams) Record {
	meta := make(map[string]any, len(p.UserMeta)+len(ReservedKeys))
	for k, v := range p.UserMeta {
		if !IsReserved(k) {
			meta[k] = v
		}
	}

	meta[KeyID] = p.ChunkID
	meta[KeyCategory] = CategoryRepository
	meta[KeyWorkspaceID] = p.WorkspaceID
	meta[KeyUserID] = p.UserID
	meta[KeyTimestamp] = p.Timestamp.UTC().Format(time.RFC3339)
	meta[KeyFilePath] = p.FilePath
	meta[KeyFileType] = p.FileType
	meta[KeyChunkIndex] = p.ChunkIndex
	meta[KeyChunkType] = p.ChunkType
	meta[KeyParentID] = p.ParentID
	meta[KeyRepositoryID] = p.RepositoryID
	meta[KeyRepoID] = p.RepoID
	meta[KeyFunctionName] = p.FunctionName
	meta[KeyStartLine] = p.StartLine
	meta[KeyEndLine] = p.EndLine

	return Record{
		id:       p.ChunkID,
		vector:   p.Vector,
		content:  p.Content,
		metadata: meta,
	}
}

// ID returns the record's primary key — the originating chunk ID.
func (r Record) ID() string { return r.id }

// Vector returns the dense embedding.
func (r Record) Vector() []float64 { return r.vector }

// Content returns the exact chunk text the vector was computed from.
func (r Record) Content() string { return r.content }

// Metadata returns the record's full structured metadata map.
func (r Record) Metadata() map[string]any { return r.metadata }

// ParentID returns the metadata.parentId field, or "" if absent.
func (r Record) ParentID() string {
	v, _ := r.metadata[KeyParentID].(string)
	return v
}

// ValidateUniqueIDs checks that every record in a batch has a distinct
// ID, returning a *rerrors.BadChunkBatchError listing duplicates if not.
// filePath is used only to label the error; callers validate per-file
// batches before upsert.
func ValidateUniqueIDs(filePath string, records []Record) error {
	seen := make(map[string]int, len(records))
	var dupes []string
	for _, r := range records {
		seen[r.id]++
		if seen[r.id] == 2 {
			dupes = append(dupes, r.id)
		}
	}
	if len(dupes) > 0 {
		return rerrors.NewBadChunkBatchError(filePath, dupes)
	}
	return nil
}

// Filter is a flat mapping of primitives used as a metadata query
// predicate. Zero keys means no filter; one key is an equality match on
// that field; two or more keys are a logical AND over all equalities.
type Filter map[string]any

// NewFilter builds a Filter from a base set of fields plus optional
// caller-supplied meta, with meta merged first so the base fields (e.g.
// repoId) always win on key collision.
func NewFilter(base map[string]any, meta map[string]any) Filter {
	f := make(Filter, len(base)+len(meta))
	for k, v := range meta {
		f[k] = v
	}
	for k, v := range base {
		f[k] = v
	}
	return f
}

// IsEmpty reports whether the filter carries no keys.
func (f Filter) IsEmpty() bool { return len(f) == 0 }

// String renders the filter deterministically for logging.
func (f Filter) String() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s=%v", k, f[k])
	}
	return out + "}"
}

// SearchResult is one hit returned by a similarity search, with the
// store's native distance already converted to a [0,1] similarity score.
type SearchResult struct {
	Record Record
	Score  float64
}

// ScoreFromDistance converts a vector store distance into a [0,1]
// similarity score: score = 1 - distance.
func ScoreFromDistance(distance float64) float64 {
	return 1 - distance
}
