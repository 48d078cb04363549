// Package vectorstore implements the Vector Store Adapter contract
// against Qdrant over its native gRPC client, including a client with
// health checks and retry, and a Filter built from an arbitrary
// primitive-valued map.
package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/rephole/rephole/domain/vectorrecord"
)

// pointUUID derives a deterministic UUIDv5 point ID from a chunk's
// canonical string ID. Qdrant point IDs must be a UUID or an unsigned
// integer — canonical chunk IDs ("path:name:type:Lline") are neither, so
// the canonical ID is also written into the payload's "id" field and is
// what every read path reports back as the record's ID.
func pointUUID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// ContentVectorName is the named vector chunks are stored under. Parent
// blobs never get a vector — they live only in the Content Blob Store —
// so every point this adapter writes uses this single named vector.
const ContentVectorName = "content"

// DefaultBatchSize caps how many points one Upsert gRPC call carries.
const DefaultBatchSize = 1000

// maxGRPCMessageSize bounds a single gRPC message in either direction. A
// full upsert batch of large chunks can exceed gRPC's 4 MiB default.
const maxGRPCMessageSize = 32 << 20

// filterableFields gets a payload index each — without one, filtering
// degrades to a full collection scan.
var filterableFields = []string{
	vectorrecord.KeyRepoID,
	vectorrecord.KeyParentID,
	vectorrecord.KeyFilePath,
	vectorrecord.KeyCategory,
}

// Store is the Qdrant-backed Vector Store Adapter. One Store serves one
// collection; multi-tenancy is expressed through the repoId/workspaceId
// payload fields, not through collection-per-tenant.
type Store struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
	batchSize      int
	useTLS         bool

	bootstrapOnce sync.Once
	bootstrapErr  error
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTLS dials the endpoint over TLS instead of plaintext gRPC.
func WithTLS(useTLS bool) Option {
	return func(s *Store) { s.useTLS = useTLS }
}

// New dials Qdrant and performs a health check with retry before
// returning, so a misconfigured adapter fails fast at startup rather
// than on the first request.
func New(host string, port int, collectionName string, vectorSize uint64, opts ...Option) (*Store, error) {
	s := &Store{
		collectionName: collectionName,
		vectorSize:     vectorSize,
		batchSize:      DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: s.useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(maxGRPCMessageSize),
				grpc.MaxCallSendMsgSize(maxGRPCMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s.client = client

	if err := s.healthCheckWithRetry(context.Background()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant unreachable: %w", err)
	}
	return s, nil
}

func (s *Store) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		result, err := s.client.HealthCheck(ctx)
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned empty response")
		}
		return nil
	}, b)
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ensureCollection lazily bootstraps the collection and its payload
// indexes exactly once per Store lifetime, idempotently. Safe to call
// from every write path.
func (s *Store) ensureCollection(ctx context.Context) error {
	s.bootstrapOnce.Do(func() {
		s.bootstrapErr = s.bootstrap(ctx)
	})
	return s.bootstrapErr
}

func (s *Store) bootstrap(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collectionName {
			return nil
		}
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collectionName,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			ContentVectorName: {
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}); err != nil {
		return fmt.Errorf("create collection %s: %w", s.collectionName, err)
	}

	for _, field := range filterableFields {
		if _, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			return fmt.Errorf("create payload index on %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes a batch of vector records, validating that every ID in
// the batch is distinct before issuing any writes. filePath labels the
// BadChunkBatchError on a duplicate-ID rejection.
func (s *Store) Upsert(ctx context.Context, filePath string, records []vectorrecord.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorrecord.ValidateUniqueIDs(filePath, records); err != nil {
		return err
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsertBatchWithRetry(ctx, toPoints(records[start:end])); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Store) upsertBatchWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionName,
			Points:         points,
		})
		return err
	}, b)
}

func toPoints(records []vectorrecord.Record) []*qdrant.PointStruct {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		vec := make([]float32, len(r.Vector()))
		for j, v := range r.Vector() {
			vec[j] = float32(v)
		}
		points[i] = &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(pointUUID(r.ID())),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				ContentVectorName: qdrant.NewVector(vec...),
			}),
			Payload: qdrant.NewValueMap(withContent(r.Metadata(), r.Content())),
		}
	}
	return points
}

func withContent(meta map[string]any, content string) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["content"] = content
	return out
}

// SimilaritySearch runs a k-nearest-neighbor query against the content
// vector, optionally restricted by filter, converting Qdrant's native
// distance into a [0,1] similarity score.
func (s *Store) SimilaritySearch(ctx context.Context, vector []float64, k int, filter vectorrecord.Filter) ([]vectorrecord.SearchResult, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec := make([]float32, len(vector))
	for i, v := range vector {
		vec[i] = float32(v)
	}

	vectorName := ContentVectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vec...),
		Using:          &vectorName,
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	out := make([]vectorrecord.SearchResult, 0, len(results))
	for _, point := range results {
		rec, err := fromPayload(point.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, vectorrecord.SearchResult{
			Record: rec,
			Score:  vectorrecord.ScoreFromDistance(1 - float64(point.Score)),
		})
	}
	return out, nil
}

// GetByIDs fetches records by primary key, silently omitting any ID that
// no longer exists.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]vectorrecord.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}

	out := make([]vectorrecord.Record, 0, len(points))
	for _, p := range points {
		rec, err := fromPayload(p.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetByFilePath fetches every record a file's last ingestion produced,
// scoped by (repoId, filePath). Scrolls in pages so a file with more
// chunks than one scroll page still comes back whole.
func (s *Store) GetByFilePath(ctx context.Context, repoID, path string) ([]vectorrecord.Record, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(vectorrecord.KeyRepoID, repoID),
			qdrant.NewMatch(vectorrecord.KeyFilePath, path),
		},
	}

	pageSize := uint32(100)
	var out []vectorrecord.Record
	var offset *qdrant.PointId
	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collectionName,
			Filter:         filter,
			Limit:          qdrant.PtrOf(pageSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("get by file path %s: %w", path, err)
		}
		for _, p := range points {
			rec, err := fromPayload(p.Payload)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if uint32(len(points)) < pageSize {
			return out, nil
		}
		offset = points[len(points)-1].Id
	}
}

// DeleteByIDs removes points by primary key. A no-op if ids is empty.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(pointUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete by ids: %w", err)
	}
	return nil
}

// DeleteByFilter removes every point matching filter — used to garbage
// collect a deleted or renamed file's chunks by (repoId, filePath).
func (s *Store) DeleteByFilter(ctx context.Context, filter vectorrecord.Filter) error {
	if filter.IsEmpty() {
		return fmt.Errorf("delete by filter: refusing an empty filter")
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildFilter(filter),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete by filter: %w", err)
	}
	return nil
}

// buildFilter turns a flat primitive-valued Filter into an AND of
// keyword match conditions: a string value matches as given, and any
// other value matches by its fmt "%v" text, so a numeric or boolean
// value matches only a payload field that holds that text as a string.
// Returns nil for an empty filter, which Qdrant treats as "match
// everything".
func buildFilter(filter vectorrecord.Filter) *qdrant.Filter {
	if filter.IsEmpty() {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter))
	for key, value := range filter {
		if s, ok := value.(string); ok {
			conditions = append(conditions, qdrant.NewMatch(key, s))
			continue
		}
		conditions = append(conditions, qdrant.NewMatch(key, fmt.Sprintf("%v", value)))
	}
	return &qdrant.Filter{Must: conditions}
}

// fromPayload reconstructs a Record from a Qdrant payload map. The
// vector is not round-tripped — search and fetch paths never need the
// raw floats back, only content and metadata. Timestamp is parsed back
// from its stored RFC3339 form so a round trip doesn't reset it to now.
// The record's ID comes from the payload's own "id" field (the
// canonical chunk ID), not from the point's UUID key.
func fromPayload(payload map[string]*qdrant.Value) (vectorrecord.Record, error) {
	meta := make(map[string]any, len(payload))
	var content string
	for k, v := range payload {
		if k == "content" {
			content = v.GetStringValue()
			continue
		}
		meta[k] = valueToAny(v)
	}

	chunkID := stringField(meta, vectorrecord.KeyID)

	ts := time.Now().UTC()
	if raw := stringField(meta, vectorrecord.KeyTimestamp); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed
		}
	}

	return vectorrecord.Build(vectorrecord.BuildParams{
		ChunkID:      chunkID,
		Content:      content,
		WorkspaceID:  stringField(meta, vectorrecord.KeyWorkspaceID),
		UserID:       stringField(meta, vectorrecord.KeyUserID),
		FilePath:     stringField(meta, vectorrecord.KeyFilePath),
		FileType:     stringField(meta, vectorrecord.KeyFileType),
		ChunkIndex:   intField(meta, vectorrecord.KeyChunkIndex),
		ChunkType:    stringField(meta, vectorrecord.KeyChunkType),
		ParentID:     stringField(meta, vectorrecord.KeyParentID),
		RepositoryID: stringField(meta, vectorrecord.KeyRepositoryID),
		RepoID:       stringField(meta, vectorrecord.KeyRepoID),
		FunctionName: stringField(meta, vectorrecord.KeyFunctionName),
		StartLine:    intField(meta, vectorrecord.KeyStartLine),
		EndLine:      intField(meta, vectorrecord.KeyEndLine),
		Timestamp:    ts,
		UserMeta:     meta,
	}), nil
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func stringField(meta map[string]any, key string) string {
	v, _ := meta[key].(string)
	return v
}

func intField(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
