package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"

	"github.com/rephole/rephole/domain/vectorrecord"
)

func TestPointUUID_DeterministicAndStable(t *testing.T) {
	id := "internal/foo.go:Bar:function:L10"
	a := pointUUID(id)
	b := pointUUID(id)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, pointUUID(id+"x"))
}

func TestBuildFilter_EmptyReturnsNil(t *testing.T) {
	assert.Nil(t, buildFilter(vectorrecord.Filter{}))
}

func TestBuildFilter_ANDsAllKeys(t *testing.T) {
	f := vectorrecord.NewFilter(map[string]any{"repoId": "acme/widgets"}, map[string]any{"lang": "go"})
	built := buildFilter(f)
	if assert.NotNil(t, built) {
		assert.Len(t, built.Must, 2)
	}
}

func TestValueToAny_Kinds(t *testing.T) {
	assert.Equal(t, "x", valueToAny(&qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "x"}}))
	assert.Equal(t, int64(3), valueToAny(&qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: 3}}))
	assert.Equal(t, true, valueToAny(&qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: true}}))
}

func TestFromPayload_RoundTripsReservedFields(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"content":      {Kind: &qdrant.Value_StringValue{StringValue: "func Bar() {}"}},
		"id":           {Kind: &qdrant.Value_StringValue{StringValue: "internal/foo.go:Bar:function:L10"}},
		"repoId":       {Kind: &qdrant.Value_StringValue{StringValue: "acme/widgets"}},
		"filePath":     {Kind: &qdrant.Value_StringValue{StringValue: "internal/foo.go"}},
		"startLine":    {Kind: &qdrant.Value_IntegerValue{IntegerValue: 10}},
		"endLine":      {Kind: &qdrant.Value_IntegerValue{IntegerValue: 14}},
		"functionName": {Kind: &qdrant.Value_StringValue{StringValue: "Bar"}},
	}

	rec, err := fromPayload(payload)
	assert.NoError(t, err)
	assert.Equal(t, "internal/foo.go:Bar:function:L10", rec.ID())
	assert.Equal(t, "func Bar() {}", rec.Content())
	assert.Equal(t, "acme/widgets", rec.Metadata()["repoId"])
	assert.Equal(t, "internal/foo.go", rec.Metadata()["filePath"])
	assert.Equal(t, 10, rec.Metadata()["startLine"])
	assert.Equal(t, 14, rec.Metadata()["endLine"])
}

// TestStore_Integration exercises the adapter against a real Qdrant
// instance. Skips automatically when Qdrant isn't reachable at
// localhost:6334, rather than requiring a build tag toggle.
func TestStore_Integration(t *testing.T) {
	store, err := New("localhost", 6334, "rephole_test_chunks", 4)
	if err != nil {
		t.Skipf("qdrant not available: %v", err)
	}
	defer store.Close()

	ctx := t.Context()
	rec := vectorrecord.Build(vectorrecord.BuildParams{
		ChunkID:      "internal/foo.go:Bar:function:L10",
		Vector:       []float64{0.1, 0.2, 0.3, 0.4},
		Content:      "func Bar() {}",
		FilePath:     "internal/foo.go",
		ParentID:     "internal/foo.go",
		RepoID:       "acme/widgets",
		FunctionName: "Bar",
		StartLine:    10,
		EndLine:      14,
	})

	err = store.Upsert(ctx, "internal/foo.go", []vectorrecord.Record{rec})
	assert.NoError(t, err)

	got, err := store.GetByIDs(ctx, []string{rec.ID()})
	assert.NoError(t, err)
	if assert.Len(t, got, 1) {
		assert.Equal(t, rec.ID(), got[0].ID())
	}

	byPath, err := store.GetByFilePath(ctx, "acme/widgets", "internal/foo.go")
	assert.NoError(t, err)
	if assert.Len(t, byPath, 1) {
		assert.Equal(t, rec.ID(), byPath[0].ID())
	}

	err = store.DeleteByFilter(ctx, vectorrecord.Filter{
		"repoId":   "acme/widgets",
		"parentId": "internal/foo.go",
	})
	assert.NoError(t, err)

	err = store.DeleteByIDs(ctx, []string{rec.ID()})
	assert.NoError(t, err)
}
