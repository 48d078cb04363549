package vectorrecord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMeta_DropsReservedAndNonPrimitive(t *testing.T) {
	survivors, dropped := SanitizeMeta(map[string]any{
		"env":      "prod",
		"repoId":   "attacker-controlled",
		"nested":   map[string]any{"a": 1},
		"arr":      []string{"x"},
		"isNull":   nil,
		"replicas": 3,
	})

	assert.Equal(t, map[string]any{"env": "prod", "replicas": 3}, survivors)
	assert.Contains(t, dropped, "repoId")
	assert.Contains(t, dropped, "nested")
	assert.Contains(t, dropped, "arr")
	assert.Contains(t, dropped, "isNull")
}

func TestHasOnlyPrimitiveValues_AllowsReservedKeyNames(t *testing.T) {
	assert.True(t, HasOnlyPrimitiveValues(map[string]any{"category": "x", "repoId": "attacker-controlled"}))
}

func TestHasOnlyPrimitiveValues_RejectsNested(t *testing.T) {
	assert.False(t, HasOnlyPrimitiveValues(map[string]any{"nested": map[string]any{"a": 1}}))
	assert.False(t, HasOnlyPrimitiveValues(map[string]any{"arr": []string{"x"}}))
	assert.False(t, HasOnlyPrimitiveValues(map[string]any{"isNull": nil}))
}

func TestBuild_ReservedFieldsWinOverUserMeta(t *testing.T) {
	r := Build(BuildParams{
		ChunkID:  "src/a.ts:login:method:L1",
		FilePath: "src/a.ts",
		RepoID:   "repo1",
		UserMeta: map[string]any{"repoId": "hijacked", "env": "prod"},
	})

	assert.Equal(t, "repo1", r.Metadata()[KeyRepoID])
	assert.Equal(t, "prod", r.Metadata()["env"])
}

func TestBuild_SetsCategoryAndTimestamp(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Build(BuildParams{ChunkID: "id1", Timestamp: ts})
	assert.Equal(t, CategoryRepository, r.Metadata()[KeyCategory])
	assert.Equal(t, "2026-01-02T03:04:05Z", r.Metadata()[KeyTimestamp])
}

func TestValidateUniqueIDs(t *testing.T) {
	recs := []Record{
		Build(BuildParams{ChunkID: "a"}),
		Build(BuildParams{ChunkID: "b"}),
		Build(BuildParams{ChunkID: "a"}),
	}
	err := ValidateUniqueIDs("src/a.ts", recs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
}

func TestValidateUniqueIDs_Clean(t *testing.T) {
	recs := []Record{Build(BuildParams{ChunkID: "a"}), Build(BuildParams{ChunkID: "b"})}
	assert.NoError(t, ValidateUniqueIDs("src/a.ts", recs))
}

func TestNewFilter_BaseWinsOverMeta(t *testing.T) {
	f := NewFilter(map[string]any{"repoId": "repo1"}, map[string]any{"repoId": "attacker", "env": "dev"})
	assert.Equal(t, "repo1", f["repoId"])
	assert.Equal(t, "dev", f["env"])
}

func TestFilter_IsEmpty(t *testing.T) {
	assert.True(t, Filter{}.IsEmpty())
	assert.False(t, Filter{"a": 1}.IsEmpty())
}

func TestScoreFromDistance(t *testing.T) {
	assert.InDelta(t, 1.0, ScoreFromDistance(0), 0.0001)
	assert.InDelta(t, 0.5, ScoreFromDistance(0.5), 0.0001)
}
