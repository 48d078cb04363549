package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rephole/rephole/domain/blob"
	"github.com/rephole/rephole/internal/database"
	"gorm.io/gorm/clause"
)

// BlobStore implements the Blob Store Adapter contract — saveParent,
// getParent, getParents — over the content_blobs table.
type BlobStore struct {
	db database.Database
}

// NewBlobStore creates a BlobStore.
func NewBlobStore(db database.Database) BlobStore {
	return BlobStore{db: db}
}

// SaveParent upserts a blob keyed on id. Callers are expected to have
// already sanitized content via domain/blob.Sanitize.
func (s BlobStore) SaveParent(ctx context.Context, b blob.Blob) error {
	metaJSON, err := json.Marshal(b.Metadata())
	if err != nil {
		return fmt.Errorf("marshal blob metadata: %w", err)
	}

	model := BlobModel{
		ID:        b.ID(),
		RepoID:    b.RepoID(),
		Content:   b.Content(),
		Metadata:  metaJSON,
		CreatedAt: b.CreatedAt(),
		UpdatedAt: b.UpdatedAt(),
	}

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"repo_id", "content", "metadata", "updated_at"}),
	}).Create(&model)
	if result.Error != nil {
		return fmt.Errorf("save blob %s: %w", b.ID(), result.Error)
	}
	return nil
}

// GetParent fetches one blob by id. Returns database.ErrNotFound when
// absent.
func (s BlobStore) GetParent(ctx context.Context, id string) (blob.Blob, error) {
	var model BlobModel
	err := s.db.Session(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		return blob.Blob{}, database.ErrNotFound
	}
	return toDomainBlob(model)
}

// GetParents fetches a subset of the requested ids, in unspecified
// order; missing ids are silently omitted.
func (s BlobStore) GetParents(ctx context.Context, ids []string) ([]blob.Blob, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []BlobModel
	if err := s.db.Session(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get blobs: %w", err)
	}

	out := make([]blob.Blob, 0, len(models))
	for _, m := range models {
		b, err := toDomainBlob(m)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// DeleteByRepoAndPath removes the blob whose id is path, provided it
// belongs to repoID. The primary key is id alone; repoID only narrows
// the match. The worker does not call it, so a renamed file's old blob
// stays in place.
func (s BlobStore) DeleteByRepoAndPath(ctx context.Context, repoID, path string) error {
	result := s.db.Session(ctx).Where("id = ? AND repo_id = ?", path, repoID).Delete(&BlobModel{})
	if result.Error != nil {
		return fmt.Errorf("delete blob %s/%s: %w", repoID, path, result.Error)
	}
	return nil
}

func toDomainBlob(m BlobModel) (blob.Blob, error) {
	meta := map[string]any{}
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			return blob.Blob{}, fmt.Errorf("unmarshal blob metadata: %w", err)
		}
	}
	return blob.Reconstruct(m.ID, m.RepoID, m.Content, meta, m.CreatedAt, m.UpdatedAt), nil
}
