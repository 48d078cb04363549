package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rephole/rephole/domain/repostate"
	"github.com/rephole/rephole/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RepoStateStore implements CRUD for the Repository State entity, table
// repo_states, without a generic database.Repository[D,E] abstraction —
// this store's needs (FindByURL, Save, FindOrCreate) don't warrant a
// second layer of indirection over plain GORM calls.
type RepoStateStore struct {
	db database.Database
}

// NewRepoStateStore creates a RepoStateStore.
func NewRepoStateStore(db database.Database) RepoStateStore {
	return RepoStateStore{db: db}
}

// FindByURL is the hot path lookup — indexed on the unique repo_url
// column. Returns database.ErrNotFound when no row matches.
func (s RepoStateStore) FindByURL(ctx context.Context, url string) (repostate.State, error) {
	var model RepoStateModel
	err := s.db.Session(ctx).Where("repo_url = ?", url).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repostate.State{}, database.ErrNotFound
	}
	if err != nil {
		return repostate.State{}, fmt.Errorf("find repo state by url: %w", err)
	}
	return toDomainState(model)
}

// Save is an upsert on the primary key id.
func (s RepoStateStore) Save(ctx context.Context, state repostate.State) (repostate.State, error) {
	model, err := toModelState(state)
	if err != nil {
		return repostate.State{}, err
	}

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"repo_url", "local_path", "last_processed_commit", "file_signatures", "updated_at",
		}),
	}).Create(&model)
	if result.Error != nil {
		return repostate.State{}, fmt.Errorf("save repo state: %w", result.Error)
	}
	return state, nil
}

// FindOrCreate resolves the state for a repository URL, creating one
// under a fresh ULID id and localPath if none exists yet. The creation
// races on the repo_url unique index via ON CONFLICT DO NOTHING: the
// losing caller re-reads the winner's row and reuses its localPath,
// preserving single-writer-per-working-directory even under a race.
func (s RepoStateStore) FindOrCreate(ctx context.Context, url string, newLocalPath func(id string) string) (repostate.State, bool, error) {
	existing, err := s.FindByURL(ctx, url)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return repostate.State{}, false, err
	}

	id := repostate.NewID()
	fresh := repostate.New(id, url, newLocalPath(id))
	model, err := toModelState(fresh)
	if err != nil {
		return repostate.State{}, false, err
	}

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "repo_url"}},
		DoNothing: true,
	}).Create(&model)
	if result.Error != nil {
		return repostate.State{}, false, fmt.Errorf("create repo state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		winner, err := s.FindByURL(ctx, url)
		if err != nil {
			return repostate.State{}, false, fmt.Errorf("reload repo state after lost race: %w", err)
		}
		return winner, false, nil
	}
	return fresh, true, nil
}

func toDomainState(m RepoStateModel) (repostate.State, error) {
	sigs := map[string]string{}
	if len(m.FileSignatures) > 0 {
		if err := json.Unmarshal(m.FileSignatures, &sigs); err != nil {
			return repostate.State{}, fmt.Errorf("unmarshal file signatures: %w", err)
		}
	}
	return repostate.Reconstruct(m.ID, m.RepoURL, m.LocalPath, m.LastProcessedCommit, sigs, m.CreatedAt, m.UpdatedAt), nil
}

func toModelState(s repostate.State) (RepoStateModel, error) {
	sigsJSON, err := json.Marshal(s.FileSignatures())
	if err != nil {
		return RepoStateModel{}, fmt.Errorf("marshal file signatures: %w", err)
	}
	return RepoStateModel{
		ID:                  s.ID(),
		RepoURL:             s.RepoURL(),
		LocalPath:           s.LocalPath(),
		LastProcessedCommit: s.LastProcessedCommit(),
		FileSignatures:      sigsJSON,
		CreatedAt:           s.CreatedAt(),
		UpdatedAt:           s.UpdatedAt(),
	}, nil
}
