package persistence

import "github.com/rephole/rephole/internal/database"

// AutoMigrate runs GORM auto migration for every model this package owns.
func AutoMigrate(db database.Database) error {
	return db.GORM().AutoMigrate(
		&RepoStateModel{},
		&BlobModel{},
		&JobModel{},
	)
}
