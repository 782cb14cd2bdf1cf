package postgres

import (
	"go.uber.org/zap"

	"github.com/upb/bookshelf-api/config"
	"github.com/upb/bookshelf-api/repositories"
)

// RepositoryFactory owns the pool the repositories share
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

func NewRepositoryFactory(cfg config.DatabaseConfig, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db, logger), nil
}

func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{Books: NewBookRepository(f.db, f.logger)}
}

func (f *RepositoryFactory) Transactions() repositories.TransactionManager {
	return NewTransactionManager(f.db, f.logger)
}

func (f *RepositoryFactory) DB() *DB {
	return f.db
}

func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
