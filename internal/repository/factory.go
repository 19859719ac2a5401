package repository

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"convoingest/internal/config"
	"convoingest/internal/db"
)

// Store couples a repository with the cleanup of its backing connection.
type Store struct {
	ConversationRepository
	Dialect db.Dialect
	closeFn func(context.Context) error
}

// Close releases the backing connection
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}

// Open creates the repository selected by DATABASE_URL and prepares its
// schema. An empty URL yields the in-memory repository.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialect, dsn := db.ParseURL(cfg.DatabaseURL)
	logger.Info("repository: opening store", zap.String("dialect", string(dialect)))

	switch dialect {
	case db.DialectMemory:
		logger.Warn("repository: DATABASE_URL not set; using in-memory store, data is lost on restart")
		return &Store{ConversationRepository: NewMemoryRepository(), Dialect: dialect}, nil

	case db.DialectPostgres:
		conn, err := db.OpenPostgres(ctx, db.PostgresConfig{
			DSN:          dsn,
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxOpenConns,
		})
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, conn, dialect); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &Store{
			ConversationRepository: NewPostgresRepository(conn),
			Dialect:                dialect,
			closeFn:                func(context.Context) error { return conn.Close() },
		}, nil

	case db.DialectSQLite:
		conn, err := db.OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx, conn, dialect); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &Store{
			ConversationRepository: NewSQLiteRepository(conn),
			Dialect:                dialect,
			closeFn:                func(context.Context) error { return conn.Close() },
		}, nil

	case db.DialectMongo:
		client, database, err := db.OpenMongo(ctx, dsn, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := EnsureMongoIndexes(ctx, database); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, err
		}
		return &Store{
			ConversationRepository: NewMongoRepository(database),
			Dialect:                dialect,
			closeFn:                client.Disconnect,
		}, nil
	}

	return nil, eris.Errorf("repository: unsupported dialect %q", dialect)
}
