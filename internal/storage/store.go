// Package storage 实现基于 gorm 的持久化网关，支持 PostgreSQL(pgvector) 与 SQLite(sqlite-vec)。
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DeleteBatchSize bounds the rows removed per delete transaction.
const DeleteBatchSize = 500

// Store holds the DB handle and repositories.
type Store struct {
	db               *gorm.DB
	Threads          *ThreadRepo
	Messages         *MessageRepo
	Memories         *MemoryRepo
	Insights         *InsightRepo
	CategoryInsights *CategoryInsightRepo
	Profiles         *ProfileRepo
}

// Open connects to postgres:// or sqlite:// URLs and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	dialector, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if isSQLite(db) {
		// 内存库每个连接各自独立，只保留一个连接
		sqlDB.SetMaxOpenConns(1)
	}
	return NewStore(db), nil
}

// NewStore wraps an existing gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:               db,
		Threads:          &ThreadRepo{db: db},
		Messages:         &MessageRepo{db: db},
		Memories:         &MemoryRepo{db: db},
		Insights:         &InsightRepo{db: db},
		CategoryInsights: &CategoryInsightRepo{db: db},
		Profiles:         &ProfileRepo{db: db},
	}
}

func dialectorFor(databaseURL string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		sqlite_vec.Auto()
		return sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://")), nil
	case strings.HasPrefix(databaseURL, "file:"):
		sqlite_vec.Auto()
		return sqlite.Open(databaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}

// Migrate creates or updates all application tables.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if !isSQLite(db) {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to enable pgvector: %w", err)
		}
	}
	if err := db.AutoMigrate(
		&threadModel{},
		&messageModel{},
		&memoryModel{},
		&insightModel{},
		&categoryInsightModel{},
		&profileModel{},
		&preferencesModel{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// Dialect returns the gorm dialect name ("postgres" or "sqlite").
func (s *Store) Dialect() string {
	return s.db.Dialector.Name()
}

// Ping verifies the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() {
	if s.db == nil {
		return
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}

func isSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// marshalJSON encodes a value into a JSON column, using [] for nil slices.
func marshalJSON[T any](values []T) datatypes.JSON {
	if values == nil {
		values = []T{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

// unmarshalJSON decodes a JSON column, returning an empty slice on failure.
func unmarshalJSON[T any](data datatypes.JSON) []T {
	out := []T{}
	if len(data) == 0 {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
