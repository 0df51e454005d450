package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/johnwmail/pastebin-lite/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQL dialects supported by SQLStore
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore implements PasteStore on a relational database through gorm.
// Row locks come from SELECT ... FOR UPDATE; sqlite has no row locks, so
// the pool is limited to one connection and transactions run one at a time.
type SQLStore struct {
	db      *gorm.DB
	dialect string
}

// NewSQLStore opens the database, tunes the pool for the dialect and
// migrates the pastes table
func NewSQLStore(dialect, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		dialector = postgres.Open(dsn)
	case DialectMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&models.Paste{}); err != nil {
		return nil, fmt.Errorf("failed to migrate pastes table: %w", err)
	}

	return &SQLStore{db: db, dialect: dialect}, nil
}

// Create inserts a new paste row
func (s *SQLStore) Create(ctx context.Context, paste *models.Paste) error {
	if err := s.db.WithContext(ctx).Create(paste).Error; err != nil {
		return fmt.Errorf("failed to insert paste: %w", err)
	}
	return nil
}

// WithTx wraps fn in a database transaction
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqlTx{db: tx})
	})
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlTx struct {
	db *gorm.DB
}

func (t *sqlTx) LockedRead(id string) (*models.Paste, error) {
	var paste models.Paste
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&paste).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		if ctxErr := t.db.Statement.Context.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctxErr)
		}
		return nil, fmt.Errorf("failed to lock paste: %w", err)
	}
	return &paste, nil
}

func (t *sqlTx) Update(paste *models.Paste) error {
	result := t.db.Model(&models.Paste{}).
		Where("id = ?", paste.ID).
		Update("current_views", paste.CurrentViews)
	if result.Error != nil {
		return fmt.Errorf("failed to update paste views: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
