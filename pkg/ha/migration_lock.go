package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migration between replicas.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// ErrLockTimeout is returned when another holder keeps the lock past the
// configured retries.
var ErrLockTimeout = errors.New("migration lock not acquired")

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect. PostgreSQL uses advisory locks and MySQL named locks, both held on
// one pinned connection; other databases use a table-based fallback. The lock
// table is created immediately for the fallback strategy.
func NewMigrationLocker(db *gorm.DB, cfg LockConfig, logger *slog.Logger) MigrationLocker {
	if logger == nil {
		logger = slog.Default()
	}
	if db == nil || !cfg.Enabled {
		return noopMigrationLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{db: db, lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))), logger: logger}
	case "mysql":
		return &mysqlNamedLock{db: db, name: cfg.Name, timeout: cfg.RetryInterval * time.Duration(cfg.MaxRetries), logger: logger}
	}
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableMigrationLock{db: db, cfg: cfg, logger: logger}
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
	logger *slog.Logger
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	// Advisory locks belong to the session, so lock and unlock share a connection.
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		defer func() {
			if err := conn.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error; err != nil {
				l.logger.Warn("release migration advisory lock", "error", err)
			}
		}()
		return fn()
	})
}

type mysqlNamedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
	logger  *slog.Logger
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got *int
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", l.name, int(l.timeout.Seconds())).Scan(&got).Error; err != nil {
			return fmt.Errorf("acquire migration lock %s: %w", l.name, err)
		}
		if got == nil || *got != 1 {
			return fmt.Errorf("acquire migration lock %s: %w", l.name, ErrLockTimeout)
		}
		defer func() {
			if err := conn.Exec("SELECT RELEASE_LOCK(?)", l.name).Error; err != nil {
				l.logger.Warn("release migration lock", "name", l.name, "error", err)
			}
		}()
		return fn()
	})
}

// migrationLockRecord is the table-based lock row.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock uses INSERT-or-fail on a single row to admit one holder
// at a time. Rows older than StaleAge are cleared so a crashed holder does not
// block startup forever.
type tableMigrationLock struct {
	db     *gorm.DB
	cfg    LockConfig
	logger *slog.Logger
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	db := l.db.WithContext(ctx)
	row := migrationLockRecord{ID: l.cfg.Name, LockedBy: l.cfg.Owner}

	var lastErr error
	acquired := false
	for i := 0; i < max(l.cfg.MaxRetries, 1); i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.cfg.RetryInterval):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		db.Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAge)).Delete(&migrationLockRecord{})

		row.LockedAt = time.Now()
		if lastErr = db.Create(&row).Error; lastErr == nil {
			acquired = true
			break
		}
		l.logger.Debug("migration lock busy", "name", l.cfg.Name, "attempt", i+1)
	}
	if !acquired {
		return fmt.Errorf("%w after %d attempts: %v", ErrLockTimeout, l.cfg.MaxRetries, lastErr)
	}

	defer func() {
		if err := l.db.Where("id = ?", l.cfg.Name).Delete(&migrationLockRecord{}).Error; err != nil {
			l.logger.Warn("release migration lock", "name", l.cfg.Name, "error", err)
		}
	}()
	return fn()
}
