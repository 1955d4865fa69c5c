// Package store is the storage gateway of the pin service. It owns the gorm
// models, resolves coordinate queries against the level, role, platform and
// site hierarchies, and performs the writes that the transaction coordinator
// wraps in revisions.
package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/packrat/pinserver/pkg/coords"
	"github.com/packrat/pinserver/pkg/errcode"
)

// GormConfig returns the gorm configuration used by every connection.
// Driver errors are translated so that unique violations surface as
// gorm.ErrDuplicatedKey.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
}

// Open connects to the configured database and caps its connection pool at
// cfg.PoolSize.
func Open(cfg *DatabaseConfig) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.ConnectionString()
	var dialector gorm.Dialector
	switch cfg.Dialect {
	case DialectMySQL:
		dialector = mysql.Open(dsn)
	case DialectSQLite:
		dialector = sqlite.Open(dsn)
	default:
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, GormConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Dialect, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	return db, nil
}

// Migrate creates or updates every table and seeds the hierarchy roots.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		seeds := []struct {
			dest any
			cond any
		}{
			{&Level{}, Level{Name: coords.Facility}},
			{&Role{}, Role{Name: coords.Any}},
			{&Platform{}, Platform{Name: coords.Any}},
			{&Site{}, Site{Name: coords.Any}},
		}
		for _, s := range seeds {
			if err := tx.FirstOrCreate(s.dest, s.cond).Error; err != nil {
				return fmt.Errorf("seed hierarchy root: %w", err)
			}
		}
		return nil
	})
}

// classify wraps a database error with the error code its cause implies.
func classify(action string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", action, err)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errcode.Wrap(errcode.NotFound, wrapped)
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return errcode.Wrap(errcode.FailedPrecondition, wrapped)
	case contended(err):
		return errcode.Wrap(errcode.ResourceUnavailable, wrapped)
	}
	return wrapped
}

// contended reports deadlocks, lock wait timeouts and serialization failures.
// The statement did nothing and may be retried.
func contended(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03"
	}
	return false
}

// likeEscape is the ESCAPE character used in LIKE patterns. It is not a
// backslash so the same SQL works on mysql.
const likeEscape = "!"

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}
