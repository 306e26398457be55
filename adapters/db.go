package adapters

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/inboxpilot/inboxpilot/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDatabase connects to postgres or sqlite depending on the URL scheme and
// runs pending migrations.
func OpenDatabase(databaseURL string) (*bun.DB, error) {
	var (
		sqldb   *sql.DB
		db      *bun.DB
		dialect string
		err     error
	)
	switch {
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		dialect = "postgres"
		sqldb = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(databaseURL)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dialect = "sqlite3"
		dsn := strings.TrimPrefix(databaseURL, "sqlite://")
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// In-memory sqlite loses its schema when the pool opens a second
		// connection.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database url: %s", databaseURL)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return nil, err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database ready (%s)", dialect)
	return db, nil
}
