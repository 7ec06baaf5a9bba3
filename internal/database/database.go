package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialect names the SQL flavour a DB speaks.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Querier is satisfied by both *DB and *Tx so stores can run inside or outside
// a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Rebind(query string) string
}

// DB wraps *sql.DB with the dialect needed to rewrite placeholders.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Tx is a transaction bound to the dialect of the DB that opened it.
type Tx struct {
	*sql.Tx
	dialect Dialect
}

// Open opens a database for the given driver ("sqlite" or "postgres") and runs
// migrations. For sqlite the dsn is a file path or ":memory:".
func Open(driver, dsn string) (*DB, error) {
	var (
		sqlDB   *sql.DB
		dialect Dialect
		err     error
	)

	switch Dialect(driver) {
	case SQLite, "":
		dialect = SQLite
		sqlDB, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// SQLite allows one writer; a single connection also keeps
			// ":memory:" databases shared across queries.
			sqlDB.SetMaxOpenConns(1)
		}
	case Postgres:
		dialect = Postgres
		sqlDB, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{DB: sqlDB, dialect: dialect}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "agendalook.db"
	}
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

func (db *DB) migrate(ctx context.Context) error {
	var (
		gooseDialect goose.Dialect
		dir          string
	)
	switch db.dialect {
	case Postgres:
		gooseDialect, dir = goose.DialectPostgres, "migrations/postgres"
	default:
		gooseDialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db.DB, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Dialect reports the SQL flavour of the database.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Rebind rewrites "?" placeholders into the dialect's form.
func (db *DB) Rebind(query string) string {
	return rebind(db.dialect, query)
}

// Rebind rewrites "?" placeholders into the dialect's form.
func (tx *Tx) Rebind(query string) string {
	return rebind(tx.dialect, query)
}

// InTx runs fn inside a transaction, committing when fn returns nil and rolling
// back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{Tx: sqlTx, dialect: db.dialect}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
