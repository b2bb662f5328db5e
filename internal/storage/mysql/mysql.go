// Package mysql implements the customer, product and order stores on MySQL.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/xenking/kart-orders/db"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// Open connects to MySQL. The DSN is forced to parse DATETIME columns into
// time.Time in UTC.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}

	sqlDB := sql.OpenDB(connector)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}
	return sqlDB, nil
}

// RunMigrations executes the embedded schema one statement at a time.
func RunMigrations(ctx context.Context, sqlDB *sql.DB) error {
	for _, stmt := range strings.Split(db.MySQLSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func conn(ctx context.Context, sqlDB *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return sqlDB
}

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs functions inside a MySQL transaction.
type Transactor struct {
	db *sql.DB
}

// NewTransactor returns a Transactor that uses the given database.
func NewTransactor(sqlDB *sql.DB) *Transactor {
	return &Transactor{db: sqlDB}
}

// WithinTx commits when fn returns nil and rolls back otherwise. A call made
// while a transaction is already in ctx joins it.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
