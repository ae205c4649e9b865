// Package sqlite is the relational store behind podcatch: typed reads and writes
// over SQLite, atomic transactions, and change notification on commit.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
	"github.com/jdholdren/podcatch/internal/live"
)

// ErrConstraint marks a write rejected by a unique or foreign key constraint.
var ErrConstraint = errors.New("constraint violation")

// Open connects to the database file at path with the pragmas the store relies on.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	return dbx, nil
}

// DB is the relational store. Reads may run concurrently; every write happens
// inside [DB.Execute], and commits are serialized.
type DB struct {
	reader

	dbx *sqlx.DB
	bus *live.Bus

	// Single writer: held for the whole of a top-level transaction.
	writeMu sync.Mutex
}

// New wraps dbx. Commits are announced on bus.
func New(dbx *sqlx.DB, bus *live.Bus) *DB {
	return &DB{
		reader: reader{ext: dbx},
		dbx:    dbx,
		bus:    bus,
	}
}

// Bus returns the bus commits are published on.
func (d *DB) Bus() *live.Bus {
	return d.bus
}

// Tx is an open transaction. It reads its own writes.
type Tx struct {
	reader

	db      *DB
	tx      *sqlx.Tx
	touched map[string]struct{}
}

func (t *Tx) touch(tables ...string) {
	for _, table := range tables {
		t.touched[table] = struct{}{}
	}
}

// Tables returns the tables written so far, sorted.
func (t *Tx) Tables() []string {
	tables := make([]string, 0, len(t.touched))
	for table := range t.touched {
		tables = append(tables, table)
	}
	slices.Sort(tables)

	return tables
}

type txKey struct{}

// Execute runs fn inside a transaction. If fn returns an error nothing it wrote
// is kept and the error is returned as is; otherwise the transaction is committed
// and the tables it wrote are published.
//
// When ctx already carries a transaction of this DB, fn joins it instead, and the
// outermost Execute decides the outcome.
func (d *DB) Execute(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Tx); ok && tx.db == d {
		return fn(ctx, tx)
	}

	const op = pcerrs.Op("sqlite.Execute")

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	sqlTx, err := d.dbx.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(op, fmt.Errorf("error beginning transaction: %w", err))
	}
	defer sqlTx.Rollback()

	tx := &Tx{
		reader:  reader{ext: sqlTx},
		db:      d,
		tx:      sqlTx,
		touched: make(map[string]struct{}),
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storeErr(op, fmt.Errorf("error committing transaction: %w", err))
	}
	if len(tx.touched) > 0 {
		d.bus.Publish(tx.Tables()...)
	}

	return nil
}

// storeErr wraps a driver failure as a store error, marking constraint violations.
func storeErr(op pcerrs.Op, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		err = fmt.Errorf("%w: %w", ErrConstraint, err)
	}

	return pcerrs.E(pcerrs.Store, op, err)
}

// limitArg turns "no limit" (limit <= 0) into SQLite's LIMIT -1.
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}

	return limit
}

type reader struct {
	ext sqlx.ExtContext
}

// Count returns the number of rows in table, which must be one of the schema's tables.
func (r reader) Count(ctx context.Context, table string) (int, error) {
	switch table {
	case "podcasts", "episodes", "categories", "podcast_category_entries", "podcast_followed_entries":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count int
	if err := sqlx.GetContext(ctx, r.ext, &count, "SELECT COUNT(*) FROM "+table+";"); err != nil {
		return 0, storeErr("sqlite.Count", fmt.Errorf("error counting %s: %w", table, err))
	}

	return count, nil
}
