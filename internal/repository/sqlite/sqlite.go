// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without CGo and tests can use ":memory:" databases.
//
// The pattern is always:
//  1. sql.Open(driverName, dataSourceName) → creates a pool
//  2. db.QueryContext / db.ExecContext     → runs queries
//  3. rows.Scan(&field1, &field2)          → reads results into Go variables
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/linkblocks/internal/repository"

	// NAMED IMPORT INSTEAD OF BLANK IMPORT:
	// Importing the driver still runs its init(), which registers "sqlite"
	// with database/sql. We also need its *Error type to recognise UNIQUE
	// violations, so the package gets a name instead of "_".
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and hands out one repository per table.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/linkblocks.db" → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
//
// The pool is capped at one connection. SQLite serializes writers anyway, an
// in-memory database is private to the connection that created it, and the
// comment/counter transactions must not interleave with other writes.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the page renderer read while an editor save is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Blocks() repository.BlockRepository     { return &BlockDB{conn: db.conn} }
func (db *DB) Comments() repository.CommentRepository { return &CommentDB{conn: db.conn} }
func (db *DB) Links() repository.LinkRepository       { return &LinkDB{conn: db.conn} }
func (db *DB) Themes() repository.ThemeRepository     { return &ThemeDB{conn: db.conn} }
func (db *DB) Users() repository.UserRepository       { return &UserDB{conn: db.conn} }

// migrate creates every table. CREATE ... IF NOT EXISTS keeps it idempotent,
// so it runs on each start and from `blocksctl migrate`.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER NOT NULL UNIQUE,
			login      TEXT NOT NULL,
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// THE (user_id, block_id) CLAIM:
	// blockId is the number a creator sees ("challenge #4"). The service
	// computes it as max+1 from a read, so two concurrent saves can compute
	// the same value. The UNIQUE constraint makes the database the referee:
	// the first INSERT wins, the second fails with SQLITE_CONSTRAINT_UNIQUE,
	// which Create turns into apperror.ErrConflict. BlockService then re-reads
	// and retries with the next number.
	//
	// images is a JSON array of URLs. Order matters (it is the order the
	// editor shows) and the list is always read and written as a whole, so a
	// separate table would only add joins.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS blocks (
			id               TEXT PRIMARY KEY,
			block_id         INTEGER NOT NULL,
			user_id          TEXT NOT NULL,
			kind             TEXT NOT NULL,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			start_date       TEXT NOT NULL DEFAULT '',
			end_date         TEXT NOT NULL DEFAULT '',
			number_of_people INTEGER NOT NULL DEFAULT 0,
			pick_date        TEXT NOT NULL DEFAULT '',
			images           TEXT NOT NULL DEFAULT '[]',
			status           TEXT NOT NULL,
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, block_id)
		);
		CREATE INDEX IF NOT EXISTS idx_blocks_status ON blocks(status);
	`)
	if err != nil {
		return fmt.Errorf("creating blocks table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS comments (
			id            TEXT PRIMARY KEY,
			token         TEXT NOT NULL UNIQUE,
			nickname      TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			comment       TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS counters (
			name  TEXT PRIMARY KEY,
			count INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("creating comment tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS links (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			url        TEXT NOT NULL,
			image_url  TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_links_user_id ON links(user_id);
		CREATE TABLE IF NOT EXISTS theme_preferences (
			user_id          TEXT PRIMARY KEY,
			theme            TEXT NOT NULL,
			background_image TEXT NOT NULL DEFAULT '',
			updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating link and theme tables: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedrv.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
