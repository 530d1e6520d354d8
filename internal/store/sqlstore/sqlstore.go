// Package sqlstore is a SQLite-backed store.Store, grounded in the fact
// that the real tup this spec is distilled from persists its graph in a
// SQLite database (see original_source). It uses modernc.org/sqlite, the
// pure-Go driver carried by the dshills/langgraph-go repo in the retrieved
// example pack, so the resulting binary needs no cgo toolchain.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/wanderview/tup/internal/dirfd"
	"github.com/wanderview/tup/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_dir_id  INTEGER NOT NULL DEFAULT 0,
	type           INTEGER NOT NULL,
	name           TEXT NOT NULL,
	flags          INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS links (
	src  INTEGER NOT NULL,
	dest INTEGER NOT NULL,
	UNIQUE(src, dest)
);
CREATE TABLE IF NOT EXISTS vars (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Store is a SQLite-backed store.Store. The zero value is not usable; use
// Open.
type Store struct {
	db   *sql.DB
	tx   *sql.Tx
	root string // on-disk root directory paths resolve relative to
	dirs *dirfd.Service
}

// Open creates (if needed) and opens a SQLite database at path, rooted at
// root for directory-node path resolution (E1/E3 of SPEC_FULL.md).
func Open(path, root string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// tup's own execution model is already single-writer (§5); a single
	// DB connection avoids SQLite's "database is locked" errors without
	// needing WAL-mode plumbing.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: schema: %w", err)
	}
	s := &Store{db: db, root: root}
	s.dirs = dirfd.New(s)
	return s, nil
}

// Close closes the database and any cached directory descriptors.
func (s *Store) Close() error {
	s.dirs.CloseAll()
	return s.db.Close()
}

func (s *Store) execer() interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

func (s *Store) Begin(ctx context.Context) error {
	if s.tx != nil {
		return fmt.Errorf("sqlstore: transaction already open")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	s.tx = tx
	return nil
}

func (s *Store) Commit(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("sqlstore: no transaction open")
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *Store) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return fmt.Errorf("sqlstore: no transaction open")
	}
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *Store) SelectNodesByFlag(ctx context.Context, flag store.Flag, cb store.NodeCallback) error {
	rows, err := s.execer().QueryContext(ctx,
		`SELECT id, parent_dir_id, type, name, flags FROM nodes WHERE (flags & ?) != 0`, int(flag))
	if err != nil {
		return err
	}
	return scanNodes(rows, cb)
}

func (s *Store) SelectLinksBySource(ctx context.Context, src int64, cb store.NodeCallback) error {
	rows, err := s.execer().QueryContext(ctx,
		`SELECT n.id, n.parent_dir_id, n.type, n.name, n.flags
		   FROM links l JOIN nodes n ON n.id = l.dest
		  WHERE l.src = ?`, src)
	if err != nil {
		return err
	}
	return scanNodes(rows, cb)
}

func scanNodes(rows *sql.Rows, cb store.NodeCallback) error {
	defer rows.Close()
	for rows.Next() {
		var n store.Node
		var typ, flags int
		if err := rows.Scan(&n.ID, &n.ParentDirID, &typ, &n.Name, &flags); err != nil {
			return err
		}
		n.Type = store.NodeType(typ)
		n.Flags = store.Flag(flags)
		if err := cb(n); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) OpenTupID(ctx context.Context, id int64) (store.DirHandle, error) {
	return s.dirs.Open(ctx, id)
}

// Path implements dirfd.PathResolver by walking parent_dir_id up to the
// root.
func (s *Store) Path(ctx context.Context, id int64) (string, error) {
	var parts []string
	for id != 0 {
		var name string
		var parent int64
		err := s.execer().QueryRowContext(ctx,
			`SELECT name, parent_dir_id FROM nodes WHERE id = ?`, id).Scan(&name, &parent)
		if err == sql.ErrNoRows {
			return "", store.ErrNotExist
		}
		if err != nil {
			return "", err
		}
		parts = append([]string{name}, parts...)
		id = parent
	}
	return filepath.Join(append([]string{s.root}, parts...)...), nil
}

func (s *Store) CreateDupNode(ctx context.Context, parentDirID int64, name string, typ store.NodeType) (int64, error) {
	res, err := s.execer().ExecContext(ctx,
		`INSERT INTO nodes (parent_dir_id, type, name, flags) VALUES (?, ?, ?, 0)`,
		parentDirID, int(typ), name)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) DeleteNameFile(ctx context.Context, id int64) error {
	if _, err := s.execer().ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := s.execer().ExecContext(ctx, `DELETE FROM links WHERE src = ? OR dest = ?`, id, id); err != nil {
		return err
	}
	return nil
}

func (s *Store) AddModifyList(ctx context.Context, id int64) error {
	_, err := s.execer().ExecContext(ctx,
		`UPDATE nodes SET flags = flags | ? WHERE id = ?`, int(store.FlagModify), id)
	return err
}

func (s *Store) SetFlagsByID(ctx context.Context, id int64, flags store.Flag) error {
	_, err := s.execer().ExecContext(ctx, `UPDATE nodes SET flags = ? WHERE id = ?`, int(flags), id)
	return err
}

func (s *Store) UnflagCreate(ctx context.Context, id int64) error {
	_, err := s.execer().ExecContext(ctx,
		`UPDATE nodes SET flags = flags & ~? WHERE id = ?`, int(store.FlagCreate), id)
	return err
}

func (s *Store) CreateLink(ctx context.Context, src, dest int64) error {
	_, err := s.execer().ExecContext(ctx,
		`INSERT OR IGNORE INTO links (src, dest) VALUES (?, ?)`, src, dest)
	return err
}

func (s *Store) WriteVar(ctx context.Context, name string, w io.Writer) (int64, error) {
	var value string
	err := s.execer().QueryRowContext(ctx, `SELECT value FROM vars WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("sqlstore: unknown variable %q", name)
	}
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.execer().QueryRowContext(ctx, `SELECT id FROM nodes WHERE type = ? AND name = ?`, int(store.TypeVar), name).Scan(&id)
	if err == sql.ErrNoRows {
		id, err = s.CreateDupNode(ctx, 0, name, store.TypeVar)
	}
	if err != nil {
		return 0, err
	}

	if _, err := w.Write([]byte(value)); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) WriteVarValue(ctx context.Context, name, value string) error {
	_, err := s.execer().ExecContext(ctx,
		`INSERT INTO vars (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value)
	return err
}

func (s *Store) ConfigGetInt(ctx context.Context, key string) (int, error) {
	var v int
	err := s.execer().QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func (s *Store) WriteFiles(ctx context.Context, dupID int64, cmdName string, outputs []string) error {
	var parentDirID int64
	if err := s.execer().QueryRowContext(ctx, `SELECT parent_dir_id FROM nodes WHERE id = ?`, dupID).Scan(&parentDirID); err != nil {
		return fmt.Errorf("sqlstore: lookup dup node %d: %w", dupID, err)
	}
	for _, out := range outputs {
		id, err := s.CreateDupNode(ctx, parentDirID, out, store.TypeFile)
		if err != nil {
			return err
		}
		if err := s.CreateLink(ctx, dupID, id); err != nil {
			return err
		}
	}
	return nil
}
