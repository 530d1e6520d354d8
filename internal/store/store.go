// Package store defines the persistent graph database contract (§6 of the
// driver specification). The store itself — a transactional key/value-ish
// graph database — is an external collaborator: this package only names the
// interface the core algorithm is built against. See memstore for an
// in-memory reference implementation used by tests, and sqlstore for a
// SQLite-backed one.
package store

import (
	"context"
	"io"
)

// NodeType identifies what kind of build entity a node represents.
type NodeType int

const (
	// TypeDir is a directory node; parsing it may create children.
	TypeDir NodeType = iota
	// TypeFile is a file produced or consumed by a command.
	TypeFile
	// TypeCmd is a shell command to run.
	TypeCmd
	// TypeVar is a named variable substituted into generated files.
	TypeVar
)

func (t NodeType) String() string {
	switch t {
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	case TypeCmd:
		return "cmd"
	case TypeVar:
		return "var"
	default:
		return "unknown"
	}
}

// Flag is a bitset over the pending-work states a node can carry.
type Flag uint8

const (
	FlagNone   Flag = 0
	FlagCreate Flag = 1 << iota
	FlagModify
	FlagDelete
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

// Node is the identity-and-flags record the store hands back for a build
// entity. It is immutable from the algorithm's point of view; all mutation
// happens through the Store methods below.
type Node struct {
	ID          int64
	ParentDirID int64
	Type        NodeType
	Name        string
	Flags       Flag
}

// NodeCallback is invoked once per matching row by the query methods below.
// Returning a non-nil error aborts the scan and is propagated to the caller.
type NodeCallback func(Node) error

// Store is the persisted graph database contract required by the driver.
// Every method may be called from at most one goroutine at a time per the
// concurrency model of §5 — implementations are free to rely on that rather
// than adding their own internal locking, but must document it if they
// don't.
type Store interface {
	// Begin/Commit/Rollback bracket one phase (parse or execute).
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// SelectNodesByFlag invokes cb once for every node with flag set in its
	// flags (a seed query, §4.2).
	SelectNodesByFlag(ctx context.Context, flag Flag, cb NodeCallback) error

	// SelectLinksBySource invokes cb once for every node dest such that a
	// src -> dest dependency edge exists in the store.
	SelectLinksBySource(ctx context.Context, src int64, cb NodeCallback) error

	// OpenTupID returns an open directory file descriptor for the directory
	// node id, wrapped as a DirHandle so callers can fchdir/openat/close it.
	// Returns ErrNotExist if the directory is gone.
	OpenTupID(ctx context.Context, id int64) (DirHandle, error)

	// CreateDupNode allocates a duplicate command node that will assume
	// ownership of a command's outputs.
	CreateDupNode(ctx context.Context, parentDirID int64, name string, typ NodeType) (int64, error)

	// DeleteNameFile deletes a node row.
	DeleteNameFile(ctx context.Context, id int64) error

	// AddModifyList sets FlagModify in id's flags.
	AddModifyList(ctx context.Context, id int64) error

	// SetFlagsByID overwrites id's flags.
	SetFlagsByID(ctx context.Context, id int64, flags Flag) error

	// UnflagCreate clears FlagCreate for id.
	UnflagCreate(ctx context.Context, id int64) error

	// CreateLink records a src -> dest dependency edge in the store.
	CreateLink(ctx context.Context, src, dest int64) error

	// WriteVar writes the named variable's value to w and returns the
	// variable's node id.
	WriteVar(ctx context.Context, name string, w io.Writer) (int64, error)

	// WriteVarValue persists a declared variable's value, so a later
	// WriteVar call can find it. Called by the parser when a Tupfile
	// declares "var NAME VALUE" (§4.6.1, SPEC_FULL.md E4).
	WriteVarValue(ctx context.Context, name, value string) error

	// ConfigGetInt retrieves a persisted integer configuration key.
	ConfigGetInt(ctx context.Context, key string) (int, error)

	// WriteFiles reconciles a command's observed output files into the
	// store, attaching each as a node owned by dupID. This is the store
	// operation implied but not tabulated by the original source's
	// tup_db_write_files; see SPEC_FULL.md E1.
	WriteFiles(ctx context.Context, dupID int64, cmdName string, outputs []string) error
}

// DirHandle is an open directory descriptor returned by OpenTupID, along
// with the syscall-level primitives the command runner and delete path need
// (fchdir, unlinkat).
type DirHandle interface {
	// Fd returns the underlying OS file descriptor.
	Fd() uintptr
	Close() error
}

// ErrNotExist is returned by OpenTupID when the backing directory is gone.
var ErrNotExist = errNotExist{}

type errNotExist struct{}

func (errNotExist) Error() string { return "tup: directory does not exist" }
func (errNotExist) NotExist() bool { return true }
