// Package memstore is an in-memory reference implementation of
// store.Store, used by the core packages' unit tests that need a store (the
// S3, S5 and S6 scenario tests of §8 among them) and suitable as a scratch
// store for small single-process tools.
//
// Every public method takes the Store's own mutex: per §5, "the store is
// expected to serialize concurrent callers internally or the implementation
// must hold a mutex across all store calls" — memstore chooses the mutex.
package memstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wanderview/tup/internal/store"
)

type dirHandle struct{ f *os.File }

func (h dirHandle) Fd() uintptr { return h.f.Fd() }
func (h dirHandle) Close() error { return h.f.Close() }

// Store is the in-memory store. The zero value is not usable; use New.
type Store struct {
	mu sync.Mutex

	nodes   map[int64]store.Node
	links   map[int64][]int64 // src -> ordered dest ids (CreateLink/SelectLinksBySource)
	dirPath map[int64]string  // dir node id -> absolute on-disk path (OpenTupID)
	vars    map[string]string
	varIDs  map[string]int64
	config  map[string]int

	nextID int64

	inTx     bool
	snapshot *Store // shallow copy of mutable maps, for Rollback
}

// New returns an empty store.
func New() *Store {
	return &Store{
		nodes:   make(map[int64]store.Node),
		links:   make(map[int64][]int64),
		dirPath: make(map[int64]string),
		vars:    make(map[string]string),
		varIDs:  make(map[string]int64),
		config:  make(map[string]int),
		nextID:  1,
	}
}

// --- fixture helpers, used directly by tests to build a scenario ---

// AddNode inserts or overwrites a node row, as a test fixture would seed
// the database ahead of a phase. Returns rec.ID for chaining.
func (s *Store) AddNode(rec store.Node) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[rec.ID] = rec
	if rec.ID >= s.nextID {
		s.nextID = rec.ID + 1
	}
	return rec.ID
}

// AddLink records a pre-existing src -> dest dependency edge, as tup_link
// rows would already exist in the database before a phase starts.
func (s *Store) AddLink(src, dest int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLinkLocked(src, dest)
}

func (s *Store) addLinkLocked(src, dest int64) {
	for _, d := range s.links[src] {
		if d == dest {
			return
		}
	}
	s.links[src] = append(s.links[src], dest)
}

// SetDirPath backs a DIR node id with a real on-disk directory for
// OpenTupID.
func (s *Store) SetDirPath(id int64, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirPath[id] = path
}

// SetVar seeds a variable's value for WriteVar.
func (s *Store) SetVar(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

// WriteVarValue persists a declared variable's value, so a later WriteVar
// call can find it.
func (s *Store) WriteVarValue(ctx context.Context, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	return nil
}

// SetConfig seeds a persisted integer config key.
func (s *Store) SetConfig(key string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
}

// Node returns the current row for id, for test assertions.
func (s *Store) Node(id int64) (store.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// VarID returns the node id assigned to a variable name once it has been
// referenced via WriteVar, for assertions.
func (s *Store) VarID(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.varIDs[name]
	return id, ok
}

// Links returns a copy of src's recorded dependency edges, for assertions.
func (s *Store) Links(src int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.links[src]))
	copy(out, s.links[src])
	return out
}

// --- store.Store ---

func (s *Store) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTx {
		return fmt.Errorf("memstore: transaction already open")
	}
	s.inTx = true
	s.snapshot = s.cloneLocked()
	return nil
}

func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	s.snapshot = nil
	return nil
}

func (s *Store) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		s.nodes = s.snapshot.nodes
		s.links = s.snapshot.links
		s.dirPath = s.snapshot.dirPath
		s.vars = s.snapshot.vars
		s.varIDs = s.snapshot.varIDs
		s.nextID = s.snapshot.nextID
	}
	s.inTx = false
	s.snapshot = nil
	return nil
}

func (s *Store) cloneLocked() *Store {
	c := &Store{
		nodes:   make(map[int64]store.Node, len(s.nodes)),
		links:   make(map[int64][]int64, len(s.links)),
		dirPath: make(map[int64]string, len(s.dirPath)),
		vars:    make(map[string]string, len(s.vars)),
		varIDs:  make(map[string]int64, len(s.varIDs)),
		nextID:  s.nextID,
	}
	for k, v := range s.nodes {
		c.nodes[k] = v
	}
	for k, v := range s.dirPath {
		c.dirPath[k] = v
	}
	for k, v := range s.vars {
		c.vars[k] = v
	}
	for k, v := range s.links {
		dup := make([]int64, len(v))
		copy(dup, v)
		c.links[k] = dup
	}
	for k, v := range s.varIDs {
		c.varIDs[k] = v
	}
	return c
}

func (s *Store) SelectNodesByFlag(ctx context.Context, flag store.Flag, cb store.NodeCallback) error {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.nodes))
	for id, n := range s.nodes {
		if n.Flags.Has(flag) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows := make([]store.Node, len(ids))
	for i, id := range ids {
		rows[i] = s.nodes[id]
	}
	s.mu.Unlock()

	for _, n := range rows {
		if err := cb(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SelectLinksBySource(ctx context.Context, src int64, cb store.NodeCallback) error {
	s.mu.Lock()
	dests := append([]int64(nil), s.links[src]...)
	rows := make([]store.Node, 0, len(dests))
	for _, id := range dests {
		if n, ok := s.nodes[id]; ok {
			rows = append(rows, n)
		}
	}
	s.mu.Unlock()

	for _, n := range rows {
		if err := cb(n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) OpenTupID(ctx context.Context, id int64) (store.DirHandle, error) {
	s.mu.Lock()
	path, ok := s.dirPath[id]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotExist
	}
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotExist
		}
		return nil, err
	}
	return dirHandle{f: f}, nil
}

func (s *Store) CreateDupNode(ctx context.Context, parentDirID int64, name string, typ store.NodeType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.nodes[id] = store.Node{ID: id, ParentDirID: parentDirID, Type: typ, Name: name, Flags: store.FlagNone}
	return id, nil
}

func (s *Store) DeleteNameFile(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	delete(s.links, id)
	delete(s.dirPath, id)
	return nil
}

// AddModifyList mirrors sqlstore's UPDATE ... WHERE id = ?: a missing id is
// a silent no-op, not an error, since callers routinely reference a node
// that a prior action in the same pass already deleted.
func (s *Store) AddModifyList(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	n.Flags |= store.FlagModify
	s.nodes[id] = n
	return nil
}

// SetFlagsByID mirrors sqlstore's UPDATE ... WHERE id = ?: a missing id is a
// silent no-op. ExecuteWorker.Process calls this unconditionally after every
// successful action, including ones that already deleted the node.
func (s *Store) SetFlagsByID(ctx context.Context, id int64, flags store.Flag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	n.Flags = flags
	s.nodes[id] = n
	return nil
}

// UnflagCreate mirrors sqlstore's UPDATE ... WHERE id = ?: a missing id is a
// silent no-op.
func (s *Store) UnflagCreate(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	n.Flags &^= store.FlagCreate
	s.nodes[id] = n
	return nil
}

func (s *Store) CreateLink(ctx context.Context, src, dest int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLinkLocked(src, dest)
	return nil
}

func (s *Store) WriteVar(ctx context.Context, name string, w io.Writer) (int64, error) {
	s.mu.Lock()
	val, ok := s.vars[name]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("memstore: unknown variable %q", name)
	}
	id, ok := s.varIDs[name]
	if !ok {
		id = s.nextID
		s.nextID++
		s.varIDs[name] = id
		s.nodes[id] = store.Node{ID: id, Type: store.TypeVar, Name: name, Flags: store.FlagNone}
	}
	s.mu.Unlock()

	if _, err := w.Write([]byte(val)); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ConfigGetInt(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config[key], nil
}

func (s *Store) WriteFiles(ctx context.Context, dupID int64, cmdName string, outputs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup, ok := s.nodes[dupID]
	if !ok {
		return fmt.Errorf("memstore: unknown dup node %d", dupID)
	}
	for _, out := range outputs {
		id := s.nextID
		s.nextID++
		s.nodes[id] = store.Node{ID: id, ParentDirID: dup.ParentDirID, Type: store.TypeFile, Name: out, Flags: store.FlagNone}
		s.addLinkLocked(dupID, id)
	}
	return nil
}
