// Package dirfd implements the directory-FD service collaborator of §6
// (`open_tupid`): mapping a directory node id to an open file descriptor
// for its on-disk directory. The real store backs this with a path table;
// this package only needs a way to resolve an id to a path, which sqlstore
// supplies by walking parent_dir_id up to the root.
package dirfd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wanderview/tup/internal/store"
)

// PathResolver resolves a directory node id to its absolute on-disk path.
type PathResolver interface {
	Path(ctx context.Context, id int64) (string, error)
}

// Service opens and caches directory descriptors for the lifetime of a
// phase, closing them all at once when the phase ends.
type Service struct {
	resolver PathResolver

	mu    sync.Mutex
	cache map[int64]*handle
}

// New returns a directory-FD service backed by resolver.
func New(resolver PathResolver) *Service {
	return &Service{resolver: resolver, cache: make(map[int64]*handle)}
}

type handle struct {
	f *os.File
}

func (h *handle) Fd() uintptr { return h.f.Fd() }
func (h *handle) Close() error {
	// Cached handles are closed once by Service.CloseAll, not by callers
	// that borrow them via Open; Close here is a no-op so a single
	// command's deferred Close doesn't invalidate another's cached handle.
	return nil
}

// Open returns a cached (or newly opened) directory handle for id. Returns
// store.ErrNotExist if the directory doesn't exist on disk.
func (s *Service) Open(ctx context.Context, id int64) (store.DirHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.cache[id]; ok {
		return h, nil
	}

	path, err := s.resolver.Path(ctx, id)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotExist
		}
		return nil, fmt.Errorf("dirfd: open %s: %w", path, err)
	}
	h := &handle{f: f}
	s.cache[id] = h
	return h, nil
}

// CloseAll closes every cached descriptor; callers should invoke it once at
// the end of a phase.
func (s *Service) CloseAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, h := range s.cache {
		if err := h.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.cache, id)
	}
	return firstErr
}
