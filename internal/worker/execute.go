package worker

import (
	"errors"

	"context"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
	"golang.org/x/sys/unix"
)

// CommandRunner is the command runner collaborator (C6) invoked for CMD
// nodes that aren't flagged for deletion.
type CommandRunner interface {
	Run(ctx context.Context, n *graph.Node) error
}

// ExecuteWorker implements driver.Worker for the execute phase (§4.5).
type ExecuteWorker struct {
	Store  store.Store
	Runner CommandRunner
}

// notExister is implemented by store.ErrNotExist and any wrapped error that
// wants to signal "the directory is already gone" without a sentinel
// comparison.
type notExister interface{ NotExist() bool }

// Process applies the per-node action of §4.5's table, then propagates
// resultant flag changes back to the store on success.
func (w *ExecuteWorker) Process(ctx context.Context, n *graph.Node) error {
	var rc error

	switch {
	case n.Rec.Type == store.TypeFile && n.Rec.Flags.Has(store.FlagDelete):
		rc = w.deleteFile(ctx, n)
	case (n.Rec.Type == store.TypeDir || n.Rec.Type == store.TypeVar) && n.Rec.Flags.Has(store.FlagDelete):
		rc = w.Store.DeleteNameFile(ctx, n.ID())
	case n.Rec.Type == store.TypeCmd && n.Rec.Flags.Has(store.FlagDelete):
		rc = w.Store.DeleteNameFile(ctx, n.ID())
	case n.Rec.Type == store.TypeCmd:
		rc = w.Runner.Run(ctx, n)
	default:
		// FILE/DIR/VAR without DELETE: no-op.
	}

	if rc == nil {
		for _, destID := range n.Edges() {
			// Mark successors as modify in case a later node in this same
			// phase fails: a re-run resumes there (§4.5).
			if err := w.Store.AddModifyList(ctx, destID); err != nil {
				rc = err
				break
			}
		}
	}
	if rc == nil {
		rc = w.Store.SetFlagsByID(ctx, n.ID(), store.FlagNone)
	}
	return rc
}

// deleteFile implements the delete_file primitive of §4.5: delete the
// node's store row first, then best-effort unlink the on-disk file,
// ignoring "file not found" and an already-gone parent directory.
func (w *ExecuteWorker) deleteFile(ctx context.Context, n *graph.Node) error {
	if err := w.Store.DeleteNameFile(ctx, n.ID()); err != nil {
		return err
	}

	dh, err := w.Store.OpenTupID(ctx, n.Rec.ParentDirID)
	if err != nil {
		var ne notExister
		if errors.As(err, &ne) && ne.NotExist() {
			return nil
		}
		return err
	}
	defer dh.Close()

	if err := unix.Unlinkat(int(dh.Fd()), n.Rec.Name, 0); err != nil {
		if err != unix.ENOENT {
			return err
		}
	}
	return nil
}
