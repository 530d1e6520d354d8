// Package phase ties the graph-construction traversal (internal/builder),
// the topological execution driver (internal/driver) and the two node
// workers (internal/worker) together into the two phases updater() runs in
// original_source: a parse phase that refreshes directory structure, and an
// execute phase that applies command/file/variable work. Each phase brackets
// its driver run in a store transaction per §4.3: begin() before the drain,
// commit() on a clean drain; on a failed drain the parse phase rolls back,
// while the execute phase commits anyway.
package phase

import (
	"context"
	"fmt"
	"log"

	"github.com/wanderview/tup/internal/builder"
	"github.com/wanderview/tup/internal/driver"
	"github.com/wanderview/tup/internal/progress"
	"github.com/wanderview/tup/internal/store"
	"github.com/wanderview/tup/internal/worker"
)

// Options configures both phases, read from persisted config (§6
// ConfigGetInt) and CLI flags by the caller.
type Options struct {
	KeepGoing bool
	Progress  *progress.Bar
	Log       *log.Logger
}

// Parse runs the parse phase: construct the CREATE-flagged graph rooted at
// directories, then drain it with a ParseWorker that invokes p to refresh
// each directory's children. Construction (builder.BuildParse) happens
// before any transaction is opened, matching original_source's
// process_create_nodes, which calls build_graph() before tup_db_begin() —
// a cycle discovered during construction therefore aborts with nothing ever
// committed, the same outcome a rollback would produce.
func Parse(ctx context.Context, st store.Store, p worker.Parser, opts Options) error {
	g, err := builder.BuildParse(ctx, st)
	if err != nil {
		return fmt.Errorf("phase: parse construction: %w", err)
	}

	if err := st.Begin(ctx); err != nil {
		return fmt.Errorf("phase: begin parse transaction: %w", err)
	}

	w := &worker.ParseWorker{Store: st, Parser: p, Graph: g}
	d := &driver.Driver{Log: opts.Log, KeepGoing: opts.KeepGoing, Progress: drawProgress(opts.Progress)}

	if err := d.Execute(ctx, g, w); err != nil {
		if rerr := st.Rollback(ctx); rerr != nil && opts.Log != nil {
			opts.Log.Printf("phase: rollback after parse failure: %v", rerr)
		}
		return fmt.Errorf("phase: parse: %w", err)
	}

	if err := st.Commit(ctx); err != nil {
		return fmt.Errorf("phase: commit parse transaction: %w", err)
	}
	return g.Destroy()
}

// Execute runs the execute phase: construct the MODIFY/DELETE-flagged graph
// rooted at commands, then drain it with an ExecuteWorker that runs r for
// each command. Unlike Parse, a failing drain still commits — §4.3: "the
// execute phase always commits, even under keep_going, so that whatever
// nodes did complete are not re-run on the next invocation" — and the error
// is returned to the caller as the phase's overall result.
func Execute(ctx context.Context, st store.Store, r worker.CommandRunner, opts Options) error {
	g, err := builder.BuildExecute(ctx, st)
	if err != nil {
		return fmt.Errorf("phase: execute construction: %w", err)
	}

	if err := st.Begin(ctx); err != nil {
		return fmt.Errorf("phase: begin execute transaction: %w", err)
	}

	w := &worker.ExecuteWorker{Store: st, Runner: r}
	d := &driver.Driver{Log: opts.Log, KeepGoing: opts.KeepGoing, Progress: drawProgress(opts.Progress)}

	runErr := d.Execute(ctx, g, w)
	if cerr := st.Commit(ctx); cerr != nil {
		if runErr != nil {
			return fmt.Errorf("phase: execute: %w (commit also failed: %v)", runErr, cerr)
		}
		return fmt.Errorf("phase: commit execute transaction: %w", cerr)
	}
	if runErr != nil {
		return fmt.Errorf("phase: execute: %w", runErr)
	}
	return g.Destroy()
}

func drawProgress(bar *progress.Bar) driver.ProgressFunc {
	if bar == nil {
		return nil
	}
	return func(processed, total int) { bar.Draw(processed, total) }
}
