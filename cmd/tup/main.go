// Command tup is the CLI surface of §6: it opens the persisted store under
// the build root's ".tup" state directory, then runs the parse phase
// followed by the execute phase, mirroring updater()'s
// process_create_nodes() then process_update_nodes() sequencing in
// original_source.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/xerrors"

	wandertup "github.com/wanderview/tup"
	"github.com/wanderview/tup/internal/builder"
	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/oninterrupt"
	"github.com/wanderview/tup/internal/parser"
	"github.com/wanderview/tup/internal/phase"
	"github.com/wanderview/tup/internal/progress"
	"github.com/wanderview/tup/internal/runner"
	"github.com/wanderview/tup/internal/sideeffect"
	"github.com/wanderview/tup/internal/snapshot"
	"github.com/wanderview/tup/internal/store"
	"github.com/wanderview/tup/internal/store/sqlstore"
	"github.com/wanderview/tup/internal/trace"
	"github.com/wanderview/tup/internal/tuproot"
)

var (
	dir          = flag.String("d", "", "run as if invoked from this directory")
	debug        = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")
	showProgress = flag.Bool("show-progress", true, "render the build progress bar")
	noProgress   = flag.Bool("no-show-progress", false, "suppress the build progress bar (overrides -show-progress)")
	keepGoing    = flag.Bool("keep-going", false, "continue dispatching ready nodes after a failure")
	k            = flag.Bool("k", false, "shorthand for -keep-going")
	noKeepGoing  = flag.Bool("no-keep-going", false, "abort immediately on the first failure (overrides -keep-going/-k)")
	ctracefile   = flag.String("ctracefile", "", "path to write a chrome trace event file to (load in chrome://tracing)")
)

func funcmain() error {
	flag.Parse()

	if *dir != "" {
		if err := os.Chdir(*dir); err != nil {
			return xerrors.Errorf("chdir %s: %w", *dir, err)
		}
	}

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return xerrors.Errorf("ctracefile: %w", err)
		}
		trace.Sink(f)
	}

	ctx, canc := wandertup.InterruptibleContext()
	defer canc()

	logger := log.New(os.Stderr, "", 0)

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	switch verb {
	case "init":
		return tuproot.Init(".")
	case "graph":
		return runGraphDump(ctx, args)
	case "build":
		return runBuild(ctx, logger)
	default:
		return fmt.Errorf("unknown command %q (try init, build, or graph dump)", verb)
	}
}

func openRootStore() (*sqlstore.Store, error) {
	root, err := tuproot.Find()
	if err != nil {
		return nil, xerrors.Errorf("locate build root: %w", err)
	}
	st, err := sqlstore.Open(root+"/"+tuproot.StateDir+"/db", root)
	if err != nil {
		return nil, xerrors.Errorf("open store: %w", err)
	}
	return st, nil
}

func runBuild(ctx context.Context, logger *log.Logger) error {
	st, err := openRootStore()
	if err != nil {
		return err
	}
	defer st.Close()

	oninterrupt.Register(func() {
		// Best-effort: if an interrupt lands mid-phase, an open transaction
		// is rolled back rather than left dangling in the database file.
		st.Rollback(ctx)
	})

	opts := phase.Options{
		Log:       logger,
		KeepGoing: resolveKeepGoing(ctx, st),
		Progress:  resolveProgress(ctx, st),
	}

	p := &parser.FileParser{
		Store: st,
		Resolve: func(ctx context.Context, dir *graph.Node) (string, error) {
			return st.Path(ctx, dir.ID())
		},
	}
	if err := phase.Parse(ctx, st, p, opts); err != nil {
		return xerrors.Errorf("parse: %w", err)
	}

	r := &runner.Runner{
		Store:  st,
		Server: sideeffect.New(),
		Log:    logger,
	}
	if err := phase.Execute(ctx, st, r, opts); err != nil {
		return xerrors.Errorf("execute: %w", err)
	}

	return wandertup.RunAtExit()
}

func runGraphDump(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "dump" {
		return fmt.Errorf("unknown graph command (want graph dump [parse|execute])")
	}
	args = args[1:]

	which := "execute"
	if len(args) > 0 {
		which = args[0]
	}
	if which != "parse" && which != "execute" {
		return fmt.Errorf("unknown graph phase %q (want parse or execute)", which)
	}

	st, err := openRootStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var g *graph.Graph
	if which == "parse" {
		g, err = builder.BuildParse(ctx, st)
	} else {
		g, err = builder.BuildExecute(ctx, st)
	}
	if err != nil {
		return xerrors.Errorf("construct %s graph: %w", which, err)
	}

	out, err := snapshot.Dump(g, g.IDs())
	if err != nil {
		return xerrors.Errorf("dump: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}

func resolveKeepGoing(ctx context.Context, st store.Store) bool {
	if *noKeepGoing {
		return false
	}
	if *keepGoing || *k {
		return true
	}
	v, err := st.ConfigGetInt(ctx, "keep_going")
	return err == nil && v != 0
}

func resolveProgress(ctx context.Context, st store.Store) *progress.Bar {
	enabled := *showProgress
	if *noProgress {
		enabled = false
	} else if v, err := st.ConfigGetInt(ctx, "show_progress"); err == nil && v == 0 {
		enabled = false
	}
	return &progress.Bar{W: os.Stdout, Enabled: enabled}
}

func main() {
	if err := funcmain(); err != nil {
		if *debug {
			fmt.Fprintf(os.Stderr, "%+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
