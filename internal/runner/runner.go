// Package runner implements the command runner (C6): forking/executing a
// command node's shell command under the side-effect server, and the
// variable-substitution mode that never forks at all (§4.6).
package runner

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/sideeffect"
	"github.com/wanderview/tup/internal/store"
)

// Runner is the command runner collaborator of §4.6.
type Runner struct {
	Store  store.Store
	Server sideeffect.Server
	Log    *log.Logger
}

// Run dispatches n's command by its first byte, per §4.6:
//
//	',' -> variable substitution mode (does not fork)
//	'@' -> silent command (not echoed, real command follows)
//	else -> normal command
func (r *Runner) Run(ctx context.Context, n *graph.Node) error {
	name := n.Rec.Name
	if name == "" {
		return fmt.Errorf("runner: empty command for node %d", n.ID())
	}

	if name[0] == ',' {
		return r.varReplace(ctx, n)
	}

	printName := true
	cmd := name
	if name[0] == '@' {
		printName = false
		cmd = name[1:]
	}
	return r.runCommand(ctx, n, cmd, printName)
}

// runCommand implements update()/§4.6 steps 1-10 for normal and silent
// commands.
func (r *Runner) runCommand(ctx context.Context, n *graph.Node, cmd string, printName bool) error {
	dupID, err := r.Store.CreateDupNode(ctx, n.Rec.ParentDirID, n.Rec.Name, store.TypeCmd)
	if err != nil {
		return fmt.Errorf("runner: create dup node: %w", err)
	}

	curDir, err := openCurDir()
	if err != nil {
		r.Store.DeleteNameFile(ctx, dupID)
		return fmt.Errorf("runner: open current directory: %w", err)
	}
	defer curDir.Close()

	dh, err := r.Store.OpenTupID(ctx, n.Rec.ParentDirID)
	if err != nil {
		r.Store.DeleteNameFile(ctx, dupID)
		return fmt.Errorf("runner: open parent directory: %w", err)
	}

	if err := unix.Fchdir(int(dh.Fd())); err != nil {
		dh.Close()
		r.Store.DeleteNameFile(ctx, dupID)
		return fmt.Errorf("runner: fchdir: %w", err)
	}

	if printName && r.Log != nil {
		r.Log.Printf("[%d:%d] %s", n.ID(), dupID, cmd)
	}

	failed := r.runOnce(ctx, n, dupID, cmd)

	if restoreErr := unix.Fchdir(int(curDir.Fd())); restoreErr != nil && failed == nil {
		failed = fmt.Errorf("runner: restore cwd: %w", restoreErr)
	}
	dh.Close()

	if failed != nil {
		if r.Log != nil {
			r.Log.Printf("*** Command %d failed.", n.ID())
		}
		r.Store.DeleteNameFile(ctx, dupID)
		return failed
	}

	if err := r.Store.DeleteNameFile(ctx, n.ID()); err != nil {
		return fmt.Errorf("runner: delete old node: %w", err)
	}
	return nil
}

// runOnce performs the side-effect-monitored fork/exec/reconcile at steps
// 3-7 of §4.6, assuming the process has already fchdir'd into the
// command's parent directory.
func (r *Runner) runOnce(ctx context.Context, n *graph.Node, dupID int64, cmd string) error {
	if err := r.Server.Start(ctx, "."); err != nil {
		return fmt.Errorf("runner: start side-effect server: %w", err)
	}

	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	runErr := c.Run()

	finfo, stopErr := r.Server.Stop(ctx)
	if stopErr != nil {
		return fmt.Errorf("runner: stop side-effect server: %w", stopErr)
	}

	if runErr != nil {
		return fmt.Errorf("runner: command exited: %w", runErr)
	}

	if err := r.Store.WriteFiles(ctx, dupID, cmd, finfo.Writes); err != nil {
		return fmt.Errorf("runner: reconcile outputs: %w", err)
	}
	return nil
}

func openCurDir() (*os.File, error) {
	return os.Open(".")
}

// varReplace implements §4.6.1: parse ", INPUT > OUTPUT", substituting
// every @NAME@ occurrence in INPUT with the store's value for NAME while
// copying everything else through verbatim.
func (r *Runner) varReplace(ctx context.Context, n *graph.Node) error {
	input := strings.TrimPrefix(n.Rec.Name, ",")
	input = strings.TrimLeftFunc(input, unicode.IsSpace)

	gt := strings.IndexByte(input, '>')
	if gt < 0 {
		return fmt.Errorf("runner: unable to find '>' in var/sed command %q", input)
	}
	if gt == 0 {
		return fmt.Errorf("runner: the '>' symbol can't be at the start of the var/sed command")
	}
	if gt+2 > len(input) {
		return fmt.Errorf("runner: missing output path in var/sed command %q", input)
	}

	// Mirrors var_replace's literal byte surgery on ", INPUT > OUTPUT":
	// the byte immediately before '>' is overwritten with the string
	// terminator (here, simply excluded), and OUTPUT begins exactly two
	// bytes past '>' — the '>' itself plus the one separating space.
	inPath := input[:gt-1]
	outPath := input[gt+2:]
	if inPath == "" {
		return fmt.Errorf("runner: empty input path in var/sed command")
	}

	curDir, err := openCurDir()
	if err != nil {
		return fmt.Errorf("runner: open current directory: %w", err)
	}
	defer curDir.Close()

	dh, err := r.Store.OpenTupID(ctx, n.Rec.ParentDirID)
	if err != nil {
		return fmt.Errorf("runner: open parent directory: %w", err)
	}
	defer dh.Close()

	if err := unix.Fchdir(int(dh.Fd())); err != nil {
		return fmt.Errorf("runner: fchdir: %w", err)
	}
	defer unix.Fchdir(int(curDir.Fd()))

	in, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("runner: read %s: %w", inPath, err)
	}

	out, err := expandVars(ctx, r.Store, n, in)
	if err != nil {
		return err
	}

	// Atomic write via renameio, the same pattern the teacher uses for
	// artifact output (internal/build/build.go's renameio.TempFile calls).
	t, err := renameio.TempFile("", outPath)
	if err != nil {
		return fmt.Errorf("runner: create %s: %w", outPath, err)
	}
	defer t.Cleanup()
	if _, err := t.Write(out); err != nil {
		return fmt.Errorf("runner: write %s: %w", outPath, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("runner: replace %s: %w", outPath, err)
	}
	return nil
}

// expandVars walks buf replacing @IDENT@ runs with the store's value for
// IDENT, linking each referenced variable as a dependency of n. An '@' with
// no closing '@' before the end of the buffer is passed through literally
// (§4.6.1, §9 open question, §8 property 8).
func expandVars(ctx context.Context, st store.Store, n *graph.Node, buf []byte) ([]byte, error) {
	var out bytes.Buffer
	p := 0
	for p < len(buf) {
		at := bytes.IndexByte(buf[p:], '@')
		if at < 0 {
			out.Write(buf[p:])
			break
		}
		at += p
		out.Write(buf[p:at])

		end := at + 1
		for end < len(buf) && isIdentByte(buf[end]) {
			end++
		}
		if end > at+1 && end < len(buf) && buf[end] == '@' {
			name := string(buf[at+1 : end])
			varID, err := st.WriteVar(ctx, name, &out)
			if err != nil {
				return nil, fmt.Errorf("runner: write var %s: %w", name, err)
			}
			if err := st.CreateLink(ctx, varID, n.ID()); err != nil {
				return nil, fmt.Errorf("runner: link var %s: %w", name, err)
			}
			p = end + 1
		} else {
			// unmatched '@...': pass the whole run through verbatim.
			out.Write(buf[at:end])
			p = end
		}
	}
	return out.Bytes(), nil
}

func isIdentByte(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b == '_'
}
