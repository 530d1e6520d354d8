// Package driver implements the topological execution loop (C3): it drains
// a constructed graph.Graph in dependency order, handing each ready node to
// a single worker goroutine over a pair of OS pipes exactly as described in
// §4.3 and §5 of the driver specification, then propagates the resulting
// flag changes and retires the node.
package driver

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
	"github.com/wanderview/tup/internal/trace"
)

// Worker performs the real, per-node action dispatched by the driver. The
// driver guarantees at most one call to Process is in flight at a time
// (§5: "only one node is in flight at any time").
type Worker interface {
	Process(ctx context.Context, n *graph.Node) error
}

// ProgressFunc is invoked after every node whose type matches the graph's
// count-flags type (and which isn't a delete) completes successfully, with
// the running count and the graph's total node count (§4.3 step g, §6).
type ProgressFunc func(processed, total int)

// Driver runs the topological drain loop of §4.3 against a single worker.
type Driver struct {
	Log       *log.Logger
	KeepGoing bool
	Progress  ProgressFunc
}

// handoff is the shared slot the driver publishes a node through before
// signalling the worker on the request pipe (§5). Go's memory model does
// not guarantee the worker goroutine observes a bare write to n purely by
// virtue of the pipe syscalls around it, so — unlike the original
// single-threaded-readers-and-writers C version — the slot is guarded by a
// mutex even though only one side ever touches it at a time.
type handoff struct {
	mu sync.Mutex
	n  *graph.Node
}

func (h *handoff) set(n *graph.Node) {
	h.mu.Lock()
	h.n = n
	h.mu.Unlock()
}

func (h *handoff) get() *graph.Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

// errProtocol is returned when the status pipe hits EOF before a full
// 4-byte status record has been read — a protocol error rather than a
// normal failure status (§9 open question, resolved in favor of looping
// until the record is complete and treating EOF as fatal rather than
// silently accepting a short read).
var errProtocol = fmt.Errorf("driver: status pipe closed mid-record")

// Execute runs the drain loop of §4.3 to completion against worker. g must
// be freshly built (node_list in post-order ending with the synthetic
// root, plist empty), as BuildParse/BuildExecute leave it.
func (d *Driver) Execute(ctx context.Context, g *graph.Graph, worker Worker) error {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("driver: pipe: %w", err)
	}
	defer reqR.Close()
	defer reqW.Close()

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("driver: pipe: %w", err)
	}
	defer statusR.Close()
	defer statusW.Close()

	var statusMu sync.Mutex
	var h handoff

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runWorker(ctx, worker, reqR, statusW, &statusMu, &h)
	}()

	rc := d.drain(ctx, g, reqW, statusR, &h)

	// Teardown: zero byte terminates the worker, then join (§4.3 step 3).
	if _, werr := reqW.Write([]byte{0}); werr != nil && rc == nil {
		rc = fmt.Errorf("driver: write terminator: %w", werr)
	}
	wg.Wait()

	if rc != nil {
		return rc
	}

	if !g.Empty() {
		if d.KeepGoing {
			if d.Log != nil {
				d.Log.Println("Remaining nodes skipped due to errors in command execution.")
			}
			return fmt.Errorf("driver: remaining nodes skipped due to errors in command execution")
		}
		return fmt.Errorf("driver: graph is not empty after execution")
	}
	return nil
}

// drain is the §4.3 step-1/step-2 loop. It returns nil on a normal
// completion (possibly with nodes left over under keep_going, which Execute
// interprets afterwards) and a non-nil error on a hard failure that should
// abort without releasing further successors. Under keep_going, a run in
// which some node failed but the graph still drained completely also
// returns an error, so the failure is not reported as success.
func (d *Driver) drain(ctx context.Context, g *graph.Graph, reqW *os.File, statusR *os.File, h *handoff) error {
	processed := 0
	failed := 0
	total := g.NumNodes()

	// Step 1: pop the synthetic root, releasing its direct successors, then
	// destroy it.
	root := g.Root()
	g.PopNode(root)
	g.RemoveNode(root)

	if d.Progress != nil {
		d.Progress(processed, total)
	}

	for !g.PlistEmpty() {
		n := g.PlistHead()

		if n.IncomingCount > 0 {
			// Step 2b: not ready yet, defer until a predecessor releases it.
			g.DeferNode(n)
			continue
		}

		// Step 2c/d: dispatch and block for status.
		ev := trace.Event(n.Rec.Name, 0)
		h.set(n)
		if _, err := reqW.Write([]byte{1}); err != nil {
			return fmt.Errorf("driver: write request: %w", err)
		}
		status, err := readStatus(statusR)
		ev.Done()
		if err != nil {
			return err
		}

		if status < 0 {
			if !d.KeepGoing {
				// Abort immediately: n is left in place (neither its
				// successors released nor n itself retired), matching the
				// original's direct jump to teardown on first failure.
				return fmt.Errorf("driver: node %d failed", n.ID())
			}
			// keep_going: skip releasing successors (step f) so dependents
			// of the failed node remain blocked, but still retire n.
			failed++
		} else {
			g.PopNode(n) // step f: release ready successors
		}

		if n.Rec.Type == g.CountFlags() && !n.Rec.Flags.Has(store.FlagDelete) {
			processed++
			if d.Progress != nil {
				d.Progress(processed, total)
			}
		}

		g.RemoveNode(n) // step h: retire
	}

	if failed > 0 && g.Empty() {
		return fmt.Errorf("driver: %d node(s) failed", failed)
	}
	return nil
}

// readStatus reads one fixed 4-byte status record off the status pipe,
// looping past short reads and treating EOF mid-record as a protocol error
// rather than treating whatever partial bytes arrived as the whole status.
func readStatus(r *os.File) (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return 0, errProtocol
		}
		return 0, fmt.Errorf("driver: read status: %w", err)
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

func writeStatus(w *os.File, mu *sync.Mutex, status int32, logger *log.Logger) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(status))
	mu.Lock()
	defer mu.Unlock()
	if _, err := w.Write(buf[:]); err != nil && logger != nil {
		logger.Printf("driver: write status: %v", err)
	}
}

// runWorker is the worker-side loop of §5: read one byte per request,
// break on a zero byte, otherwise Process the node currently in the
// handoff slot and write back a 4-byte status.
func runWorker(ctx context.Context, worker Worker, reqR *os.File, statusW *os.File, statusMu *sync.Mutex, h *handoff) {
	var c [1]byte
	for {
		if _, err := reqR.Read(c[:]); err != nil {
			return
		}
		if c[0] == 0 {
			return
		}
		n := h.get()
		status := int32(0)
		if err := worker.Process(ctx, n); err != nil {
			status = -1
		}
		writeStatus(statusW, statusMu, status, nil)
	}
}
