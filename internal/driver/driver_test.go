package driver

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

// recordingWorker appends each node's name to order as it's processed. If
// failNames contains the node's name, Process returns an error instead.
type recordingWorker struct {
	mu        sync.Mutex
	order     []string
	failNames map[string]bool
}

func (w *recordingWorker) Process(ctx context.Context, n *graph.Node) error {
	w.mu.Lock()
	w.order = append(w.order, n.Rec.Name)
	w.mu.Unlock()
	if w.failNames[n.Rec.Name] {
		return fmt.Errorf("command %s failed", n.Rec.Name)
	}
	return nil
}

func chain(names ...string) (*graph.Graph, []*graph.Node) {
	g := graph.New(store.TypeCmd)
	nodes := make([]*graph.Node, len(names))
	for i, name := range names {
		nodes[i] = g.CreateNode(store.Node{ID: int64(i + 1), Type: store.TypeCmd, Name: name, Flags: store.FlagModify})
	}
	prev := g.Root()
	for _, n := range nodes {
		g.CreateEdge(prev, n)
		prev = n
	}
	return g, nodes
}

// TestLinearChain is S1 at the driver level: edges root -> A -> B -> C.
// Expected dispatch order A, B, C; all three are retired and the graph
// ends empty.
func TestLinearChain(t *testing.T) {
	g, nodes := chain("A", "B", "C")
	w := &recordingWorker{}
	d := &Driver{}

	if err := d.Execute(context.Background(), g, w); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"A", "B", "C"}
	if len(w.order) != len(want) {
		t.Fatalf("order = %v, want %v", w.order, want)
	}
	for i := range want {
		if w.order[i] != want[i] {
			t.Fatalf("order = %v, want %v", w.order, want)
		}
	}
	for _, n := range nodes {
		if _, ok := g.FindNode(n.ID()); ok {
			t.Fatalf("node %d should have been retired", n.ID())
		}
	}
	if !g.Empty() {
		t.Fatal("graph should be empty after a clean drain")
	}
}

// TestDiamond is S2: A -> B, A -> C, B -> D, C -> D. D must dispatch only
// once, after both B and C have completed.
func TestDiamond(t *testing.T) {
	g := graph.New(store.TypeCmd)
	a := g.CreateNode(store.Node{ID: 1, Type: store.TypeCmd, Name: "A", Flags: store.FlagModify})
	b := g.CreateNode(store.Node{ID: 2, Type: store.TypeCmd, Name: "B", Flags: store.FlagModify})
	c := g.CreateNode(store.Node{ID: 3, Type: store.TypeCmd, Name: "C", Flags: store.FlagModify})
	d := g.CreateNode(store.Node{ID: 4, Type: store.TypeCmd, Name: "D", Flags: store.FlagModify})
	g.CreateEdge(g.Root(), a)
	g.CreateEdge(a, b)
	g.CreateEdge(a, c)
	g.CreateEdge(b, d)
	g.CreateEdge(c, d)

	w := &recordingWorker{}
	dr := &Driver{}
	if err := dr.Execute(context.Background(), g, w); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	count := map[string]int{}
	for _, name := range w.order {
		count[name]++
	}
	if count["D"] != 1 {
		t.Fatalf("D dispatched %d times, want exactly 1", count["D"])
	}
	// D must come after both B and C.
	var dIdx, bIdx, cIdx int
	for i, name := range w.order {
		switch name {
		case "D":
			dIdx = i
		case "B":
			bIdx = i
		case "C":
			cIdx = i
		}
	}
	if dIdx < bIdx || dIdx < cIdx {
		t.Fatalf("order = %v, want D dispatched after both B and C", w.order)
	}
}

// TestKeepGoingBlocksDependentsOfFailedNode is S4: A -> B, A -> C, B -> D,
// C -> D, command C fails. With keep_going, A/B/C are attempted but D is
// never dispatched, and the phase still reports failure.
func TestKeepGoingBlocksDependentsOfFailedNode(t *testing.T) {
	g := graph.New(store.TypeCmd)
	a := g.CreateNode(store.Node{ID: 1, Type: store.TypeCmd, Name: "A", Flags: store.FlagModify})
	b := g.CreateNode(store.Node{ID: 2, Type: store.TypeCmd, Name: "B", Flags: store.FlagModify})
	c := g.CreateNode(store.Node{ID: 3, Type: store.TypeCmd, Name: "C", Flags: store.FlagModify})
	d := g.CreateNode(store.Node{ID: 4, Type: store.TypeCmd, Name: "D", Flags: store.FlagModify})
	g.CreateEdge(g.Root(), a)
	g.CreateEdge(a, b)
	g.CreateEdge(a, c)
	g.CreateEdge(b, d)
	g.CreateEdge(c, d)

	w := &recordingWorker{failNames: map[string]bool{"C": true}}
	dr := &Driver{KeepGoing: true}
	err := dr.Execute(context.Background(), g, w)
	if err == nil {
		t.Fatal("expected an error reporting skipped nodes under keep_going")
	}

	dispatched := map[string]bool{}
	for _, name := range w.order {
		dispatched[name] = true
	}
	for _, name := range []string{"A", "B", "C"} {
		if !dispatched[name] {
			t.Fatalf("%s should have been dispatched", name)
		}
	}
	if dispatched["D"] {
		t.Fatal("D should never be dispatched: its C predecessor was never released")
	}
	if _, ok := g.FindNode(d.ID()); !ok {
		t.Fatal("D should remain in the graph, blocked forever")
	}
}

// TestAbortsImmediatelyWithoutKeepGoing checks that a non-keep_going failure
// reports an error and that nothing is dispatched after the failed node.
func TestAbortsImmediatelyWithoutKeepGoing(t *testing.T) {
	g, _ := chain("A", "B", "C")
	w := &recordingWorker{failNames: map[string]bool{"B": true}}
	dr := &Driver{}

	err := dr.Execute(context.Background(), g, w)
	if err == nil {
		t.Fatal("expected an error")
	}
	if dispatched := w.order; len(dispatched) != 2 || dispatched[1] != "B" {
		t.Fatalf("order = %v, want [A B] (dispatch stops at first failure)", dispatched)
	}
}
