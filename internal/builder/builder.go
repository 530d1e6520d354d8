// Package builder implements the graph-construction traversal (C2): given a
// freshly created graph.Graph, it seeds it from a phase-specific flag query
// and then performs the stack-driven DFS of §4.2 that pulls in the
// transitive dependency closure from the store, detecting cycles along the
// way.
package builder

import (
	"context"
	"fmt"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

// CycleError is returned when construction discovers a back-edge to a node
// still on the DFS stack (§4.2, §8 property 7).
type CycleError struct {
	FromID, ToID     int64
	FromName, ToName string
}

func (e *CycleError) Error() string {
	from, to := e.FromName, e.ToName
	if from == "" {
		from = fmt.Sprintf("%d", e.FromID)
	}
	if to == "" {
		to = fmt.Sprintf("%d", e.ToID)
	}
	return fmt.Sprintf("Circular dependency detected! Last edge was: %s -> %s", from, to)
}

// Seed attaches every node matching flag in the store as a root -> node
// edge, materializing nodes that aren't already in the graph. Used once for
// the parse phase (CREATE) and twice for the execute phase (MODIFY, then
// DELETE — union semantics per §4.2).
func Seed(ctx context.Context, st store.Store, g *graph.Graph, flag store.Flag) error {
	g.SetCur(g.Root())
	return st.SelectNodesByFlag(ctx, flag, func(dbn store.Node) error {
		return install(g, dbn)
	})
}

// findDeps queries the store for n's outgoing dependency edges and installs
// each returned node/edge into the live graph (§4.2).
func findDeps(ctx context.Context, st store.Store, g *graph.Graph, n *graph.Node) error {
	g.SetCur(n)
	return st.SelectLinksBySource(ctx, n.ID(), func(dbn store.Node) error {
		return install(g, dbn)
	})
}

// install is the shared callback behind both Seed and findDeps: look up the
// returned node by id; materialize it if new; attach cur -> node; fail with
// a CycleError if node is still mid-traversal.
func install(g *graph.Graph, dbn store.Node) error {
	n, ok := g.FindNode(dbn.ID)
	if !ok {
		n = g.CreateNode(dbn)
	}
	if n.State == graph.StateProcessing {
		return &CycleError{
			FromID: g.Cur().ID(), FromName: g.Cur().Rec.Name,
			ToID: n.ID(), ToName: n.Rec.Name,
		}
	}
	g.CreateEdge(g.Cur(), n)
	return nil
}

// Build drains plist via the two-visit DFS of §4.2:
//
//	while plist not empty:
//	  cur = plist.head
//	  if cur.state == INITIALIZED:
//	    find deps, cur.state = PROCESSING          # cur remains on plist
//	  elif cur.state == PROCESSING:
//	    move cur from plist to tail of node_list, cur.state = FINISHED
//
// On return, node_list holds every reachable node in post-order (leaves
// first, the synthetic root last) and plist is empty.
func Build(ctx context.Context, st store.Store, g *graph.Graph) error {
	for !g.PlistEmpty() {
		cur := g.PlistHead()
		switch cur.State {
		case graph.StateInitialized:
			if err := findDeps(ctx, st, g, cur); err != nil {
				return err
			}
			cur.State = graph.StateProcessing
		case graph.StateProcessing:
			g.MarkProcessing(cur)
		default:
			// A node at StateFinished has no business being on plist; this
			// would violate invariant 3 and indicates a builder bug.
			return fmt.Errorf("builder: node %d on plist with state %s", cur.ID(), cur.State)
		}
	}
	return nil
}

// BuildParse seeds and builds the parse-phase graph: pivot DIR, seed query
// "select nodes where CREATE in flags" (§4.2).
func BuildParse(ctx context.Context, st store.Store) (*graph.Graph, error) {
	g := graph.New(store.TypeDir)
	if err := Seed(ctx, st, g, store.FlagCreate); err != nil {
		return nil, err
	}
	if err := Build(ctx, st, g); err != nil {
		return nil, err
	}
	return g, nil
}

// BuildExecute seeds and builds the execute-phase graph: pivot CMD, seed
// queries {MODIFY} then {DELETE}, union semantics (§4.2).
func BuildExecute(ctx context.Context, st store.Store) (*graph.Graph, error) {
	g := graph.New(store.TypeCmd)
	if err := Seed(ctx, st, g, store.FlagModify); err != nil {
		return nil, err
	}
	if err := Seed(ctx, st, g, store.FlagDelete); err != nil {
		return nil, err
	}
	if err := Build(ctx, st, g); err != nil {
		return nil, err
	}
	return g, nil
}
