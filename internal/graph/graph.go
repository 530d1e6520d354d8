// Package graph implements the in-memory working DAG (C1 of the driver
// specification): an arena of nodes indexed by store id, with two ordered
// membership lists (plist, the work stack, and nodeList, the finished /
// awaiting-prerequisites set) and the tri-state bookkeeping that lets
// construction detect cycles (§3, §4.1, §9).
//
// Nodes and their outgoing edges are owned exclusively by the Graph; edges
// reference destinations by id rather than by pointer, following the
// arena-with-indices shape recommended for a systems-language port (§9).
package graph

import (
	"fmt"
	"sort"

	"github.com/wanderview/tup/internal/store"
)

// State is where a node sits in the two-visit DFS used by the builder.
type State int

const (
	StateInitialized State = iota
	StateProcessing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateProcessing:
		return "processing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// where records which of the two intrusive lists a node currently belongs
// to (§9: "a node is on exactly one of plist/node_list ... a state field
// plus a position, not two containers").
type where int

const (
	whereNone where = iota
	wherePlist
	whereNodeList
)

// Node is a single vertex of the working graph. Rec carries the immutable
// store identity; State/edges/IncomingCount/AlreadyUsed are mutated as the
// graph is built and drained.
type Node struct {
	Rec store.Node

	State         State
	edges         []int64 // outgoing edges, owned, in insertion order
	IncomingCount int
	AlreadyUsed bool

	list where
}

// ID is a convenience accessor for Rec.ID.
func (n *Node) ID() int64 { return n.Rec.ID }

// Edges returns the destination ids of n's outgoing edges, owned by n.
func (n *Node) Edges() []int64 { return n.edges }

const rootID int64 = 0

// Graph is the in-memory working DAG built and drained by one phase (parse
// or execute). It owns all Nodes; the zero value is not usable, use New.
type Graph struct {
	nodes map[int64]*Node

	plist    []int64 // work stack: nodes being visited or ready to execute
	nodeList []int64 // finished nodes / nodes awaiting prerequisites

	// countFlags is the node type whose completions advance progress
	// (§3: "the node type whose completions advance progress").
	countFlags store.NodeType

	// cur is the node currently having its dependencies resolved, set by
	// the builder before each store query (§4.2).
	cur *Node

	numNodes int
}

// New returns an empty graph with the synthetic root installed, per the
// root-installation lifecycle of §3: "a synthetic node of the phase's pivot
// type is inserted and made the root; it exists only to anchor the seed
// scan."
func New(pivotType store.NodeType) *Graph {
	g := &Graph{
		nodes:      make(map[int64]*Node),
		countFlags: pivotType,
	}
	root := &Node{
		Rec: store.Node{ID: rootID, Type: pivotType},
	}
	g.nodes[rootID] = root
	g.pushPlist(root)
	return g
}

// Root returns the synthetic root node installed by New.
func (g *Graph) Root() *Node { return g.nodes[rootID] }

// NumNodes is the count of real (non-root) nodes created so far.
func (g *Graph) NumNodes() int { return g.numNodes }

// CountFlags is the pivot node type whose non-delete completions advance
// progress (§4.3 step g).
func (g *Graph) CountFlags() store.NodeType { return g.countFlags }

// Cur returns the node currently being expanded by the builder.
func (g *Graph) Cur() *Node { return g.cur }

// SetCur records the node the builder is currently resolving dependencies
// for; create_edge calls during that resolution originate from it.
func (g *Graph) SetCur(n *Node) { g.cur = n }

// FindNode looks up a node by id in O(1); ok is false if absent.
func (g *Graph) FindNode(id int64) (n *Node, ok bool) {
	n, ok = g.nodes[id]
	return n, ok
}

// IDs returns every node id currently in the arena, including the synthetic
// root, in ascending order. Used by the debug/export dump (internal/snapshot)
// to render a stable, diffable listing.
func (g *Graph) IDs() []int64 {
	ids := make([]int64, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CreateNode inserts a new node for the given store record, placed on plist
// in StateInitialized with IncomingCount 0 and no edges (§4.1). Panics if a
// node with the same id already exists — callers must FindNode first, as
// the builder's installer callback does.
func (g *Graph) CreateNode(rec store.Node) *Node {
	if _, ok := g.nodes[rec.ID]; ok {
		panic(fmt.Sprintf("graph: node %d already exists", rec.ID))
	}
	n := &Node{Rec: rec, State: StateInitialized}
	g.nodes[rec.ID] = n
	g.pushPlist(n)
	g.numNodes++
	return n
}

// CreateEdge appends an edge cur -> dest to cur's outgoing edge list and
// increments dest's incoming count. It is idempotent against duplicate
// requests for the same (src, dest) pair within a single construction, as
// required by §4.1's no-multi-edge invariant.
func (g *Graph) CreateEdge(src, dest *Node) {
	for _, id := range src.edges {
		if id == dest.Rec.ID {
			return // already present: idempotent, invariant 2 preserved
		}
	}
	src.edges = append(src.edges, dest.Rec.ID)
	dest.IncomingCount++
}

// RemoveEdge detaches the first outgoing edge of n that targets destID,
// decrementing destID's incoming count.
func (g *Graph) RemoveEdge(n *Node, destID int64) {
	for i, id := range n.edges {
		if id == destID {
			n.edges = append(n.edges[:i], n.edges[i+1:]...)
			if dest, ok := g.nodes[destID]; ok {
				dest.IncomingCount--
			}
			return
		}
	}
}

// RemoveNode unlinks n from whichever list it resides on and deletes it
// from the arena, freeing its outgoing edges along with it (§4.1).
func (g *Graph) RemoveNode(n *Node) {
	switch n.list {
	case wherePlist:
		g.removeFromList(&g.plist, n.Rec.ID)
	case whereNodeList:
		g.removeFromList(&g.nodeList, n.Rec.ID)
	}
	n.list = whereNone
	n.edges = nil
	delete(g.nodes, n.Rec.ID)
}

// Empty reports whether both plist and node_list are empty, the success
// postcondition of a fully drained execution (§4.3 step 4).
func (g *Graph) Empty() bool { return len(g.plist) == 0 && len(g.nodeList) == 0 }

// PlistEmpty reports whether the work stack is empty.
func (g *Graph) PlistEmpty() bool { return len(g.plist) == 0 }

// PlistHead returns the node at the head of plist (the next to visit or
// dispatch), or nil if plist is empty.
func (g *Graph) PlistHead() *Node {
	if len(g.plist) == 0 {
		return nil
	}
	return g.nodes[g.plist[len(g.plist)-1]]
}

// MarkProcessing transitions cur's second visit: move it from plist to the
// tail of node_list and mark it finished (§4.2's build_graph loop, the
// STATE_PROCESSING branch).
func (g *Graph) MarkProcessing(n *Node) {
	g.removeFromList(&g.plist, n.Rec.ID)
	g.nodeList = append(g.nodeList, n.Rec.ID)
	n.list = whereNodeList
	n.State = StateFinished
}

// DeferNode moves n from plist back to node_list because it still has
// unresolved predecessors (§4.3 step 2b): "move it back to node_list, state
// <- FINISHED. It will re-enter plist via a later pop_node."
func (g *Graph) DeferNode(n *Node) {
	g.removeFromList(&g.plist, n.Rec.ID)
	g.nodeList = append(g.nodeList, n.Rec.ID)
	n.list = whereNodeList
	n.State = StateFinished
}

// PopNode releases n's successors: for each outgoing edge, if the
// destination is not already on the DFS stack (StateProcessing), move it
// from whichever list it is on (normally node_list; plist for a node the
// parser added during this phase) to the head of plist with state
// Processing; then remove every edge, decrementing each destination's
// incoming count (§4.3 step 1 and step f).
func (g *Graph) PopNode(n *Node) {
	for len(n.edges) > 0 {
		destID := n.edges[0]
		dest, ok := g.nodes[destID]
		if ok && dest.State != StateProcessing {
			switch dest.list {
			case wherePlist:
				g.removeFromList(&g.plist, dest.Rec.ID)
			case whereNodeList:
				g.removeFromList(&g.nodeList, dest.Rec.ID)
			}
			g.plist = append(g.plist, dest.Rec.ID)
			dest.list = wherePlist
			dest.State = StateProcessing
		}
		g.RemoveEdge(n, destID)
	}
}

// Destroy releases all remaining nodes and edges. It succeeds only if both
// lists are empty, matching the store-level "graph not empty" error mode of
// §4.1; callers that want the loud "graph is not empty" diagnostic should
// check Empty() themselves before calling Destroy.
func (g *Graph) Destroy() error {
	if !g.Empty() {
		return fmt.Errorf("graph: graph not empty")
	}
	g.nodes = make(map[int64]*Node)
	g.plist = nil
	g.nodeList = nil
	return nil
}

func (g *Graph) pushPlist(n *Node) {
	g.plist = append(g.plist, n.Rec.ID)
	n.list = wherePlist
}

func (g *Graph) removeFromList(list *[]int64, id int64) {
	s := *list
	for i, v := range s {
		if v == id {
			*list = append(s[:i], s[i+1:]...)
			return
		}
	}
}
