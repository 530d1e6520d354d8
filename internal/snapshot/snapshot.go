// Package snapshot implements the debug/export affordance of SPEC_FULL.md
// E6: dumping a constructed working graph.Graph as a stable, diffable
// text-proto-shaped document, formatted with
// github.com/protocolbuffers/txtpbfmt the same way the teacher's own
// cmd/distri/scaffold.go round-trips its build.textproto files
// (parser.Parse/parser.Format/parser.Pretty over raw text, no generated
// proto message required).
package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/protocolbuffers/txtpbfmt/parser"

	"github.com/wanderview/tup/internal/graph"
)

// Dump renders g's current node set as text-proto-shaped text: one `node {
// ... }` block per id in ids that is present in g, in the order given, each
// listing its id, type, name, DFS state and outgoing edges.
func Dump(g *graph.Graph, ids []int64) ([]byte, error) {
	var b strings.Builder
	for _, id := range ids {
		n, ok := g.FindNode(id)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "node {\n")
		fmt.Fprintf(&b, "  id: %d\n", n.ID())
		fmt.Fprintf(&b, "  type: %q\n", n.Rec.Type.String())
		fmt.Fprintf(&b, "  name: %s\n", strconv.Quote(n.Rec.Name))
		fmt.Fprintf(&b, "  state: %q\n", n.State.String())
		for _, dest := range n.Edges() {
			fmt.Fprintf(&b, "  edge: %d\n", dest)
		}
		fmt.Fprintf(&b, "}\n")
	}

	formatted, err := parser.Format([]byte(b.String()))
	if err != nil {
		// Fall back to the unformatted text rather than failing the dump
		// outright — the raw form is still valid debugging output.
		return []byte(b.String()), nil
	}
	return formatted, nil
}
