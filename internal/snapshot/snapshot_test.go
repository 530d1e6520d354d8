package snapshot

import (
	"strings"
	"testing"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

func TestDumpRendersNodesAndEdges(t *testing.T) {
	g := graph.New(store.TypeDir)
	a := g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "a"})
	b := g.CreateNode(store.Node{ID: 2, Type: store.TypeFile, Name: "b.txt"})
	g.CreateEdge(a, b)

	out, err := Dump(g, []int64{1, 2})
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	s := string(out)
	for _, want := range []string{`id: 1`, `id: 2`, `name: "a"`, `name: "b.txt"`, `edge: 2`, `type: "dir"`, `type: "file"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("Dump output missing %q:\n%s", want, s)
		}
	}
}

func TestDumpSkipsUnknownIDs(t *testing.T) {
	g := graph.New(store.TypeDir)
	g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "a"})

	out, err := Dump(g, []int64{1, 999})
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if strings.Count(string(out), "node {") != 1 {
		t.Fatalf("expected exactly one node block, got:\n%s", out)
	}
}
