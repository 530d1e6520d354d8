package worker

import (
	"context"
	"testing"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
	"github.com/wanderview/tup/internal/store/memstore"
)

type stubParser struct {
	calls int
}

func (p *stubParser) Parse(ctx context.Context, dir *graph.Node, g *graph.Graph) error {
	p.calls++
	return nil
}

func TestParseWorkerParsesDirectoryOnce(t *testing.T) {
	st := memstore.New()
	st.AddNode(store.Node{ID: 1, Type: store.TypeDir, Name: "a", Flags: store.FlagCreate})
	g := graph.New(store.TypeDir)
	n := g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "a", Flags: store.FlagCreate})

	p := &stubParser{}
	w := &ParseWorker{Store: st, Parser: p, Graph: g}

	if err := w.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("Parser.Parse called %d times, want 1", p.calls)
	}
	if !n.AlreadyUsed {
		t.Fatal("AlreadyUsed should be set after the first parse")
	}
	rec, _ := st.Node(1)
	if rec.Flags.Has(store.FlagCreate) {
		t.Fatal("CREATE flag should be cleared after Process")
	}

	// A second Process call (simulating rediscovery after a transitive
	// parse) must be idempotent: no second Parse call.
	if err := w.Process(context.Background(), n); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("Parser.Parse called %d times after second Process, want still 1", p.calls)
	}
}

func TestParseWorkerNonDirectoryIsNoop(t *testing.T) {
	st := memstore.New()
	st.AddNode(store.Node{ID: 1, Type: store.TypeFile, Name: "f", Flags: store.FlagCreate})
	n := &graph.Node{Rec: store.Node{ID: 1, Type: store.TypeFile, Name: "f"}}

	p := &stubParser{}
	w := &ParseWorker{Store: st, Parser: p}
	if err := w.Process(context.Background(), n); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if p.calls != 0 {
		t.Fatal("Parse should not be called for a non-directory node")
	}
}

func TestParseWorkerUnknownTypeErrors(t *testing.T) {
	st := memstore.New()
	st.AddNode(store.Node{ID: 1, Type: store.NodeType(99), Name: "x"})
	n := &graph.Node{Rec: store.Node{ID: 1, Type: store.NodeType(99)}}

	w := &ParseWorker{Store: st}
	if err := w.Process(context.Background(), n); err == nil {
		t.Fatal("expected an error for an unknown node type")
	}
}
