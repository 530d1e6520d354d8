package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

type stubStore struct {
	nextID int64
	links  [][2]int64
	vars   map[string]string
}

func (s *stubStore) CreateDupNode(ctx context.Context, parentDirID int64, name string, typ store.NodeType) (int64, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *stubStore) CreateLink(ctx context.Context, src, dest int64) error {
	s.links = append(s.links, [2]int64{src, dest})
	return nil
}

func (s *stubStore) WriteVarValue(ctx context.Context, name, value string) error {
	if s.vars == nil {
		s.vars = make(map[string]string)
	}
	s.vars[name] = value
	return nil
}

func TestParseMaterializesDeclaredChildren(t *testing.T) {
	dir := t.TempDir()
	content := "# a comment\ncmd gcc -c foo.c\nvar GREETING hello\nfile foo.h\ndir sub\n"
	if err := os.WriteFile(filepath.Join(dir, "Tupfile"), []byte(content), 0644); err != nil {
		t.Fatalf("write Tupfile: %v", err)
	}

	st := &stubStore{nextID: 100}
	p := &FileParser{
		Store:   st,
		Resolve: func(ctx context.Context, n *graph.Node) (string, error) { return dir, nil },
	}

	g := graph.New(store.TypeDir)
	dirNode := g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "."})

	if err := p.Parse(context.Background(), dirNode, g); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := len(dirNode.Edges()); got != 4 {
		t.Fatalf("dirNode has %d edges, want 4 (cmd, var, file, dir)", got)
	}
	if len(st.links) != 4 {
		t.Fatalf("recorded %d links, want 4", len(st.links))
	}
	if got := st.vars["GREETING"]; got != "hello" {
		t.Fatalf("var GREETING = %q, want %q to be persisted via WriteVarValue", got, "hello")
	}
}

func TestParseMissingTupfileIsNoop(t *testing.T) {
	dir := t.TempDir()
	st := &stubStore{}
	p := &FileParser{
		Store:   st,
		Resolve: func(ctx context.Context, n *graph.Node) (string, error) { return dir, nil },
	}
	g := graph.New(store.TypeDir)
	dirNode := g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "."})

	if err := p.Parse(context.Background(), dirNode, g); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(dirNode.Edges()) != 0 {
		t.Fatal("no Tupfile should mean no children")
	}
}

func TestParseRejectsMalformedVar(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Tupfile"), []byte("var ONLYNAME\n"), 0644); err != nil {
		t.Fatalf("write Tupfile: %v", err)
	}
	st := &stubStore{}
	p := &FileParser{
		Store:   st,
		Resolve: func(ctx context.Context, n *graph.Node) (string, error) { return dir, nil },
	}
	g := graph.New(store.TypeDir)
	dirNode := g.CreateNode(store.Node{ID: 1, Type: store.TypeDir, Name: "."})

	if err := p.Parse(context.Background(), dirNode, g); err == nil {
		t.Fatal("expected an error for a var declaration with no value")
	}
}
