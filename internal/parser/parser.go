// Package parser implements the parser collaborator of §6: given a
// directory node, read its build description and materialize the
// directory's children (commands, variables, files, and subdirectories)
// into the live working graph.
//
// The distilled spec leaves the description grammar entirely external
// (updater.c in original_source calls an opaque parse() too); this is a
// small reference grammar rather than a port of any real tup Tupfile
// parser, named per SPEC_FULL.md E4. Each non-blank, non-comment line of a
// directory's "Tupfile" names one child:
//
//	cmd <command text>      a CMD node whose name is the rest of the line
//	var <name> <value>      a VAR node named <name>; <value> is persisted
//	                        via Store.WriteVarValue so a later @<name>@
//	                        substitution (C6) can find it
//	dir <name>               a subdirectory DIR node
//	file <name>              a FILE node with no producing command
//
// Every declared child becomes an edge dir -> child in the graph (the
// dependency direction §4.2's find_deps traverses), and is flagged CREATE
// so a later parse of a freshly discovered child still picks it up.
package parser

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

const buildFileName = "Tupfile"

// Store is the subset of store.Store the parser needs to materialize new
// nodes under the directory it's parsing.
type Store interface {
	CreateDupNode(ctx context.Context, parentDirID int64, name string, typ store.NodeType) (int64, error)
	CreateLink(ctx context.Context, src, dest int64) error
	WriteVarValue(ctx context.Context, name, value string) error
}

// FileParser is the reference Parser implementation (worker.Parser).
type FileParser struct {
	Store Store
	// Resolve maps a directory node to its absolute on-disk path, so the
	// build description can be located.
	Resolve func(ctx context.Context, dir *graph.Node) (string, error)
}

// Parse reads dir's Tupfile and inserts one node per declared child,
// attaching dir -> child edges in g.
func (p *FileParser) Parse(ctx context.Context, dir *graph.Node, g *graph.Graph) error {
	path, err := p.Resolve(ctx, dir)
	if err != nil {
		return fmt.Errorf("parser: resolve %d: %w", dir.ID(), err)
	}

	f, err := os.Open(filepath.Join(path, buildFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // a directory without a Tupfile has no children
		}
		return fmt.Errorf("parser: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(ctx, dir, g, line); err != nil {
			return fmt.Errorf("parser: %s:%d: %w", path, lineNo, err)
		}
	}
	return sc.Err()
}

func (p *FileParser) parseLine(ctx context.Context, dir *graph.Node, g *graph.Graph, line string) error {
	kw, rest, ok := strings.Cut(line, " ")
	if !ok {
		return fmt.Errorf("malformed declaration %q", line)
	}
	rest = strings.TrimSpace(rest)

	var typ store.NodeType
	var name string
	switch kw {
	case "cmd":
		typ, name = store.TypeCmd, rest
	case "var":
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("malformed var declaration %q", line)
		}
		if err := p.Store.WriteVarValue(ctx, fields[0], fields[1]); err != nil {
			return fmt.Errorf("write var %q: %w", fields[0], err)
		}
		typ, name = store.TypeVar, fields[0]
	case "dir":
		typ, name = store.TypeDir, rest
	case "file":
		typ, name = store.TypeFile, rest
	default:
		return fmt.Errorf("unknown declaration keyword %q", kw)
	}

	childID, err := p.Store.CreateDupNode(ctx, dir.ID(), name, typ)
	if err != nil {
		return fmt.Errorf("create node %q: %w", name, err)
	}
	child, ok := g.FindNode(childID)
	if !ok {
		child = g.CreateNode(store.Node{
			ID: childID, ParentDirID: dir.ID(), Type: typ, Name: name,
			Flags: store.FlagCreate,
		})
	}
	g.CreateEdge(dir, child)
	if err := p.Store.CreateLink(ctx, dir.ID(), childID); err != nil {
		return fmt.Errorf("link %q: %w", name, err)
	}
	return nil
}
