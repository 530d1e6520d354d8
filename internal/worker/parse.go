// Package worker implements the two node workers dispatched by the
// execution driver: the parse-phase worker (C4), which refreshes a
// directory's children by invoking the external parser, and the
// execute-phase worker (C5), which applies delete/command/substitution
// actions and propagates the resulting flags back to the store.
package worker

import (
	"context"
	"fmt"

	"github.com/wanderview/tup/internal/graph"
	"github.com/wanderview/tup/internal/store"
)

// Parser is the external collaborator of §6: given a directory node, it may
// insert new nodes/edges into the live graph.
type Parser interface {
	Parse(ctx context.Context, dir *graph.Node, g *graph.Graph) error
}

// ParseWorker implements driver.Worker for the parse phase (§4.4).
type ParseWorker struct {
	Store  store.Store
	Parser Parser
	Graph  *graph.Graph
}

// Process refreshes n's children if n is a directory that hasn't already
// been parsed this phase, then unconditionally clears n's CREATE flag in
// the store.
func (w *ParseWorker) Process(ctx context.Context, n *graph.Node) error {
	var rc error

	switch n.Rec.Type {
	case store.TypeDir:
		if n.AlreadyUsed {
			// idempotent: a directory discovered transitively after
			// already being parsed this phase is a no-op (§9).
		} else {
			rc = w.Parser.Parse(ctx, n, w.Graph)
			n.AlreadyUsed = true
		}
	case store.TypeFile, store.TypeVar, store.TypeCmd:
		// no-op: these node types carry no create-time action.
	default:
		rc = fmt.Errorf("worker: unknown node type in create graph: %v", n.Rec.Type)
	}

	if err := w.Store.UnflagCreate(ctx, n.ID()); err != nil {
		if rc == nil {
			rc = err
		}
	}
	return rc
}
