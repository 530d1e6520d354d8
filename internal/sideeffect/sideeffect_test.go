package sideeffect

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestSnapshotServerClassifiesReadsAndWrites(t *testing.T) {
	dir := t.TempDir()
	unchanged := filepath.Join(dir, "unchanged.txt")
	if err := os.WriteFile(unchanged, []byte("a"), 0644); err != nil {
		t.Fatalf("seed unchanged: %v", err)
	}

	s := New()
	if err := s.Start(context.Background(), dir); err != nil {
		t.Fatalf("Start: %v", err)
	}

	newFile := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(newFile, []byte("b"), 0644); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	finfo, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}

	sort.Strings(finfo.Reads)
	sort.Strings(finfo.Writes)

	if len(finfo.Writes) != 1 || finfo.Writes[0] != newFile {
		t.Fatalf("Writes = %v, want [%s]", finfo.Writes, newFile)
	}
	if len(finfo.Reads) != 1 || finfo.Reads[0] != unchanged {
		t.Fatalf("Reads = %v, want [%s]", finfo.Reads, unchanged)
	}
}

func TestSnapshotServerDetectsModifiedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("a"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New()
	if err := s.Start(context.Background(), dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := os.WriteFile(path, []byte("a longer body"), 0644); err != nil {
		t.Fatalf("modify: %v", err)
	}

	finfo, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(finfo.Writes) != 1 || finfo.Writes[0] != path {
		t.Fatalf("Writes = %v, want [%s] (size changed)", finfo.Writes, path)
	}
}
