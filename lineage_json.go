package signproxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const jsonLineageFile = "meta.json"

func jsonLineagePath(dir string) string { return filepath.Join(dir, jsonLineageFile) }

// JSONLineage keeps the whole graph in one JSON document. All mutations go
// through a single writer: the in-memory copy is changed under the lock and
// the document is rewritten before the lock is released.
type JSONLineage struct {
	path  string
	mu    sync.Mutex
	graph *Graph
}

var _ Lineage = (*JSONLineage)(nil)

// OpenJSONLineage loads path, starting empty when the file does not exist.
func OpenJSONLineage(path string) (*JSONLineage, error) {
	g, err := loadGraph(path)
	if err != nil {
		return nil, err
	}
	return &JSONLineage{path: path, graph: g}, nil
}

func loadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewGraph(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lineage: %w", err)
	}
	g := &Graph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parse lineage %s: %w", path, err)
	}
	g.init()
	return g, nil
}

func saveGraph(path string, g *Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize lineage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create lineage dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write lineage: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write lineage: %w", err)
	}
	return nil
}

// update applies fn to a copy of the graph and swaps it in only after the
// document has been written.
func (l *JSONLineage) update(fn func(g *Graph)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.graph.Clone()
	fn(next)
	if err := saveGraph(l.path, next); err != nil {
		return err
	}
	l.graph = next
	return nil
}

func (l *JSONLineage) view(fn func(g *Graph)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.graph)
}

func (l *JSONLineage) RecordOrigin(h Hash, name string, nested bool) error {
	return l.update(func(g *Graph) { g.RecordOrigin(h, name, nested) })
}

func (l *JSONLineage) RecordResult(m Method, in, out Hash) error {
	return l.update(func(g *Graph) { g.RecordResult(m, in, out) })
}

func (l *JSONLineage) LookupResult(m Method, in Hash) (out Hash, ok bool, err error) {
	l.view(func(g *Graph) { out, ok = g.LookupResult(m, in) })
	return out, ok, nil
}

func (l *JSONLineage) IsAlreadySigned(h Hash, m Method) (signed bool, err error) {
	l.view(func(g *Graph) { signed = g.IsAlreadySigned(h, m) })
	return signed, nil
}

func (l *JSONLineage) Snapshot() (snap *Graph, err error) {
	l.view(func(g *Graph) { snap = g.Clone() })
	return snap, nil
}

func (l *JSONLineage) Merge(other *Graph) error {
	return l.update(func(g *Graph) { g.Merge(other) })
}

func (l *JSONLineage) Reset() (temp map[Hash]string, err error) {
	err = l.update(func(g *Graph) { temp = g.Reset() })
	return temp, err
}

func (l *JSONLineage) Close() error { return nil }
