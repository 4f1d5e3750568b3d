package signproxy

import "fmt"

// Graph records where every cached file came from and what signing it
// produced. Keep holds top-level uploads, Temp holds nested uploads and
// signer output. SHA1 and SHA256 map an input hash to its signed result.
type Graph struct {
	Keep   map[Hash]string `json:"keep"`
	Temp   map[Hash]string `json:"temp"`
	SHA1   map[Hash]Hash   `json:"sha1"`
	SHA256 map[Hash]Hash   `json:"sha256"`
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	g := &Graph{}
	g.init()
	return g
}

func (g *Graph) init() {
	if g.Keep == nil {
		g.Keep = make(map[Hash]string)
	}
	if g.Temp == nil {
		g.Temp = make(map[Hash]string)
	}
	if g.SHA1 == nil {
		g.SHA1 = make(map[Hash]Hash)
	}
	if g.SHA256 == nil {
		g.SHA256 = make(map[Hash]Hash)
	}
}

func (g *Graph) results(m Method) map[Hash]Hash {
	if m == SHA1 {
		return g.SHA1
	}
	return g.SHA256
}

// RecordOrigin tags an uploaded file as kept (top-level) or temporary (nested).
func (g *Graph) RecordOrigin(h Hash, name string, nested bool) {
	if nested {
		g.Temp[h] = name
	} else {
		g.Keep[h] = name
	}
}

// RecordResult links in to the output of signing it with m.
func (g *Graph) RecordResult(m Method, in, out Hash) {
	g.results(m)[in] = out
}

// LookupResult returns the signed output previously produced for in.
func (g *Graph) LookupResult(m Method, in Hash) (Hash, bool) {
	out, ok := g.results(m)[in]
	return out, ok
}

// IsAlreadySigned reports whether h is itself the output of an earlier
// signing that already satisfies m.
func (g *Graph) IsAlreadySigned(h Hash, m Method) bool {
	return isAlreadySigned(h, m, g.originOf, g.hasResult)
}

func (g *Graph) originOf(m Method, out Hash) (Hash, bool) {
	for in, v := range g.results(m) {
		if v == out {
			return in, true
		}
	}
	return "", false
}

func (g *Graph) hasResult(m Method, in Hash) bool {
	_, ok := g.results(m)[in]
	return ok
}

// Reset drops the temporary tags and every recorded result, returning the
// hashes that were tagged temporary.
func (g *Graph) Reset() map[Hash]string {
	temp := g.Temp
	g.Temp = make(map[Hash]string)
	g.SHA1 = make(map[Hash]Hash)
	g.SHA256 = make(map[Hash]Hash)
	return temp
}

// Merge copies entries from other that g does not have yet.
func (g *Graph) Merge(other *Graph) {
	other.init()
	for h, n := range other.Keep {
		if _, ok := g.Temp[h]; !ok {
			setIfAbsent(g.Keep, h, n)
		}
	}
	for h, n := range other.Temp {
		if _, ok := g.Keep[h]; !ok {
			setIfAbsent(g.Temp, h, n)
		}
	}
	for in, out := range other.SHA1 {
		setIfAbsent(g.SHA1, in, out)
	}
	for in, out := range other.SHA256 {
		setIfAbsent(g.SHA256, in, out)
	}
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	c.Merge(g)
	return c
}

func setIfAbsent[V any](m map[Hash]V, k Hash, v V) {
	if _, ok := m[k]; !ok {
		m[k] = v
	}
}

// isAlreadySigned walks one step back through the result maps. If h is the
// m-signed result of some original it is done; if it is the other method's
// result it is done only when the same original was signed with m as well.
func isAlreadySigned(h Hash, m Method,
	originOf func(Method, Hash) (Hash, bool),
	hasResult func(Method, Hash) bool,
) bool {
	for _, produced := range []Method{SHA1, SHA256} {
		origin, ok := originOf(produced, h)
		if !ok {
			continue
		}
		if produced == m || hasResult(produced.Other(), origin) {
			return true
		}
	}
	return false
}

// Lineage persists a Graph. Implementations serialize their own mutations.
type Lineage interface {
	RecordOrigin(h Hash, name string, nested bool) error
	RecordResult(m Method, in, out Hash) error
	LookupResult(m Method, in Hash) (Hash, bool, error)
	IsAlreadySigned(h Hash, m Method) (bool, error)

	// Snapshot returns a copy of the whole graph.
	Snapshot() (*Graph, error)
	// Merge adds entries from g that are not recorded yet.
	Merge(g *Graph) error
	// Reset clears temporary tags and results, returning the cleared temp set.
	Reset() (map[Hash]string, error)
	Close() error
}

// Lineage backends selectable from configuration.
const (
	LineageJSON = "json"
	LineageBolt = "bolt"
)

func openLineage(backend, dir string) (Lineage, error) {
	switch backend {
	case "", LineageJSON:
		return OpenJSONLineage(jsonLineagePath(dir))
	case LineageBolt:
		return OpenBoltLineage(boltLineagePath(dir))
	default:
		return nil, fmt.Errorf("%w: unknown lineage backend %q", ErrConfiguration, backend)
	}
}
