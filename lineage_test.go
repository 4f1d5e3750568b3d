package signproxy_test

import (
	"path/filepath"
	"testing"

	"github.com/aweris/signproxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hIn   = signproxy.HashBytes([]byte("original"))
	hOut  = signproxy.HashBytes([]byte("original+sha1"))
	hDual = signproxy.HashBytes([]byte("original+sha256"))
)

func TestGraphIsAlreadySigned(t *testing.T) {
	g := signproxy.NewGraph()
	g.RecordResult(signproxy.SHA1, hIn, hOut)

	assert.True(t, g.IsAlreadySigned(hOut, signproxy.SHA1), "result of sha1 is sha1-signed")
	assert.False(t, g.IsAlreadySigned(hOut, signproxy.SHA256), "origin has no sha256 entry yet")
	assert.False(t, g.IsAlreadySigned(hIn, signproxy.SHA1), "inputs are never results")

	g.RecordResult(signproxy.SHA256, hIn, hDual)

	assert.True(t, g.IsAlreadySigned(hOut, signproxy.SHA256), "origin now carries both methods")
	assert.True(t, g.IsAlreadySigned(hDual, signproxy.SHA1))
	assert.True(t, g.IsAlreadySigned(hDual, signproxy.SHA256))
}

func TestGraphChainedAndSiblingSigning(t *testing.T) {
	h1 := signproxy.HashBytes([]byte("h1"))
	h2 := signproxy.HashBytes([]byte("h1+sha1"))
	h3 := signproxy.HashBytes([]byte("h1+sha1+sha256"))

	// Chained: the sha256 input is the sha1 output.
	chain := signproxy.NewGraph()
	chain.RecordResult(signproxy.SHA1, h1, h2)
	chain.RecordResult(signproxy.SHA256, h2, h3)

	assert.True(t, chain.IsAlreadySigned(h3, signproxy.SHA256))
	assert.False(t, chain.IsAlreadySigned(h3, signproxy.SHA1), "origin h2 has no sha1 result of its own")
	assert.False(t, chain.IsAlreadySigned(h2, signproxy.SHA256), "h1 has no sha256 result")

	// Siblings: both methods applied to the same original.
	siblings := signproxy.NewGraph()
	siblings.RecordResult(signproxy.SHA1, h1, h2)
	siblings.RecordResult(signproxy.SHA256, h1, h3)

	assert.True(t, siblings.IsAlreadySigned(h2, signproxy.SHA256))
	assert.True(t, siblings.IsAlreadySigned(h3, signproxy.SHA1))
}

func TestGraphLookupAndOrigin(t *testing.T) {
	g := signproxy.NewGraph()
	g.RecordOrigin(hIn, "app.exe", false)
	g.RecordOrigin(hOut, "app.exe", true)
	g.RecordResult(signproxy.SHA256, hIn, hOut)

	assert.Equal(t, "app.exe", g.Keep[hIn])
	assert.Equal(t, "app.exe", g.Temp[hOut])
	assert.NotContains(t, g.Temp, hIn)

	out, ok := g.LookupResult(signproxy.SHA256, hIn)
	assert.True(t, ok)
	assert.Equal(t, hOut, out)

	_, ok = g.LookupResult(signproxy.SHA1, hIn)
	assert.False(t, ok)
}

func TestGraphResetKeepsOriginals(t *testing.T) {
	g := signproxy.NewGraph()
	g.RecordOrigin(hIn, "app.exe", false)
	g.RecordOrigin(hOut, "app.exe", true)
	g.RecordResult(signproxy.SHA1, hIn, hOut)

	temp := g.Reset()

	assert.Equal(t, map[signproxy.Hash]string{hOut: "app.exe"}, temp)
	assert.Equal(t, map[signproxy.Hash]string{hIn: "app.exe"}, g.Keep)
	assert.Empty(t, g.Temp)
	assert.Empty(t, g.SHA1)
	assert.Empty(t, g.SHA256)
}

func TestGraphMergeLocalWins(t *testing.T) {
	local := signproxy.NewGraph()
	local.RecordResult(signproxy.SHA1, hIn, hOut)
	local.RecordOrigin(hIn, "local.exe", false)

	remote := signproxy.NewGraph()
	remote.RecordResult(signproxy.SHA1, hIn, hDual)
	remote.RecordResult(signproxy.SHA256, hIn, hDual)
	remote.RecordOrigin(hIn, "remote.exe", true)

	local.Merge(remote)

	assert.Equal(t, hOut, local.SHA1[hIn])
	assert.Equal(t, hDual, local.SHA256[hIn])
	assert.Equal(t, "local.exe", local.Keep[hIn])
	assert.NotContains(t, local.Temp, hIn, "keep and temp stay disjoint")
}

type lineageBackend struct {
	name string
	open func(t *testing.T, dir string) signproxy.Lineage
}

var lineageBackends = []lineageBackend{
	{"json", func(t *testing.T, dir string) signproxy.Lineage {
		l, err := signproxy.OpenJSONLineage(filepath.Join(dir, "meta.json"))
		require.NoError(t, err)
		return l
	}},
	{"bolt", func(t *testing.T, dir string) signproxy.Lineage {
		l, err := signproxy.OpenBoltLineage(filepath.Join(dir, "meta.db"))
		require.NoError(t, err)
		return l
	}},
}

func TestLineageBackends(t *testing.T) {
	for _, b := range lineageBackends {
		t.Run(b.name, func(t *testing.T) {
			dir := t.TempDir()

			l := b.open(t, dir)
			snap, err := l.Snapshot()
			require.NoError(t, err)
			assert.Empty(t, snap.Keep, "starts empty")

			require.NoError(t, l.RecordOrigin(hIn, "app.exe", false))
			require.NoError(t, l.RecordOrigin(hOut, "app.exe", true))
			require.NoError(t, l.RecordResult(signproxy.SHA1, hIn, hOut))

			signed, err := l.IsAlreadySigned(hOut, signproxy.SHA1)
			require.NoError(t, err)
			assert.True(t, signed)

			signed, err = l.IsAlreadySigned(hOut, signproxy.SHA256)
			require.NoError(t, err)
			assert.False(t, signed)
			require.NoError(t, l.Close())

			// Everything survives a reopen.
			l = b.open(t, dir)
			defer l.Close()

			out, ok, err := l.LookupResult(signproxy.SHA1, hIn)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, hOut, out)

			_, ok, err = l.LookupResult(signproxy.SHA256, hIn)
			require.NoError(t, err)
			assert.False(t, ok)

			snap, err = l.Snapshot()
			require.NoError(t, err)
			assert.Equal(t, "app.exe", snap.Keep[hIn])
			assert.Equal(t, "app.exe", snap.Temp[hOut])

			other := signproxy.NewGraph()
			other.RecordResult(signproxy.SHA1, hIn, hDual)
			other.RecordResult(signproxy.SHA256, hIn, hDual)
			require.NoError(t, l.Merge(other))

			out, _, err = l.LookupResult(signproxy.SHA1, hIn)
			require.NoError(t, err)
			assert.Equal(t, hOut, out, "merge does not overwrite")
			out, ok, err = l.LookupResult(signproxy.SHA256, hIn)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, hDual, out)

			temp, err := l.Reset()
			require.NoError(t, err)
			assert.Equal(t, map[signproxy.Hash]string{hOut: "app.exe"}, temp)

			snap, err = l.Snapshot()
			require.NoError(t, err)
			assert.Len(t, snap.Keep, 1)
			assert.Empty(t, snap.Temp)
			assert.Empty(t, snap.SHA1)
			assert.Empty(t, snap.SHA256)
		})
	}
}

func TestJSONLineageDocumentFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	l, err := signproxy.OpenJSONLineage(path)
	require.NoError(t, err)
	require.NoError(t, l.RecordResult(signproxy.SHA256, hIn, hOut))

	data, err := readFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"keep":{},"temp":{},"sha1":{},"sha256":{"`+string(hIn)+`":"`+string(hOut)+`"}}`, data)
}
