package signproxy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/signproxy"
)

// stubSigner appends a marker to the file so every (content, method, nested)
// combination yields a distinct, predictable output.
type stubSigner struct {
	calls    atomic.Int32
	failures atomic.Int32 // fail this many calls before succeeding
	block    chan struct{}
	started  chan struct{}
	once     sync.Once
}

func (s *stubSigner) Sign(ctx context.Context, path string, m signproxy.Method, nested bool) error {
	s.calls.Add(1)
	if s.started != nil {
		s.once.Do(func() { close(s.started) })
	}
	if s.block != nil {
		<-s.block
	}
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("SignTool Error: timestamp server unavailable")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "|signed:%s:%t", m, nested)
	return err
}

func signedHash(content string, m signproxy.Method, nested bool) signproxy.Hash {
	return signproxy.HashBytes([]byte(fmt.Sprintf("%s|signed:%s:%t", content, m, nested)))
}

type fakeClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	return nil
}

func openService(t *testing.T, opts ...signproxy.Option) (*signproxy.Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := signproxy.Open(dir, append([]signproxy.Option{signproxy.WithScratchDir(t.TempDir())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, dir
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestSignFlow(t *testing.T) {
	for _, backend := range []string{signproxy.LineageJSON, signproxy.LineageBolt} {
		t.Run(backend, func(t *testing.T) {
			signer := &stubSigner{}
			svc, _ := openService(t, signproxy.WithSigner(signer), signproxy.WithLineageBackend(backend))
			ctx := context.Background()

			const content = "MZ\x90\x00payload"
			in := signproxy.HashBytes([]byte(content))
			h2 := signedHash(content, signproxy.SHA1, false)

			res, err := svc.Sign(ctx, signproxy.SignRequest{
				Input:  signproxy.ByContent("app.exe", []byte(content)),
				Method: signproxy.SHA1,
			})
			require.NoError(t, err)
			assert.Equal(t, signproxy.OutcomeSigned, res.Outcome)
			assert.Equal(t, in, res.Input)
			assert.Equal(t, h2, res.Output)
			assert.Equal(t, "app.exe", res.Name)
			assert.Equal(t, 1, res.Attempts)
			assert.True(t, svc.Exists(in.String()))
			assert.True(t, svc.Exists(h2.String()))

			data, ok := svc.Get(h2)
			require.True(t, ok)
			assert.Equal(t, content+"|signed:sha1:false", string(data))

			// Same request by reference is served without the signer.
			res, err = svc.Sign(ctx, signproxy.SignRequest{Input: signproxy.ByReference(in), Method: signproxy.SHA1})
			require.NoError(t, err)
			assert.Equal(t, signproxy.OutcomeCached, res.Outcome)
			assert.Equal(t, h2, res.Output)
			assert.EqualValues(t, 1, signer.calls.Load())

			// Uploading the signed file again for the same method returns it as is.
			res, err = svc.Sign(ctx, signproxy.SignRequest{
				Input:  signproxy.ByContent("app.exe", data),
				Method: signproxy.SHA1,
			})
			require.NoError(t, err)
			assert.Equal(t, signproxy.OutcomeAlreadySigned, res.Outcome)
			assert.Equal(t, h2, res.Output)
			assert.EqualValues(t, 1, signer.calls.Load())

			// Dual signing: sha256 nested on the original.
			h3 := signedHash(content, signproxy.SHA256, true)
			res, err = svc.Sign(ctx, signproxy.SignRequest{
				Input:  signproxy.ByReference(in),
				Method: signproxy.SHA256,
				Nested: true,
			})
			require.NoError(t, err)
			assert.Equal(t, signproxy.OutcomeSigned, res.Outcome)
			assert.Equal(t, h3, res.Output)
			assert.EqualValues(t, 2, signer.calls.Load())

			for _, tc := range []struct {
				h signproxy.Hash
				m signproxy.Method
			}{
				{h2, signproxy.SHA1},
				{h2, signproxy.SHA256},
				{h3, signproxy.SHA1},
				{h3, signproxy.SHA256},
			} {
				signed, err := svc.Lineage().IsAlreadySigned(tc.h, tc.m)
				require.NoError(t, err)
				assert.True(t, signed, "%s %s", tc.h.Short(), tc.m)
			}

			g, err := svc.Lineage().Snapshot()
			require.NoError(t, err)
			assert.Equal(t, map[signproxy.Hash]string{in: "app.exe"}, g.Keep)
			assert.Equal(t, map[signproxy.Hash]string{h2: "app.exe", h3: "app.exe"}, g.Temp)
			assert.Equal(t, map[signproxy.Hash]signproxy.Hash{in: h2}, g.SHA1)
			assert.Equal(t, map[signproxy.Hash]signproxy.Hash{in: h3}, g.SHA256)
		})
	}
}

func TestSignRerunsWhenResultBlobIsGone(t *testing.T) {
	for _, backend := range []string{signproxy.LineageJSON, signproxy.LineageBolt} {
		t.Run(backend, func(t *testing.T) {
			signer := &stubSigner{}
			svc, _ := openService(t, signproxy.WithSigner(signer), signproxy.WithLineageBackend(backend))
			ctx := context.Background()

			first, err := svc.Sign(ctx, signproxy.SignRequest{
				Input:  signproxy.ByContent("app.exe", []byte("evicted")),
				Method: signproxy.SHA1,
			})
			require.NoError(t, err)
			require.NoError(t, svc.Store().Remove(first.Output.String()))
			require.False(t, svc.Exists(first.Output.String()))

			res, err := svc.Sign(ctx, signproxy.SignRequest{Input: signproxy.ByReference(first.Input), Method: signproxy.SHA1})
			require.NoError(t, err)
			assert.Equal(t, signproxy.OutcomeSigned, res.Outcome)
			assert.Equal(t, first.Output, res.Output)
			assert.EqualValues(t, 2, signer.calls.Load())

			out, ok, err := svc.Lineage().LookupResult(signproxy.SHA1, first.Input)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, res.Output, out)
			assert.True(t, svc.Exists(out.String()))

			data, ok := svc.Get(out)
			require.True(t, ok)
			assert.Equal(t, "evicted|signed:sha1:false", string(data))
		})
	}
}

func TestSignNestedUploadIsTemporary(t *testing.T) {
	svc, _ := openService(t, signproxy.WithSigner(&stubSigner{}))

	res, err := svc.Sign(context.Background(), signproxy.SignRequest{
		Input:  signproxy.ByContent("lib.dll", []byte("library")),
		Method: signproxy.SHA256,
		Nested: true,
	})
	require.NoError(t, err)

	g, err := svc.Lineage().Snapshot()
	require.NoError(t, err)
	assert.Empty(t, g.Keep)
	assert.Contains(t, g.Temp, res.Input)
	assert.Contains(t, g.Temp, res.Output)

	n, err := svc.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, svc.Exists(res.Input.String()))
	assert.False(t, svc.Exists(res.Output.String()))
}

func TestSignRetriesAfterCooldown(t *testing.T) {
	signer := &stubSigner{}
	signer.failures.Store(1)
	clock := &fakeClock{}
	svc, _ := openService(t, signproxy.WithSigner(signer), signproxy.WithSleep(clock.Sleep))

	res, err := svc.Sign(context.Background(), signproxy.SignRequest{
		Input:  signproxy.ByContent("app.exe", []byte("flaky")),
		Method: signproxy.SHA256,
	})
	require.NoError(t, err)
	assert.Equal(t, signproxy.OutcomeSigned, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.EqualValues(t, 2, signer.calls.Load())
	assert.Equal(t, []time.Duration{signproxy.DefaultCooldown}, clock.slept)
}

func TestSignFailsAfterAllAttempts(t *testing.T) {
	signer := &stubSigner{}
	signer.failures.Store(10)
	clock := &fakeClock{}
	scratch := t.TempDir()
	svc, _ := openService(t,
		signproxy.WithSigner(signer),
		signproxy.WithSleep(clock.Sleep),
		signproxy.WithScratchDir(scratch),
	)

	in := signproxy.HashBytes([]byte("broken"))
	_, err := svc.Sign(context.Background(), signproxy.SignRequest{
		Input:  signproxy.ByContent("app.exe", []byte("broken")),
		Method: signproxy.SHA1,
	})
	require.ErrorIs(t, err, signproxy.ErrSignerFailure)
	assert.Contains(t, err.Error(), "timestamp server unavailable")
	assert.EqualValues(t, signproxy.DefaultAttempts, signer.calls.Load())
	assert.Len(t, clock.slept, 1)

	// The upload stays cached, nothing was recorded as its result.
	assert.True(t, svc.Exists(in.String()))
	_, ok, err := svc.Lineage().LookupResult(signproxy.SHA1, in)
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories are removed")
}

func TestSignErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown reference", func(t *testing.T) {
		svc, _ := openService(t, signproxy.WithSigner(&stubSigner{}))
		_, err := svc.Sign(ctx, signproxy.SignRequest{
			Input:  signproxy.ByReference(signproxy.HashBytes([]byte("nowhere"))),
			Method: signproxy.SHA1,
		})
		require.ErrorIs(t, err, signproxy.ErrNotFound)
		assert.Contains(t, err.Error(), "not found file with hash")
	})

	t.Run("invalid method", func(t *testing.T) {
		svc, _ := openService(t, signproxy.WithSigner(&stubSigner{}))
		_, err := svc.Sign(ctx, signproxy.SignRequest{
			Input:  signproxy.ByContent("a.exe", []byte("a")),
			Method: "md5",
		})
		require.ErrorIs(t, err, signproxy.ErrInvalidMethod)
	})

	t.Run("no signer", func(t *testing.T) {
		svc, _ := openService(t)
		_, err := svc.Sign(ctx, signproxy.SignRequest{
			Input:  signproxy.ByContent("a.exe", []byte("a")),
			Method: signproxy.SHA1,
		})
		require.ErrorIs(t, err, signproxy.ErrConfiguration)
	})

	t.Run("unknown lineage backend", func(t *testing.T) {
		_, err := signproxy.Open(t.TempDir(), signproxy.WithLineageBackend("sqlite"))
		require.ErrorIs(t, err, signproxy.ErrConfiguration)
	})
}

func TestSignCollapsesConcurrentRequests(t *testing.T) {
	signer := &stubSigner{block: make(chan struct{}), started: make(chan struct{})}
	svc, _ := openService(t, signproxy.WithSigner(signer))
	ctx := context.Background()

	in := signproxy.HashBytes([]byte("shared"))
	_, err := svc.Store().Put(in.String(), "shared.exe", []byte("shared"))
	require.NoError(t, err)

	const n = 8
	results := make([]*signproxy.Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Sign(ctx, signproxy.SignRequest{
				Input:  signproxy.ByReference(in),
				Method: signproxy.SHA256,
			})
		}()
	}

	<-signer.started
	close(signer.block)
	wg.Wait()

	want := signedHash("shared", signproxy.SHA256, false)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want, results[i].Output)
	}
	assert.EqualValues(t, 1, signer.calls.Load())
}

func TestClearKeepsOriginals(t *testing.T) {
	signer := &stubSigner{}
	svc, _ := openService(t, signproxy.WithSigner(signer))
	ctx := context.Background()

	res, err := svc.Sign(ctx, signproxy.SignRequest{
		Input:  signproxy.ByContent("app.exe", []byte("keep me")),
		Method: signproxy.SHA1,
	})
	require.NoError(t, err)

	n, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, svc.Exists(res.Input.String()))
	assert.False(t, svc.Exists(res.Output.String()))

	st, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, signproxy.Stats{Blobs: 1, Bytes: int64(len("keep me")), Keep: 1}, st)

	// Results were forgotten, so the signer runs again.
	res, err = svc.Sign(ctx, signproxy.SignRequest{Input: signproxy.ByReference(res.Input), Method: signproxy.SHA1})
	require.NoError(t, err)
	assert.Equal(t, signproxy.OutcomeSigned, res.Outcome)
	assert.EqualValues(t, 2, signer.calls.Load())
}

func TestExistsRejectsMalformedHashes(t *testing.T) {
	svc, _ := openService(t)
	assert.False(t, svc.Exists("not-a-hash"))
	assert.False(t, svc.Exists(signproxy.HashBytes([]byte("x")).String()))

	_, _, err := svc.Open(signproxy.HashBytes([]byte("x")))
	require.ErrorIs(t, err, signproxy.ErrNotFound)
}
