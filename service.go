package signproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/aweris/signproxy/internal/retry"
	"github.com/aweris/signproxy/internal/store"
)

const lockFile = ".lock"

// Signer signs the file at path in place.
type Signer interface {
	Sign(ctx context.Context, path string, method Method, nested bool) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, path string, method Method, nested bool) error

func (f SignerFunc) Sign(ctx context.Context, path string, method Method, nested bool) error {
	return f(ctx, path, method, nested)
}

// Outcome says how a sign request was satisfied.
type Outcome string

const (
	OutcomeSigned        Outcome = "signed"
	OutcomeCached        Outcome = "cached"
	OutcomeAlreadySigned Outcome = "already-signed"
)

// Result points at the stored file that answers a sign request.
type Result struct {
	Input    Hash
	Output   Hash
	Name     string
	Outcome  Outcome
	Attempts int
}

// Service is the signing cache: a content-addressable store, the lineage
// graph linking inputs to signed outputs, and the signer behind them.
type Service struct {
	store   *store.LocalStore
	lineage Lineage
	signer  Signer
	policy  retry.Policy
	scratch string
	workers int
	log     zerolog.Logger

	flight singleflight.Group
	lock   fslock.Handle
}

// Open creates or opens the cache rooted at cacheDir. The directory is
// locked for the lifetime of the Service.
func Open(cacheDir string, opts ...Option) (*Service, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	st, err := store.NewLocalStore(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	lock, err := fslock.Lock(filepath.Join(cacheDir, lockFile))
	if err != nil {
		if errors.Is(err, fslock.ErrLockHeld) {
			return nil, fmt.Errorf("%w: cache %s is in use by another process", ErrConfiguration, cacheDir)
		}
		return nil, fmt.Errorf("lock cache: %w", err)
	}

	lineage, err := openLineage(options.LineageBackend, cacheDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s := &Service{
		store:   st,
		lineage: lineage,
		signer:  options.Signer,
		scratch: options.ScratchDir,
		workers: options.Concurrency,
		log:     options.Logger,
		lock:    lock,
	}
	s.policy = retry.Policy{
		Attempts: options.Attempts,
		Backoff:  retry.Fixed(options.Cooldown),
		Sleep:    options.Sleep,
		OnRetry: func(n int, err error) {
			s.log.Warn().Err(err).Int("attempt", n).Dur("cooldown", options.Cooldown).Msg("trying again")
		},
	}
	return s, nil
}

// Close flushes the lineage and releases the cache lock.
func (s *Service) Close() error {
	err := s.lineage.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func (s *Service) Store() *store.LocalStore { return s.store }
func (s *Service) Lineage() Lineage        { return s.lineage }

// Exists reports whether the cache holds a file with the given hash.
// Malformed hashes are simply absent.
func (s *Service) Exists(hash string) bool {
	h, err := ParseHash(hash)
	if err != nil {
		return false
	}
	return s.store.Has(string(h))
}

// Open streams the stored file for h.
func (s *Service) Open(h Hash) (io.ReadCloser, int64, error) {
	rc, size, err := s.store.Open(string(h))
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: not found file with hash %s", ErrNotFound, h)
	}
	return rc, size, err
}

// Get returns the stored bytes for h.
func (s *Service) Get(h Hash) ([]byte, bool) {
	return s.store.Get(string(h))
}

// Sign answers req from the cache when possible and runs the signer otherwise.
// Concurrent requests for the same input, method and nesting share one run.
func (s *Service) Sign(ctx context.Context, req SignRequest) (*Result, error) {
	in, name, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s/%t", in, req.Method, req.Nested)
	v, err, shared := s.flight.Do(key, func() (any, error) {
		return s.signResolved(ctx, in, name, req.Method, req.Nested)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	if shared {
		s.log.Debug().Str("hash", in.String()).Msg("joined in-flight request")
	}
	return &res, nil
}

// resolve turns the request input into a stored hash, storing and tagging
// new uploads on the way.
func (s *Service) resolve(req SignRequest) (Hash, string, error) {
	if req.Method != SHA1 && req.Method != SHA256 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}

	if req.Input.IsReference() {
		h := req.Input.Hash()
		name, ok := s.store.Name(string(h))
		if !ok {
			return "", "", fmt.Errorf("%w: not found file with hash %s", ErrNotFound, h)
		}
		s.log.Info().Str("hash", h.String()).Str("name", name).Msg("signing (cached)")
		return h, name, nil
	}

	data := req.Input.Data()
	h := HashBytes(data)
	if s.store.Has(string(h)) {
		name, _ := s.store.Name(string(h))
		s.log.Info().Str("hash", h.String()).Str("name", name).Msg("signing (cached)")
		return h, name, nil
	}

	s.log.Info().Str("hash", h.String()).Str("name", req.Input.Name()).Msg("signing (new)")
	path, err := s.store.Put(string(h), req.Input.Name(), data)
	if err != nil {
		return "", "", fmt.Errorf("store upload: %w", err)
	}
	name := filepath.Base(path)
	if err := s.lineage.RecordOrigin(h, name, req.Nested); err != nil {
		return "", "", fmt.Errorf("record origin: %w", err)
	}
	return h, name, nil
}

func (s *Service) signResolved(ctx context.Context, in Hash, name string, m Method, nested bool) (*Result, error) {
	out, ok, err := s.lineage.LookupResult(m, in)
	if err != nil {
		return nil, fmt.Errorf("lookup result: %w", err)
	}
	if ok {
		if outName, stored := s.store.Name(string(out)); stored {
			s.log.Info().Str("hash", in.String()).Str("result", out.String()).Msg("returning cached")
			return &Result{Input: in, Output: out, Name: outName, Outcome: OutcomeCached}, nil
		}
	}

	signed, err := s.lineage.IsAlreadySigned(in, m)
	if err != nil {
		return nil, fmt.Errorf("check lineage: %w", err)
	}
	if signed {
		s.log.Info().Str("hash", in.String()).Msg("already signed")
		return &Result{Input: in, Output: in, Name: name, Outcome: OutcomeAlreadySigned}, nil
	}

	return s.runSigner(ctx, in, name, m, nested)
}

func (s *Service) runSigner(ctx context.Context, in Hash, name string, m Method, nested bool) (*Result, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("%w: no signer configured", ErrConfiguration)
	}

	dir := filepath.Join(s.scratch, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn().Err(err).Str("dir", dir).Msg("scratch cleanup failed")
		}
	}()

	file := filepath.Join(dir, name)
	if err := s.copyOut(in, file); err != nil {
		return nil, err
	}

	_, attempts, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.signer.Sign(ctx, file, m, nested)
	})
	if err != nil {
		s.log.Error().Err(err).Str("hash", in.String()).Int("attempts", attempts).Msg("sign failed")
		return nil, fmt.Errorf("%w: after %d attempts: %w", ErrSignerFailure, attempts, err)
	}

	out, err := HashFile(file)
	if err != nil {
		return nil, fmt.Errorf("hash signed file: %w", err)
	}
	fresh := !s.store.Has(string(out))
	stored, err := s.store.PutFile(string(out), file)
	if err != nil {
		return nil, fmt.Errorf("store signed file: %w", err)
	}
	outName := filepath.Base(stored)

	if fresh {
		if err := s.lineage.RecordOrigin(out, outName, true); err != nil {
			return nil, fmt.Errorf("record origin: %w", err)
		}
	}
	if err := s.lineage.RecordResult(m, in, out); err != nil {
		return nil, fmt.Errorf("record result: %w", err)
	}

	s.log.Info().Str("hash", in.String()).Str("result", out.String()).Str("method", m.String()).
		Bool("nested", nested).Int("attempts", attempts).Msg("signed")
	return &Result{Input: in, Output: out, Name: outName, Outcome: OutcomeSigned, Attempts: attempts}, nil
}

func (s *Service) copyOut(h Hash, dst string) (err error) {
	src, _, err := s.store.Open(string(h))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	defer src.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("write scratch file: %w", err)
	}
	return nil
}

// Clear deletes every temporary blob (nested uploads and signer output) and
// forgets all recorded results. Kept originals survive.
func (s *Service) Clear(ctx context.Context) (int, error) {
	temp, err := s.lineage.Reset()
	if err != nil {
		return 0, fmt.Errorf("reset lineage: %w", err)
	}

	p := pool.New().WithMaxGoroutines(s.workers).WithContext(ctx)
	for h := range temp {
		h := h
		p.Go(func(ctx context.Context) error {
			if err := s.store.Remove(string(h)); err != nil {
				return fmt.Errorf("remove %s: %w", h, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, err
	}

	s.log.Info().Int("removed", len(temp)).Msg("cache cleared")
	return len(temp), nil
}

// Stats describes the cache contents.
type Stats struct {
	Blobs  int   `json:"blobs"`
	Bytes  int64 `json:"bytes"`
	Keep   int   `json:"keep"`
	Temp   int   `json:"temp"`
	SHA1   int   `json:"sha1"`
	SHA256 int   `json:"sha256"`
}

func (s *Service) Stats() (Stats, error) {
	st, err := s.store.Stats()
	if err != nil {
		return Stats{}, err
	}
	g, err := s.lineage.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Blobs:  st.Blobs,
		Bytes:  st.Bytes,
		Keep:   len(g.Keep),
		Temp:   len(g.Temp),
		SHA1:   len(g.SHA1),
		SHA256: len(g.SHA256),
	}, nil
}
