package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	incomingDir = ".incoming"
	defaultName = "blob"
)

// ErrNotFound is returned by Open when nothing is stored under a hash.
var ErrNotFound = errors.New("object not found")

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	basePath string

	// move relocates a file handed to PutFile; os.Rename unless replaced.
	move func(src, dst string) error
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(basePath string) (*LocalStore, error) {
	for _, dir := range []string{basePath, filepath.Join(basePath, incomingDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return &LocalStore{basePath: basePath, move: os.Rename}, nil
}

// Root returns the directory holding the blobs.
func (s *LocalStore) Root() string { return s.basePath }

func (s *LocalStore) Has(hash string) bool {
	_, ok := s.Name(hash)
	return ok
}

func (s *LocalStore) Name(hash string) (string, bool) {
	entries, err := os.ReadDir(s.objectDir(hash))
	if err != nil || len(entries) != 1 || entries[0].IsDir() {
		return "", false
	}
	return entries[0].Name(), true
}

// Path returns the on-disk location of the blob stored under hash.
func (s *LocalStore) Path(hash string) (string, bool) {
	name, ok := s.Name(hash)
	if !ok {
		return "", false
	}
	return filepath.Join(s.objectDir(hash), name), true
}

func (s *LocalStore) Get(hash string) ([]byte, bool) {
	path, ok := s.Path(hash)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *LocalStore) Open(hash string) (io.ReadCloser, int64, error) {
	path, ok := s.Path(hash)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open object: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat object: %w", err)
	}
	return f, info.Size(), nil
}

// Put stores data under hash. The file is written into a private staging
// directory which is renamed into place as a whole, so readers never observe
// a partial file and concurrent writers never mix names.
func (s *LocalStore) Put(hash, name string, data []byte) (string, error) {
	if path, ok := s.Path(hash); ok {
		return path, nil
	}

	staged, err := s.stage()
	if err != nil {
		return "", err
	}
	name = sanitizeName(name)
	if err := os.WriteFile(filepath.Join(staged, name), data, 0644); err != nil {
		os.RemoveAll(staged)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return s.commit(hash, name, staged)
}

// PutFile moves src into the store. A failed move (e.g. across volumes)
// falls back to copy and delete.
func (s *LocalStore) PutFile(hash, src string) (string, error) {
	if path, ok := s.Path(hash); ok {
		os.Remove(src)
		return path, nil
	}

	staged, err := s.stage()
	if err != nil {
		return "", err
	}
	name := sanitizeName(filepath.Base(src))
	dst := filepath.Join(staged, name)
	if err := s.move(src, dst); err != nil {
		if err := copyFile(src, dst); err != nil {
			os.RemoveAll(staged)
			return "", fmt.Errorf("failed to copy object: %w", err)
		}
		if err := os.Remove(src); err != nil {
			os.RemoveAll(staged)
			return "", fmt.Errorf("failed to remove source: %w", err)
		}
	}
	return s.commit(hash, name, staged)
}

func (s *LocalStore) Remove(hash string) error {
	return os.RemoveAll(s.objectDir(hash))
}

// Walk calls fn for every stored blob. Entries that are not hash
// directories (metadata, lock files, staging) are skipped.
func (s *LocalStore) Walk(fn func(hash, name string, size int64) error) error {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("failed to read store: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !isHash(e.Name()) {
			continue
		}
		path, ok := s.Path(e.Name())
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if err := fn(e.Name(), filepath.Base(path), info.Size()); err != nil {
			return err
		}
	}
	return nil
}

func (s *LocalStore) Stats() (Stats, error) {
	var st Stats
	err := s.Walk(func(_, _ string, size int64) error {
		st.Blobs++
		st.Bytes += size
		return nil
	})
	return st, err
}

func (s *LocalStore) objectDir(hash string) string {
	return filepath.Join(s.basePath, hash)
}

// stage creates an empty directory in the incoming area for one object.
func (s *LocalStore) stage() (string, error) {
	dir, err := os.MkdirTemp(filepath.Join(s.basePath, incomingDir), uuid.NewString()+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to stage object: %w", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to stage object: %w", err)
	}
	return dir, nil
}

// commit renames the staged directory to the hash directory. When another
// writer committed first, its file wins and the staged copy is dropped. A
// hash directory that does not hold exactly one file is replaced.
func (s *LocalStore) commit(hash, name, staged string) (string, error) {
	defer os.RemoveAll(staged)

	dir := s.objectDir(hash)
	for attempt := 0; ; attempt++ {
		err := os.Rename(staged, dir)
		if err == nil {
			return filepath.Join(dir, name), nil
		}
		if path, ok := s.Path(hash); ok {
			return path, nil
		}
		if attempt > 0 {
			return "", fmt.Errorf("failed to commit object: %w", err)
		}
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("failed to replace broken object: %w", err)
		}
	}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

func sanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return defaultName
	}
	return name
}

func isHash(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
