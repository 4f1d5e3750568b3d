package signproxy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const boltLineageFile = "meta.db"

var (
	bucketKeep   = []byte("keep")
	bucketTemp   = []byte("temp")
	bucketSHA1   = []byte("sha1")
	bucketSHA256 = []byte("sha256")
)

func boltLineagePath(dir string) string { return filepath.Join(dir, boltLineageFile) }

func resultBucket(m Method) []byte {
	if m == SHA1 {
		return bucketSHA1
	}
	return bucketSHA256
}

// BoltLineage stores each graph map in its own bucket and updates single
// keys inside bbolt write transactions.
type BoltLineage struct {
	db *bbolt.DB
}

var _ Lineage = (*BoltLineage)(nil)

// OpenBoltLineage opens or creates the database at path.
func OpenBoltLineage(path string) (*BoltLineage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lineage dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open lineage db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketKeep, bucketTemp, bucketSHA1, bucketSHA256} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init lineage db: %w", err)
	}
	return &BoltLineage{db: db}, nil
}

func (l *BoltLineage) Close() error { return l.db.Close() }

func (l *BoltLineage) RecordOrigin(h Hash, name string, nested bool) error {
	bucket := bucketKeep
	if nested {
		bucket = bucketTemp
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(h), []byte(name))
	})
}

func (l *BoltLineage) RecordResult(m Method, in, out Hash) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(resultBucket(m)).Put([]byte(in), []byte(out))
	})
}

func (l *BoltLineage) LookupResult(m Method, in Hash) (Hash, bool, error) {
	var out Hash
	err := l.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(resultBucket(m)).Get([]byte(in)); v != nil {
			out = Hash(v)
		}
		return nil
	})
	return out, out != "", err
}

func (l *BoltLineage) IsAlreadySigned(h Hash, m Method) (bool, error) {
	var signed bool
	err := l.db.View(func(tx *bbolt.Tx) error {
		originOf := func(m Method, out Hash) (Hash, bool) {
			c := tx.Bucket(resultBucket(m)).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if bytes.Equal(v, []byte(out)) {
					return Hash(k), true
				}
			}
			return "", false
		}
		hasResult := func(m Method, in Hash) bool {
			return tx.Bucket(resultBucket(m)).Get([]byte(in)) != nil
		}
		signed = isAlreadySigned(h, m, originOf, hasResult)
		return nil
	})
	return signed, err
}

func (l *BoltLineage) Snapshot() (*Graph, error) {
	g := NewGraph()
	err := l.db.View(func(tx *bbolt.Tx) error {
		for name, dst := range map[string]map[Hash]string{"keep": g.Keep, "temp": g.Temp} {
			err := tx.Bucket([]byte(name)).ForEach(func(k, v []byte) error {
				dst[Hash(k)] = string(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		for _, m := range []Method{SHA1, SHA256} {
			dst := g.results(m)
			err := tx.Bucket(resultBucket(m)).ForEach(func(k, v []byte) error {
				dst[Hash(k)] = Hash(v)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read lineage: %w", err)
	}
	return g, nil
}

func (l *BoltLineage) Merge(other *Graph) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		keep, temp := tx.Bucket(bucketKeep), tx.Bucket(bucketTemp)
		for h, n := range other.Keep {
			if temp.Get([]byte(h)) == nil && keep.Get([]byte(h)) == nil {
				if err := keep.Put([]byte(h), []byte(n)); err != nil {
					return err
				}
			}
		}
		for h, n := range other.Temp {
			if keep.Get([]byte(h)) == nil && temp.Get([]byte(h)) == nil {
				if err := temp.Put([]byte(h), []byte(n)); err != nil {
					return err
				}
			}
		}
		for _, m := range []Method{SHA1, SHA256} {
			b := tx.Bucket(resultBucket(m))
			for in, out := range other.results(m) {
				if b.Get([]byte(in)) != nil {
					continue
				}
				if err := b.Put([]byte(in), []byte(out)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (l *BoltLineage) Reset() (map[Hash]string, error) {
	temp := make(map[Hash]string)
	err := l.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketTemp).ForEach(func(k, v []byte) error {
			temp[Hash(k)] = string(v)
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range [][]byte{bucketTemp, bucketSHA1, bucketSHA256} {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("drop bucket %q: %w", name, err)
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return temp, nil
}
