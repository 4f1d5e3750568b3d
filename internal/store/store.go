// Package store implements the local content storage layer.
//
// Every blob lives in its own directory named after its content hash and
// keeps the filename it was uploaded with:
//
//	root/
//	  0cc175b9c0f1b6a831c399e269772661/
//	    setup.exe
//	  .incoming/   (staging area for atomic writes)
//
// Hashes are opaque lowercase hex strings at this layer; callers validate them.
package store

import "io"

// Store handles local content storage.
type Store interface {
	// Has reports whether exactly one file is stored under hash.
	Has(hash string) bool

	// Get returns the stored bytes, or false on a miss.
	Get(hash string) ([]byte, bool)

	// Open streams the stored file.
	Open(hash string) (io.ReadCloser, int64, error)

	// Name returns the stored filename.
	Name(hash string) (string, bool)

	// Put writes data under hash with the given filename.
	Put(hash, name string, data []byte) (path string, err error)

	// PutFile takes ownership of the file at src.
	PutFile(hash, src string) (path string, err error)

	// Remove deletes everything stored under hash.
	Remove(hash string) error
}

// Stats summarizes the blobs on disk.
type Stats struct {
	Blobs int
	Bytes int64
}
