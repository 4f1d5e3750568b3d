package signproxy

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Hash is the hex encoded MD5 digest of a file's exact bytes.
type Hash string

const hashLen = md5.Size * 2

// HashBytes returns the content hash of data.
func HashBytes(data []byte) Hash {
	sum := md5.Sum(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashReader streams r through the digest.
func HashReader(r io.Reader) (Hash, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// HashFile hashes the file at path without loading it into memory.
func HashFile(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// ParseHash validates s as a content hash. Surrounding whitespace is ignored
// and upper case hex is folded to lower case.
func ParseHash(s string) (Hash, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != hashLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash(s), nil
}

func (h Hash) String() string { return string(h) }

// Short is an abbreviated form for log lines.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}
