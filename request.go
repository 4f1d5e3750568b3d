package signproxy

import (
	"fmt"
	"strings"
)

// Method is the file digest algorithm passed to the signer.
type Method string

const (
	SHA1   Method = "sha1"
	SHA256 Method = "sha256"
)

// ParseMethod accepts "sha1" or "sha256" in any case.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case SHA1, SHA256:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// Other returns the opposite method of a dual signature.
func (m Method) Other() Method {
	if m == SHA1 {
		return SHA256
	}
	return SHA1
}

func (m Method) String() string { return string(m) }

// Input identifies the file to sign: either a hash the store already holds
// or freshly uploaded content.
type Input struct {
	hash Hash
	name string
	data []byte
	ref  bool
}

// ByReference refers to a file already present in the store.
func ByReference(h Hash) Input { return Input{hash: h, ref: true} }

// ByContent carries uploaded bytes and their filename.
func ByContent(name string, data []byte) Input { return Input{name: name, data: data} }

// IsReference reports whether the input names a stored hash.
func (in Input) IsReference() bool { return in.ref }

// Hash returns the referenced hash; empty for content inputs.
func (in Input) Hash() Hash { return in.hash }

// Name returns the uploaded filename; empty for references.
func (in Input) Name() string { return in.name }

// Data returns the uploaded bytes; nil for references.
func (in Input) Data() []byte { return in.data }

// SignRequest asks for Input to be signed with Method. Nested appends the
// signature to an existing chain instead of replacing it.
type SignRequest struct {
	Input  Input
	Method Method
	Nested bool
}

// RequestFromForm builds a SignRequest from the fields the client posts:
// file (hash text or file part), hash (method) and isNest ("" or "1").
func RequestFromForm(form Form) (SignRequest, error) {
	var req SignRequest

	field, ok := form["file"]
	switch {
	case !ok:
		return req, fmt.Errorf("%w: missing field %q", ErrMalformedBody, "file")
	case field.IsFile():
		req.Input = ByContent(field.Filename, field.Data)
	default:
		h, err := ParseHash(string(field.Data))
		if err != nil {
			return req, fmt.Errorf("%w: not found file with hash %s", ErrNotFound, strings.TrimSpace(string(field.Data)))
		}
		req.Input = ByReference(h)
	}

	m, err := ParseMethod(form.Value("hash"))
	if err != nil {
		return req, err
	}
	req.Method = m
	req.Nested = form.Value("isNest") != ""
	return req, nil
}
