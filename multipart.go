package signproxy

import (
	"bytes"
	"fmt"
	"strings"
)

// Field is one part of a multipart body. Filename is set only for file parts.
type Field struct {
	Filename string
	Data     []byte
	file     bool
}

// IsFile reports whether the part carried a filename attribute.
func (f Field) IsFile() bool { return f.file }

// Form maps part names to their values. A later part with the same name
// replaces an earlier one.
type Form map[string]Field

// Value returns a text field, or "" when absent.
func (f Form) Value(name string) string {
	return string(f[name].Data)
}

// File returns a file field.
func (f Form) File(name string) (Field, bool) {
	field, ok := f[name]
	if !ok || !field.file {
		return Field{}, false
	}
	return field, true
}

var (
	crlf        = []byte("\r\n")
	headerBreak = []byte("\r\n\r\n")
)

// BoundaryFromContentType extracts the boundary token from a
// multipart/form-data content type.
func BoundaryFromContentType(contentType string) (string, bool) {
	_, after, ok := strings.Cut(contentType, "boundary=")
	if !ok {
		return "", false
	}
	if i := strings.IndexByte(after, ';'); i >= 0 {
		after = after[:i]
	}
	after = strings.Trim(strings.TrimSpace(after), `"`)
	return after, after != ""
}

// ParseMultipart splits body on "--"+boundary delimiters. It understands
// only the flat shape browsers and fetch produce: each part is a header
// block, a blank line and the raw value followed by CRLF.
func ParseMultipart(body []byte, boundary string) (Form, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: empty boundary", ErrMalformedBody)
	}
	delim := append([]byte("--"+boundary), crlf...)
	end := []byte("--" + boundary + "--")

	var parts [][]byte
	start := -1
	for {
		i := indexFrom(body, delim, start)
		if i >= 0 {
			if start >= 0 {
				parts = append(parts, body[start:i])
			}
			start = i + len(delim)
			continue
		}
		j := indexFrom(body, end, start)
		if j < 0 || start < 0 {
			return nil, fmt.Errorf("%w: boundary end not found in %q", ErrMalformedBody, preview(body))
		}
		parts = append(parts, body[start:j])
		break
	}

	form := make(Form, len(parts))
	for _, part := range parts {
		i := bytes.Index(part, headerBreak)
		if i < 0 {
			return nil, fmt.Errorf("%w: headers not found in part %q", ErrMalformedBody, preview(part))
		}
		headers := string(part[:i])
		value := bytes.TrimSuffix(part[i+len(headerBreak):], crlf)

		name, ok := headerAttr(headers, "name")
		if !ok {
			return nil, fmt.Errorf("%w: part without name in %q", ErrMalformedBody, headers)
		}
		field := Field{Data: value}
		if filename, ok := headerAttr(headers, "filename"); ok {
			field.Filename = filename
			field.file = true
		}
		form[name] = field
	}
	return form, nil
}

func indexFrom(b, sep []byte, from int) int {
	if from < 0 {
		from = 0
	}
	i := bytes.Index(b[from:], sep)
	if i < 0 {
		return -1
	}
	return from + i
}

// headerAttr finds `; attr="value"` case-insensitively. The leading
// separator keeps "name" from matching inside "filename".
func headerAttr(headers, attr string) (string, bool) {
	lower := strings.ToLower(headers)
	key := strings.ToLower(attr) + `="`
	for off := 0; ; {
		i := strings.Index(lower[off:], key)
		if i < 0 {
			return "", false
		}
		i += off
		off = i + len(key)
		if !precededBySeparator(lower[:i]) {
			continue
		}
		rest := headers[off:]
		j := strings.IndexByte(rest, '"')
		if j < 0 {
			return "", false
		}
		return rest[:j], true
	}
}

func precededBySeparator(s string) bool {
	s = strings.TrimRight(s, " \t")
	return strings.HasSuffix(s, ";")
}

func preview(b []byte) string {
	const limit = 128
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
