package signtool

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/spf13/afero"

	"github.com/aweris/signproxy"
)

const binary = "signtool.exe"

// DefaultBases are the roots searched for a Windows SDK installation.
var DefaultBases = []string{`C:\Program Files (x86)`, `C:\`, `D:\`}

var versionDir = regexp.MustCompile(`^[.\d]+$`)

// Locate returns the configured signtool path when it exists, otherwise the
// newest <base>/Windows Kits/10/bin/<version>/x64/signtool.exe found.
func Locate(fsys afero.Fs, configured string, bases ...string) (string, error) {
	if configured != "" {
		if ok, _ := afero.Exists(fsys, configured); ok {
			return configured, nil
		}
	}
	if len(bases) == 0 {
		bases = DefaultBases
	}
	for _, base := range bases {
		if path, ok := dig(fsys, base); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: signtool.exe not found", signproxy.ErrConfiguration)
}

func dig(fsys afero.Fs, base string) (string, bool) {
	bin := filepath.Join(base, "Windows Kits", "10", "bin")
	entries, err := afero.ReadDir(fsys, bin)
	if err != nil {
		return "", false
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() && versionDir.MatchString(e.Name()) {
			versions = append(versions, e.Name())
		}
	}
	slices.SortFunc(versions, compareVersions)
	slices.Reverse(versions)

	for _, v := range versions {
		path := filepath.Join(bin, v, "x64", binary)
		if ok, _ := afero.Exists(fsys, path); ok {
			return path, true
		}
	}
	return "", false
}
