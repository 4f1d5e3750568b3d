// Package signtool drives the Windows SDK signtool.exe.
package signtool

import (
	"context"
	"fmt"
	"time"

	"github.com/aweris/signproxy"
)

const (
	DefaultTimestampURL = "http://timestamp.digicert.com"
	DefaultTimeout      = 10 * time.Minute
	DefaultStore        = "My"
)

// Certificate identifies the signing certificate in the Windows store.
type Certificate struct {
	Thumbprint     string `json:"thumbprint"`
	Subject        string `json:"subject"`
	Store          string `json:"store"`
	IsLocalMachine bool   `json:"isLocalMachine"`
}

// Tool signs files in place by running signtool.
type Tool struct {
	Path         string
	Cert         Certificate
	TimestampURL string
	Timeout      time.Duration
	Runner       Runner
}

var _ signproxy.Signer = (*Tool)(nil)

// Args builds the signtool command line for one file.
func (t *Tool) Args(file string, method signproxy.Method, nested bool) []string {
	tsa := t.TimestampURL
	if tsa == "" {
		tsa = DefaultTimestampURL
	}
	store := t.Cert.Store
	if store == "" {
		store = DefaultStore
	}

	args := []string{"sign", "/debug"}
	args = append(args, "/tr", tsa, "/td", "sha256")
	args = append(args, "/sha1", t.Cert.Thumbprint, "/s", store, "/fd", method.String())
	if t.Cert.IsLocalMachine {
		args = append(args, "/sm")
	}
	if nested {
		args = append(args, "/as")
	}
	return append(args, file)
}

// Sign runs signtool once against file. Each run is bounded by Timeout.
func (t *Tool) Sign(ctx context.Context, file string, method signproxy.Method, nested bool) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := t.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	if _, err := runner.Run(ctx, t.Path, t.Args(file, method, nested)...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("signtool timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("signtool: %w", err)
	}
	return nil
}
