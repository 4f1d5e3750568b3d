// Package certstore discovers code signing certificates in the Windows
// certificate stores through PowerShell.
package certstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aweris/signproxy"
	"github.com/aweris/signproxy/internal/signtool"
)

const listCommand = "Get-ChildItem -Recurse Cert: -CodeSigningCert | " +
	"Select-Object -Property Subject,PSParentPath,Thumbprint | ConvertTo-Json -Compress"

type psCertificate struct {
	Subject      string `json:"Subject"`
	PSParentPath string `json:"PSParentPath"`
	Thumbprint   string `json:"Thumbprint"`
}

// Find lists code signing certificates whose subject contains subject. An
// empty subject, or one starting with "//", matches everything.
func Find(ctx context.Context, runner signtool.Runner, subject string) ([]signtool.Certificate, error) {
	out, err := runner.Run(ctx, "powershell.exe", "-NoProfile", "-NonInteractive", "-Command", listCommand)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	certs, err := Parse(out)
	if err != nil {
		return nil, err
	}
	return Filter(certs, subject), nil
}

// Parse decodes ConvertTo-Json output, which is a bare object when exactly
// one certificate exists and an array otherwise.
func Parse(raw []byte) ([]signtool.Certificate, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []psCertificate
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("parse certificates: %w", err)
		}
	} else {
		var one psCertificate
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("parse certificates: %w", err)
		}
		list = append(list, one)
	}

	certs := make([]signtool.Certificate, 0, len(list))
	for _, c := range list {
		parent := c.PSParentPath
		certs = append(certs, signtool.Certificate{
			Thumbprint:     c.Thumbprint,
			Subject:        c.Subject,
			Store:          parent[strings.LastIndexByte(parent, '\\')+1:],
			IsLocalMachine: strings.Contains(parent, `Certificate::LocalMachine`),
		})
	}
	return certs, nil
}

// Filter keeps certificates whose subject contains subject.
func Filter(certs []signtool.Certificate, subject string) []signtool.Certificate {
	if subject == "" || strings.HasPrefix(subject, "//") {
		return certs
	}
	var out []signtool.Certificate
	for _, c := range certs {
		if strings.Contains(c.Subject, subject) {
			out = append(out, c)
		}
	}
	return out
}

// Select returns the only certificate. Zero or several matches is a
// configuration error.
func Select(certs []signtool.Certificate) (signtool.Certificate, error) {
	switch len(certs) {
	case 1:
		return certs[0], nil
	case 0:
		return signtool.Certificate{}, fmt.Errorf("%w: no certificate found", signproxy.ErrConfiguration)
	default:
		subjects := make([]string, 0, len(certs))
		for _, c := range certs {
			subjects = append(subjects, c.Subject)
		}
		return signtool.Certificate{}, fmt.Errorf("%w: found multiple certificates: %s",
			signproxy.ErrConfiguration, strings.Join(subjects, "; "))
	}
}
