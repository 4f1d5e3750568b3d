package signproxy

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAttempts = 2
	DefaultCooldown = 15 * time.Second
)

// Options configures a Service.
type Options struct {
	Signer         Signer
	Logger         zerolog.Logger
	LineageBackend string
	ScratchDir     string
	Attempts       int
	Cooldown       time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	Concurrency    int
}

// Option is a functional option for configuring Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:         zerolog.Nop(),
		LineageBackend: LineageJSON,
		ScratchDir:     os.TempDir(),
		Attempts:       DefaultAttempts,
		Cooldown:       DefaultCooldown,
		Concurrency:    4,
	}
}

// WithSigner sets the external signer. Without one, Sign fails with
// ErrConfiguration on a cache miss.
func WithSigner(s Signer) Option {
	return func(o *Options) { o.Signer = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithLineageBackend selects LineageJSON or LineageBolt.
func WithLineageBackend(backend string) Option {
	return func(o *Options) { o.LineageBackend = backend }
}

// WithScratchDir sets where per-request scratch directories are created.
func WithScratchDir(dir string) Option {
	return func(o *Options) {
		if dir != "" {
			o.ScratchDir = dir
		}
	}
}

// WithRetry sets how many times the signer runs and the pause in between.
func WithRetry(attempts int, cooldown time.Duration) Option {
	return func(o *Options) {
		if attempts > 0 {
			o.Attempts = attempts
		}
		if cooldown >= 0 {
			o.Cooldown = cooldown
		}
	}
}

// WithSleep replaces the cooldown timer, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Options) { o.Sleep = fn }
}

// WithConcurrency bounds parallel file operations such as Clear.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// DefaultCacheDir follows the XDG data directory convention.
func DefaultCacheDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "signproxy")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "signproxy")
	}
	return ".signproxy"
}
