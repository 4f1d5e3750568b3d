// Package remote publishes a signing cache to an OCI registry and fetches it
// back. Every cached file becomes one zstd layer annotated with its content
// hash and filename; arbitrary metadata travels as config labels.
package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/signproxy/internal/retry"
)

const (
	DefaultConcurrency = 4

	AnnotationHash = "dev.signproxy.hash"
	AnnotationName = "dev.signproxy.name"
)

// Blob is one cached file.
type Blob struct {
	Hash string
	Name string
	Data []byte
}

// BlobInfo describes a blob listed in a remote image without its content.
type BlobInfo struct {
	Hash   string
	Name   string
	digest v1.Hash
}

type Options struct {
	Auth        Authenticator
	Insecure    bool
	Concurrency int
	Logger      zerolog.Logger
}

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	policy      retry.Policy
	log         zerolog.Logger
}

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "registry.local/signproxy/cache:main")
func NewOCIRemote(imageRef string, opts Options) (*OCIRemote, error) {
	var nameOpts []name.Option
	nameOpts = append(nameOpts, name.WithDefaultTag("latest"))
	if opts.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}
	ref, err := name.ParseReference(imageRef, nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &OCIRemote{
		ref:         ref,
		auth:        opts.Auth,
		concurrency: concurrency,
		policy:      retry.Policy{Attempts: 3, Backoff: retry.Exponential(500 * time.Millisecond)},
		log:         opts.Logger,
	}, nil
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

// Push uploads blobs as one image. Labels are stored on the image config.
func (r *OCIRemote) Push(ctx context.Context, blobs []Blob, labels map[string]string) error {
	img := empty.Image
	var totalRaw, totalCompressed int64
	for _, b := range blobs {
		layer, err := newFileLayer(b.Data)
		if err != nil {
			return fmt.Errorf("build layer %s: %w", b.Hash, err)
		}
		totalRaw += int64(len(layer.raw))
		totalCompressed += int64(len(layer.packed))

		img, err = mutate.Append(img, mutate.Addendum{
			Layer: layer,
			Annotations: map[string]string{
				AnnotationHash: b.Hash,
				AnnotationName: b.Name,
			},
		})
		if err != nil {
			return fmt.Errorf("append layer %s: %w", b.Hash, err)
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return fmt.Errorf("get config: %w", err)
	}
	cfg = cfg.DeepCopy()
	cfg.Config.Labels = labels
	img, err = mutate.ConfigFile(img, cfg)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	r.log.Info().Int("blobs", len(blobs)).Int64("raw", totalRaw).Int64("compressed", totalCompressed).
		Str("ref", r.String()).Msg("pushing")

	options := append(r.remoteOptions(ctx), remote.WithJobs(r.concurrency))
	_, _, err = retry.Do(ctx, r.policy, func(context.Context) (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	if err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	return nil
}

// Image is a fetched remote cache whose blobs can be downloaded selectively.
type Image struct {
	img    v1.Image
	Labels map[string]string
	Blobs  []BlobInfo
}

// Fetch reads the manifest and config of the remote image.
func (r *OCIRemote) Fetch(ctx context.Context) (*Image, error) {
	img, _, err := retry.Do(ctx, r.policy, func(context.Context) (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	out := &Image{img: img, Labels: cfg.Config.Labels}
	for _, desc := range manifest.Layers {
		hash := desc.Annotations[AnnotationHash]
		if hash == "" {
			continue
		}
		out.Blobs = append(out.Blobs, BlobInfo{
			Hash:   hash,
			Name:   desc.Annotations[AnnotationName],
			digest: desc.Digest,
		})
	}
	return out, nil
}

// Download fetches the listed blobs in parallel and hands each one to fn.
// fn may be called concurrently.
func (r *OCIRemote) Download(ctx context.Context, img *Image, want []BlobInfo, fn func(Blob) error) error {
	r.log.Info().Int("blobs", len(want)).Msg("downloading")

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	var mu sync.Mutex
	for _, info := range want {
		info := info
		p.Go(func(ctx context.Context) error {
			layer, err := img.img.LayerByDigest(info.digest)
			if err != nil {
				return fmt.Errorf("find layer %s: %w", info.Hash, err)
			}
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer %s: %w", info.Hash, err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("read layer %s: %w", info.Hash, err)
			}

			mu.Lock()
			defer mu.Unlock()
			return fn(Blob{Hash: info.Hash, Name: info.Name, Data: data})
		})
	}
	return p.Wait()
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	opts := []remote.Option{remote.WithContext(ctx)}
	if a := authenticator(r.auth, r.Registry()); a != nil {
		return append(opts, remote.WithAuth(a))
	}
	return append(opts, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}
