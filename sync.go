package signproxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aweris/signproxy/internal/remote"
)

// LabelLineage carries the lineage graph on a pushed cache image.
const LabelLineage = "dev.signproxy.lineage"

// Push publishes every stored file and the lineage graph to r.
func (s *Service) Push(ctx context.Context, r *remote.OCIRemote) error {
	g, err := s.lineage.Snapshot()
	if err != nil {
		return err
	}
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("serialize lineage: %w", err)
	}

	var blobs []remote.Blob
	err = s.store.Walk(func(hash, name string, _ int64) error {
		data, ok := s.store.Get(hash)
		if !ok {
			return nil
		}
		blobs = append(blobs, remote.Blob{Hash: hash, Name: name, Data: data})
		return nil
	})
	if err != nil {
		return err
	}

	if err := r.Push(ctx, blobs, map[string]string{LabelLineage: string(graphJSON)}); err != nil {
		return err
	}
	s.log.Info().Int("blobs", len(blobs)).Str("ref", r.String()).Msg("pushed cache")
	return nil
}

// PullStats reports what a Pull changed locally.
type PullStats struct {
	Fetched int
	Skipped int
}

// Pull downloads the files this cache lacks from r and merges the remote
// lineage into the local graph. Local entries win on conflict. Blobs whose
// content does not match their hash are rejected.
func (s *Service) Pull(ctx context.Context, r *remote.OCIRemote) (PullStats, error) {
	var st PullStats

	img, err := r.Fetch(ctx)
	if err != nil {
		return st, err
	}

	var want []remote.BlobInfo
	for _, b := range img.Blobs {
		h, err := ParseHash(b.Hash)
		if err != nil {
			return st, fmt.Errorf("remote blob: %w", err)
		}
		if s.store.Has(string(h)) {
			st.Skipped++
			continue
		}
		want = append(want, b)
	}

	err = r.Download(ctx, img, want, func(b remote.Blob) error {
		if got := HashBytes(b.Data); string(got) != b.Hash {
			return fmt.Errorf("remote blob %s: content hashes to %s", b.Hash, got)
		}
		if _, err := s.store.Put(b.Hash, b.Name, b.Data); err != nil {
			return fmt.Errorf("store %s: %w", b.Hash, err)
		}
		st.Fetched++
		return nil
	})
	if err != nil {
		return st, err
	}

	if raw := img.Labels[LabelLineage]; raw != "" {
		g := &Graph{}
		if err := json.Unmarshal([]byte(raw), g); err != nil {
			return st, fmt.Errorf("parse remote lineage: %w", err)
		}
		if err := s.lineage.Merge(g); err != nil {
			return st, fmt.Errorf("merge lineage: %w", err)
		}
	}

	s.log.Info().Int("fetched", st.Fetched).Int("skipped", st.Skipped).Str("ref", r.String()).Msg("pulled cache")
	return st, nil
}
