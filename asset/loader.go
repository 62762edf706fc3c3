// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package asset

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/framegraph/internal/logging"
	"github.com/gogpu/framegraph/resource"
	"github.com/gogpu/framegraph/staging"
)

// Loader decodes and uploads assets concurrently. Decoding runs on worker
// goroutines; resource creation and staging are safe there because the
// manager and stager are.
type Loader struct {
	mgr    *resource.Manager
	stager *staging.Stager
	limit  int
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConcurrency bounds the number of assets loaded at once. Values below
// 1 are ignored.
func WithConcurrency(n int) LoaderOption {
	return func(l *Loader) {
		if n >= 1 {
			l.limit = n
		}
	}
}

// NewLoader creates a loader. The default concurrency is GOMAXPROCS.
func NewLoader(mgr *resource.Manager, stager *staging.Stager, opts ...LoaderOption) *Loader {
	l := &Loader{mgr: mgr, stager: stager, limit: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Job is one unit of loading work.
type Job func(ctx context.Context) error

// Run executes jobs with bounded concurrency. The first error cancels the
// context passed to the remaining jobs and is returned.
func (l *Loader) Run(ctx context.Context, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return job(ctx)
		})
	}
	return g.Wait()
}

// TextureSource names a 2D texture to load from a file.
type TextureSource struct {
	Label string
	Path  string
	// Width and Height resize the image when both are non-zero.
	Width, Height int
}

// Textures loads every source as a 2D texture. Results are in source order.
// If any source fails, textures already created are destroyed.
func (l *Loader) Textures(ctx context.Context, sources ...TextureSource) ([]*Texture, error) {
	out := make([]*Texture, len(sources))
	jobs := make([]Job, len(sources))
	for i, src := range sources {
		jobs[i] = func(context.Context) error {
			px, err := LoadImage(src.Path)
			if err != nil {
				return err
			}
			if src.Width > 0 && src.Height > 0 && (px.Width != src.Width || px.Height != src.Height) {
				if px, err = Resize(px, src.Width, src.Height); err != nil {
					return fmt.Errorf("%s: %w", src.Path, err)
				}
			}
			label := src.Label
			if label == "" {
				label = src.Path
			}
			t, err := NewTexture2D(l.mgr, l.stager, label, px)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		}
	}

	if err := l.Run(ctx, jobs...); err != nil {
		for _, t := range out {
			if t != nil {
				t.Destroy()
			}
		}
		return nil, err
	}
	logging.Logger().Info("asset: textures loaded", "count", len(out))
	return out, nil
}

// Pixels decodes every encoded image concurrently. Results are in input
// order.
func (l *Loader) Pixels(ctx context.Context, encoded ...[]byte) ([]*Pixels, error) {
	out := make([]*Pixels, len(encoded))
	jobs := make([]Job, len(encoded))
	for i, data := range encoded {
		jobs[i] = func(context.Context) error {
			px, err := DecodeBytes(data)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			out[i] = px
			return nil
		}
	}
	if err := l.Run(ctx, jobs...); err != nil {
		return nil, err
	}
	return out, nil
}
