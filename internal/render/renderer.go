// Package render mounts image artifacts under resolved anchors, exactly
// once per identity key, with a manual retry affordance on failure.
package render

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"inlay/internal/config"
	"inlay/internal/extract"
	"inlay/internal/logging"
	"inlay/internal/page"
)

// Stats counts render outcomes for the teardown report.
type Stats struct {
	Images  int64
	Notes   int64
	Errors  int64
	Skipped int64
}

// Renderer owns the rendered-key set: a given identity key is rendered at
// most once per page lifetime, and only an explicit retry clears it.
// Rendering within one pass is driven sequentially by the engine, so
// visual order stays deterministic.
type Renderer struct {
	surface page.Surface
	cfg     config.RenderConfig
	log     *zap.Logger

	mu       sync.Mutex
	rendered map[string]bool
	stats    Stats
}

// New creates a renderer over a surface.
func New(surface page.Surface, cfg config.RenderConfig) *Renderer {
	return &Renderer{
		surface:  surface,
		cfg:      cfg,
		log:      logging.Get(logging.CategoryRender),
		rendered: make(map[string]bool),
	}
}

// Mount idempotently returns the per-message artifact container under the
// anchor.
func (r *Renderer) Mount(ctx context.Context, anchor page.Handle, messageID string) (page.Handle, error) {
	return r.surface.EnsureContainer(ctx, anchor, messageID)
}

// RenderCandidate renders one candidate under its container. A key already
// in the rendered set is a no-op. The resolver runs here; its outcome
// picks the artifact: image card, informational note, or error badge with
// a retry control.
func (r *Renderer) RenderCandidate(ctx context.Context, container page.Handle, cand extract.Candidate) error {
	key := cand.Key()

	r.mu.Lock()
	if r.rendered[key] {
		r.stats.Skipped++
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	// The page may already carry the artifact from a prior process run
	// against the same document; adopt it instead of duplicating.
	if has, err := r.surface.HasArtifact(ctx, container, key); err == nil && has {
		r.markRendered(key)
		return nil
	}

	url, err := cand.Resolve(ctx)
	switch {
	case err != nil:
		r.log.Debug("candidate resolution failed",
			zap.String("key", key), zap.Error(err))
		if appendErr := r.surface.AppendArtifact(ctx, container, errorBadge(key, err.Error())); appendErr != nil {
			return appendErr
		}
		r.markRendered(key)
		r.bumpErrors()
		return nil

	case url == "":
		note := cand.FallbackNote
		if note == "" {
			note = "no image available"
		}
		if err := r.surface.AppendArtifact(ctx, container, noteBadge(key, note)); err != nil {
			return err
		}
		r.markRendered(key)
		r.bumpNotes()
		return nil

	default:
		if err := r.surface.AppendArtifact(ctx, container, imageCard(key, url, cand.Caption, r.cfg)); err != nil {
			return err
		}
		r.markRendered(key)
		r.bumpImages()
		r.log.Debug("image rendered", zap.String("key", key))
		return nil
	}
}

// Retry handles a user-triggered retry for a key: remove the old badge,
// clear the rendered marker, render again.
func (r *Renderer) Retry(ctx context.Context, container page.Handle, cand extract.Candidate) error {
	key := cand.Key()
	if err := r.surface.RemoveArtifact(ctx, container, key); err != nil && !errors.Is(err, page.ErrNotFound) {
		return err
	}
	r.mu.Lock()
	delete(r.rendered, key)
	r.mu.Unlock()
	return r.RenderCandidate(ctx, container, cand)
}

// Rendered reports whether a key is in the rendered set.
func (r *Renderer) Rendered(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rendered[key]
}

// Stats returns a snapshot of the render counters.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Clear drops the rendered set. Teardown only.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rendered = make(map[string]bool)
}

func (r *Renderer) markRendered(key string) {
	r.mu.Lock()
	r.rendered[key] = true
	r.mu.Unlock()
}

func (r *Renderer) bumpImages() { r.mu.Lock(); r.stats.Images++; r.mu.Unlock() }
func (r *Renderer) bumpNotes()  { r.mu.Lock(); r.stats.Notes++; r.mu.Unlock() }
func (r *Renderer) bumpErrors() { r.mu.Lock(); r.stats.Errors++; r.mu.Unlock() }
