package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"inlay/internal/extract"
	"inlay/internal/page"
	"inlay/internal/reconcile"
	"inlay/internal/render"
	"inlay/internal/resolve"
)

// Report summarizes one full reconciliation run (scan command output).
type Report struct {
	Conversations int
	Messages      int
	Candidates    int
	Anchored      int
	Dropped       int
	Render        render.Stats
	Lookups       resolve.Stats
}

// runPass visits up to the per-cycle budget of pending roots. Leftover
// roots stay pending for the next cycle, so bursty mutation storms do
// bounded work per pass.
func (e *Engine) runPass(ctx context.Context) {
	cfg := e.cfg.Load()

	e.mu.Lock()
	budget := cfg.Scan.MaxRootsPerCycle
	roots := make([]string, 0, budget)
	for root := range e.pendingRoots {
		if len(roots) >= budget {
			break
		}
		roots = append(roots, root)
		delete(e.pendingRoots, root)
	}
	leftover := len(e.pendingRoots)
	e.passes++
	e.mu.Unlock()

	if len(roots) == 0 {
		return
	}
	if leftover > 0 {
		// Whatever stayed queued still needs a cycle.
		defer e.PendingRoot(ambientRoot)
	}

	extractor := extract.New(cfg.Extract, e.cache)
	matcher := reconcile.New(e.surface)
	matcher.BeginPass()

	for _, root := range roots {
		if ctx.Err() != nil {
			return
		}
		if root == ambientRoot {
			e.scanAmbient(ctx, extractor)
			continue
		}
		e.scanConversation(ctx, extractor, matcher, root, nil)
	}
}

// scanConversation extracts, reconciles and renders one conversation's
// messages. Rendering is strictly sequential in candidate order.
func (e *Engine) scanConversation(ctx context.Context, extractor *extract.Extractor, matcher *reconcile.Matcher, conversationID string, report *Report) {
	msgs := e.store.Messages(conversationID)
	if len(msgs) == 0 {
		return
	}

	candidates := extractor.FromMessages(msgs)
	byMessage := make(map[string][]extract.Candidate, len(msgs))
	for _, c := range candidates {
		byMessage[c.MessageID] = append(byMessage[c.MessageID], c)
	}
	if report != nil {
		report.Messages += len(msgs)
		report.Candidates += len(candidates)
	}

	for _, msg := range msgs {
		cands := byMessage[msg.ID]
		if len(cands) == 0 {
			continue
		}

		anchor, err := matcher.Anchor(ctx, msg)
		if err != nil {
			if !errors.Is(err, reconcile.ErrNoAnchor) {
				e.log.Debug("anchor lookup failed",
					zap.String("message", msg.ID), zap.Error(err))
			}
			// No anchor: reconciled candidates are dropped this pass.
			if report != nil {
				report.Dropped += len(cands)
			}
			continue
		}
		if report != nil {
			report.Anchored += len(cands)
		}

		container, err := e.renderer.Mount(ctx, anchor, msg.ID)
		if err != nil {
			e.log.Debug("mount failed", zap.String("message", msg.ID), zap.Error(err))
			continue
		}
		for _, cand := range cands {
			e.renderCandidate(ctx, container, cand)
		}
	}
}

// scanAmbient runs the best-effort document text scan; its candidates do
// not require an anchor and land in the global gallery.
func (e *Engine) scanAmbient(ctx context.Context, extractor *extract.Extractor) {
	text, err := e.surface.VisibleText(ctx)
	if err != nil {
		e.log.Debug("visible text scan failed", zap.Error(err))
		return
	}
	cands := extractor.FromAmbientText(text)
	if len(cands) == 0 {
		return
	}

	gallery, err := e.surface.GlobalGallery(ctx)
	if err != nil {
		e.log.Debug("global gallery unavailable", zap.Error(err))
		return
	}
	container, err := e.renderer.Mount(ctx, gallery, extract.AmbientMessageID)
	if err != nil {
		return
	}
	for _, cand := range cands {
		e.renderCandidate(ctx, container, cand)
	}
}

func (e *Engine) renderCandidate(ctx context.Context, container page.Handle, cand extract.Candidate) {
	if err := e.renderer.RenderCandidate(ctx, container, cand); err != nil {
		e.log.Debug("render failed", zap.String("key", cand.Key()), zap.Error(err))
		return
	}
	e.mu.Lock()
	e.retries[cand.Key()] = retryTarget{candidate: cand, container: container}
	e.mu.Unlock()
}

// RunOnce performs one synchronous full pass over everything in the store
// plus the ambient scan. Offline snapshot mode; the loop is not involved.
func (e *Engine) RunOnce(ctx context.Context) *Report {
	cfg := e.cfg.Load()
	report := &Report{}

	extractor := extract.New(cfg.Extract, e.cache)
	matcher := reconcile.New(e.surface)
	matcher.BeginPass()

	convs := e.store.Conversations()
	report.Conversations = len(convs)
	for _, conv := range convs {
		e.scanConversation(ctx, extractor, matcher, conv, report)
	}
	e.scanAmbient(ctx, extractor)

	report.Render = e.renderer.Stats()
	report.Lookups = e.cache.Stats()
	return report
}
