// Package engine owns one page session: every mutable table (message
// store, caches, rendered set, pending roots) lives on an Engine instance,
// constructed per attached page and torn down explicitly. One goroutine
// runs all scan work; tap and bridge callbacks only enqueue, so mutation
// ordering comes from the loop, not from locks.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"inlay/internal/auth"
	"inlay/internal/config"
	"inlay/internal/conversation"
	"inlay/internal/extract"
	"inlay/internal/logging"
	"inlay/internal/page"
	"inlay/internal/render"
	"inlay/internal/resolve"
)

// ambientRoot marks the whole-document scan root (markdown links in
// visible text, global-gallery fallback).
const ambientRoot = "__document__"

type listingPayload struct {
	conversationID string
	body           []byte
}

type retryTarget struct {
	candidate extract.Candidate
	container page.Handle
}

// Engine coordinates the pipeline for one page session.
type Engine struct {
	cfg atomic.Pointer[config.Config]
	log *zap.Logger

	surface    page.Surface
	bridge     *page.Bridge
	store      *conversation.Store
	normalizer *conversation.Normalizer
	auth       *auth.Context
	cache      *resolve.Cache
	renderer   *render.Renderer

	payloadCh chan listingPayload
	rootCh    chan string
	navCh     chan string

	mu           sync.Mutex
	pendingRoots map[string]struct{}
	retries      map[string]retryTarget
	passes       int64

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds an engine over a surface. The auth context is shared with the
// network tap feeding this engine.
func New(cfg *config.Config, surface page.Surface, authCtx *auth.Context) *Engine {
	store := conversation.NewStore()
	e := &Engine{
		log:        logging.Get(logging.CategoryEngine),
		surface:    surface,
		store:      store,
		normalizer: conversation.NewNormalizer(store),
		auth:       authCtx,
		cache:      resolve.New(cfg, authCtx),
		renderer:   render.New(surface, cfg.Render),

		payloadCh:    make(chan listingPayload, 64),
		rootCh:       make(chan string, 64),
		navCh:        make(chan string, 8),
		pendingRoots: make(map[string]struct{}),
		retries:      make(map[string]retryTarget),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	e.cfg.Store(cfg)
	return e
}

// SetBridge attaches the page event bridge (live sessions only).
func (e *Engine) SetBridge(b *page.Bridge) { e.bridge = b }

// SetConfig swaps the config snapshot; the next cycle picks it up. Only
// flags and scan tuning take effect live.
func (e *Engine) SetConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.log.Info("config reloaded")
}

// Store exposes the message store (scan command ingestion).
func (e *Engine) Store() *conversation.Store { return e.store }

// Normalizer exposes payload ingestion for offline runs.
func (e *Engine) Normalizer() *conversation.Normalizer { return e.normalizer }

// HandleListing implements intercept.Sink. Never blocks: the tap calls it
// from rod's event goroutines.
func (e *Engine) HandleListing(conversationID string, body []byte) {
	select {
	case e.payloadCh <- listingPayload{conversationID: conversationID, body: body}:
	default:
		e.log.Warn("payload queue full, dropping listing",
			zap.String("conversation", conversationID))
	}
}

// PendingRoot implements intercept.Sink.
func (e *Engine) PendingRoot(conversationID string) {
	select {
	case e.rootCh <- conversationID:
	default:
	}
}

// Navigated implements intercept.Sink.
func (e *Engine) Navigated(url string) {
	select {
	case e.navCh <- url:
	default:
	}
}

// Run is the cooperative scheduler: it drains payloads, polls the bridge,
// debounces pending roots and executes scan passes, until ctx ends or
// Stop is called. Blocking; run it on its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.doneCh)

	poll := time.NewTicker(e.cfg.Load().PollInterval())
	defer poll.Stop()

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	debounceArmed := false

	arm := func() {
		if !debounceArmed {
			debounce.Reset(e.cfg.Load().Debounce())
			debounceArmed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return

		case p := <-e.payloadCh:
			if n := e.normalizer.Ingest(p.conversationID, p.body); n > 0 {
				e.markPending(p.conversationID)
				arm()
			}

		case root := <-e.rootCh:
			e.markPending(root)
			arm()

		case url := <-e.navCh:
			// Scoped auth was already invalidated by the tap; queue a
			// fresh look at whatever the new location shows.
			e.log.Debug("location changed", zap.String("url", url))
			e.markAllPending()
			arm()

		case <-poll.C:
			if e.drainBridge(ctx) {
				arm()
			}

		case <-debounce.C:
			debounceArmed = false
			e.runPass(ctx)
		}
	}
}

// Stop ends the loop and waits for it.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

// Teardown logs the session counters, strips injected artifacts from the
// page (best effort) and clears every cache. Call after Stop.
func (e *Engine) Teardown(ctx context.Context) {
	rs := e.renderer.Stats()
	ls := e.cache.Stats()
	e.mu.Lock()
	passes := e.passes
	e.mu.Unlock()

	e.log.Info("session summary",
		zap.Int("payloads", e.normalizer.SeenPayloads()),
		zap.Int("messages", e.store.Len()),
		zap.Int64("passes", passes),
		zap.Int64("images", rs.Images),
		zap.Int64("notes", rs.Notes),
		zap.Int64("errors", rs.Errors),
		zap.Int64("lookup_hits", ls.Hits),
		zap.Int64("lookups", ls.Lookups),
		zap.Int64("cooldown_rejections", ls.CooldownRejections))

	if err := e.surface.StripArtifacts(ctx); err != nil {
		e.log.Warn("artifact strip failed", zap.Error(err))
	}
	e.cache.Clear()
	e.renderer.Clear()
	e.store.Clear()
	e.auth.Clear()
}

func (e *Engine) markPending(root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingRoots[root] = struct{}{}
	// A conversation update can also surface new ambient text.
	e.pendingRoots[ambientRoot] = struct{}{}
}

func (e *Engine) markAllPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, conv := range e.store.Conversations() {
		e.pendingRoots[conv] = struct{}{}
	}
	e.pendingRoots[ambientRoot] = struct{}{}
}

// drainBridge pulls buffered page events; returns true when a scan should
// be scheduled.
func (e *Engine) drainBridge(ctx context.Context) bool {
	if e.bridge == nil {
		return false
	}
	events, err := e.bridge.Drain(ctx)
	if err != nil {
		e.log.Debug("bridge drain failed", zap.Error(err))
		return false
	}

	dirty := false
	for _, ev := range events {
		switch ev.Type {
		case "mutation":
			e.markAllPending()
			dirty = true
		case "retry":
			e.handleRetry(ctx, ev.Key)
		}
	}
	return dirty
}

func (e *Engine) handleRetry(ctx context.Context, key string) {
	e.mu.Lock()
	target, ok := e.retries[key]
	e.mu.Unlock()
	if !ok {
		e.log.Debug("retry for unknown key", zap.String("key", key))
		return
	}
	if err := e.renderer.Retry(ctx, target.container, target.candidate); err != nil {
		e.log.Warn("retry failed", zap.String("key", key), zap.Error(err))
	}
}
