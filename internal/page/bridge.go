package page

import (
	"context"
	"encoding/json"

	"github.com/go-rod/rod"
)

// Event is one notification drained from the injected bridge.
type Event struct {
	// Type is "mutation" or "retry".
	Type string `json:"type"`
	// Root is the handle of the mutated subtree's nearest tagged ancestor,
	// "" for document-level mutations.
	Root string `json:"root"`
	// Key is the identity key of the artifact whose retry was clicked.
	Key string `json:"key"`
	// Message is the owning message id of the retry artifact.
	Message string `json:"message"`
	TS      int64  `json:"ts"`
}

// Bridge buffers page-side events (DOM mutations, retry clicks) in an
// injected array the engine drains on its poll tick. Everything the bridge
// adds to the page is passive; a bridge failure never affects the host
// page.
type Bridge struct {
	page *rod.Page
}

// NewBridge creates a bridge for the page.
func NewBridge(p *rod.Page) *Bridge {
	return &Bridge{page: p}
}

// Install injects the event buffer, the MutationObserver and the retry
// click listener. Idempotent.
func (b *Bridge) Install(ctx context.Context) error {
	_, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const w = window;
			if (w.__inlayBridge) return true;
			w.__inlayBridge = true;
			w.__inlayEvents = [];

			const push = (ev) => {
				try {
					w.__inlayEvents.push(ev);
					if (w.__inlayEvents.length > 1000) w.__inlayEvents.shift();
				} catch (e) {}
			};

			document.addEventListener('click', (ev) => {
				try {
					const el = ev.target && ev.target.closest
						? ev.target.closest('[data-inlay-retry]') : null;
					if (!el) return;
					ev.preventDefault();
					const container = el.closest('[data-inlay-for]');
					push({
						type: 'retry',
						key: el.getAttribute('data-inlay-retry') || '',
						message: container ? container.getAttribute('data-inlay-for') : '',
						ts: Date.now()
					});
				} catch (e) {}
			}, true);

			const obs = new MutationObserver((mutations) => {
				try {
					for (const m of mutations) {
						let node = m.target;
						// Mutations inside our own artifacts are ours; skip.
						if (node.nodeType === Node.ELEMENT_NODE && node.closest &&
							node.closest('[data-inlay-for], [data-inlay-gallery]')) continue;
						let root = '';
						if (node.nodeType === Node.ELEMENT_NODE && node.closest) {
							const tagged = node.closest('[data-inlay-h]');
							if (tagged) root = tagged.getAttribute('data-inlay-h') || '';
						}
						push({ type: 'mutation', root, ts: Date.now() });
					}
				} catch (e) {}
			});
			obs.observe(document.documentElement || document.body, {
				childList: true, subtree: true, characterData: true
			});
			return true;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	return err
}

// Drain returns and clears the buffered events.
func (b *Bridge) Drain(ctx context.Context) ([]Event, error) {
	res, err := b.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const buf = Array.isArray(window.__inlayEvents) ? window.__inlayEvents : [];
			window.__inlayEvents = [];
			return buf;
		}
		`,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return nil, err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var events []Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}
	return events, nil
}
