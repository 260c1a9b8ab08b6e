package page

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
)

// handleAttr tags elements the engine has handed out handles for. It is
// bookkeeping, not an artifact: teardown strips it from host elements
// without removing them.
const handleAttr = "data-inlay-h"

// Live implements Surface against a rod-driven browser tab. Every
// operation is one Evaluate round trip; element handles are stable tag
// attributes so they survive between calls as long as the element does.
type Live struct {
	page   *rod.Page
	markup CardMarkup
}

// NewLive wraps an attached page.
func NewLive(p *rod.Page, markup CardMarkup) *Live {
	return &Live{page: p, markup: markup}
}

// liveHandle is the Handle implementation for Live: the tag value.
type liveHandle string

func asLiveHandle(h Handle) (string, error) {
	lh, ok := h.(liveHandle)
	if !ok || lh == "" {
		return "", ErrNotFound
	}
	return string(lh), nil
}

// markupArg shapes the markup heuristics for the JS side.
func (l *Live) markupArg() map[string]interface{} {
	return map[string]interface{}{
		"cardClasses":       l.markup.CardClasses,
		"cardAttrs":         l.markup.CardAttrs,
		"blockRoleAttrs":    l.markup.BlockRoleAttrs,
		"roleClassPrefixes": l.markup.RoleClassPrefixes,
	}
}

// jsHelpers is prepended to every script: handle assignment and the
// injected-artifact / visible-text helpers shared by the queries.
const jsHelpers = `
	const HANDLE = 'data-inlay-h';
	const tag = (el) => {
		if (!el.getAttribute(HANDLE)) {
			window.__inlayHandleSeq = (window.__inlayHandleSeq || 0) + 1;
			el.setAttribute(HANDLE, 'h' + window.__inlayHandleSeq);
		}
		return el.getAttribute(HANDLE);
	};
	const byHandle = (h) => document.querySelector('[' + HANDLE + '="' + h + '"]');
	const injected = (el) => {
		for (const a of el.attributes || []) {
			if (a.name.startsWith('data-inlay-') && a.name !== HANDLE) return true;
		}
		return false;
	};
	const visibleText = (root) => {
		let out = '';
		const visit = (node) => {
			if (node.nodeType === Node.TEXT_NODE) { out += node.textContent + ' '; return; }
			if (node.nodeType !== Node.ELEMENT_NODE) return;
			const t = node.tagName;
			if (t === 'SCRIPT' || t === 'STYLE') return;
			if (injected(node)) return;
			for (const c of node.childNodes) visit(c);
		};
		visit(root);
		return out.replace(/\s+/g, ' ').trim();
	};
`

// eval runs a script body with args and decodes the JSON result into out.
// The body sees the helpers above plus its args as `a`.
func (l *Live) eval(ctx context.Context, body string, out interface{}, args ...interface{}) error {
	res, err := l.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           fmt.Sprintf("(...a) => { %s\n%s }", jsHelpers, body),
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if out == nil || res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// FindByAttr implements Surface.
func (l *Live) FindByAttr(ctx context.Context, attrs []string, value string) (Handle, error) {
	var handle string
	err := l.eval(ctx, `
		const [attrs, value] = a;
		for (const attr of attrs) {
			for (const el of document.querySelectorAll('[' + attr + ']')) {
				if (injected(el)) continue;
				const v = el.getAttribute(attr) || '';
				if (v === value || v.includes(value)) return tag(el);
			}
		}
		return null;
	`, &handle, attrs, value)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, ErrNotFound
	}
	return liveHandle(handle), nil
}

// FindResponseCard implements Surface.
func (l *Live) FindResponseCard(ctx context.Context, responseID string) (Handle, error) {
	var handle string
	err := l.eval(ctx, `
		const [id, markup] = a;
		const isCard = (el) => {
			for (const attr of markup.cardAttrs) if (el.hasAttribute(attr)) return true;
			for (const cls of markup.cardClasses) if (el.classList.contains(cls)) return true;
			return false;
		};
		for (const el of document.querySelectorAll('*')) {
			if (injected(el)) continue;
			if (visibleText(el) !== id) continue;
			for (let p = el.parentElement; p; p = p.parentElement) {
				if (isCard(p)) return tag(p);
			}
		}
		return null;
	`, &handle, responseID, l.markupArg())
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, ErrNotFound
	}
	return liveHandle(handle), nil
}

// CardBlocks implements Surface.
func (l *Live) CardBlocks(ctx context.Context, card Handle) ([]Block, error) {
	h, err := asLiveHandle(card)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Role   string `json:"role"`
		Text   string `json:"text"`
		Handle string `json:"handle"`
	}
	err = l.eval(ctx, `
		const [h, markup] = a;
		const card = byHandle(h);
		if (!card) return [];
		const roleOf = (el) => {
			for (const attr of markup.blockRoleAttrs) {
				const v = el.getAttribute(attr);
				if (v) return v.toLowerCase();
			}
			for (const cls of el.classList) {
				for (const prefix of markup.roleClassPrefixes) {
					if (cls.startsWith(prefix) && cls.length > prefix.length) {
						return cls.slice(prefix.length).toLowerCase();
					}
				}
			}
			return '';
		};
		const out = [];
		const visit = (el) => {
			if (injected(el)) return;
			if (el !== card) {
				const role = roleOf(el);
				if (role) {
					out.push({ role, text: visibleText(el), handle: tag(el) });
					return; // blocks do not nest
				}
			}
			for (const c of el.children) visit(c);
		};
		visit(card);
		return out;
	`, &rows, h, l.markupArg())
	if err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, len(rows))
	for i, row := range rows {
		blocks = append(blocks, Block{
			Index:  i,
			Role:   row.Role,
			Text:   row.Text,
			Handle: liveHandle(row.Handle),
		})
	}
	return blocks, nil
}

// EnsureContainer implements Surface.
func (l *Live) EnsureContainer(ctx context.Context, anchor Handle, messageID string) (Handle, error) {
	h, err := asLiveHandle(anchor)
	if err != nil {
		return nil, err
	}

	var handle string
	err = l.eval(ctx, `
		const [h, messageID] = a;
		const parent = byHandle(h);
		if (!parent) return null;
		for (const el of parent.querySelectorAll('[data-inlay-for]')) {
			if (el.getAttribute('data-inlay-for') === messageID) return tag(el);
		}
		const div = document.createElement('div');
		div.setAttribute('data-inlay-for', messageID);
		parent.appendChild(div);
		return tag(div);
	`, &handle, h, messageID)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, ErrNotFound
	}
	return liveHandle(handle), nil
}

// HasArtifact implements Surface.
func (l *Live) HasArtifact(ctx context.Context, container Handle, key string) (bool, error) {
	h, err := asLiveHandle(container)
	if err != nil {
		return false, err
	}

	var has bool
	err = l.eval(ctx, `
		const [h, key] = a;
		const parent = byHandle(h);
		if (!parent) return false;
		for (const el of parent.querySelectorAll('[data-inlay-key]')) {
			if (el.getAttribute('data-inlay-key') === key) return true;
		}
		return false;
	`, &has, h, key)
	return has, err
}

// AppendArtifact implements Surface.
func (l *Live) AppendArtifact(ctx context.Context, container Handle, fragment string) error {
	h, err := asLiveHandle(container)
	if err != nil {
		return err
	}
	var ok bool
	err = l.eval(ctx, `
		const [h, html] = a;
		const parent = byHandle(h);
		if (!parent) return false;
		parent.insertAdjacentHTML('beforeend', html);
		return true;
	`, &ok, h, fragment)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// RemoveArtifact implements Surface.
func (l *Live) RemoveArtifact(ctx context.Context, container Handle, key string) error {
	h, err := asLiveHandle(container)
	if err != nil {
		return err
	}
	var removed bool
	err = l.eval(ctx, `
		const [h, key] = a;
		const parent = byHandle(h);
		if (!parent) return false;
		for (const el of parent.querySelectorAll('[data-inlay-key]')) {
			if (el.getAttribute('data-inlay-key') === key) { el.remove(); return true; }
		}
		return false;
	`, &removed, h, key)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// GlobalGallery implements Surface.
func (l *Live) GlobalGallery(ctx context.Context) (Handle, error) {
	var handle string
	err := l.eval(ctx, `
		const existing = document.querySelector('[data-inlay-gallery]');
		if (existing) return tag(existing);
		const div = document.createElement('div');
		div.setAttribute('data-inlay-gallery', '1');
		document.body.prepend(div);
		return tag(div);
	`, &handle)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, ErrNotFound
	}
	return liveHandle(handle), nil
}

// VisibleText implements Surface.
func (l *Live) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := l.eval(ctx, `return visibleText(document.body || document.documentElement);`, &text)
	return text, err
}

// StripArtifacts implements Surface: removes injected elements and clears
// handle bookkeeping from host elements.
func (l *Live) StripArtifacts(ctx context.Context) error {
	return l.eval(ctx, `
		for (const el of document.querySelectorAll('[data-inlay-for], [data-inlay-gallery], [data-inlay-key]')) {
			el.remove();
		}
		for (const el of document.querySelectorAll('[' + HANDLE + ']')) {
			el.removeAttribute(HANDLE);
		}
		return true;
	`, nil)
}
