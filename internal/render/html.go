package render

import (
	"fmt"
	"html"

	"inlay/internal/config"
	"inlay/internal/page"
)

// Artifact fragments. Every artifact carries the identity key in
// data-inlay-key so it can be found, deduped and removed; the error badge
// additionally carries data-inlay-retry so the bridge can address clicks.

func imageCard(key, url, caption string, cfg config.RenderConfig) string {
	style := fmt.Sprintf("max-width:%dpx;max-height:%dpx", cfg.MaxWidthPx, cfg.MaxHeightPx)
	fragment := fmt.Sprintf(
		`<figure %s=%q><img src=%q style=%q alt=%q>`,
		page.AttrArtifact, html.EscapeString(key),
		html.EscapeString(url), style, html.EscapeString(caption),
	)
	if caption != "" && cfg.ShowCaptions {
		fragment += fmt.Sprintf(`<figcaption>%s</figcaption>`, html.EscapeString(caption))
	}
	return fragment + `</figure>`
}

func noteBadge(key, note string) string {
	return fmt.Sprintf(
		`<div %s=%q><em>%s</em></div>`,
		page.AttrArtifact, html.EscapeString(key), html.EscapeString(note),
	)
}

func errorBadge(key, msg string) string {
	return fmt.Sprintf(
		`<div %s=%q><span>image unavailable: %s</span> <button %s=%q>retry</button></div>`,
		page.AttrArtifact, html.EscapeString(key),
		html.EscapeString(msg),
		page.AttrRetry, html.EscapeString(key),
	)
}
