package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"inlay/internal/config"
	"inlay/internal/extract"
	"inlay/internal/page"
)

const renderPage = `<html><body><div data-message-id="msg_1">anchor text</div></body></html>`

func renderFixture(t *testing.T) (*Renderer, *page.Snapshot, page.Handle) {
	t.Helper()
	s, err := page.ParseSnapshot(strings.NewReader(renderPage), page.DefaultCardMarkup())
	require.NoError(t, err)

	anchor, err := s.FindByAttr(context.Background(), []string{"data-message-id"}, "msg_1")
	require.NoError(t, err)

	r := New(s, config.DefaultConfig().Render)
	container, err := r.Mount(context.Background(), anchor, "msg_1")
	require.NoError(t, err)
	return r, s, container
}

func staticCandidate(url string) extract.Candidate {
	return extract.Candidate{
		MessageID:   "msg_1",
		SourceType:  extract.SourceURLEmbedded,
		SourceValue: url,
		Caption:     "a caption",
		Resolve:     func(context.Context) (string, error) { return url, nil },
	}
}

func rendered(t *testing.T, s *page.Snapshot) string {
	t.Helper()
	var out strings.Builder
	require.NoError(t, s.Render(&out))
	return out.String()
}

func TestRenderImageCard(t *testing.T) {
	r, s, container := renderFixture(t)
	cand := staticCandidate("https://x.test/a.png")

	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))

	out := rendered(t, s)
	require.Contains(t, out, `src="https://x.test/a.png"`)
	require.Contains(t, out, "a caption")
	require.True(t, r.Rendered(cand.Key()))
	require.EqualValues(t, 1, r.Stats().Images)
}

func TestRenderIsIdempotentPerKey(t *testing.T) {
	r, s, container := renderFixture(t)
	cand := staticCandidate("https://x.test/a.png")

	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))
	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))

	require.Equal(t, 1, strings.Count(rendered(t, s), "https://x.test/a.png"))
	require.EqualValues(t, 1, r.Stats().Skipped)
}

func TestRenderAdoptsExistingArtifact(t *testing.T) {
	r, s, container := renderFixture(t)
	cand := staticCandidate("https://x.test/a.png")

	// Artifact already on the page, e.g. from a previous attach.
	require.NoError(t, s.AppendArtifact(context.Background(), container,
		`<figure data-inlay-key="`+cand.Key()+`"></figure>`))

	resolved := false
	cand.Resolve = func(context.Context) (string, error) { resolved = true; return "x", nil }
	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))
	require.False(t, resolved, "adopted artifact skips the resolver")
	require.True(t, r.Rendered(cand.Key()))
}

func TestRenderFallbackNote(t *testing.T) {
	r, s, container := renderFixture(t)
	cand := extract.Candidate{
		MessageID:    "msg_1",
		SourceType:   extract.SourcePlaceholder,
		SourceValue:  "[image]",
		FallbackNote: "no image found near this placeholder",
		Resolve:      func(context.Context) (string, error) { return "", nil },
	}

	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))
	require.Contains(t, rendered(t, s), "no image found near this placeholder")
	require.EqualValues(t, 1, r.Stats().Notes)
}

func TestRetrySemantics(t *testing.T) {
	r, s, container := renderFixture(t)

	fail := true
	cand := extract.Candidate{
		MessageID:   "msg_1",
		SourceType:  extract.SourceFileReference,
		SourceValue: "file-1",
		Resolve: func(context.Context) (string, error) {
			if fail {
				return "", errors.New("lookup status 403")
			}
			return "https://cdn.test/ok.png", nil
		},
	}

	require.NoError(t, r.RenderCandidate(context.Background(), container, cand))
	out := rendered(t, s)
	require.Contains(t, out, "image unavailable")
	require.Contains(t, out, page.AttrRetry)
	require.EqualValues(t, 1, r.Stats().Errors)

	// Repeated failure re-renders the badge.
	require.NoError(t, r.Retry(context.Background(), container, cand))
	require.Equal(t, 1, strings.Count(rendered(t, s), "image unavailable"))

	// Success replaces the badge with the card.
	fail = false
	require.NoError(t, r.Retry(context.Background(), container, cand))
	out = rendered(t, s)
	require.NotContains(t, out, "image unavailable")
	require.Contains(t, out, "https://cdn.test/ok.png")
}
