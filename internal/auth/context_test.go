package auth

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	orgHeader  = "OpenAI-Organization"
	projHeader = "OpenAI-Project"
)

func TestScopedWinsPerHeader(t *testing.T) {
	c := NewContext(orgHeader, projHeader)

	c.CaptureRequest("", map[string]string{
		"authorization":     "Bearer fallback",
		"openai-organization": "org-fallback",
	})
	c.CaptureRequest("conv_1", map[string]string{
		"Authorization":   "Bearer scoped",
		"OpenAI-Project":  "proj-scoped",
	})

	h := c.HeadersFor("conv_1")
	require.Equal(t, "Bearer scoped", h.Get("Authorization"))
	require.Equal(t, "proj-scoped", h.Get(projHeader))
	// Scoped snapshot has no org header: fallback fills it in.
	require.Equal(t, "org-fallback", h.Get(orgHeader))
}

func TestUnknownConversationUsesFallback(t *testing.T) {
	c := NewContext(orgHeader, projHeader)
	c.CaptureRequest("conv_1", map[string]string{"Authorization": "Bearer one"})

	h := c.HeadersFor("conv_other")
	require.Equal(t, "Bearer one", h.Get("Authorization"), "scoped capture also updates the fallback")
}

func TestInvalidateScoped(t *testing.T) {
	c := NewContext(orgHeader, projHeader)
	c.CaptureRequest("conv_1", map[string]string{
		"Authorization":       "Bearer tok",
		"OpenAI-Organization": "org-1",
		"OpenAI-Project":      "proj-1",
	})

	c.InvalidateScoped()

	h := c.HeadersFor("conv_1")
	// Token falls back process-wide; org/project do too because the scoped
	// capture fed the fallback, but a fresh conversation never sees a stale
	// scoped snapshot preferred over later fallback updates.
	require.Equal(t, "Bearer tok", h.Get("Authorization"))

	c.CaptureRequest("", map[string]string{"OpenAI-Organization": "org-2"})
	require.Equal(t, "org-2", c.HeadersFor("conv_1").Get(orgHeader),
		"no stale scoped org after invalidation")
}

func TestEmptyHeadersOmitted(t *testing.T) {
	c := NewContext(orgHeader, projHeader)
	h := c.HeadersFor("conv_1")
	require.Empty(t, h)
	require.False(t, c.HasToken())
}

func TestSeedAuthorization(t *testing.T) {
	c := NewContext(orgHeader, projHeader)
	c.SeedAuthorization("Bearer seeded")
	require.True(t, c.HasToken())
	require.Equal(t, "Bearer seeded", c.HeadersFor("any").Get("Authorization"))

	c.Clear()
	require.False(t, c.HasToken())
}
