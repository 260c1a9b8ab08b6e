// Package extract walks message content and produces typed image
// candidates, each carrying a deferred resolver for its final locator.
package extract

import (
	"context"
	"fmt"
)

// SourceType classifies where a candidate was discovered.
type SourceType string

const (
	SourceURLEmbedded   SourceType = "url-embedded"
	SourceFileReference SourceType = "file-reference"
	SourceMarkdownLink  SourceType = "markdown-link"
	SourcePlaceholder   SourceType = "annotated-placeholder"
)

// Candidate is one image opportunity found within a message.
type Candidate struct {
	MessageID   string
	SourceType  SourceType
	SourceValue string

	// Caption is shown under the rendered image when present.
	Caption string

	// FallbackNote is shown instead of an image when Resolve returns an
	// empty locator with no error.
	FallbackNote string

	// RequiresAnchor drops the candidate when reconciliation found no real
	// anchor. Ambient document-scan candidates leave it false and fall back
	// to the global gallery.
	RequiresAnchor bool

	// Resolve produces the final displayable locator. ("", nil) means
	// "nothing to show" and renders the fallback note.
	Resolve func(ctx context.Context) (string, error)
}

// Key is the render-dedup identity: a given key is rendered at most once
// per page lifetime.
func (c Candidate) Key() string {
	return fmt.Sprintf("%s|%s|%s", c.MessageID, c.SourceType, c.SourceValue)
}

// FileResolver is the resolution cache surface extraction delegates to for
// file-reference candidates.
type FileResolver interface {
	Resolve(ctx context.Context, fileID, conversationID string) (string, error)
}

func staticResolver(url string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return url, nil }
}

func emptyResolver() func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", nil }
}
