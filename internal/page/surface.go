// Package page is the narrow query interface between the engine and the
// live document. The page is an external, continuously-mutating dependency
// the engine does not control; everything goes through Surface so the same
// pipeline runs against a rod-driven browser tab or an offline HTML
// snapshot.
package page

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a query matches nothing.
var ErrNotFound = errors.New("page: element not found")

// Handle is an opaque reference to one element on a surface. Handles are
// only valid for the surface that produced them and only until the next
// page mutation; never cache them across scan passes.
type Handle interface{}

// Block is one message block scraped from a response card, in document
// order.
type Block struct {
	Index int
	Role  string
	Text  string
	// Handle anchors renders bound to this block.
	Handle Handle
}

// Marker attribute names for injected artifacts. A stable marker makes
// passes idempotent, retries addressable, and teardown complete.
const (
	AttrContainer = "data-inlay-for"      // per-message container, value = message id
	AttrArtifact  = "data-inlay-key"      // one rendered artifact, value = identity key
	AttrRetry     = "data-inlay-retry"    // retry control, value = identity key
	AttrGallery   = "data-inlay-gallery"  // the shared global fallback container
)

// Surface is the only way the engine touches the document.
type Surface interface {
	// FindByAttr returns the first element one of whose listed attributes
	// equals or contains value. Attribute names are tried in order; the
	// first name that matches anything wins.
	FindByAttr(ctx context.Context, attrs []string, value string) (Handle, error)

	// FindResponseCard locates the response card whose marker element's
	// text equals responseID and returns its nearest card ancestor.
	FindResponseCard(ctx context.Context, responseID string) (Handle, error)

	// CardBlocks enumerates the card's ordered message blocks. Injected
	// artifacts are excluded from block text.
	CardBlocks(ctx context.Context, card Handle) ([]Block, error)

	// EnsureContainer idempotently returns the per-message artifact
	// container under anchor, creating it on first use.
	EnsureContainer(ctx context.Context, anchor Handle, messageID string) (Handle, error)

	// HasArtifact reports whether an artifact with the key exists under
	// the container.
	HasArtifact(ctx context.Context, container Handle, key string) (bool, error)

	// AppendArtifact appends the HTML fragment under the container.
	AppendArtifact(ctx context.Context, container Handle, html string) error

	// RemoveArtifact removes the artifact with the key from the container.
	RemoveArtifact(ctx context.Context, container Handle, key string) error

	// GlobalGallery returns the shared fallback container, prepending it
	// to the page body on first use.
	GlobalGallery(ctx context.Context) (Handle, error)

	// VisibleText returns the document's visible text for the ambient
	// scan, excluding scripts, styles and injected artifacts.
	VisibleText(ctx context.Context) (string, error)

	// StripArtifacts removes everything inlay added to the page.
	StripArtifacts(ctx context.Context) error
}

// CardMarkup describes how response cards and their blocks are recognized
// on the host page. The host page is not ours, so these are heuristics
// with overridable defaults.
type CardMarkup struct {
	// CardClasses are class tokens that mark a card container ancestor.
	CardClasses []string
	// CardAttrs are attributes whose presence marks a card container.
	CardAttrs []string
	// BlockRoleAttrs are attributes carrying a block's role label.
	BlockRoleAttrs []string
	// RoleClassPrefixes map class tokens like "message-user" to roles.
	RoleClassPrefixes []string
}

// DefaultCardMarkup matches the dashboard markup the engine targets.
func DefaultCardMarkup() CardMarkup {
	return CardMarkup{
		CardClasses:       []string{"response-card", "card"},
		CardAttrs:         []string{"data-response-card"},
		BlockRoleAttrs:    []string{"data-role", "data-message-author-role"},
		RoleClassPrefixes: []string{"message-", "role-"},
	}
}
