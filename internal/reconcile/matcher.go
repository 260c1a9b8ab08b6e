package reconcile

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"inlay/internal/conversation"
	"inlay/internal/logging"
	"inlay/internal/page"
)

// Message/block substring windows for the textual heuristic. The message
// side is compared by its first 140 normalized characters, the block side
// by its first 120, which handles truncation in either direction.
const (
	messagePrefixLen = 140
	blockPrefixLen   = 120
)

// identityAttrs are tried in priority order during the direct pass.
var identityAttrs = []string{"data-message-id", "data-item-id", "data-testid", "id"}

// ErrNoAnchor is returned when neither pass can place a message. Not an
// error condition for the engine: the message's anchored candidates are
// simply dropped for this pass.
var ErrNoAnchor = errors.New("reconcile: no anchor found")

// Matcher binds messages to page anchors. Block lists are scraped once per
// card per pass and carry a used-index set, so two messages never bind to
// the same block within a pass. Call BeginPass before each pass.
type Matcher struct {
	surface page.Surface
	log     *zap.Logger
	cards   map[string]*blockContext
}

type blockContext struct {
	card   page.Handle
	blocks []page.Block
	used   map[int]bool
	miss   bool
}

// New creates a matcher over a surface.
func New(surface page.Surface) *Matcher {
	return &Matcher{
		surface: surface,
		log:     logging.Get(logging.CategoryReconcile),
		cards:   make(map[string]*blockContext),
	}
}

// BeginPass invalidates the per-card block caches. The page mutates
// between passes; nothing scraped earlier can be trusted.
func (m *Matcher) BeginPass() {
	m.cards = make(map[string]*blockContext)
}

// Anchor resolves the page element renders for this message mount under.
func (m *Matcher) Anchor(ctx context.Context, msg *conversation.Message) (page.Handle, error) {
	// Direct pass: an element carrying the message id wins outright.
	if msg.ID != "" {
		if h, err := m.surface.FindByAttr(ctx, identityAttrs, msg.ID); err == nil {
			return h, nil
		}
	}
	if msg.ResponseID == "" {
		return nil, ErrNoAnchor
	}
	return m.structural(ctx, msg)
}

func (m *Matcher) structural(ctx context.Context, msg *conversation.Message) (page.Handle, error) {
	bc := m.cards[msg.ResponseID]
	if bc == nil {
		bc = m.scrapeCard(ctx, msg.ResponseID)
		m.cards[msg.ResponseID] = bc
	}
	if bc.miss || len(bc.blocks) == 0 {
		return nil, ErrNoAnchor
	}

	idx := chooseBlock(msg.ImageOnly(), NormalizeText(msg.Text()), bc.blocks, bc.used, string(msg.Role))
	if idx < 0 {
		return nil, ErrNoAnchor
	}
	bc.used[idx] = true

	m.log.Debug("structural match",
		zap.String("message", msg.ID),
		zap.String("response", msg.ResponseID),
		zap.Int("block", idx))
	return bc.blocks[idx].Handle, nil
}

func (m *Matcher) scrapeCard(ctx context.Context, responseID string) *blockContext {
	card, err := m.surface.FindResponseCard(ctx, responseID)
	if err != nil {
		m.log.Debug("response card not found", zap.String("response", responseID))
		return &blockContext{miss: true}
	}
	blocks, err := m.surface.CardBlocks(ctx, card)
	if err != nil {
		m.log.Debug("card block scrape failed",
			zap.String("response", responseID), zap.Error(err))
		return &blockContext{miss: true}
	}
	return &blockContext{card: card, blocks: blocks, used: make(map[int]bool)}
}

// chooseBlock picks the block a message binds to, or -1. Pure: it sees
// only normalized text and the used set, so the selection priority is
// testable without a page. Candidates are blocks whose role label matches
// and whose index is unused; among them:
//
//  1. an image-only message prefers an empty-bodied block;
//  2. else a block containing the message's first 140 normalized chars;
//  3. else a block whose own first 120 normalized chars appear in the
//     message text;
//  4. else the first remaining candidate in document order.
func chooseBlock(imageOnly bool, msgText string, blocks []page.Block, used map[int]bool, role string) int {
	var candidates []int
	for i, b := range blocks {
		if used[i] {
			continue
		}
		if b.Role != role {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return -1
	}

	normBlock := func(i int) string { return NormalizeText(blocks[i].Text) }

	if imageOnly {
		for _, i := range candidates {
			if normBlock(i) == "" {
				return i
			}
		}
	}

	if msgText != "" {
		head := prefix(msgText, messagePrefixLen)
		for _, i := range candidates {
			if bt := normBlock(i); bt != "" && contains(bt, head) {
				return i
			}
		}
		for _, i := range candidates {
			if bt := normBlock(i); bt != "" && contains(msgText, prefix(bt, blockPrefixLen)) {
				return i
			}
		}
	}

	return candidates[0]
}

func contains(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}
