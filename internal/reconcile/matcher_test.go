package reconcile

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"inlay/internal/conversation"
	"inlay/internal/page"
)

func TestNormalizeText(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"Hello  World", "hello world"},
		{"**Bold** and _em_", "bold and em"},
		{"see `code` here", "see here"},
		{"```go\nfunc main() {}\n```\nafter", "after"},
		{"a [link](https://x.test) b", "a link b"},
		{"an ![alt text](https://x.test/i.png) image", "an alt text image"},
		{"# Heading\n> quote", "heading quote"},
	} {
		require.Equal(t, tc.want, NormalizeText(tc.in), "input %q", tc.in)
	}
}

func blocksFor(specs ...[2]string) []page.Block {
	out := make([]page.Block, len(specs))
	for i, s := range specs {
		out[i] = page.Block{Index: i, Role: s[0], Text: s[1], Handle: i}
	}
	return out
}

func TestChooseBlockDeterminism(t *testing.T) {
	// The spec's determinism case: [user:"", assistant:"The answer is 42"].
	blocks := blocksFor([2]string{"user", ""}, [2]string{"assistant", "The answer is 42"})
	used := map[int]bool{}

	got := chooseBlock(true, "", blocks, used, "user")
	require.Equal(t, 0, got, "image-only user message binds the empty user block")
	used[got] = true

	got = chooseBlock(false, NormalizeText("The answer is 42 and more"), blocks, used, "assistant")
	require.Equal(t, 1, got, "assistant text binds by block-prefix-in-message substring")
	used[got] = true

	require.Equal(t, -1, chooseBlock(false, "anything", blocks, used, "assistant"),
		"no block is used twice in one pass")
}

func TestChooseBlockMessagePrefixInBlock(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 20)
	blocks := blocksFor(
		[2]string{"assistant", "unrelated words entirely"},
		[2]string{"assistant", long},
	)
	// Message is a truncated prefix of the block.
	got := chooseBlock(false, NormalizeText(long[:100]), blocks, map[int]bool{}, "assistant")
	require.Equal(t, 1, got)
}

func TestChooseBlockRoleFilter(t *testing.T) {
	blocks := blocksFor([2]string{"assistant", "hello"})
	require.Equal(t, -1, chooseBlock(false, "hello", blocks, map[int]bool{}, "user"))
}

func TestChooseBlockFallsBackToFirstRemaining(t *testing.T) {
	blocks := blocksFor(
		[2]string{"assistant", "alpha"},
		[2]string{"assistant", "beta"},
	)
	got := chooseBlock(false, "gamma delta", blocks, map[int]bool{0: true}, "assistant")
	require.Equal(t, 1, got)
}

const matcherPage = `<html><body>
<div data-message-id="msg_direct">directly addressable</div>
<div class="response-card">
	<span>resp_a</span>
	<div data-role="user"></div>
	<div data-role="assistant">The answer is 42</div>
</div>
</body></html>`

func matcherSurface(t *testing.T) *page.Snapshot {
	t.Helper()
	s, err := page.ParseSnapshot(strings.NewReader(matcherPage), page.DefaultCardMarkup())
	require.NoError(t, err)
	return s
}

func TestAnchorDirectPassWins(t *testing.T) {
	m := New(matcherSurface(t))
	msg := &conversation.Message{ID: "msg_direct", Role: conversation.RoleAssistant, ResponseID: "resp_a"}

	h, err := m.Anchor(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, h)
}

func TestAnchorStructuralPass(t *testing.T) {
	m := New(matcherSurface(t))
	ctx := context.Background()

	imageOnly := &conversation.Message{
		ID: "msg_img", Role: conversation.RoleUser, ResponseID: "resp_a",
		Content: []conversation.ContentItem{{Type: "input_image", FileID: "file-1"}},
	}
	textMsg := &conversation.Message{
		ID: "msg_txt", Role: conversation.RoleAssistant, ResponseID: "resp_a",
		Content: []conversation.ContentItem{{Type: "output_text", Text: "The answer is 42 and more"}},
	}

	h1, err := m.Anchor(ctx, imageOnly)
	require.NoError(t, err)
	h2, err := m.Anchor(ctx, textMsg)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "two messages never share a block in one pass")

	// A third message of the same role finds nothing left.
	third := &conversation.Message{
		ID: "msg_extra", Role: conversation.RoleAssistant, ResponseID: "resp_a",
		Content: []conversation.ContentItem{{Type: "output_text", Text: "anything"}},
	}
	_, err = m.Anchor(ctx, third)
	require.ErrorIs(t, err, ErrNoAnchor)

	// A new pass frees the blocks.
	m.BeginPass()
	_, err = m.Anchor(ctx, third)
	require.NoError(t, err)
}

func TestAnchorNoResponseID(t *testing.T) {
	m := New(matcherSurface(t))
	msg := &conversation.Message{ID: "msg_unknown", Role: conversation.RoleUser}

	_, err := m.Anchor(context.Background(), msg)
	require.ErrorIs(t, err, ErrNoAnchor)
}

func TestAnchorCardMissCached(t *testing.T) {
	m := New(matcherSurface(t))
	msg := &conversation.Message{ID: "msg_x", Role: conversation.RoleUser, ResponseID: "resp_gone"}

	_, err := m.Anchor(context.Background(), msg)
	require.ErrorIs(t, err, ErrNoAnchor)
	// The miss is cached for the pass; a second ask stays a miss.
	_, err = m.Anchor(context.Background(), msg)
	require.ErrorIs(t, err, ErrNoAnchor)
}
