package conversation

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const sampleListing = `{
	"object": "list",
	"data": [
		{"type": "message", "id": "msg_1", "role": "user", "response_id": "resp_a",
		 "content": [{"type": "input_text", "text": "draw me a chart"}]},
		{"type": "message", "id": "msg_2", "role": "assistant", "response_id": "resp_a",
		 "content": [
			{"type": "output_text", "text": "here you go"},
			{"type": "output_image", "file_id": "file-abc123"}
		 ]},
		{"type": "computer_call_output", "id": "cco_1",
		 "output": {"type": "computer_screenshot", "image_url": "https://img.test/shot.png"}},
		{"type": "reasoning", "id": "rs_1", "summary": []}
	],
	"first_id": "msg_1",
	"last_id": "rs_1"
}`

func TestIngestListing(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	got := n.Ingest("conv_1", []byte(sampleListing))
	require.Equal(t, 3, got, "message, message, computer_call_output")

	msgs := store.Messages("conv_1")
	require.Len(t, msgs, 3)

	want := &Message{
		ID:             "msg_1",
		Role:           RoleUser,
		ResponseID:     "resp_a",
		ConversationID: "conv_1",
		Content:        []ContentItem{{Type: "input_text", Text: "draw me a chart"}},
	}
	if diff := cmp.Diff(want, msgs[0]); diff != "" {
		t.Errorf("first message mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, RoleTool, msgs[2].Role)
	require.Equal(t, "https://img.test/shot.png", msgs[2].Content[0].ImageURL)
}

func TestIngestSignatureDedup(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	require.Equal(t, 3, n.Ingest("conv_1", []byte(sampleListing)))
	require.Equal(t, 0, n.Ingest("conv_1", []byte(sampleListing)), "second observation deduped")
	require.Equal(t, 1, n.SeenPayloads())
	require.Equal(t, 3, store.Len())

	// Same body under a different conversation is a different signature.
	require.Equal(t, 3, n.Ingest("conv_2", []byte(sampleListing)))
}

func TestIngestRejectsNonListing(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	require.Zero(t, n.Ingest("conv_1", []byte(`{"object":"conversation.item"}`)))
	require.Zero(t, n.Ingest("conv_1", []byte(`not json at all`)))
	require.Zero(t, n.Ingest("conv_1", []byte(`{"object":"list"}`)))
	require.Zero(t, store.Len())
}

func TestIngestSynthesizesMissingID(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	body := `{"object":"list","data":[
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"x"}]}
	]}`
	require.Equal(t, 1, n.Ingest("conv_1", []byte(body)))

	msgs := store.Messages("conv_1")
	require.Len(t, msgs, 1)
	require.NotEmpty(t, msgs[0].ID)
	require.Contains(t, msgs[0].ID, "msg_")
}

func TestIngestLaterWriteWins(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	first := `{"object":"list","data":[
		{"type":"message","id":"msg_1","role":"user","content":[{"type":"input_text","text":"old"}]}
	]}`
	second := `{"object":"list","data":[
		{"type":"message","id":"msg_1","role":"user","content":[{"type":"input_text","text":"new"}]},
		{"type":"message","id":"msg_2","role":"assistant","content":[{"type":"output_text","text":"reply"}]}
	]}`
	n.Ingest("conv_1", []byte(first))
	n.Ingest("conv_1", []byte(second))

	msgs := store.Messages("conv_1")
	require.Len(t, msgs, 2)
	require.Equal(t, "new", msgs[0].Text(), "replacement, not merge")
	require.Equal(t, "msg_1", msgs[0].ID, "first-seen order preserved")
}

func TestIngestUnknownConversationSentinel(t *testing.T) {
	store := NewStore()
	n := NewNormalizer(store)

	body := `{"object":"list","data":[
		{"type":"message","id":"msg_1","role":"user","content":[{"type":"input_text","text":"x"}]}
	]}`
	n.Ingest("", []byte(body))
	require.Len(t, store.Messages(UnknownConversation), 1)
}

func TestMessageHelpers(t *testing.T) {
	m := &Message{Content: []ContentItem{
		{Type: "output_image", FileID: "file-1"},
	}}
	require.True(t, m.ImageOnly())

	m.Content = append(m.Content, ContentItem{Type: "output_text", Text: "caption"})
	require.False(t, m.ImageOnly())
	require.Equal(t, "caption", m.Text())

	for i, tc := range []struct {
		item ContentItem
		want string
	}{
		{ContentItem{ImageURL: "https://a.test/x.png"}, "https://a.test/x.png"},
		{ContentItem{ImageURL: "http://a.test/x.png"}, "http://a.test/x.png"},
		{ContentItem{ImageURL: "data:image/png;base64,xx"}, ""},
		{ContentItem{ImageURL: "ftp://a.test/x.png"}, ""},
	} {
		t.Run(fmt.Sprintf("locator_%d", i), func(t *testing.T) {
			require.Equal(t, tc.want, tc.item.HTTPLocator())
		})
	}
}
