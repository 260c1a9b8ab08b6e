package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inlay/internal/auth"
	"inlay/internal/config"
	"inlay/internal/page"
)

const enginePage = `<html><body>
<div class="response-card">
	<span>resp_a</span>
	<div data-role="user">draw me a chart</div>
	<div data-role="assistant">here you go</div>
</div>
</body></html>`

const engineListing = `{
	"object": "list",
	"data": [
		{"type": "message", "id": "msg_u", "role": "user", "response_id": "resp_a",
		 "content": [{"type": "input_text", "text": "draw me a chart"}]},
		{"type": "message", "id": "msg_a", "role": "assistant", "response_id": "resp_a",
		 "content": [
			{"type": "output_text", "text": "here you go"},
			{"type": "output_image", "file_id": "file-chart"}
		 ]}
	]
}`

func engineFixture(t *testing.T, lookup http.HandlerFunc) (*Engine, *page.Snapshot) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Scan.DebounceMs = 10
	cfg.Scan.PollIntervalMs = 10

	if lookup != nil {
		ts := httptest.NewServer(lookup)
		t.Cleanup(ts.Close)
		cfg.Resolve.LookupURLTemplate = ts.URL + "/files/{file_id}/download"
	}

	snap, err := page.ParseSnapshot(strings.NewReader(enginePage), page.DefaultCardMarkup())
	require.NoError(t, err)

	ac := auth.NewContext(cfg.Intercept.OrganizationHeader, cfg.Intercept.ProjectHeader)
	ac.SeedAuthorization("Bearer test")
	return New(cfg, snap, ac), snap
}

func renderSnapshot(t *testing.T, s *page.Snapshot) string {
	t.Helper()
	var out strings.Builder
	require.NoError(t, s.Render(&out))
	return out.String()
}

func TestLoopRendersListingPayload(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e, snap := engineFixture(t, nil)
	listing := strings.ReplaceAll(engineListing,
		`{"type": "output_image", "file_id": "file-chart"}`,
		`{"type": "output_image", "image_url": "https://img.test/chart.png"}`)

	go e.Run(context.Background())

	e.HandleListing("conv_1", []byte(listing))
	e.PendingRoot("conv_1")

	require.Eventually(t, func() bool {
		return strings.Contains(renderSnapshot(t, snap), "https://img.test/chart.png")
	}, 3*time.Second, 20*time.Millisecond, "image card appears under the assistant block")

	e.Stop()
}

func TestRunOnceResolvesFileReferences(t *testing.T) {
	e, snap := engineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"url":"https://cdn.test/chart.png"}`))
	})

	require.Equal(t, 2, e.Normalizer().Ingest("conv_1", []byte(engineListing)))
	report := e.RunOnce(context.Background())

	require.Equal(t, 1, report.Conversations)
	require.Equal(t, 2, report.Messages)
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, 1, report.Anchored)
	require.Zero(t, report.Dropped)
	require.EqualValues(t, 1, report.Render.Images)
	require.EqualValues(t, 1, report.Lookups.Lookups)

	out := renderSnapshot(t, snap)
	require.Contains(t, out, "https://cdn.test/chart.png")
}

func TestRunOnceIsIdempotent(t *testing.T) {
	e, snap := engineFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"https://cdn.test/chart.png"}`))
	})

	e.Normalizer().Ingest("conv_1", []byte(engineListing))
	e.RunOnce(context.Background())
	// Same payload observed again: signature dedup, rendered-set dedup.
	e.Normalizer().Ingest("conv_1", []byte(engineListing))
	e.RunOnce(context.Background())

	out := renderSnapshot(t, snap)
	require.Equal(t, 1, strings.Count(out, "https://cdn.test/chart.png"),
		"no duplicate artifacts from repeated payloads and passes")
}

func TestUnanchoredCandidatesDropped(t *testing.T) {
	e, snap := engineFixture(t, nil)

	// resp_missing has no card on the page.
	listing := strings.ReplaceAll(engineListing, "resp_a", "resp_missing")
	listing = strings.ReplaceAll(listing,
		`{"type": "output_image", "file_id": "file-chart"}`,
		`{"type": "output_image", "image_url": "https://img.test/chart.png"}`)
	e.Normalizer().Ingest("conv_1", []byte(listing))

	report := e.RunOnce(context.Background())
	require.Equal(t, 1, report.Dropped)
	require.Zero(t, report.Anchored)
	require.NotContains(t, renderSnapshot(t, snap), "https://img.test/chart.png")
}

func TestAmbientScanFallsBackToGallery(t *testing.T) {
	cfg := config.DefaultConfig()
	pageHTML := `<html><body><p>notes: ![shot](https://img.test/ambient.png)</p></body></html>`
	snap, err := page.ParseSnapshot(strings.NewReader(pageHTML), page.DefaultCardMarkup())
	require.NoError(t, err)

	ac := auth.NewContext(cfg.Intercept.OrganizationHeader, cfg.Intercept.ProjectHeader)
	e := New(cfg, snap, ac)

	e.RunOnce(context.Background())

	out := renderSnapshot(t, snap)
	require.Contains(t, out, page.AttrGallery)
	require.Contains(t, out, `src="https://img.test/ambient.png"`)
}

func TestTeardownStripsArtifacts(t *testing.T) {
	e, snap := engineFixture(t, nil)
	listing := strings.ReplaceAll(engineListing,
		`{"type": "output_image", "file_id": "file-chart"}`,
		`{"type": "output_image", "image_url": "https://img.test/chart.png"}`)
	e.Normalizer().Ingest("conv_1", []byte(listing))
	e.RunOnce(context.Background())
	require.Contains(t, renderSnapshot(t, snap), "data-inlay-")

	e.Teardown(context.Background())
	out := renderSnapshot(t, snap)
	require.NotContains(t, out, "data-inlay-")
	require.Zero(t, e.Store().Len())
}
