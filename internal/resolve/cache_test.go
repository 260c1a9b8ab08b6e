package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"inlay/internal/auth"
	"inlay/internal/config"
)

func testCache(t *testing.T, handler http.HandlerFunc) (*Cache, *auth.Context, *atomic.Int64) {
	t.Helper()

	var requests atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := config.DefaultConfig()
	cfg.Resolve.LookupURLTemplate = ts.URL + "/files/{file_id}/download"

	ac := auth.NewContext(cfg.Intercept.OrganizationHeader, cfg.Intercept.ProjectHeader)
	return New(cfg, ac), ac, &requests
}

func TestResolveSuccessAndCacheHit(t *testing.T) {
	c, ac, requests := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/file-1/download", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		w.Write([]byte(`{"url":"https://cdn.test/img.png"}`))
	})
	ac.CaptureRequest("conv_1", map[string]string{
		"Authorization":       "Bearer tok",
		"OpenAI-Organization": "org-1",
	})

	url, err := c.Resolve(context.Background(), "file-1", "conv_1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.test/img.png", url)

	// Second call is a cache hit, no request.
	url, err = c.Resolve(context.Background(), "file-1", "conv_1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.test/img.png", url)
	require.EqualValues(t, 1, requests.Load())

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Lookups)
	require.EqualValues(t, 1, stats.Hits)
}

func TestResolveCollapsesConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	c, _, requests := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"url":"https://cdn.test/one.png"}`))
	})

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), "file-shared", "conv_1")
		}(i)
	}
	// Let the callers pile onto the flight before the server answers.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, requests.Load(), "exactly one outbound lookup")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "https://cdn.test/one.png", results[i])
	}
}

func TestResolveCooldownFailsFast(t *testing.T) {
	c, _, requests := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	})

	base := time.Now()
	c.now = func() time.Time { return base }

	_, err := c.Resolve(context.Background(), "file-bad", "conv_1")
	require.Error(t, err)
	require.EqualValues(t, 1, requests.Load())

	// Within the cooldown: immediate failure, no request.
	_, err = c.Resolve(context.Background(), "file-bad", "conv_1")
	require.ErrorIs(t, err, ErrCoolingDown)
	require.EqualValues(t, 1, requests.Load())

	// After the cooldown elapses the id is eligible again.
	c.now = func() time.Time { return base.Add(31 * time.Second) }
	_, err = c.Resolve(context.Background(), "file-bad", "conv_1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCoolingDown)
	require.EqualValues(t, 2, requests.Load())

	stats := c.Stats()
	require.EqualValues(t, 2, stats.Failures)
	require.EqualValues(t, 1, stats.CooldownRejections)
}

func TestResolveRejectsNonHTTPLocator(t *testing.T) {
	c, _, _ := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"ftp://cdn.test/img.png"}`))
	})

	_, err := c.Resolve(context.Background(), "file-1", "conv_1")
	require.ErrorIs(t, err, ErrBadLocator)
}

func TestResolveRejectsMissingField(t *testing.T) {
	c, _, _ := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"download_url":"https://cdn.test/img.png"}`))
	})

	_, err := c.Resolve(context.Background(), "file-1", "conv_1")
	require.ErrorIs(t, err, ErrBadLocator)
}

func TestClearForgetsEverything(t *testing.T) {
	c, _, requests := testCache(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":"https://cdn.test/img.png"}`))
	})

	_, err := c.Resolve(context.Background(), "file-1", "conv_1")
	require.NoError(t, err)
	c.Clear()
	_, err = c.Resolve(context.Background(), "file-1", "conv_1")
	require.NoError(t, err)
	require.EqualValues(t, 2, requests.Load())
}

func TestResolveEmptyID(t *testing.T) {
	c, _, requests := testCache(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Resolve(context.Background(), "", "conv_1")
	require.Error(t, err)
	require.Zero(t, requests.Load())
}
