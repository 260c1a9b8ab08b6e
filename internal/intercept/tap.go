// Package intercept taps the attached page's network traffic over CDP.
// Both of the page's request mechanisms (promise-based fetch and
// event-based XHR) surface through the Network domain, so one tap covers
// both: every request is normalized into an Observed record, credential
// headers feed the auth context, and listing response bodies are handed to
// normalization. The tap is read-only — it never delays, alters, or fails
// the host page's own request handling, and every tap-side error is
// swallowed and logged.
package intercept

import (
	"context"
	"encoding/base64"
	"regexp"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"inlay/internal/auth"
	"inlay/internal/config"
	"inlay/internal/logging"
)

// Observed is the normalized record of one captured request.
type Observed struct {
	RequestID string
	Method    string
	URL       string
	Headers   map[string]string
	// ConversationID is set when the URL is a listing request.
	ConversationID string
}

// Sink receives the tap's outputs. Implementations must not block: calls
// arrive on rod's event goroutines.
type Sink interface {
	// HandleListing delivers one raw listing response body.
	HandleListing(conversationID string, body []byte)
	// PendingRoot marks the owning document for a rescan.
	PendingRoot(conversationID string)
	// Navigated reports a navigable-location change.
	Navigated(url string)
}

// Tap observes one page. Create per attached page; Stop on teardown.
type Tap struct {
	page      *rod.Page
	cfg       config.InterceptConfig
	listingRe *regexp.Regexp
	auth      *auth.Context
	sink      Sink
	log       *zap.Logger

	mu      sync.Mutex
	pending map[proto.NetworkRequestID]string
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTap wires a tap for the page. Start must be called to begin capture.
func NewTap(p *rod.Page, cfg config.InterceptConfig, authCtx *auth.Context, sink Sink) *Tap {
	return &Tap{
		page:      p,
		cfg:       cfg,
		listingRe: cfg.ListingRegexp(),
		auth:      authCtx,
		sink:      sink,
		log:       logging.Get(logging.CategoryIntercept),
		pending:   make(map[proto.NetworkRequestID]string),
	}
}

// Start enables the Network domain and begins consuming events.
func (t *Tap) Start(ctx context.Context) error {
	if err := (proto.NetworkEnable{}).Call(t.page); err != nil {
		return err
	}

	tapCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	wait := t.page.Context(tapCtx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			t.guard(func() {
				if ev.Request == nil {
					return
				}
				t.observeRequest(Observed{
					RequestID: string(ev.RequestID),
					Method:    ev.Request.Method,
					URL:       ev.Request.URL,
					Headers:   headerMap(ev.Request.Headers),
				})
			})
		},
		func(ev *proto.NetworkLoadingFinished) {
			t.guard(func() { t.finishLoading(tapCtx, ev.RequestID) })
		},
		func(ev *proto.PageFrameNavigated) {
			t.guard(func() {
				if ev.Frame == nil || ev.Frame.ParentID != "" {
					return // sub-frame, not a navigable-location change
				}
				t.log.Debug("navigation observed", zap.String("url", ev.Frame.URL))
				t.auth.InvalidateScoped()
				t.sink.Navigated(ev.Frame.URL)
			})
		},
	)

	go func() {
		defer close(t.done)
		wait()
	}()
	return nil
}

// Stop detaches the tap.
func (t *Tap) Stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

// observeRequest handles one normalized request record: credential capture
// always, listing bookkeeping when the URL matches.
func (t *Tap) observeRequest(obs Observed) {
	obs.ConversationID = listingConversation(t.listingRe, obs.URL)
	t.auth.CaptureRequest(obs.ConversationID, obs.Headers)

	if obs.ConversationID == "" {
		return
	}
	t.log.Debug("listing request observed",
		zap.String("conversation", obs.ConversationID),
		zap.String("url", obs.URL))

	t.mu.Lock()
	t.pending[proto.NetworkRequestID(obs.RequestID)] = obs.ConversationID
	t.mu.Unlock()
}

// finishLoading fetches the settled response body for a pending listing
// request and hands it off. Runs after the host page already has its
// response; nothing here can affect it.
func (t *Tap) finishLoading(ctx context.Context, requestID proto.NetworkRequestID) {
	t.mu.Lock()
	conversationID, ok := t.pending[requestID]
	if ok {
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	res, err := proto.NetworkGetResponseBody{RequestID: requestID}.Call(t.page.Context(ctx))
	if err != nil {
		t.log.Debug("listing body unavailable",
			zap.String("conversation", conversationID), zap.Error(err))
		return
	}

	body := []byte(res.Body)
	if res.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			t.log.Debug("listing body base64 decode failed", zap.Error(err))
			return
		}
		body = decoded
	}
	if int64(len(body)) > t.cfg.MaxBodyBytes {
		t.log.Warn("listing body over size cap, dropping",
			zap.String("conversation", conversationID),
			zap.Int("bytes", len(body)))
		return
	}

	t.sink.HandleListing(conversationID, body)
	t.sink.PendingRoot(conversationID)
}

// guard runs a tap callback and swallows panics: a capture failure must
// never surface to the host page's request handling.
func (t *Tap) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("tap callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// listingConversation returns the conversation id captured by the listing
// pattern, or "".
func listingConversation(re *regexp.Regexp, url string) string {
	m := re.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// headerMap flattens CDP headers into plain strings.
func headerMap(h proto.NetworkHeaders) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v.Str()
	}
	return out
}
