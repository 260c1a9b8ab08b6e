// Package auth holds credential material captured off the page's own API
// traffic, at two granularities: a process-wide last-seen fallback and a
// per-conversation scoped snapshot taken from that conversation's listing
// request. Scoped values win per header.
package auth

import (
	"net/http"
	"sync"
)

// Credentials is one captured header set.
type Credentials struct {
	Authorization string
	Organization  string
	Project       string
}

func (c Credentials) empty() bool {
	return c.Authorization == "" && c.Organization == "" && c.Project == ""
}

// Context owns captured credentials for one page session.
type Context struct {
	orgHeader  string
	projHeader string

	mu       sync.RWMutex
	fallback Credentials
	scoped   map[string]Credentials
}

// NewContext creates a credential context using the configured scope header
// names (the Authorization header name is fixed).
func NewContext(orgHeader, projHeader string) *Context {
	return &Context{
		orgHeader:  orgHeader,
		projHeader: projHeader,
		scoped:     make(map[string]Credentials),
	}
}

// SeedAuthorization pre-populates the process-wide token, for runs where
// the tap has not yet observed a request.
func (c *Context) SeedAuthorization(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback.Authorization = token
}

// CaptureRequest records credential headers from one observed request.
// Non-empty headers update the process-wide fallback per header. When the
// request is a listing request for a conversation, the full snapshot is
// also stored scoped to that conversation.
func (c *Context) CaptureRequest(conversationID string, headers map[string]string) {
	creds := c.credsFromHeaders(headers)
	if creds.empty() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if creds.Authorization != "" {
		c.fallback.Authorization = creds.Authorization
	}
	if creds.Organization != "" {
		c.fallback.Organization = creds.Organization
	}
	if creds.Project != "" {
		c.fallback.Project = creds.Project
	}

	if conversationID != "" {
		c.scoped[conversationID] = creds
	}
}

// HeadersFor resolves the headers for an authenticated lookup under the
// given conversation: per header, the scoped snapshot wins, then the
// process-wide fallback. Headers with no known value are omitted.
func (c *Context) HeadersFor(conversationID string) http.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scoped := c.scoped[conversationID]
	h := http.Header{}
	if v := firstNonEmpty(scoped.Authorization, c.fallback.Authorization); v != "" {
		h.Set("Authorization", v)
	}
	if v := firstNonEmpty(scoped.Organization, c.fallback.Organization); v != "" {
		h.Set(c.orgHeader, v)
	}
	if v := firstNonEmpty(scoped.Project, c.fallback.Project); v != "" {
		h.Set(c.projHeader, v)
	}
	return h
}

// HasToken reports whether any Authorization value is known.
func (c *Context) HasToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fallback.Authorization != "" {
		return true
	}
	for _, s := range c.scoped {
		if s.Authorization != "" {
			return true
		}
	}
	return false
}

// InvalidateScoped clears every per-conversation snapshot. Called on
// navigable-location changes so conversation scope never leaks across
// conversations; the process-wide fallback survives.
func (c *Context) InvalidateScoped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scoped = make(map[string]Credentials)
}

// Clear drops everything. Teardown only.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallback = Credentials{}
	c.scoped = make(map[string]Credentials)
}

func (c *Context) credsFromHeaders(headers map[string]string) Credentials {
	var creds Credentials
	for k, v := range headers {
		if v == "" {
			continue
		}
		switch {
		case equalFold(k, "Authorization"):
			creds.Authorization = v
		case equalFold(k, c.orgHeader):
			creds.Organization = v
		case equalFold(k, c.projHeader):
			creds.Project = v
		}
	}
	return creds
}

func equalFold(a, b string) bool {
	return http.CanonicalHeaderKey(a) == http.CanonicalHeaderKey(b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
