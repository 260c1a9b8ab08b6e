package config

import (
	"errors"
	"fmt"
	"regexp"
)

// InterceptConfig controls the network tap.
type InterceptConfig struct {
	// ListingPattern matches conversation listing request paths. It must
	// contain exactly one capture group: the conversation id.
	ListingPattern string `yaml:"listing_pattern"`

	// OrganizationHeader and ProjectHeader name the scope headers captured
	// alongside Authorization and replayed on file lookups.
	OrganizationHeader string `yaml:"organization_header"`
	ProjectHeader      string `yaml:"project_header"`

	// SeedAuthorization pre-populates the process-wide token before the
	// first capture. Env-only (INLAY_AUTHORIZATION); never written to disk.
	SeedAuthorization string `yaml:"-"`

	// MaxBodyBytes caps how much of a listing response body is read.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// BodySettleTimeoutMs bounds how long the tap waits for a response body
	// to finish loading before giving up on that payload.
	BodySettleTimeoutMs int `yaml:"body_settle_timeout_ms"`
}

func (c *InterceptConfig) validate() error {
	if c.ListingPattern == "" {
		return errors.New("listing_pattern is required")
	}
	re, err := regexp.Compile(c.ListingPattern)
	if err != nil {
		return fmt.Errorf("listing_pattern does not compile: %w", err)
	}
	if re.NumSubexp() < 1 {
		return errors.New("listing_pattern needs a conversation-id capture group")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	return nil
}

// ListingRegexp returns the compiled listing pattern. Validate must have
// succeeded first.
func (c *InterceptConfig) ListingRegexp() *regexp.Regexp {
	return regexp.MustCompile(c.ListingPattern)
}
