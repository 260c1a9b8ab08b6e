package config

import (
	"errors"
	"strings"
)

// FileIDPlaceholder is substituted with the file reference id in the lookup
// URL template.
const FileIDPlaceholder = "{file_id}"

// ResolveConfig controls authenticated file-reference lookups.
type ResolveConfig struct {
	// LookupURLTemplate is the lookup endpoint with a {file_id} placeholder.
	// The endpoint must answer with JSON {"url": "<http(s) locator>"}.
	LookupURLTemplate string `yaml:"lookup_url_template"`

	// CooldownMs is how long a failed file id is barred from re-lookup.
	CooldownMs int `yaml:"cooldown_ms"`

	// TimeoutMs bounds one lookup round trip.
	TimeoutMs int `yaml:"timeout_ms"`
}

func (c *ResolveConfig) validate() error {
	if !strings.Contains(c.LookupURLTemplate, FileIDPlaceholder) {
		return errors.New("lookup_url_template must contain " + FileIDPlaceholder)
	}
	return nil
}

// LookupURL substitutes the file id into the template.
func (c *ResolveConfig) LookupURL(fileID string) string {
	return strings.ReplaceAll(c.LookupURLTemplate, FileIDPlaceholder, fileID)
}
