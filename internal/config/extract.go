package config

import "errors"

// ExtractConfig toggles the candidate extraction rules. The literal
// URL-embedded rule has no toggle: it is always active.
type ExtractConfig struct {
	// MarkdownImages extracts inline markdown image links from text blocks.
	MarkdownImages bool `yaml:"markdown_images"`

	// FileImages extracts image-by-file-reference blocks (needs lookups).
	FileImages bool `yaml:"file_images"`

	// PlaceholderImages runs the placeholder-marker proximity heuristic.
	PlaceholderImages bool `yaml:"placeholder_images"`

	// PlaceholderMarker is the token, matched case-insensitively, that
	// triggers the proximity search. Best-effort: markers carry no
	// back-reference to the image they describe.
	PlaceholderMarker string `yaml:"placeholder_marker"`

	// ProximityWindow is how many messages before/after a marker are
	// searched for an image-bearing message.
	ProximityWindow int `yaml:"proximity_window"`
}

func (c *ExtractConfig) validate() error {
	if c.PlaceholderImages && c.PlaceholderMarker == "" {
		return errors.New("placeholder_marker required when placeholder_images is on")
	}
	if c.ProximityWindow < 0 {
		return errors.New("proximity_window must not be negative")
	}
	return nil
}
