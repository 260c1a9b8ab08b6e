package config

// RenderConfig controls injected artifact sizing.
type RenderConfig struct {
	MaxWidthPx   int  `yaml:"max_width_px"`
	MaxHeightPx  int  `yaml:"max_height_px"`
	ShowCaptions bool `yaml:"show_captions"`
}
