package config

// BrowserConfig controls how inlay reaches the browser that renders the
// conversation log page.
type BrowserConfig struct {
	// DebuggerURL is the DevTools websocket URL of an already-running
	// browser. When empty and Launch is set, inlay launches its own.
	DebuggerURL string `yaml:"debugger_url"`

	// Launch is the browser binary followed by extra flags, used only when
	// DebuggerURL is empty.
	Launch []string `yaml:"launch"`

	Headless            bool `yaml:"headless"`
	ViewportWidth       int  `yaml:"viewport_width"`
	ViewportHeight      int  `yaml:"viewport_height"`
	NavigationTimeoutMs int  `yaml:"navigation_timeout_ms"`

	// PagePattern is a substring that selects the conversation-log tab among
	// the browser's open pages.
	PagePattern string `yaml:"page_pattern"`
}
