package config

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Debug  bool   `yaml:"debug"`  // shortcut for level=debug plus verbose tap logging
}
