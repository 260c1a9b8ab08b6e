package logging

import (
	"testing"

	"github.com/stretchr/testify/require"

	"inlay/internal/config"
)

func TestGetBeforeInitIsNop(t *testing.T) {
	l := Get(CategoryEngine)
	require.NotNil(t, l)
	// Must not panic.
	l.Info("pre-init message goes nowhere")
}

func TestInitAndGet(t *testing.T) {
	err := Init(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)

	a := Get(CategoryResolve)
	b := Get(CategoryResolve)
	require.Same(t, a, b, "category loggers are cached")

	c := Get(CategoryIntercept)
	require.NotSame(t, a, c)
}

func TestInitBadLevelFallsBack(t *testing.T) {
	err := Init(config.LoggingConfig{Level: "shouting", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, Get(CategoryBoot))
}

func TestVerboseTracksDebug(t *testing.T) {
	require.NoError(t, Init(config.LoggingConfig{Level: "info", Debug: true}))
	require.True(t, Verbose())

	require.NoError(t, Init(config.LoggingConfig{Level: "info"}))
	require.False(t, Verbose())
}
