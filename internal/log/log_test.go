package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetupWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	flush := Setup(Options{Level: LevelInfo, File: path, MaxSizeMB: 1})
	t.Cleanup(func() { Setup(Options{}) })

	Debug("hidden debug entry")
	Info("timetable refreshed", "events", 3)
	Error("fetch failed", errors.New("boom"), "identifier", "E1810")
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "timetable refreshed")
	assert.Contains(t, out, "events")
	assert.Contains(t, out, "boom")
	assert.NotContains(t, out, "hidden debug entry")
}

func TestSetLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	flush := Setup(Options{Level: LevelError, File: path})
	t.Cleanup(func() { Setup(Options{}) })

	Warn("skipped warning")
	Error("kept error", nil)
	flush()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "skipped warning")
	assert.Contains(t, string(data), "kept error")
}
