package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestPreviewN(t *testing.T) {
	assert.Equal(t, "short", PreviewN("short", 10))
	assert.Equal(t, "abcde...", PreviewN("abcdefghij", 5))
	assert.Equal(t, "a b c", PreviewN("a\n b\t c", 10))
	assert.Equal(t, "日本...", PreviewN("日本語テキスト", 2))
}

func TestPreview_BoundsLongText(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := Preview(long)
	assert.Len(t, []rune(got), defaultPreviewRunes+3)
}

func TestNew_FileOutputJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "bot.log")
	logger, closer, err := New(Options{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	Component(logger, "Test").Info("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"Test"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestComponent_NilBase(t *testing.T) {
	assert.NotNil(t, Component(nil, "x"))
}
