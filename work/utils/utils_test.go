package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vodgate/work/config"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", ShellQuote(""))
	assert.Equal(t, "'/content/alice/film.mp4'", ShellQuote("/content/alice/film.mp4"))
	assert.Equal(t, `'it'\''s here.mp4'`, ShellQuote("it's here.mp4"))
	assert.Equal(t, "'a; rm -rf /'", ShellQuote("a; rm -rf /"))
	assert.Equal(t, "'$(whoami).mp4'", ShellQuote("$(whoami).mp4"))
}

func TestObfuscatePath(t *testing.T) {
	assert.Equal(t, ".../movie.mp4", ObfuscatePath("/content/vod/alice/folder1/movie.mp4"))
	assert.Equal(t, ".../movie.mp4", ObfuscatePath("movie.mp4"))
	assert.Equal(t, "", ObfuscatePath(""))
	assert.Equal(t, "***", ObfuscatePath("/"))
}

func TestLogPath(t *testing.T) {
	p := "/content/alice/movie.mp4"
	assert.Equal(t, p, LogPath(&config.Config{}, p))
	assert.Equal(t, ".../movie.mp4", LogPath(&config.Config{ObfuscatePaths: true}, p))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "5.0 MB", FormatBytes(5*1024*1024))
	assert.Equal(t, "1.0 GB", FormatBytes(1<<30))
}
