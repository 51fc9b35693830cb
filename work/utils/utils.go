package utils

import (
	"fmt"
	"path"
	"strings"

	"vodgate/work/config"
)

// LogPath returns either the original remote path or an obfuscated
// version for logging, depending on configuration.
func LogPath(cfg *config.Config, p string) string {
	if cfg.ObfuscatePaths {
		return ObfuscatePath(p)
	}
	return p
}

// ObfuscatePath masks the directory portion of a remote path, keeping
// only the filename visible.
//
// Example:
//
//	Input:  "/content/vod/alice/folder1/movie.mp4"
//	Output: ".../movie.mp4"
func ObfuscatePath(p string) string {
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return "***"
	}
	return ".../" + base
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ShellQuote wraps a string in single quotes, escaping any embedded
// single quotes, so it is safe to interpolate into a remote shell
// command line. Every caller-influenced path passed to a remote host
// must go through this.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
