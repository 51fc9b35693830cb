// Package probe inspects remote media files with ffprobe and decides
// whether a file can be served as-is or needs conversion first.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vodgate/work/config"
	"vodgate/work/logger"
	"vodgate/work/metrics"
	"vodgate/work/remote"
	"vodgate/work/utils"
)

// ErrNotFound is returned when the remote file does not exist.
var ErrNotFound = errors.New("remote file not found")

// ErrUnprobeable is returned when ffprobe cannot parse the file. The
// file exists but its metadata is unknown; serving raw bytes is still
// allowed, compatibility is not.
var ErrUnprobeable = errors.New("file is not probeable as media")

// Metadata is the probed shape of a remote media file.
type Metadata struct {
	SizeBytes       int64   `json:"sizeBytes"`
	DurationSeconds float64 `json:"durationSeconds"`
	Container       string  `json:"container"`
	VideoCodec      string  `json:"videoCodec"`
	AudioCodec      string  `json:"audioCodec"`
	BitrateKbps     int64   `json:"bitrateKbps"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
}

// Verdict is the compatibility decision for a probed file.
type Verdict struct {
	Compatible      bool   `json:"compatible"`
	NeedsConversion bool   `json:"needsConversion"`
	BitrateKbps     int64  `json:"bitrateKbps"`
	CeilingKbps     int64  `json:"ceilingKbps"`
	Reason          string `json:"reason,omitempty"`
}

// FileStat is the size and modification time of a remote file, used
// both for Content-Length resolution and as the probe cache key.
type FileStat struct {
	SizeBytes int64
	ModTime   int64
}

// Prober runs ffprobe on remote hosts and caches the results. All
// remote access goes through the injected Runner.
type Prober struct {
	cfg    *config.Config
	runner remote.Runner
	cache  *metaCache
}

// NewProber creates a Prober. The cache is only allocated when enabled
// in config; a nil cache degrades to probing on every call.
func NewProber(cfg *config.Config, runner remote.Runner) *Prober {
	p := &Prober{
		cfg:    cfg,
		runner: runner,
	}
	if cfg.ProbeCacheEnabled {
		c, err := newMetaCache(cfg.ProbeCacheDuration)
		if err != nil {
			logger.Warn("{probe/probe - NewProber} Probe cache disabled: %v", err)
		} else {
			p.cache = c
		}
	}
	return p
}

// Stat returns the size and mtime of a remote file. A non-zero exit
// from stat is treated as the file not existing.
func (p *Prober) Stat(ctx context.Context, hostID, path string) (FileStat, error) {
	cmd := fmt.Sprintf("stat -c '%%s %%Y' -- %s", utils.ShellQuote(path))
	res, err := p.runner.Run(ctx, hostID, cmd)
	if err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) {
			return FileStat{}, ErrNotFound
		}
		return FileStat{}, err
	}

	var st FileStat
	if _, err := fmt.Sscanf(strings.TrimSpace(res.Stdout), "%d %d", &st.SizeBytes, &st.ModTime); err != nil {
		return FileStat{}, fmt.Errorf("unparseable stat output %q: %w", res.Stdout, err)
	}
	return st, nil
}

// Exists reports whether a remote file exists.
func (p *Prober) Exists(ctx context.Context, hostID, path string) (bool, error) {
	_, err := p.Stat(ctx, hostID, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Probe returns the media metadata for a remote file, consulting the
// cache first. The cache key includes size and mtime so an in-place
// replacement of the file invalidates the stale entry naturally.
func (p *Prober) Probe(ctx context.Context, hostID, path string) (Metadata, error) {
	st, err := p.Stat(ctx, hostID, path)
	if err != nil {
		return Metadata{}, err
	}

	key := cacheKey(hostID, path, st)
	if p.cache != nil {
		if meta, ok := p.cache.get(key); ok {
			metrics.ProbeCacheHits.WithLabelValues("hit").Inc()
			return meta, nil
		}
		metrics.ProbeCacheHits.WithLabelValues("miss").Inc()
	}

	cmd := fmt.Sprintf("ffprobe -v error -print_format json -show_format -show_streams %s", utils.ShellQuote(path))
	res, err := p.runner.Run(ctx, hostID, cmd)
	if err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("{probe/probe - Probe} ffprobe failed for %s: %s", utils.LogPath(p.cfg, path), exitErr.Stderr)
			return Metadata{}, ErrUnprobeable
		}
		return Metadata{}, err
	}

	meta, err := parseFFProbe([]byte(res.Stdout), path)
	if err != nil {
		logger.Debug("{probe/probe - Probe} Unparseable ffprobe output for %s: %v", utils.LogPath(p.cfg, path), err)
		return Metadata{}, ErrUnprobeable
	}
	if meta.SizeBytes == 0 {
		meta.SizeBytes = st.SizeBytes
	}

	if p.cache != nil {
		p.cache.set(key, meta)
	}
	return meta, nil
}

// CheckCompatibility probes a file and decides whether it can be
// served directly. Only mp4 containers at or under ceilingKbps pass;
// everything else needs conversion.
func (p *Prober) CheckCompatibility(ctx context.Context, hostID, path string, ceilingKbps int64) (Verdict, error) {
	v := Verdict{CeilingKbps: ceilingKbps}

	meta, err := p.Probe(ctx, hostID, path)
	if errors.Is(err, ErrUnprobeable) {
		v.NeedsConversion = true
		v.Reason = "unprobeable"
		return v, nil
	}
	if err != nil {
		return Verdict{}, err
	}

	v.BitrateKbps = meta.BitrateKbps
	switch {
	case meta.Container != "mp4":
		v.NeedsConversion = true
		v.Reason = "wrong container"
	case meta.BitrateKbps > ceilingKbps:
		v.NeedsConversion = true
		v.Reason = fmt.Sprintf("bitrate %d kbps exceeds limit of %d kbps", meta.BitrateKbps, ceilingKbps)
	default:
		v.Compatible = true
	}
	return v, nil
}

func cacheKey(hostID, path string, st FileStat) string {
	return fmt.Sprintf("%s|%s|%d|%d", hostID, path, st.SizeBytes, st.ModTime)
}
