// Package convert runs ffmpeg on remote hosts to produce web-ready
// derivatives of source files: transcoded mp4s and poster thumbnails.
// Conversion is idempotent; an existing target is never re-encoded.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"vodgate/work/config"
	"vodgate/work/logger"
	"vodgate/work/metrics"
	"vodgate/work/remote"
	"vodgate/work/utils"
)

// Deadlines for the ffmpeg runs themselves. Everything else in this
// package (stat, lock, rename) uses the short command timeout from
// configuration.
const (
	maxTranscodeTime = 6 * time.Hour
	maxThumbnailTime = 5 * time.Minute
)

// ErrInProgress is returned when another process already holds the
// remote lock for the same target. Callers should retry later rather
// than queue a duplicate transcode.
var ErrInProgress = errors.New("conversion already in progress elsewhere")

// ConversionError reports a failed ffmpeg run with the remote stderr
// preserved. Failed conversions are never retried automatically; the
// stderr exists so an operator can see why.
type ConversionError struct {
	HostID string
	Target string
	Stderr string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %s on %s failed: %s", e.Target, e.HostID, e.Stderr)
}

// Params carries per-request overrides for the transcode command. A
// zero field falls back to the configured conversion default.
type Params struct {
	BitrateKbps int64  `json:"bitrate"`
	Resolution  string `json:"resolution"`
	Quality     string `json:"quality"`
}

// Result describes the outcome of a conversion request.
type Result struct {
	TargetPath    string `json:"targetPath"`
	AlreadyExists bool   `json:"alreadyExists"`
}

// call is the shared state of an in-flight conversion: the winner
// closes done and fills in the result, losers wait and read it.
type call struct {
	done chan struct{}
	res  Result
	err  error
}

// Engine runs conversions. One Engine serves all hosts; per-host
// transcode slots keep a burst of requests from saturating a host's
// CPU with parallel ffmpeg runs.
type Engine struct {
	cfg      *config.Config
	runner   remote.Runner
	inFlight *xsync.MapOf[string, *call]
	slots    *xsync.MapOf[string, chan struct{}]
}

// NewEngine creates an Engine over the given runner.
func NewEngine(cfg *config.Config, runner remote.Runner) *Engine {
	return &Engine{
		cfg:      cfg,
		runner:   runner,
		inFlight: xsync.NewMapOf[string, *call](),
		slots:    xsync.NewMapOf[string, chan struct{}](),
	}
}

// TargetPath returns the derived mp4 path for a source file: the
// configured suffix is appended to the base name and the extension is
// replaced with .mp4.
func (e *Engine) TargetPath(src string) string {
	ext := path.Ext(src)
	return strings.TrimSuffix(src, ext) + e.cfg.Conversion.TargetSuffix + ".mp4"
}

// ThumbnailPath returns the derived jpeg path for a source file at a
// given capture offset, so thumbnails at different offsets coexist.
func (e *Engine) ThumbnailPath(src string, atSeconds int) string {
	ext := path.Ext(src)
	return fmt.Sprintf("%s_thumb_%d.jpg", strings.TrimSuffix(src, ext), atSeconds)
}

// Convert transcodes src into its target mp4 on the remote host. If
// the target already exists Convert returns immediately with
// AlreadyExists set; if another goroutine is converting the same
// target the call waits for and shares that result.
func (e *Engine) Convert(ctx context.Context, hostID, src string, params Params) (Result, error) {
	target := e.TargetPath(src)
	key := hostID + "|" + target

	c, loaded := e.inFlight.LoadOrCompute(key, func() *call {
		return &call{done: make(chan struct{})}
	})
	if loaded {
		logger.Debug("{convert/convert - Convert} Joining in-flight conversion for %s", utils.LogPath(e.cfg, target))
		select {
		case <-c.done:
			return c.res, c.err
		case <-ctx.Done():
			return Result{TargetPath: target}, ctx.Err()
		}
	}

	defer func() {
		e.inFlight.Delete(key)
		close(c.done)
	}()

	c.res, c.err = e.run(ctx, hostID, src, target, params)
	return c.res, c.err
}

// run performs one conversion attempt. It holds a host transcode slot
// and the remote lock directory for the duration of the ffmpeg run.
func (e *Engine) run(ctx context.Context, hostID, src, target string, params Params) (Result, error) {
	res := Result{TargetPath: target}

	exists, err := e.targetExists(ctx, hostID, target)
	if err != nil {
		return res, err
	}
	if exists {
		metrics.Conversions.WithLabelValues(hostID, "already_exists").Inc()
		res.AlreadyExists = true
		return res, nil
	}

	release, err := e.acquireSlot(ctx, hostID)
	if err != nil {
		return res, err
	}
	defer release()

	// The lock directory guards against a second gateway instance
	// converting the same target. mkdir is atomic on the remote side.
	lockDir := target + ".lock"
	if _, err := e.runner.Run(ctx, hostID, "mkdir "+utils.ShellQuote(lockDir)); err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) {
			return res, ErrInProgress
		}
		return res, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), e.cfg.RunTimeout)
		defer cancel()
		if _, err := e.runner.Run(cleanupCtx, hostID, "rmdir "+utils.ShellQuote(lockDir)); err != nil {
			logger.Warn("{convert/convert - run} Failed to remove lock %s on %s: %v", utils.LogPath(e.cfg, lockDir), hostID, err)
		}
	}()

	// Re-check under the lock: the target may have appeared while we
	// were waiting for a transcode slot.
	exists, err = e.targetExists(ctx, hostID, target)
	if err != nil {
		return res, err
	}
	if exists {
		metrics.Conversions.WithLabelValues(hostID, "already_exists").Inc()
		res.AlreadyExists = true
		return res, nil
	}

	logger.Info("{convert/convert - run} Converting %s on %s", utils.LogPath(e.cfg, src), hostID)

	// Encode into a partial file and move it into place so a crashed
	// run never leaves a half-written target behind.
	partial := target + ".part"
	cmd := e.ffmpegCommand(src, partial, params) +
		" && mv " + utils.ShellQuote(partial) + " " + utils.ShellQuote(target) +
		" && chmod 644 " + utils.ShellQuote(target)

	encodeCtx, cancel := context.WithTimeout(ctx, maxTranscodeTime)
	defer cancel()
	if _, err := e.runner.Run(encodeCtx, hostID, cmd); err != nil {
		metrics.Conversions.WithLabelValues(hostID, "error").Inc()
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) {
			return res, &ConversionError{HostID: hostID, Target: target, Stderr: exitErr.Stderr}
		}
		return res, err
	}

	metrics.Conversions.WithLabelValues(hostID, "done").Inc()
	logger.Info("{convert/convert - run} Finished converting %s on %s", utils.LogPath(e.cfg, target), hostID)
	return res, nil
}

// GenerateThumbnail captures a single frame from src at the given
// offset as a jpeg. Idempotent per (src, offset).
func (e *Engine) GenerateThumbnail(ctx context.Context, hostID, src string, atSeconds int) (string, error) {
	thumb := e.ThumbnailPath(src, atSeconds)

	exists, err := e.targetExists(ctx, hostID, thumb)
	if err != nil {
		return "", err
	}
	if exists {
		return thumb, nil
	}

	cmd := fmt.Sprintf("ffmpeg -nostdin -v error -ss %d -i %s -frames:v 1 -s %s -y %s && chmod 644 %s",
		atSeconds,
		utils.ShellQuote(src),
		e.cfg.Conversion.ThumbnailSize,
		utils.ShellQuote(thumb),
		utils.ShellQuote(thumb))

	thumbCtx, cancel := context.WithTimeout(ctx, maxThumbnailTime)
	defer cancel()
	if _, err := e.runner.Run(thumbCtx, hostID, cmd); err != nil {
		var exitErr *remote.ExitError
		if errors.As(err, &exitErr) {
			return "", &ConversionError{HostID: hostID, Target: thumb, Stderr: exitErr.Stderr}
		}
		return "", err
	}
	return thumb, nil
}

// ffmpegCommand builds the transcode command line, filling any unset
// params from the configured conversion defaults.
func (e *Engine) ffmpegCommand(src, dst string, params Params) string {
	cc := e.cfg.Conversion
	if params.BitrateKbps <= 0 {
		params.BitrateKbps = cc.BitrateKbps
	}
	if params.Resolution == "" {
		params.Resolution = cc.Resolution
	}
	if params.Quality == "" {
		params.Quality = cc.Quality
	}
	return fmt.Sprintf("ffmpeg -nostdin -v error -i %s -c:v libx264 -preset %s -b:v %dk -s %s -c:a aac -movflags +faststart -y %s",
		utils.ShellQuote(src),
		params.Quality,
		params.BitrateKbps,
		params.Resolution,
		utils.ShellQuote(dst))
}

// targetExists checks for the file on the remote host. test -f exits
// 1 for a missing file, which is not an error here.
func (e *Engine) targetExists(ctx context.Context, hostID, target string) (bool, error) {
	_, err := e.runner.Run(ctx, hostID, "test -f "+utils.ShellQuote(target))
	if err == nil {
		return true, nil
	}
	var exitErr *remote.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// acquireSlot blocks until a transcode slot for the host is free.
func (e *Engine) acquireSlot(ctx context.Context, hostID string) (func(), error) {
	max := 2
	if hc := e.cfg.GetHost(hostID); hc != nil && hc.MaxConversions > 0 {
		max = hc.MaxConversions
	}
	sem, _ := e.slots.LoadOrCompute(hostID, func() chan struct{} {
		return make(chan struct{}, max)
	})

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
