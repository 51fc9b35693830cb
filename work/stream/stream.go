// Package stream delivers remote file bytes into HTTP responses. The
// file never touches local disk: a remote cat or dd pipeline feeds
// the response body directly, with flow control handled by SSH
// channel backpressure.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"vodgate/work/buffer"
	"vodgate/work/config"
	"vodgate/work/logger"
	"vodgate/work/metrics"
	"vodgate/work/remote"
	"vodgate/work/utils"
)

// Streamer copies remote file windows into HTTP responses.
type Streamer struct {
	cfg    *config.Config
	runner remote.Runner
	pool   *buffer.Pool
}

// NewStreamer creates a Streamer sharing the process-wide buffer pool.
func NewStreamer(cfg *config.Config, runner remote.Runner, pool *buffer.Pool) *Streamer {
	return &Streamer{
		cfg:    cfg,
		runner: runner,
		pool:   pool,
	}
}

// WriteHeaders sets the response headers for a transfer without
// writing a status code. Used directly for HEAD requests.
func WriteHeaders(h http.Header, filePath string, size int64, w *Window) {
	h.Set("Content-Type", ContentTypeFor(filePath))
	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", CacheControlFor(filePath))
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Range, Authorization")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges")

	if w != nil {
		h.Set("Content-Range", w.ContentRange(size))
		h.Set("Content-Length", strconv.FormatInt(w.Length, 10))
	} else {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
}

// Serve streams a file window into the response. A nil window means
// the whole file. The remote pipeline is opened before any header is
// written, so open failures can still produce a clean error response;
// Serve returns a non-nil error only in that pre-header phase. After
// headers are out, failures terminate the connection and are reported
// through logs and metrics alone.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, hostID, filePath string, size int64, window *Window) error {
	cmd := BuildReadCommand(filePath, window, s.cfg.SmallWindowBytes)

	rc, err := s.runner.OpenStream(r.Context(), hostID, cmd)
	if err != nil {
		metrics.StreamErrors.WithLabelValues(hostID, "remote").Inc()
		return fmt.Errorf("failed to open remote read for %s: %w", utils.LogPath(s.cfg, filePath), err)
	}
	defer rc.Close()

	expected := size
	kind := "full"
	status := http.StatusOK
	if window != nil {
		expected = window.Length
		kind = "range"
		status = http.StatusPartialContent
	}

	WriteHeaders(w.Header(), filePath, size, window)
	w.WriteHeader(status)

	metrics.ActiveStreams.WithLabelValues(hostID).Inc()
	defer metrics.ActiveStreams.WithLabelValues(hostID).Dec()

	logger.Debug("{stream/stream - Serve} Streaming %s bytes of %s from %s (%s)",
		utils.FormatBytes(expected), utils.LogPath(s.cfg, filePath), hostID, kind)

	written, err := s.copyLoop(r.Context(), w, rc, hostID, expected)

	metrics.BytesStreamed.WithLabelValues(hostID, kind).Add(float64(written))

	switch {
	case err == nil:
		logger.Debug("{stream/stream - Serve} Completed %s transfer of %s (%s written)",
			kind, utils.LogPath(s.cfg, filePath), utils.FormatBytes(written))
	case isClientGone(err):
		metrics.StreamErrors.WithLabelValues(hostID, "aborted").Inc()
		logger.Debug("{stream/stream - Serve} Client left during %s after %s", utils.LogPath(s.cfg, filePath), utils.FormatBytes(written))
	case errors.Is(err, errStreamTimeout):
		metrics.StreamErrors.WithLabelValues(hostID, "timeout").Inc()
		logger.Warn("{stream/stream - Serve} Transfer of %s timed out after %s", utils.LogPath(s.cfg, filePath), utils.FormatBytes(written))
	default:
		metrics.StreamErrors.WithLabelValues(hostID, "remote").Inc()
		logger.Warn("{stream/stream - Serve} Transfer of %s failed after %s: %v", utils.LogPath(s.cfg, filePath), utils.FormatBytes(written), err)
	}
	return nil
}

// errStreamTimeout marks a transfer killed by the idle or total
// timeout watchdog.
var errStreamTimeout = errors.New("stream watchdog fired")

// copyLoop pumps remote stdout into the client until expected bytes
// have moved. Two watchdogs guard the loop: an idle timer that resets
// on every read, and a total budget scaled to the window size with a
// configured floor so huge files are not cut off by a fixed cap.
func (s *Streamer) copyLoop(ctx context.Context, w http.ResponseWriter, rc io.ReadCloser, hostID string, expected int64) (int64, error) {
	flusher, _ := w.(http.Flusher)

	total := time.Duration(expected/(s.cfg.StreamMinRateKBs*1024)) * time.Second
	if total < s.cfg.StreamMinTimeout {
		total = s.cfg.StreamMinTimeout
	}
	deadline := time.Now().Add(total)

	// The watchdog closes the remote stream, which unblocks the
	// reader with an error. timedOut disambiguates that error from a
	// genuine remote failure.
	var timedOut atomic.Bool
	idle := time.AfterFunc(s.cfg.StreamIdleTimeout, func() {
		timedOut.Store(true)
		rc.Close()
	})
	defer idle.Stop()

	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	var written int64
	for written < expected {
		chunk := buf.B
		if remain := expected - written; remain < int64(len(chunk)) {
			chunk = chunk[:remain]
		}

		n, readErr := rc.Read(chunk)
		if n > 0 {
			idle.Reset(s.cfg.StreamIdleTimeout)
			if time.Now().After(deadline) {
				return written, errStreamTimeout
			}

			if _, writeErr := w.Write(chunk[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if written < expected {
					return written, fmt.Errorf("remote read ended %s short", utils.FormatBytes(expected-written))
				}
				return written, nil
			}
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			if timedOut.Load() {
				return written, errStreamTimeout
			}
			return written, readErr
		}
	}
	return written, nil
}

// isClientGone reports whether an error means the client went away
// rather than anything failing on our side.
func isClientGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "client disconnected")
}
