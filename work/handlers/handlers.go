// Package handlers wires the HTTP surface: every endpoint follows the
// same authenticate, resolve, act pipeline, with errors reported as a
// JSON envelope and mapped onto the usual status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"vodgate/work/auth"
	"vodgate/work/config"
	"vodgate/work/convert"
	"vodgate/work/database"
	"vodgate/work/jobs"
	"vodgate/work/logger"
	"vodgate/work/probe"
	"vodgate/work/remote"
	"vodgate/work/resolve"
	"vodgate/work/stream"
	"vodgate/work/utils"
)

// Gateway bundles every collaborator the endpoints need. main builds
// one and hands it to the route registrations.
type Gateway struct {
	Config    *config.Config
	Runner    remote.Runner
	Verifier  auth.Verifier
	Resolver  *resolve.Resolver
	Prober    *probe.Prober
	Engine    *convert.Engine
	Streamer  *stream.Streamer
	Tracker   *jobs.Tracker
	DB        *database.DB
	StartTime time.Time
}

// writeJSON writes v as a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("{handlers/handlers - writeJSON} Failed to encode response: %v", err)
	}
}

// writeError writes the JSON error envelope shared by all endpoints.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// authorize authenticates the request and resolves its video id into
// an absolute remote path plus the host serving that namespace. On
// failure the response has already been written and ok is false.
func (g *Gateway) authorize(w http.ResponseWriter, r *http.Request) (auth.Identity, string, string, bool) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return auth.Identity{}, "", "", false
	}

	identity, err := g.Verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid bearer token")
		return auth.Identity{}, "", "", false
	}

	filePath, err := g.Resolver.Resolve(identity, mux.Vars(r)["videoId"])
	switch {
	case errors.Is(err, resolve.ErrBadID):
		writeError(w, http.StatusBadRequest, "malformed video id")
		return auth.Identity{}, "", "", false
	case errors.Is(err, resolve.ErrForbidden):
		writeError(w, http.StatusForbidden, "access to this path is not allowed")
		return auth.Identity{}, "", "", false
	case err != nil:
		writeError(w, http.StatusBadRequest, "unresolvable video id")
		return auth.Identity{}, "", "", false
	}

	hostID := g.Config.HostForNamespace(identity.Namespace)
	if hostID == "" {
		writeError(w, http.StatusInternalServerError, "no host configured for namespace")
		return auth.Identity{}, "", "", false
	}

	return identity, filePath, hostID, true
}

// HandleStream serves the video bytes, honoring Range requests. When
// the source needs conversion and a converted derivative exists, the
// derivative is served instead; otherwise conversion is queued in the
// background and the original bytes go out as-is.
func HandleStream(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, filePath, hostID, ok := g.authorize(w, r)
		if !ok {
			return
		}

		servePath, size, ok := g.pickServablePath(w, r, identity, filePath, hostID)
		if !ok {
			return
		}

		window, err := stream.ParseRange(r.Header.Get("Range"), size)
		if errors.Is(err, stream.ErrUnsatisfiable) {
			// 416 answers with the total size header only, no body.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		if r.Method == http.MethodHead {
			stream.WriteHeaders(w.Header(), servePath, size, window)
			if window != nil {
				w.WriteHeader(http.StatusPartialContent)
			} else {
				w.WriteHeader(http.StatusOK)
			}
			return
		}

		if err := g.Streamer.Serve(w, r, hostID, servePath, size, window); err != nil {
			logger.Warn("{handlers/handlers - HandleStream} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read from remote host")
		}
	}
}

// pickServablePath decides which file actually goes over the wire for
// a stream request and returns its size. Incompatible sources fall
// back to their converted derivative when one exists; when it does
// not, a background conversion is queued for next time.
func (g *Gateway) pickServablePath(w http.ResponseWriter, r *http.Request, identity auth.Identity, filePath, hostID string) (string, int64, bool) {
	st, err := g.Prober.Stat(r.Context(), hostID, filePath)
	if errors.Is(err, probe.ErrNotFound) {
		writeError(w, http.StatusNotFound, "video not found")
		return "", 0, false
	}
	if err != nil {
		logger.Warn("{handlers/handlers - pickServablePath} Stat of %s failed: %v", utils.LogPath(g.Config, filePath), err)
		writeError(w, http.StatusInternalServerError, "remote host unavailable")
		return "", 0, false
	}
	if st.SizeBytes == 0 {
		// An empty file is indistinguishable from a missing one for a
		// byte-range consumer.
		writeError(w, http.StatusNotFound, "video not found")
		return "", 0, false
	}

	verdict, err := g.Prober.CheckCompatibility(r.Context(), hostID, filePath, g.Config.BitrateCeilingKbps)
	if err != nil || verdict.Compatible {
		// Probe transport errors don't block serving raw bytes.
		return filePath, st.SizeBytes, true
	}

	target := g.Engine.TargetPath(filePath)
	if tst, err := g.Prober.Stat(r.Context(), hostID, target); err == nil {
		return target, tst.SizeBytes, true
	}

	g.queueConversion(identity, hostID, filePath)
	return filePath, st.SizeBytes, true
}

// queueConversion submits a background transcode, relying on the
// engine's single-flight and remote lock to collapse duplicates.
func (g *Gateway) queueConversion(identity auth.Identity, hostID, filePath string) {
	target := g.Engine.TargetPath(filePath)
	_, err := g.Tracker.Submit("convert", hostID, filePath, target, identity.Subject, func(ctx context.Context) error {
		_, err := g.Engine.Convert(ctx, hostID, filePath, convert.Params{})
		if errors.Is(err, convert.ErrInProgress) {
			return nil
		}
		return err
	})
	if err != nil {
		logger.Warn("{handlers/handlers - queueConversion} Could not queue conversion of %s: %v", utils.LogPath(g.Config, filePath), err)
	}
}

// infoResponse is the payload of the info endpoint.
type infoResponse struct {
	VideoID  string          `json:"videoId"`
	Host     string          `json:"host"`
	Metadata *probe.Metadata `json:"metadata,omitempty"`
	Verdict  probe.Verdict   `json:"verdict"`
	Stream   string          `json:"streamUrl"`
}

// HandleInfo probes the file and reports its metadata together with
// the compatibility verdict.
func HandleInfo(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, filePath, hostID, ok := g.authorize(w, r)
		if !ok {
			return
		}

		videoID := mux.Vars(r)["videoId"]
		resp := infoResponse{
			VideoID: videoID,
			Host:    hostID,
			Stream:  fmt.Sprintf("%s/stream/%s", g.Config.BaseURL, videoID),
		}

		meta, err := g.Prober.Probe(r.Context(), hostID, filePath)
		switch {
		case errors.Is(err, probe.ErrNotFound):
			writeError(w, http.StatusNotFound, "video not found")
			return
		case errors.Is(err, probe.ErrUnprobeable):
			// Still a valid answer: the file exists but is opaque.
		case err != nil:
			logger.Warn("{handlers/handlers - HandleInfo} Probe of %s failed: %v", utils.LogPath(g.Config, filePath), err)
			writeError(w, http.StatusInternalServerError, "remote host unavailable")
			return
		default:
			resp.Metadata = &meta
		}

		verdict, err := g.Prober.CheckCompatibility(r.Context(), hostID, filePath, g.Config.BitrateCeilingKbps)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "remote host unavailable")
			return
		}
		resp.Verdict = verdict

		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleConvert queues a transcode of the source into its web-ready
// derivative. The optional JSON body overrides the configured
// bitrate, resolution, and quality. Idempotent: an already converted
// file answers immediately without queueing anything.
func HandleConvert(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, filePath, hostID, ok := g.authorize(w, r)
		if !ok {
			return
		}

		var params convert.Params
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				writeError(w, http.StatusBadRequest, "malformed request body")
				return
			}
		}

		exists, err := g.Prober.Exists(r.Context(), hostID, filePath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "remote host unavailable")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}

		target := g.Engine.TargetPath(filePath)
		if done, err := g.Prober.Exists(r.Context(), hostID, target); err == nil && done {
			writeJSON(w, http.StatusOK, convert.Result{TargetPath: target, AlreadyExists: true})
			return
		}

		job, err := g.Tracker.Submit("convert", hostID, filePath, target, identity.Subject, func(ctx context.Context) error {
			_, err := g.Engine.Convert(ctx, hostID, filePath, params)
			return err
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "conversion queue is full")
			return
		}

		writeJSON(w, http.StatusAccepted, job)
	}
}

// parseTimeOffset converts a capture offset into whole seconds. Both a
// plain second count and the HH:MM:SS form are accepted.
func parseTimeOffset(raw string) (int, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time offset %q", raw)
		}
		return n, nil
	case 3:
		total := 0
		for i, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || (i > 0 && n > 59) {
				return 0, fmt.Errorf("invalid time offset %q", raw)
			}
			total = total*60 + n
		}
		return total, nil
	default:
		return 0, fmt.Errorf("invalid time offset %q", raw)
	}
}

// HandleThumbnail captures (or reuses) a poster frame and serves it.
// The optional time query selects the capture offset, either as plain
// seconds or as HH:MM:SS.
func HandleThumbnail(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, filePath, hostID, ok := g.authorize(w, r)
		if !ok {
			return
		}

		atSeconds := 10
		if raw := r.URL.Query().Get("time"); raw != "" {
			n, err := parseTimeOffset(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid time parameter")
				return
			}
			atSeconds = n
		}

		exists, err := g.Prober.Exists(r.Context(), hostID, filePath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "remote host unavailable")
			return
		}
		if !exists {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}

		thumb, err := g.Engine.GenerateThumbnail(r.Context(), hostID, filePath, atSeconds)
		if err != nil {
			logger.Warn("{handlers/handlers - HandleThumbnail} Thumbnail of %s failed: %v", utils.LogPath(g.Config, filePath), err)
			writeError(w, http.StatusInternalServerError, "thumbnail generation failed")
			return
		}

		st, err := g.Prober.Stat(r.Context(), hostID, thumb)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "remote host unavailable")
			return
		}

		if err := g.Streamer.Serve(w, r, hostID, thumb, st.SizeBytes, nil); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read from remote host")
		}
	}
}

// HandleJob reports the state of a background job.
func HandleJob(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := auth.TokenFromRequest(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := g.Verifier.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		job, ok := g.Tracker.Get(mux.Vars(r)["id"])
		if !ok {
			writeError(w, http.StatusNotFound, "unknown job id")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// HandleHealthz is the unauthenticated liveness probe.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleOptions answers CORS preflights for the media endpoints.
func HandleOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Range, Authorization, Content-Type")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
	}
}
