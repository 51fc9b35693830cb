package handlers

import (
	"net/http"
	"time"

	"vodgate/work/auth"
	"vodgate/work/logger"
)

// HandleStats reports runtime counters for operators: uptime, worker
// pool occupancy, job states and database size. Token-protected like
// the media endpoints.
func HandleStats(g *Gateway) http.HandlerFunc {
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

		stats := map[string]interface{}{
			"uptime_seconds": int64(time.Since(g.StartTime).Seconds()),
			"log_level":      logger.GetLevel(),
			"hosts":          len(g.Config.Hosts),
			"content_root":   g.Config.ContentRoot,
			"worker_threads": g.Config.WorkerThreads,
		}

		if g.Tracker != nil {
			stats["jobs"] = g.Tracker.Stats()
		}

		if g.DB != nil {
			if dbStats, err := g.DB.GetStats(); err == nil {
				stats["database"] = dbStats
			} else {
				logger.Warn("{handlers/stats - HandleStats} Failed to read database stats: %v", err)
			}
		}

		writeJSON(w, http.StatusOK, stats)
	}
}
