package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/assetbuild/internal/builder"
	"git.home.luguber.info/inful/assetbuild/internal/metrics"
	"git.home.luguber.info/inful/assetbuild/internal/version"
)

// Status is the payload of /status.
type Status struct {
	Version   string          `json:"version"`
	StartTime time.Time       `json:"start_time"`
	Uptime    string          `json:"uptime"`
	Running   bool            `json:"running"`
	LastBuild *builder.Report `json:"last_build,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

// Status returns a snapshot of the daemon state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Status{
		Version:   version.Version,
		StartTime: d.startTime,
		Running:   d.running,
		LastBuild: d.last,
	}
	if !d.startTime.IsZero() {
		st.Uptime = time.Since(d.startTime).Round(time.Second).String()
	}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	return st
}

// Handler returns the status API.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Status())
	})
	mux.HandleFunc("GET /builds", d.handleHistory)
	mux.HandleFunc("GET /builds/{id}", d.handleBuild)
	mux.HandleFunc("POST /builds", d.handleTrigger)
	if d.registry != nil {
		mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))
	}
	return mux
}

func (d *Daemon) handleHistory(w http.ResponseWriter, _ *http.Request) {
	if d.history == nil {
		writeError(w, http.StatusNotFound, "build history is disabled")
		return
	}
	writeJSON(w, http.StatusOK, d.history.GetHistory())
}

func (d *Daemon) handleBuild(w http.ResponseWriter, r *http.Request) {
	if d.history == nil {
		writeError(w, http.StatusNotFound, "build history is disabled")
		return
	}
	summary, ok := d.history.GetBuild(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleTrigger starts a build in the background and answers immediately.
func (d *Daemon) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if running {
		writeError(w, http.StatusConflict, ErrBuildRunning.Error())
		return
	}
	go d.runScheduled(d.baseContext(), "http")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

