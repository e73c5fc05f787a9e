package http

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/camloop/pipeline"
)

type StatsProvider interface {
	Stats() pipeline.Stats
}

type Snapshotter interface {
	Snapshot() (*Snapshot, error)
}

type APIOption func(*API)

func APILogger(logger *slog.Logger) APIOption {
	return func(a *API) {
		a.logger = logger
	}
}

// RefreshInterval sets how often the index page reloads the snapshot.
func RefreshInterval(d time.Duration) APIOption {
	return func(a *API) {
		a.refresh = d
	}
}

type API struct {
	logger    *slog.Logger
	stats     StatsProvider
	snapshots Snapshotter
	refresh   time.Duration
	index     *template.Template
}

func NewAPI(stats StatsProvider, snapshots Snapshotter, opts ...APIOption) *API {
	a := &API{
		logger:    slog.Default(),
		stats:     stats,
		snapshots: snapshots,
		refresh:   time.Second,
		index:     template.Must(template.New("index").Parse(indexTemplate)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) RegisterRoutes(mux *httprouter.Router) {
	mux.HandlerFunc("GET", "/", a.Index)
	mux.HandlerFunc("GET", "/api/v1/stats", a.GetStats)
	mux.HandlerFunc("GET", "/api/v1/snapshot", a.GetSnapshot)
}

func (a *API) GetStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		http.Error(w, "no pipeline", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a.stats.Stats()); err != nil {
		a.logger.Error("failed to write stats", "error", err)
	}
}

func (a *API) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.snapshots == nil {
		http.Error(w, "no snapshot sink", http.StatusNotFound)
		return
	}
	s, err := a.snapshots.Snapshot()
	if errors.Is(err, ErrNoSnapshot) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		a.logger.Error("failed to encode snapshot", "error", err)
		http.Error(w, "failed to encode snapshot", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Timestamp", strconv.FormatFloat(s.Timestamp, 'f', -1, 64))
	w.Header().Set("Last-Modified", s.Painted.UTC().Format(http.TimeFormat))
	if _, err := w.Write(s.JPEG); err != nil {
		a.logger.Error("failed to write snapshot", "error", err)
	}
}

func (a *API) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := a.index.Execute(w, map[string]any{
		"RefreshMillis": a.refresh.Milliseconds(),
	})
	if err != nil {
		a.logger.Error("failed to render index", "error", err)
	}
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>camloop</title></head>
<body>
<img id="snapshot" src="/api/v1/snapshot" alt="waiting for first frame">
<pre id="stats"></pre>
<script>
setInterval(async () => {
	document.getElementById("snapshot").src = "/api/v1/snapshot?t=" + Date.now();
	const res = await fetch("/api/v1/stats");
	if (res.ok) {
		document.getElementById("stats").textContent = await res.text();
	}
}, {{.RefreshMillis}});
</script>
</body>
</html>
`
