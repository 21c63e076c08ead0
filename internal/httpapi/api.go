package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"citykey.org/internal/access"
	"citykey.org/internal/audit"
	"citykey.org/internal/obs"
	"citykey.org/internal/session"
	"citykey.org/internal/stream"
)

// ReadyProbe reports whether the service can take traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	engine     *access.Engine
	store      access.Store
	sessions   *session.Service
	recorder   *audit.Recorder
	hub        *stream.Hub
	readyProbe ReadyProbe
	version    string
}

// Config carries the API's collaborators.
type Config struct {
	Engine     *access.Engine
	Store      access.Store
	Sessions   *session.Service
	Recorder   *audit.Recorder
	Hub        *stream.Hub
	ReadyProbe ReadyProbe
	Version    string
}

func New(cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     cfg.Engine,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		recorder:   cfg.Recorder,
		hub:        cfg.Hub,
		readyProbe: cfg.ReadyProbe,
		version:    cfg.Version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/access/attempts", a.handleAccessAttempts)
	a.mux.HandleFunc("/v1/access/records", a.handleAccessRecords)

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/credentials", a.handleCredentials)
	a.mux.HandleFunc("/v1/credentials/", a.handleCredentialResource)
	a.mux.HandleFunc("/v1/grants", a.handleGrants)

	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = LoggingJSON(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "citykey-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "citykey-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
