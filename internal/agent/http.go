package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/metrics"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Handler returns the local status endpoint with logging and metrics
// middleware.
func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /status", a.handleStatus)

	mux.HandleFunc("GET /licenses/{doc}", a.handleLicenseCheck)
	mux.HandleFunc("POST /licenses/sync", a.handleLicenseSync)

	mux.HandleFunc("POST /session/retry", a.handleSessionRetry)
	mux.HandleFunc("POST /session/home", a.handleSessionHome)

	mux.HandleFunc("POST /safe-mode", a.handleSafeModeEnable)
	mux.HandleFunc("DELETE /safe-mode", a.handleSafeModeDisable)

	return logging.Middleware(metrics.Middleware(mux))
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": a.Monitor.IsOnline(),
	})
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, a.Status())
}

func (a *Agent) handleLicenseCheck(w http.ResponseWriter, r *http.Request) {
	d := a.Gate.Check(r.Context(), r.PathValue("doc"))
	code := http.StatusOK
	if !d.Allowed {
		code = http.StatusForbidden
	}
	sendJSON(w, code, d)
}

func (a *Agent) handleLicenseSync(w http.ResponseWriter, r *http.Request) {
	if err := a.Syncer.Sync(r.Context()); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, a.Status().Licenses)
}

func (a *Agent) handleSessionRetry(w http.ResponseWriter, r *http.Request) {
	err := a.Guard.Retry(r.Context())
	switch {
	case errors.Is(err, session.ErrNotTimedOut):
		sendError(w, http.StatusConflict, err.Error())
	case err != nil:
		sendError(w, http.StatusUnauthorized, err.Error())
	default:
		sendJSON(w, http.StatusOK, a.Guard.View(time.Now()))
	}
}

func (a *Agent) handleSessionHome(w http.ResponseWriter, r *http.Request) {
	a.Guard.GoHome()
	sendJSON(w, http.StatusOK, a.Guard.View(time.Now()))
}

func (a *Agent) handleSafeModeEnable(w http.ResponseWriter, r *http.Request) {
	if err := a.SafeMode.Enable(r.Context()); err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, a.Status().SafeMode)
}

func (a *Agent) handleSafeModeDisable(w http.ResponseWriter, r *http.Request) {
	if err := a.SafeMode.Disable(r.Context()); err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, a.Status().SafeMode)
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, message string) {
	sendJSON(w, code, errorResponse{Error: message, Code: code})
}
