package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/codedeck/backend/internal/execute"
	"github.com/codedeck/backend/internal/history"
	"github.com/codedeck/backend/internal/ratelimit"
	"github.com/codedeck/backend/internal/ws"
)

type API struct {
	hub         *ws.Hub
	relay       *execute.Relay
	runs        *history.Store
	runLimiters *ratelimit.KeyedLimiters
	validate    *validator.Validate
}

func New(hub *ws.Hub, relay *execute.Relay, runs *history.Store, runLimiters *ratelimit.KeyedLimiters) *API {
	return &API{
		hub:         hub,
		relay:       relay,
		runs:        runs,
		runLimiters: runLimiters,
		validate:    validator.New(),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode json response failed", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.RoomCount(),
		"active_clients": a.hub.ClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.runs != nil {
		if total, err := a.runs.TotalRuns(); err == nil {
			stats["total_runs"] = total
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// RunHandler relays a run request to the execution collaborator. The direct
// caller gets the collaborator's raw result; the room, when named, gets the
// same output broadcast so nobody races an optimistic local display.
func (a *API) RunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if limiter := a.runLimiters.Get(callerKey(r)); !limiter.Allow() {
		errorResponse(w, http.StatusTooManyRequests, "Too many execution requests")
		return
	}

	var req execute.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.validate.Struct(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "language is required")
		return
	}

	body, err := a.relay.Execute(r.Context(), req)
	if err != nil {
		var svcErr *execute.ServiceError
		switch {
		case errors.Is(err, execute.ErrMissingCredentials):
			errorResponse(w, http.StatusInternalServerError, execute.MissingCredentialsMessage)
		case errors.As(err, &svcErr):
			errorResponse(w, http.StatusInternalServerError, svcErr.Message)
		default:
			errorResponse(w, http.StatusInternalServerError, execute.DefaultErrorMessage)
		}
		return
	}

	// Pass the collaborator's result body through verbatim.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("write run response failed", "err", err)
	}
}

// RunsHandler serves the recorded execution history for a room.
func (a *API) RunsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	runs, err := a.runs.ListRuns(roomID, limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}

	total, _ := a.runs.RunCount(roomID)

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
