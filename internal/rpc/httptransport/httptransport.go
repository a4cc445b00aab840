// Package httptransport binds an rpc.Dispatcher to net/http, the same
// single-endpoint mux + bearer-token auth shape as muxd's daemon.Server
// and hub.Hub: one ServeMux route per concern, a constant-time token
// comparison in withAuth, and a uniform writeJSON envelope writer.
package httptransport

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/coreagent/runtime/internal/rpc"
)

// Transport exposes a Dispatcher over HTTP as a single POST /rpc endpoint
// (request body is the rpc.Request envelope, response body is the
// rpc.Response envelope), plus an unauthenticated GET /health route.
type Transport struct {
	dispatcher *rpc.Dispatcher
	token      string
}

// New creates a Transport. token is the bearer token every non-health
// request must present; an empty token disables auth (useful for tests).
func New(dispatcher *rpc.Dispatcher, token string) *Transport {
	return &Transport{dispatcher: dispatcher, token: token}
}

// Mux builds a *http.ServeMux with every route registered, mirroring
// muxd's registerRoutes.
func (t *Transport) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", t.handleHealth)
	mux.HandleFunc("POST /rpc", t.withAuth(t.handleRPC))
	mux.HandleFunc("GET /rpc/methods", t.withAuth(t.handleMethods))
	return mux
}

func (t *Transport) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pid": os.Getpid()})
}

func (t *Transport) handleMethods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"methods": t.dispatcher.Methods()})
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	resp := t.dispatcher.Dispatch(r.Context(), req)
	status := http.StatusOK
	if !resp.Success {
		status = statusForError(resp.Error)
	}
	writeJSON(w, status, resp)
}

func statusForError(err *rpc.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Code {
	case "METHOD_NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_PARAMS":
		return http.StatusBadRequest
	case "NOT_SUPPORTED":
		return http.StatusNotImplemented
	case "AUTH_FAILED":
		return http.StatusUnauthorized
	case "SESSION_NOT_FOUND":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// withAuth guards a handler with a constant-time bearer-token comparison,
// the same defense against token-oracle timing muxd's daemon/hub use.
func (t *Transport) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.token == "" {
			next(w, r)
			return
		}
		got := strings.TrimSpace(r.Header.Get("Authorization"))
		const bearer = "Bearer "
		if strings.HasPrefix(got, bearer) {
			got = strings.TrimSpace(strings.TrimPrefix(got, bearer))
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(t.token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "rpc: write json response: %v\n", err)
	}
}
