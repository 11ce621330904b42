// Package server exposes the chain over HTTP and reports its health over gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/manifest-network/blockledger/internal/chain"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
	"github.com/manifest-network/blockledger/internal/utils"
)

const maxBlockBytes = 16 << 20

// Engine is the part of chain.Chain the API needs.
type Engine interface {
	AcceptBlock(ctx context.Context, b *models.Block) error
	Rollback(ctx context.Context, height uint64) error
	Balance(address string) int64
	Ready() bool
}

// Result is the body of a successful write.
type Result struct {
	Result string `json:"result"`
}

// ErrorBody is the body of a failed request.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var okResult = Result{Result: "ok"}

type api struct {
	engine Engine
}

// NewHandler returns the HTTP API over e.
func NewHandler(e Engine) http.Handler {
	a := &api{engine: e}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /blocks", a.postBlock)
	mux.HandleFunc("GET /balance/{address}", a.getBalance)
	mux.HandleFunc("POST /rollback", a.postRollback)
	mux.HandleFunc("GET /healthz", a.healthz)
	return logRequests(mux)
}

func (a *api) postBlock(w http.ResponseWriter, r *http.Request) {
	var b models.Block
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBlockBytes))
	if err := dec.Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid block: " + err.Error(), Kind: "bad_request"})
		return
	}

	if err := a.engine.AcceptBlock(r.Context(), &b); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResult)
}

func (a *api) getBalance(w http.ResponseWriter, r *http.Request) {
	if !a.engine.Ready() {
		writeError(w, r, chain.ErrNotReady)
		return
	}
	address := r.PathValue("address")
	writeJSON(w, http.StatusOK, map[string]int64{address: a.engine.Balance(address)})
}

// postRollback rolls back to the height query parameter. Without it, it does nothing.
func (a *api) postRollback(w http.ResponseWriter, r *http.Request) {
	height, present, err := utils.ParseOptionalHeight(r.URL.Query().Get("height"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: err.Error(), Kind: "bad_request"})
		return
	}
	if present {
		if err := a.engine.Rollback(r.Context(), height); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, okResult)
}

func (a *api) healthz(w http.ResponseWriter, _ *http.Request) {
	if !a.engine.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: chain.ErrNotReady.Error()})
		return
	}
	writeJSON(w, http.StatusOK, okResult)
}

// writeError maps chain errors to status codes. Anything unclassified is
// logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: verr.Error(), Kind: verr.Kind.String()})
	case errors.Is(err, chain.ErrNotReady):
		writeJSON(w, http.StatusServiceUnavailable, ErrorBody{Error: err.Error()})
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, ErrorBody{Error: "block or transaction already stored", Kind: "conflict"})
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorBody{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
