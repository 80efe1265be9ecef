// Package httpapi exposes the evidence pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/biocite/biocite/internal/app"
)

// Runner is the pipeline boundary the API serves.
type Runner interface {
	Run(ctx context.Context, q app.Query) (*app.Result, error)
}

// SynthesisRequest is the POST /evidence_synthesis body.
type SynthesisRequest struct {
	Drug    string `json:"drug"`
	Disease string `json:"disease"`
	Agentic bool   `json:"agentic"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the API router with request-ID and logging middleware.
func NewRouter(runner Runner) chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/evidence_synthesis", handleSynthesis(runner))
	return r
}

func handleSynthesis(runner Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SynthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
		if req.Drug == "" || req.Disease == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "drug and disease are required"})
			return
		}

		res, err := runner.Run(r.Context(), app.Query{
			Drug:    req.Drug,
			Disease: req.Disease,
			Repair:  req.Agentic,
		})
		switch {
		case errors.Is(err, app.ErrNoSnippets):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		case err != nil:
			log.Error().Err(err).Str("drug", req.Drug).Str("disease", req.Disease).Msg("synthesis failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "evidence synthesis failed"})
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		id, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
