package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/caskforge/caskdb"
	"github.com/caskforge/caskdb/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type server struct {
	db         *caskdb.DB
	httpServer *http.Server
}

func newServer(db *caskdb.DB, addr string) *server {
	s := &server{db: db}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", db.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/keys/{key}", s.handleGet)
		r.Put("/keys/{key}", s.handlePut)
		r.Delete("/keys/{key}", s.handleDelete)
		r.Post("/merge", s.handleMerge)
	})

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrKeyRequired), errors.Is(err, engine.ErrValueTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrMergeInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, found, err := s.db.Get([]byte(key))
	if err != nil {
		slog.Error("get failed", "key", key, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("key not found"))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func (s *server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.db.Put([]byte(key), value); err != nil {
		slog.Error("put failed", "key", key, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.db.Delete([]byte(key)); err != nil {
		slog.Error("delete failed", "key", key, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleMerge(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Merge(); err != nil {
		slog.Error("merge failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
