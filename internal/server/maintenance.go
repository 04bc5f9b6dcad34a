package server

import (
	"net/http"

	"github.com/lazypower/orgmem/internal/engine"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := sc.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cfg := s.engine.Config().Consolidation
	if err := decode(w, r, &cfg, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sc.Consolidate(r.Context(), cfg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var opts engine.ReconcileOptions
	if err := decode(w, r, &opts, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	rep, err := sc.Reconcile(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
