package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var n memory.Node
	if err := decode(w, r, &n, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	strict, _ := strconv.ParseBool(r.URL.Query().Get("strict"))

	res, err := sc.Create(r.Context(), n, engine.CreateOptions{Strict: strict})
	if err != nil {
		if res != nil {
			// strict mode: the node is committed but relationships were skipped
			writeJSON(w, statusOf(err), map[string]any{
				"error":  err.Error(),
				"kind":   memory.KindOf(err),
				"result": res,
			})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleCreateMany(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Nodes []memory.Node `json:"nodes"`
	}
	if err := decode(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Nodes) == 0 {
		s.writeError(w, r, memory.Validationf("nodes is required"))
		return
	}

	res, err := sc.CreateMany(r.Context(), req.Nodes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if len(res.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := resolutionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := sc.Get(r.Context(), chi.URLParam(r, "symbol"), res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, memory.Validationf("id must be a uuid"))
		return
	}
	res, err := resolutionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := sc.GetByID(r.Context(), id, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch memory.Patch
	if err := decode(w, r, &patch, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sc.Update(r.Context(), chi.URLParam(r, "symbol"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	res, err := sc.Delete(r.Context(), symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Deleted {
		s.writeError(w, r, memory.NotFound(symbol))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBoost(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Delta float64 `json:"delta" validate:"gte=0,lte=1"`
	}
	if err := decode(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := memory.ValidateStruct(&req); err != nil {
		s.writeError(w, r, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	found, err := sc.Boost(r.Context(), symbol, req.Delta)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		s.writeError(w, r, memory.NotFound(symbol))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"boosted": true, "symbol": symbol})
}

func (s *Server) handleRelate(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var rel memory.Relationship
	if err := decode(w, r, &rel, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := sc.Relate(r.Context(), rel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		// an endpoint is missing; the request is still a success
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"created": created})
}
