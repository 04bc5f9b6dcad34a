package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var q engine.Query
	if err := decode(w, r, &q, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := sc.Execute(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type similarRequest struct {
	Text       string            `json:"text" validate:"required"`
	Limit      int               `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int               `json:"offset" validate:"gte=0"`
	Layer      memory.Layer      `json:"layer"`
	Type       string            `json:"type"`
	MinScore   float64           `json:"min_score" validate:"gte=0,lte=1"`
	Resolution memory.Resolution `json:"resolution"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req similarRequest
	if err := decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := memory.ParseResolution(string(req.Resolution))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := sc.FindSimilar(r.Context(), req.Text, engine.SimilarOpts{
		Limit: req.Limit, Offset: req.Offset, Layer: req.Layer, Type: req.Type,
		MinScore: req.MinScore, Resolution: res,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(matches), "results": matches})
}

func (s *Server) handleSimilarToNode(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := sc.FindSimilarToNode(r.Context(), chi.URLParam(r, "symbol"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(matches), "results": matches})
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	types, err := memory.ParseRelationTypes(listParam(r, "types"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir, err := memory.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := resolutionParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nodes, err := sc.Related(r.Context(), chi.URLParam(r, "symbol"), types, dir, limit, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []memory.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(nodes), "nodes": nodes})
}

type traverseRequest struct {
	Start      string                `json:"start" validate:"required"`
	Types      []memory.RelationType `json:"types"`
	Depth      int                   `json:"depth" validate:"gte=0,lte=10"`
	Resolution memory.Resolution     `json:"resolution"`
}

func (s *Server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req traverseRequest
	if err := decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := memory.ParseResolution(string(req.Resolution))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	visits, err := sc.Traverse(r.Context(), req.Start, req.Types, req.Depth, res)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(visits), "visits": visits})
}

type contextRequest struct {
	Query     engine.Query `json:"query"`
	MaxTokens int          `json:"max_tokens" validate:"required,gt=0"`
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req contextRequest
	if err := decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	bundle, err := sc.Assemble(r.Context(), req.Query, req.MaxTokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (s *Server) handlePrecedents(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Text  string `json:"text" validate:"required"`
		Limit int    `json:"limit" validate:"gte=0,lte=100"`
	}
	if err := decodeValid(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	matches, err := sc.FindPrecedents(r.Context(), req.Text, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(matches), "results": matches})
}

func (s *Server) handleFacility(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	fc, err := sc.FacilityContext(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

func (s *Server) handleStandards(w http.ResponseWriter, r *http.Request) {
	sc, err := s.scope(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nodes, err := sc.ApplicableStandards(r.Context(), chi.URLParam(r, "equipment"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []memory.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(nodes), "nodes": nodes})
}
