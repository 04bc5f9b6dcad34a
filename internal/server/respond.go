package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/memory"
)

// maxBody caps request payloads.
const maxBody = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch memory.KindOf(err) {
	case memory.KindNotFound:
		return http.StatusNotFound
	case memory.KindDuplicateSymbol:
		return http.StatusConflict
	case memory.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := map[string]any{"error": err.Error()}
	var merr *memory.Error
	if errors.As(err, &merr) {
		body["error"] = merr.Message
		body["kind"] = merr.Kind
		if merr.Symbol != "" {
			body["symbol"] = merr.Symbol
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decode(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return memory.Validationf("invalid json: %v", err)
	}
	return nil
}

// decodeValid decodes v and runs its validate struct tags.
func decodeValid(w http.ResponseWriter, r *http.Request, v any) error {
	if err := decode(w, r, v, false); err != nil {
		return err
	}
	return memory.ValidateStruct(v)
}

// scope resolves the {tenant} and {team} path parameters.
func (s *Server) scope(r *http.Request) (*engine.Scope, error) {
	tenant, err := uuid.Parse(chi.URLParam(r, "tenant"))
	if err != nil {
		return nil, memory.Validationf("tenant must be a uuid")
	}
	return s.engine.Scope(tenant, chi.URLParam(r, "team"))
}

func resolutionParam(r *http.Request) (memory.Resolution, error) {
	return memory.ParseResolution(r.URL.Query().Get("resolution"))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, memory.Validationf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// listParam splits a comma-separated query parameter.
func listParam(r *http.Request, name string) []string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
