package engine

import (
	"context"
	"fmt"

	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/store"
)

// FindPrecedents searches past findings similar to text.
func (s *Scope) FindPrecedents(ctx context.Context, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.FindSimilar(ctx, text, SimilarOpts{
		Limit:      limit,
		Layer:      memory.LayerEvent,
		Type:       "finding",
		Resolution: memory.ResolutionSummary,
	})
}

// FacilityContext groups what is known about one facility.
type FacilityContext struct {
	Facility     *memory.Node  `json:"facility"`
	Inspections  []memory.Node `json:"inspections"`
	OpenFindings []memory.Node `json:"open_findings"`
}

// FacilityContext loads an entity.facility node with its inspections and open
// findings, matched by the facility:<id> tag. A missing facility yields an
// empty context, not an error.
func (s *Scope) FacilityContext(ctx context.Context, symbol string) (*FacilityContext, error) {
	sym, err := memory.ParseSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if sym.Layer != memory.LayerEntity || sym.Type != "facility" {
		return nil, memory.Validationf("%s is not an entity.facility symbol", symbol)
	}

	fc := &FacilityContext{Inspections: []memory.Node{}, OpenFindings: []memory.Node{}}
	facility, err := s.store.GetBySymbol(ctx, symbol, memory.ResolutionFull)
	if memory.IsNotFound(err) {
		return fc, nil
	}
	if err != nil {
		return nil, err
	}
	fc.Facility = facility

	facilityTag := memory.T("facility", sym.ID)
	fc.Inspections, err = s.store.FindByTags(ctx, []memory.Tag{facilityTag},
		store.Filter{TeamID: s.team, Layer: memory.LayerEvent, Type: "inspection"}, memory.ResolutionSummary, store.Page{Limit: 20})
	if err != nil {
		return nil, fmt.Errorf("facility inspections: %w", err)
	}
	fc.OpenFindings, err = s.store.FindByTags(ctx, []memory.Tag{facilityTag, memory.T("status", "open")},
		store.Filter{TeamID: s.team, Layer: memory.LayerEvent, Type: "finding"}, memory.ResolutionSummary, store.Page{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("facility findings: %w", err)
	}
	if fc.Inspections == nil {
		fc.Inspections = []memory.Node{}
	}
	if fc.OpenFindings == nil {
		fc.OpenFindings = []memory.Node{}
	}
	return fc, nil
}

// ApplicableStandards lists operational standards tagged for equipmentType.
func (s *Scope) ApplicableStandards(ctx context.Context, equipmentType string) ([]memory.Node, error) {
	return s.store.FindByTags(ctx, []memory.Tag{memory.T("equipment_type", equipmentType)},
		store.Filter{TeamID: s.team, Layer: memory.LayerOperational, Type: "standard"}, memory.ResolutionFull, store.Page{Limit: 10})
}

// FindSimilarToNode searches with the node's own text and leaves the node
// itself out of the result.
func (s *Scope) FindSimilarToNode(ctx context.Context, symbol string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	n, err := s.store.GetBySymbol(ctx, symbol, memory.ResolutionSummary)
	if err != nil {
		return nil, err
	}
	matches, err := s.FindSimilar(ctx, n.IndexText(), SimilarOpts{Limit: limit + 1})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, limit)
	for _, m := range matches {
		if m.Node.ID == n.ID {
			continue
		}
		out = append(out, m)
	}
	return pageOf(out, 0, limit), nil
}
