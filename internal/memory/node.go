// Package memory defines the organizational memory data model shared by the
// store, the similarity index and the query engine.
package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Content tier bounds, in characters.
const (
	MaxMicroChars   = 100
	MaxSummaryChars = 500
)

// Defaults applied when a caller leaves a score unset.
const (
	DefaultSalience   = 0.5
	DefaultConfidence = 1.0
)

// Layer is the top-level semantic category of a node.
type Layer string

const (
	LayerStrategic   Layer = "strategic"   // goals, targets
	LayerOperational Layer = "operational" // rules, procedures
	LayerEntity      Layer = "entity"      // persistent tracked objects
	LayerEvent       Layer = "event"       // things that happened
)

// Layers lists every valid layer in a stable order.
var Layers = []Layer{LayerStrategic, LayerOperational, LayerEntity, LayerEvent}

// Valid reports whether l is one of the four layers.
func (l Layer) Valid() bool {
	switch l {
	case LayerStrategic, LayerOperational, LayerEntity, LayerEvent:
		return true
	}
	return false
}

// ParseLayer converts a string to a Layer.
func ParseLayer(s string) (Layer, error) {
	l := Layer(s)
	if !l.Valid() {
		return "", Validationf("unknown layer %q", s)
	}
	return l, nil
}

// Resolution controls which content tiers a read populates.
type Resolution string

const (
	ResolutionMicro   Resolution = "micro"
	ResolutionSummary Resolution = "summary"
	ResolutionFull    Resolution = "full"
)

// ParseResolution converts a string to a Resolution. Empty means summary.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case "":
		return ResolutionSummary, nil
	case ResolutionMicro, ResolutionSummary, ResolutionFull:
		return Resolution(s), nil
	}
	return "", Validationf("unknown resolution %q", s)
}

// Node is the unit of knowledge.
type Node struct {
	ID       uuid.UUID `json:"id"`
	Symbol   string    `json:"symbol" validate:"required,max=500"`
	TenantID uuid.UUID `json:"tenant_id"`
	TeamID   string    `json:"team_id" validate:"required,max=100"`

	Micro   string `json:"micro" validate:"required,max=100"`
	Summary string `json:"summary" validate:"required,max=500"`
	Full    string `json:"full,omitempty"`

	Tags       []Tag   `json:"tags"`
	Salience   float64 `json:"salience" validate:"gte=0,lte=1"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Relationships []Relationship `json:"relationships,omitempty"`

	// salienceSet marks an explicit salience, so zero survives ApplyDefaults.
	salienceSet bool
}

// SetSalience sets an explicit salience, zero included.
func (n *Node) SetSalience(v float64) {
	n.Salience = v
	n.salienceSet = true
}

// MarshalJSON leaves salience out when it is zero and was never set, so a
// decoded copy still gets the default on create.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	aux := struct {
		plain
		Salience *float64 `json:"salience,omitempty"`
	}{plain: plain(n)}
	if n.Salience != 0 || n.salienceSet {
		v := n.Salience
		aux.Salience = &v
	}
	return json.Marshal(aux)
}

// UnmarshalJSON records whether salience was present, so an explicit 0 is
// kept and an omitted one gets the default.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	aux := struct {
		*plain
		Salience *float64 `json:"salience"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Salience != nil {
		n.SetSalience(*aux.Salience)
	}
	return nil
}

// Layer returns the layer encoded in the node's symbol.
func (n *Node) Layer() Layer {
	sym, err := ParseSymbol(n.Symbol)
	if err != nil {
		return ""
	}
	return sym.Layer
}

// Type returns the node type encoded in the node's symbol.
func (n *Node) Type() string {
	sym, err := ParseSymbol(n.Symbol)
	if err != nil {
		return ""
	}
	return sym.Type
}

// Project returns a copy of n with only the tiers allowed by res populated.
// Micro carries the micro tier alone; summary adds the summary tier.
func (n Node) Project(res Resolution) Node {
	switch res {
	case ResolutionMicro:
		n.Summary = ""
		n.Full = ""
	case ResolutionSummary:
		n.Full = ""
	}
	return n
}

// IndexText is the text mirrored into the similarity index.
func (n *Node) IndexText() string {
	return n.Micro + "\n" + n.Summary
}

// ApplyDefaults fills salience and confidence when left at zero and dedupes
// tags. A salience given through SetSalience or JSON is kept even when zero.
func (n *Node) ApplyDefaults() {
	if n.Salience == 0 && !n.salienceSet {
		n.Salience = DefaultSalience
	}
	if n.Confidence == 0 {
		n.Confidence = DefaultConfidence
	}
	n.Tags = DedupeTags(n.Tags)
}

func (n *Node) String() string {
	return fmt.Sprintf("%s (%.2f)", n.Symbol, n.Salience)
}

// Patch holds the mutable fields of an update. Nil fields are left unchanged.
type Patch struct {
	Micro      *string  `json:"micro,omitempty"`
	Summary    *string  `json:"summary,omitempty"`
	Full       *string  `json:"full,omitempty"`
	Tags       *[]Tag   `json:"tags,omitempty"`
	Salience   *float64 `json:"salience,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Apply writes the non-nil patch fields onto n.
func (p Patch) Apply(n *Node) {
	if p.Micro != nil {
		n.Micro = *p.Micro
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.Full != nil {
		n.Full = *p.Full
	}
	if p.Tags != nil {
		n.Tags = DedupeTags(*p.Tags)
	}
	if p.Salience != nil {
		n.Salience = *p.Salience
	}
	if p.Confidence != nil {
		n.Confidence = *p.Confidence
	}
}
