package memory

import "time"

// RelationType is the kind of a directed edge.
type RelationType string

// Cross-layer relations.
const (
	RelInvolves    RelationType = "involves"
	RelApplies     RelationType = "applies"
	RelAlignedWith RelationType = "aligned_with"
	RelInforms     RelationType = "informs"
)

// Within-layer relations.
const (
	RelSupersedes    RelationType = "supersedes"
	RelConflictsWith RelationType = "conflicts_with"
	RelSimilarTo     RelationType = "similar_to"
	RelEscalatedTo   RelationType = "escalated_to"
	RelFollows       RelationType = "follows"
	RelDerivedFrom   RelationType = "derived_from"
	RelRelatedTo     RelationType = "related_to"
)

// Causal relations.
const (
	RelCaused    RelationType = "caused"
	RelCausedBy  RelationType = "caused_by"
	RelResolved  RelationType = "resolved"
	RelBlockedBy RelationType = "blocked_by"
)

// RelationTypes lists every relation type.
var RelationTypes = []RelationType{
	RelInvolves, RelApplies, RelAlignedWith, RelInforms,
	RelSupersedes, RelConflictsWith, RelSimilarTo, RelEscalatedTo, RelFollows, RelDerivedFrom, RelRelatedTo,
	RelCaused, RelCausedBy, RelResolved, RelBlockedBy,
}

// RelationGroup is the conceptual family of a relation type. Not enforced.
type RelationGroup string

const (
	GroupCrossLayer  RelationGroup = "cross_layer"
	GroupWithinLayer RelationGroup = "within_layer"
	GroupCausal      RelationGroup = "causal"
)

// Group returns the family r belongs to, or "" for unknown types.
func (r RelationType) Group() RelationGroup {
	switch r {
	case RelInvolves, RelApplies, RelAlignedWith, RelInforms:
		return GroupCrossLayer
	case RelSupersedes, RelConflictsWith, RelSimilarTo, RelEscalatedTo, RelFollows, RelDerivedFrom, RelRelatedTo:
		return GroupWithinLayer
	case RelCaused, RelCausedBy, RelResolved, RelBlockedBy:
		return GroupCausal
	}
	return ""
}

// Valid reports whether r is a known relation type.
func (r RelationType) Valid() bool { return r.Group() != "" }

// ParseRelationType converts a string to a RelationType.
func ParseRelationType(s string) (RelationType, error) {
	r := RelationType(s)
	if !r.Valid() {
		return "", Validationf("unknown relation type %q", s)
	}
	return r, nil
}

// ParseRelationTypes converts a list of strings, failing on the first unknown.
func ParseRelationTypes(ss []string) ([]RelationType, error) {
	out := make([]RelationType, 0, len(ss))
	for _, s := range ss {
		r, err := ParseRelationType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Direction selects which edges GetRelated follows.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// ParseDirection converts a string to a Direction. Empty means outgoing.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return Outgoing, nil
	case Outgoing, Incoming, Both:
		return Direction(s), nil
	}
	return "", Validationf("unknown direction %q", s)
}

// DefaultWeight is the weight of an edge created without one.
const DefaultWeight = 1.0

// Relationship is a directed, typed, weighted edge between two symbols.
type Relationship struct {
	SourceSymbol string            `json:"source_symbol"`
	TargetSymbol string            `json:"target_symbol"`
	Type         RelationType      `json:"relation_type"`
	Weight       float64           `json:"weight"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Validate checks the edge's type and weight.
func (r *Relationship) Validate() error {
	if !r.Type.Valid() {
		return Validationf("unknown relation type %q", r.Type)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return Validationf("weight %v outside [0,1]", r.Weight)
	}
	return nil
}
