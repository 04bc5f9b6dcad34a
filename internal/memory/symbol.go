package memory

import (
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^(strategic|operational|entity|event)\.\w+\.\w[\w\-]*(\.\w[\w\-]*)*$`)

// Symbol is a parsed hierarchical node address: layer.type.id[.sub]*.
type Symbol struct {
	Layer Layer
	Type  string
	ID    string // everything after layer and type, dots preserved
}

// ParseSymbol validates s and splits it into its segments.
func ParseSymbol(s string) (Symbol, error) {
	if !symbolPattern.MatchString(s) {
		return Symbol{}, Validationf("invalid symbol %q: want layer.type.id with layer one of strategic, operational, entity, event", s)
	}
	parts := strings.SplitN(s, ".", 3)
	return Symbol{Layer: Layer(parts[0]), Type: parts[1], ID: parts[2]}, nil
}

// String reassembles the symbol.
func (s Symbol) String() string {
	return string(s.Layer) + "." + s.Type + "." + s.ID
}
