package engine

import (
	"context"
	"sort"
	"unicode/utf8"

	"github.com/lazypower/orgmem/internal/memory"
)

// CharsPerToken converts content length to an approximate token count.
const CharsPerToken = 4

// EstimateTokens approximates the size of n's populated content tiers.
func EstimateTokens(n memory.Node) int {
	chars := utf8.RuneCountInString(n.Micro) + utf8.RuneCountInString(n.Summary) + utf8.RuneCountInString(n.Full)
	return chars / CharsPerToken
}

// TrimToBudget orders nodes by salience and keeps them while the running
// estimate fits maxTokens. It stops at the first node that does not fit,
// even if a later, smaller one would. The input slice is not modified.
func TrimToBudget(nodes []memory.Node, maxTokens int) ([]memory.Node, int) {
	ranked := make([]memory.Node, len(nodes))
	copy(ranked, nodes)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Salience > ranked[j].Salience })

	used := 0
	for i, n := range ranked {
		cost := EstimateTokens(n)
		if used+cost > maxTokens {
			return ranked[:i], used
		}
		used += cost
	}
	return ranked, used
}

// Bundle is query output sized for a consumer's context window.
type Bundle struct {
	Nodes     []memory.Node `json:"nodes"`
	Tokens    int           `json:"tokens"`
	MaxTokens int           `json:"max_tokens"`
	Dropped   int           `json:"dropped"`
	Strategy  Strategy      `json:"strategy"`
}

// Assemble executes q and trims the result to maxTokens.
func (s *Scope) Assemble(ctx context.Context, q Query, maxTokens int) (*Bundle, error) {
	if maxTokens <= 0 {
		return nil, memory.Validationf("max_tokens must be positive")
	}
	res, err := s.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	kept, used := TrimToBudget(res.Nodes, maxTokens)
	return &Bundle{
		Nodes:     kept,
		Tokens:    used,
		MaxTokens: maxTokens,
		Dropped:   len(res.Nodes) - len(kept),
		Strategy:  res.Strategy,
	}, nil
}
