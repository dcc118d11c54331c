package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens returns predetermined dispatch tokens in order.
//
// Once the list is exhausted it continues with "<last>+1", "<last>+2", ...
// so a test that dispatches more than it planned for still gets unique,
// predictable tokens. With no tokens at all it yields "fixed+1", ...
//
// Implements action.TokenGenerator. Safe for concurrent use.
type FixedTokens struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

// NewFixedTokens creates a generator returning tokens in order.
func NewFixedTokens(tokens ...string) *FixedTokens {
	return &FixedTokens{tokens: tokens}
}

// Generate returns the next token.
func (g *FixedTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.tokens) {
		return g.tokens[g.idx-1]
	}
	last := "fixed"
	if len(g.tokens) > 0 {
		last = g.tokens[len(g.tokens)-1]
	}
	return fmt.Sprintf("%s+%d", last, g.idx-len(g.tokens))
}

// Issued returns how many tokens have been handed out.
func (g *FixedTokens) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.idx
}
