package agentloop

import "sync"

// LowBudgetThreshold is the remaining-token count below which a warning is
// emitted.
const LowBudgetThreshold = 20000

// TokenBudget is the running token total of a session against a ceiling.
type TokenBudget struct {
	mu      sync.Mutex
	used    int
	ceiling int
}

// NewTokenBudget returns a budget with the given ceiling.
func NewTokenBudget(ceiling int) *TokenBudget {
	return &TokenBudget{ceiling: ceiling}
}

// Add records n consumed tokens and returns the new total. Negative values
// are ignored.
func (b *TokenBudget) Add(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.used += n
	}
	return b.used
}

// Used returns the tokens consumed so far.
func (b *TokenBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Ceiling returns the configured maximum.
func (b *TokenBudget) Ceiling() int {
	return b.ceiling
}

// Remaining returns ceiling minus used. It is negative once the ceiling has
// been overshot by the last response.
func (b *TokenBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ceiling - b.used
}

// Exhausted reports whether used has reached the ceiling.
func (b *TokenBudget) Exhausted() bool {
	return b.Remaining() <= 0
}

// Reset sets used back to zero.
func (b *TokenBudget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}
