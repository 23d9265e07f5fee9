package oracle

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Gate decides whether a newly observed market price is worth a
// state-changing on-chain push. It owns the "last pushed price" state
// explicitly: initialized empty at startup and updated only via Commit
// after a push confirmed, so a failed push never suppresses the retry.
type Gate struct {
	mu        sync.Mutex
	last      decimal.Decimal
	hasPushed bool
	minChange decimal.Decimal // percent
}

func NewGate(minChangePercent float64) *Gate {
	return &Gate{minChange: decimal.NewFromFloat(minChangePercent)}
}

// ShouldPush is true when no price was ever pushed, or when the observed
// price moved at least minChangePercent away from the last pushed one.
func (g *Gate) ShouldPush(observed decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.hasPushed || g.last.IsZero() {
		return true
	}

	changePct := observed.Sub(g.last).Abs().Div(g.last).Mul(decimal.NewFromInt(100))
	return changePct.GreaterThanOrEqual(g.minChange)
}

// Commit records a successfully confirmed push. Callers must not commit
// speculative or failed pushes.
func (g *Gate) Commit(pushed decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = pushed
	g.hasPushed = true
}

// LastPushed returns the last committed price, if any.
func (g *Gate) LastPushed() (decimal.Decimal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.hasPushed
}
