package batch

import (
	"time"

	"github.com/shadowswap/engine/pkg/order"
)

// Batch is a time-boxed window of orders considered together. Batches are
// created when the previous window elapses and become immutable once
// matching has run; the ledger owns the authoritative batch counter.
type Batch struct {
	ID          uint64
	WindowStart time.Time
	WindowEnd   time.Time
	Orders      []order.Order
}

func New(id uint64, start, end time.Time) *Batch {
	return &Batch{ID: id, WindowStart: start, WindowEnd: end}
}

func (b *Batch) Add(o order.Order) {
	o.BatchID = b.ID
	b.Orders = append(b.Orders, o)
}

// Match runs the uniform clearing-price auction over the batch contents.
func (b *Batch) Match() []ClearingResult {
	return Match(b.Orders)
}
