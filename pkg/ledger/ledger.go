package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/shadowswap/engine/pkg/order"
)

// OrderDetails is the ledger's view of one order. Numeric fields are
// 18-decimal fixed-point integers exactly as stored on chain.
type OrderDetails struct {
	Owner      common.Address
	TokenIn    common.Address
	TokenOut   common.Address
	AmountIn   *big.Int
	LimitPrice *big.Int // zero for market orders
	Expiry     int64
	Status     order.Status
	BatchID    uint64
	Timestamp  int64
}

// IsLimit reports whether the order carries a price trigger.
func (d OrderDetails) IsLimit() bool {
	return d.LimitPrice != nil && d.LimitPrice.Sign() > 0
}

// ExecutionCheck is the ledger's answer to "is this limit order
// executable right now". Ephemeral, recomputed on every poll.
type ExecutionCheck struct {
	CanExecute   bool
	CurrentPrice *big.Int
	TargetPrice  *big.Int
}

// Receipt reports the confirmed outcome of a state-changing submission.
// Success false means the ledger accepted and reverted the transaction;
// transport failures are returned as errors instead.
type Receipt struct {
	TxHash      common.Hash
	Success     bool
	BlockNumber uint64
}

// Reader is the ledger's read surface. Reads have no ordering dependency
// and may be issued concurrently.
type Reader interface {
	CurrentBatchID(ctx context.Context) (uint64, error)
	PendingOrderCount(ctx context.Context) (int, error)
	PendingOrderIDAt(ctx context.Context, index int) (order.ID, error)
	GetOrderDetails(ctx context.Context, id order.ID) (OrderDetails, error)
	CanExecuteLimitOrder(ctx context.Context, id order.ID) (ExecutionCheck, error)
	CurrentPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// Writer is the ledger's state-changing surface. Every call blocks until
// the transaction outcome is confirmed or the context expires; on a
// timeout the outcome is unknown and the caller re-derives state from
// reads on its next tick. Callers sharing one signing identity must
// serialize Writer calls.
type Writer interface {
	SubmitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (order.ID, Receipt, error)
	SubmitLimitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn, limitPrice *big.Int, expiry int64) (order.ID, Receipt, error)
	CancelOrder(ctx context.Context, id order.ID) (Receipt, error)
	ExecuteLimitOrder(ctx context.Context, id order.ID) (Receipt, error)
	PushPrices(ctx context.Context, assets []common.Address, prices []*big.Int) (Receipt, error)
}

type Ledger interface {
	Reader
	Writer
}

// wad is the on-chain fixed-point base: 18 decimals.
var wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ToWad converts a decimal quote to its 18-decimal fixed-point
// representation, truncating any digits beyond the 18th.
func ToWad(d decimal.Decimal) *big.Int {
	return d.Mul(decimal.New(1, 18)).Truncate(0).BigInt()
}

// FromWad converts an 18-decimal fixed-point integer back to a decimal.
func FromWad(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}
