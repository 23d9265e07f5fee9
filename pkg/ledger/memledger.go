package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	swcrypto "github.com/shadowswap/engine/pkg/crypto"
	"github.com/shadowswap/engine/pkg/order"
)

// MemLedger is an in-memory ledger with the contract's semantics:
// strongly consistent, append-only order history, all mutation mediated
// by accept/reject of a submission. It backs the test suite and the
// keeper's local dev mode, standing in for the mock contract deployment.
type MemLedger struct {
	mu      sync.Mutex
	batchID uint64
	orders  map[order.ID]*OrderDetails
	pending []order.ID
	prices  map[common.Address]*big.Int
	block   uint64
	seq     uint64
	now     func() time.Time
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		batchID: 1,
		orders:  make(map[order.ID]*OrderDetails),
		prices:  make(map[common.Address]*big.Int),
		now:     time.Now,
	}
}

// SetClock overrides the ledger's time source. Test hook.
func (m *MemLedger) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ---- reads ----

func (m *MemLedger) CurrentBatchID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchID, nil
}

func (m *MemLedger) PendingOrderCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *MemLedger) PendingOrderIDAt(ctx context.Context, index int) (order.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.pending) {
		return order.ID{}, fmt.Errorf("pending order index %d out of range (%d pending)", index, len(m.pending))
	}
	return m.pending[index], nil
}

func (m *MemLedger) GetOrderDetails(ctx context.Context, id order.ID) (OrderDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.orders[id]
	if !ok {
		return OrderDetails{}, fmt.Errorf("unknown order %s", id.Hex())
	}
	return *d, nil
}

func (m *MemLedger) CanExecuteLimitOrder(ctx context.Context, id order.ID) (ExecutionCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canExecuteLocked(id), nil
}

func (m *MemLedger) CurrentPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prices[asset]; ok {
		return new(big.Int).Set(p), nil
	}
	return big.NewInt(0), nil
}

// canExecuteLocked mirrors the contract predicate: the order must still
// be Pending, carry a limit price, not be past expiry, and the on-ledger
// price of its input token must have reached the target.
func (m *MemLedger) canExecuteLocked(id order.ID) ExecutionCheck {
	d, ok := m.orders[id]
	if !ok {
		return ExecutionCheck{CurrentPrice: big.NewInt(0), TargetPrice: big.NewInt(0)}
	}

	target := big.NewInt(0)
	if d.LimitPrice != nil {
		target = new(big.Int).Set(d.LimitPrice)
	}
	current := big.NewInt(0)
	if p, ok := m.prices[d.TokenIn]; ok {
		current = new(big.Int).Set(p)
	}

	check := ExecutionCheck{CurrentPrice: current, TargetPrice: target}
	if d.Status != order.Pending || !d.IsLimit() {
		return check
	}
	if d.Expiry != 0 && d.Expiry <= m.now().Unix() {
		return check
	}
	check.CanExecute = current.Sign() > 0 && current.Cmp(target) >= 0
	return check
}

// ---- writes ----

func (m *MemLedger) receiptLocked(success bool) Receipt {
	m.block++
	m.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.seq)
	return Receipt{
		TxHash:      swcrypto.PayloadHash(buf[:]),
		Success:     success,
		BlockNumber: m.block,
	}
}

func (m *MemLedger) storeOrderLocked(payload []byte, tokenIn, tokenOut common.Address, amountIn, limitPrice *big.Int, expiry int64) order.ID {
	m.seq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.seq)
	id := swcrypto.PayloadHash(append(append([]byte{}, payload...), buf[:]...))

	m.orders[id] = &OrderDetails{
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		AmountIn:   new(big.Int).Set(amountIn),
		LimitPrice: new(big.Int).Set(limitPrice),
		Expiry:     expiry,
		Status:     order.Pending,
		BatchID:    m.batchID,
		Timestamp:  m.now().Unix(),
	}
	m.pending = append(m.pending, id)
	return id
}

func (m *MemLedger) SubmitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (order.ID, Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amountIn == nil || amountIn.Sign() <= 0 || tokenIn == tokenOut {
		return order.ID{}, m.receiptLocked(false), nil
	}
	id := m.storeOrderLocked(payload, tokenIn, tokenOut, amountIn, big.NewInt(0), 0)
	return id, m.receiptLocked(true), nil
}

func (m *MemLedger) SubmitLimitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn, limitPrice *big.Int, expiry int64) (order.ID, Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amountIn == nil || amountIn.Sign() <= 0 || tokenIn == tokenOut ||
		limitPrice == nil || limitPrice.Sign() <= 0 {
		return order.ID{}, m.receiptLocked(false), nil
	}
	id := m.storeOrderLocked(payload, tokenIn, tokenOut, amountIn, limitPrice, expiry)
	return id, m.receiptLocked(true), nil
}

func (m *MemLedger) CancelOrder(ctx context.Context, id order.ID) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.orders[id]
	if !ok || d.Status != order.Pending {
		return m.receiptLocked(false), nil
	}
	d.Status = order.Cancelled
	m.removePendingLocked(id)
	return m.receiptLocked(true), nil
}

func (m *MemLedger) ExecuteLimitOrder(ctx context.Context, id order.ID) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canExecuteLocked(id).CanExecute {
		return m.receiptLocked(false), nil
	}
	m.orders[id].Status = order.Executed
	m.removePendingLocked(id)
	return m.receiptLocked(true), nil
}

func (m *MemLedger) PushPrices(ctx context.Context, assets []common.Address, prices []*big.Int) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(assets) != len(prices) {
		return m.receiptLocked(false), nil
	}
	for i, asset := range assets {
		if prices[i] == nil || prices[i].Sign() < 0 {
			return m.receiptLocked(false), nil
		}
		m.prices[asset] = new(big.Int).Set(prices[i])
	}
	return m.receiptLocked(true), nil
}

func (m *MemLedger) removePendingLocked(id order.ID) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// ---- ledger-side maintenance ----

// AdvanceBatch closes the current window and opens the next one.
func (m *MemLedger) AdvanceBatch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchID++
	return m.batchID
}

// SweepExpired flips past-expiry pending orders to Expired, the way the
// contract's external expiry sweep would, and returns how many flipped.
func (m *MemLedger) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	swept := 0
	for id, d := range m.orders {
		if d.Status == order.Pending && d.Expiry != 0 && d.Expiry <= now {
			d.Status = order.Expired
			m.removePendingLocked(id)
			swept++
		}
	}
	return swept
}

var _ Ledger = (*MemLedger)(nil)
