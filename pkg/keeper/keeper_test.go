package keeper

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shadowswap/engine/params"
	"github.com/shadowswap/engine/pkg/ledger"
	"github.com/shadowswap/engine/pkg/order"
	"github.com/shadowswap/engine/pkg/util"
)

var (
	weth = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc = common.HexToAddress("0x2000000000000000000000000000000000000002")
	ds   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

// stubSource serves a fixed quote, settable between ticks.
type stubSource struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.price, s.err
}

func (s *stubSource) set(price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = decimal.RequireFromString(price)
	s.err = nil
}

func testConfig() params.Keeper {
	return params.Keeper{
		PriceCheckInterval:    10 * time.Second,
		OrderCheckInterval:    15 * time.Second,
		MinPriceChangePercent: 0.5,
		ConfirmTimeout:        time.Second,
	}
}

func newTestKeeper(t *testing.T, m *ledger.MemLedger, src *stubSource) *Keeper {
	t.Helper()
	return New(m, src, testConfig(), "ethereum",
		[]common.Address{weth}, []common.Address{usdc}, zap.NewNop().Sugar())
}

func wadInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func submitLimit(t *testing.T, m *ledger.MemLedger, target *big.Int, expiry int64) order.ID {
	t.Helper()
	id, receipt, err := m.SubmitLimitOrder(context.Background(), []byte("blob"), ds,
		weth, usdc, wadInt(1), target, expiry)
	if err != nil || !receipt.Success {
		t.Fatalf("submit limit order: %+v/%v", receipt, err)
	}
	return id
}

func TestLimitOrderExecutesOnceAtTarget(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	src := &stubSource{}
	k := newTestKeeper(t, m, src)

	var executed []order.ID
	k.OnExecution = func(id order.ID, receipt ledger.Receipt) {
		executed = append(executed, id)
	}

	id := submitLimit(t, m, wadInt(2000), 0)

	// Below target: the price lands on chain but the order stays pending.
	src.set("1900")
	k.PriceTick(ctx)
	k.OrderTick(ctx)
	if len(executed) != 0 {
		t.Fatalf("executed %d orders below target", len(executed))
	}
	d, _ := m.GetOrderDetails(ctx, id)
	if d.Status != order.Pending {
		t.Fatalf("status = %s, want pending", d.Status)
	}

	// At target: executed exactly once, repeated ticks change nothing.
	src.set("2050")
	k.PriceTick(ctx)
	k.OrderTick(ctx)
	k.OrderTick(ctx)
	if len(executed) != 1 || executed[0] != id {
		t.Fatalf("executed = %v, want exactly [%s]", executed, id.Hex())
	}
	d, _ = m.GetOrderDetails(ctx, id)
	if d.Status != order.Executed {
		t.Fatalf("status = %s, want executed", d.Status)
	}
}

func TestOrderTickSkipsNonExecutable(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	src := &stubSource{}
	k := newTestKeeper(t, m, src)

	executions := 0
	k.OnExecution = func(order.ID, ledger.Receipt) { executions++ }

	now := time.Unix(1_700_000_000, 0)
	m.SetClock(func() time.Time { return now })

	expiring := submitLimit(t, m, wadInt(2000), now.Unix()+10)
	cancelled := submitLimit(t, m, wadInt(2000), 0)
	if receipt, _ := m.CancelOrder(ctx, cancelled); !receipt.Success {
		t.Fatal("cancel failed")
	}

	// Price well past every target, but one order is expired and the
	// other cancelled.
	now = now.Add(time.Minute)
	src.set("3000")
	k.PriceTick(ctx)
	k.OrderTick(ctx)

	if executions != 0 {
		t.Fatalf("executed %d orders, want 0", executions)
	}
	for _, id := range []order.ID{expiring, cancelled} {
		d, _ := m.GetOrderDetails(ctx, id)
		if d.Status == order.Executed {
			t.Fatalf("order %s must not execute", id.Hex())
		}
	}
}

func TestPriceGateSuppressesSmallMoves(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	src := &stubSource{}
	k := newTestKeeper(t, m, src)

	pushes := 0
	k.OnPriceUpdate = func(decimal.Decimal, ledger.Receipt) { pushes++ }

	// First observation always lands.
	src.set("2000")
	k.PriceTick(ctx)
	if pushes != 1 {
		t.Fatalf("pushes = %d after first tick, want 1", pushes)
	}

	// 0.05% move: below the 0.5% gate, skipped.
	src.set("2001")
	k.PriceTick(ctx)
	if pushes != 1 {
		t.Fatalf("pushes = %d after sub-threshold move, want 1", pushes)
	}
	if p, _ := m.CurrentPrice(ctx, weth); p.Cmp(wadInt(2000)) != 0 {
		t.Fatalf("on-chain price = %s, want the last pushed 2000", p)
	}

	// 2.5% move clears the gate.
	src.set("2050")
	k.PriceTick(ctx)
	if pushes != 2 {
		t.Fatalf("pushes = %d after threshold move, want 2", pushes)
	}
	if p, _ := m.CurrentPrice(ctx, weth); p.Cmp(wadInt(2050)) != 0 {
		t.Fatalf("on-chain price = %s, want 2050", p)
	}
}

func TestPriceTickPinsStables(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	src := &stubSource{}
	k := newTestKeeper(t, m, src)

	src.set("1234.56")
	k.PriceTick(ctx)

	if p, _ := m.CurrentPrice(ctx, usdc); p.Cmp(wadInt(1)) != 0 {
		t.Fatalf("stable price = %s, want 1.0", p)
	}
}

func TestPriceTickAbsorbsFetchFailure(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	src := &stubSource{err: context.DeadlineExceeded}
	k := newTestKeeper(t, m, src)

	pushes := 0
	k.OnPriceUpdate = func(decimal.Decimal, ledger.Receipt) { pushes++ }

	k.PriceTick(ctx)
	if pushes != 0 {
		t.Fatal("a failed fetch must not push")
	}

	// The next tick recovers without any state to repair.
	src.set("2000")
	k.PriceTick(ctx)
	if pushes != 1 {
		t.Fatalf("pushes = %d after recovery, want 1", pushes)
	}
}

// fakeClock drives Run's tickers manually.
type fakeClock struct {
	mu      sync.Mutex
	tickers []chan time.Time
}

func (f *fakeClock) Now() time.Time                         { return time.Unix(1_700_000_000, 0) }
func (f *fakeClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

func (f *fakeClock) NewTicker(d time.Duration) util.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	f.tickers = append(f.tickers, ch)
	return fakeTicker{ch}
}

type fakeTicker struct{ ch chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.ch }
func (t fakeTicker) Stop()               {}

func TestRunStopsOnCancel(t *testing.T) {
	m := ledger.NewMemLedger()
	src := &stubSource{}
	src.set("2000")
	k := newTestKeeper(t, m, src)
	k.SetClock(&fakeClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	// Both loops tick once on startup before blocking on their tickers.
	deadline := time.After(2 * time.Second)
	for {
		src.mu.Lock()
		calls := src.calls
		src.mu.Unlock()
		if calls >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("price loop never ticked")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
