package keeper

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shadowswap/engine/params"
	"github.com/shadowswap/engine/pkg/ledger"
	"github.com/shadowswap/engine/pkg/oracle"
	"github.com/shadowswap/engine/pkg/order"
	"github.com/shadowswap/engine/pkg/util"
)

// Keeper runs the two maintenance loops of the exchange: the price loop,
// which mirrors the external market price onto the on-chain feed, and the
// order loop, which executes limit orders whose trigger fired. The loops
// are independent; each tick re-derives everything it needs from the
// ledger, so a restart loses nothing.
type Keeper struct {
	ledger ledger.Ledger
	source oracle.PriceSource
	gate   *oracle.Gate
	log    *zap.SugaredLogger
	clock  util.Clock
	cfg    params.Keeper

	// priceSymbol is the external API asset id the tracked tokens follow.
	priceSymbol string
	tracked     []common.Address
	stables     []common.Address

	// OnPriceUpdate fires after a confirmed on-chain price push.
	// OnExecution fires after a confirmed limit-order execution.
	// Both are optional and must be set before Run.
	OnPriceUpdate func(price decimal.Decimal, receipt ledger.Receipt)
	OnExecution   func(id order.ID, receipt ledger.Receipt)
}

func New(l ledger.Ledger, source oracle.PriceSource, cfg params.Keeper, priceSymbol string, tracked, stables []common.Address, log *zap.SugaredLogger) *Keeper {
	return &Keeper{
		ledger:      l,
		source:      source,
		gate:        oracle.NewGate(cfg.MinPriceChangePercent),
		log:         log,
		clock:       util.RealClock{},
		cfg:         cfg,
		priceSymbol: priceSymbol,
		tracked:     tracked,
		stables:     stables,
	}
}

// SetClock overrides the loop timing source. Test hook.
func (k *Keeper) SetClock(c util.Clock) { k.clock = c }

// Gate exposes the price-push gate, mainly for status reporting.
func (k *Keeper) Gate() *oracle.Gate { return k.gate }

// Run starts both loops and blocks until ctx is cancelled. Each loop
// ticks once immediately, then on its interval. Tick failures are logged
// and absorbed; the loops only ever exit through ctx.
func (k *Keeper) Run(ctx context.Context) {
	k.log.Infow("keeper_started",
		"price_interval", k.cfg.PriceCheckInterval,
		"order_interval", k.cfg.OrderCheckInterval,
		"min_price_change_pct", k.cfg.MinPriceChangePercent,
		"tracked", len(k.tracked),
		"stables", len(k.stables))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		k.loop(ctx, k.cfg.PriceCheckInterval, k.PriceTick)
	}()
	go func() {
		defer wg.Done()
		k.loop(ctx, k.cfg.OrderCheckInterval, k.OrderTick)
	}()
	wg.Wait()

	k.log.Infow("keeper_stopped")
}

func (k *Keeper) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	tick(ctx)

	t := k.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			tick(ctx)
		}
	}
}

// PriceTick samples the external price and pushes it on chain when it
// moved enough since the last confirmed push. Stable tokens are pinned
// at 1.0 in the same transaction.
func (k *Keeper) PriceTick(ctx context.Context) {
	if len(k.tracked) == 0 && len(k.stables) == 0 {
		return
	}

	price, err := k.source.GetPrice(ctx, k.priceSymbol)
	if err != nil {
		k.log.Warnw("price_fetch_failed", "symbol", k.priceSymbol, "err", err)
		return
	}

	if !k.gate.ShouldPush(price) {
		last, _ := k.gate.LastPushed()
		k.log.Debugw("price_push_skipped", "observed", price, "last_pushed", last)
		return
	}

	assets := make([]common.Address, 0, len(k.tracked)+len(k.stables))
	prices := make([]*big.Int, 0, cap(assets))
	for _, t := range k.tracked {
		assets = append(assets, t)
		prices = append(prices, ledger.ToWad(price))
	}
	one := ledger.ToWad(decimal.New(1, 0))
	for _, s := range k.stables {
		assets = append(assets, s)
		prices = append(prices, one)
	}

	receipt, err := k.ledger.PushPrices(ctx, assets, prices)
	if err != nil {
		k.log.Warnw("price_push_failed", "symbol", k.priceSymbol, "price", price, "err", err)
		return
	}
	if !receipt.Success {
		k.log.Warnw("price_push_reverted", "tx", receipt.TxHash.Hex(), "price", price)
		return
	}

	k.gate.Commit(price)
	k.log.Infow("price_pushed",
		"symbol", k.priceSymbol,
		"price", price,
		"assets", len(assets),
		"tx", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber)
	if k.OnPriceUpdate != nil {
		k.OnPriceUpdate(price, receipt)
	}
}

// OrderTick scans pending orders and executes every limit order the
// ledger reports as executable. One failing order never blocks the rest
// of the scan.
func (k *Keeper) OrderTick(ctx context.Context) {
	ids, err := k.pendingIDs(ctx)
	if err != nil {
		k.log.Warnw("pending_scan_failed", "err", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	k.log.Debugw("pending_orders", "count", len(ids))

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		k.checkOrder(ctx, id)
	}
}

// pendingIDs snapshots the ledger's pending set. Executions during the
// scan shift the on-chain array, so indices are only read here.
func (k *Keeper) pendingIDs(ctx context.Context) ([]order.ID, error) {
	count, err := k.ledger.PendingOrderCount(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]order.ID, 0, count)
	for i := 0; i < count; i++ {
		id, err := k.ledger.PendingOrderIDAt(ctx, i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (k *Keeper) checkOrder(ctx context.Context, id order.ID) {
	details, err := k.ledger.GetOrderDetails(ctx, id)
	if err != nil {
		k.log.Warnw("order_read_failed", "order", id.Hex(), "err", err)
		return
	}
	if details.Status != order.Pending || !details.IsLimit() {
		return
	}

	check, err := k.ledger.CanExecuteLimitOrder(ctx, id)
	if err != nil {
		k.log.Warnw("execution_check_failed", "order", id.Hex(), "err", err)
		return
	}
	if !check.CanExecute {
		return
	}

	k.log.Infow("order_executable",
		"order", id.Hex(),
		"current_price", ledger.FromWad(check.CurrentPrice),
		"target_price", ledger.FromWad(check.TargetPrice))

	receipt, err := k.ledger.ExecuteLimitOrder(ctx, id)
	if err != nil {
		k.log.Warnw("execution_failed", "order", id.Hex(), "err", err)
		return
	}
	if !receipt.Success {
		// Lost the race to another keeper or the price moved; the next
		// tick re-reads the authoritative state.
		k.log.Warnw("execution_reverted", "order", id.Hex(), "tx", receipt.TxHash.Hex())
		return
	}

	k.log.Infow("order_executed",
		"order", id.Hex(),
		"tx", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber)
	if k.OnExecution != nil {
		k.OnExecution(id, receipt)
	}
}
