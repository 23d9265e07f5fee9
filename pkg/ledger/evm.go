package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	swcrypto "github.com/shadowswap/engine/pkg/crypto"
	"github.com/shadowswap/engine/pkg/order"
)

// Contract ABI fragments for the ShadowPool auction contract and the
// keeper-fed price feed.
const shadowPoolABI = `[
	{"type":"function","name":"currentBatchId","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"getPendingOrderCount","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"pendingOrderIds","stateMutability":"view","inputs":[{"name":"index","type":"uint256"}],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"getOrderDetails","stateMutability":"view","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"owner","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"limitPrice","type":"uint256"},{"name":"expiry","type":"uint256"},{"name":"status","type":"uint8"},{"name":"batchId","type":"uint256"},{"name":"timestamp","type":"uint256"}]},
	{"type":"function","name":"canExecuteLimitOrder","stateMutability":"view","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"canExecute","type":"bool"},{"name":"currentPrice","type":"uint256"},{"name":"targetPrice","type":"uint256"}]},
	{"type":"function","name":"submitOrder","stateMutability":"nonpayable","inputs":[{"name":"encryptedPayload","type":"bytes"},{"name":"datasetRef","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"}],"outputs":[{"name":"orderId","type":"bytes32"}]},
	{"type":"function","name":"submitLimitOrder","stateMutability":"nonpayable","inputs":[{"name":"encryptedPayload","type":"bytes"},{"name":"datasetRef","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"limitPrice","type":"uint256"},{"name":"expiry","type":"uint256"}],"outputs":[{"name":"orderId","type":"bytes32"}]},
	{"type":"function","name":"cancelOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"executeLimitOrder","stateMutability":"nonpayable","inputs":[{"name":"orderId","type":"bytes32"}],"outputs":[{"name":"success","type":"bool"}]},
	{"type":"event","name":"OrderSubmitted","inputs":[{"name":"orderId","type":"bytes32","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"batchId","type":"uint256","indexed":false}],"anonymous":false}
]`

const priceFeedABI = `[
	{"type":"function","name":"getPrice","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"price","type":"uint256"}]},
	{"type":"function","name":"setPrices","stateMutability":"nonpayable","inputs":[{"name":"tokens","type":"address[]"},{"name":"pricesUsd","type":"uint256[]"}],"outputs":[]}
]`

// EVMLedger talks to the ShadowPool and PriceFeed contracts over an
// Ethereum JSON-RPC endpoint. All writes are signed with one keeper
// identity and serialized internally so concurrent loops never race on
// the account nonce.
type EVMLedger struct {
	client  *ethclient.Client
	signer  *swcrypto.Signer
	chainID *big.Int

	pool    common.Address
	feed    common.Address
	poolABI abi.ABI
	feedABI abi.ABI

	confirmTimeout time.Duration

	// submitMu serializes the nonce-fetch/sign/send/wait sequence.
	submitMu sync.Mutex
}

// NewEVMLedger dials the RPC endpoint and resolves the chain id. An
// unreachable endpoint here is a startup-fatal configuration error.
func NewEVMLedger(ctx context.Context, rpcURL string, signer *swcrypto.Signer, pool, feed common.Address, confirmTimeout time.Duration) (*EVMLedger, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve chain id: %w", err)
	}

	pABI, err := abi.JSON(strings.NewReader(shadowPoolABI))
	if err != nil {
		return nil, fmt.Errorf("parse shadow pool abi: %w", err)
	}
	fABI, err := abi.JSON(strings.NewReader(priceFeedABI))
	if err != nil {
		return nil, fmt.Errorf("parse price feed abi: %w", err)
	}

	return &EVMLedger{
		client:         client,
		signer:         signer,
		chainID:        chainID,
		pool:           pool,
		feed:           feed,
		poolABI:        pABI,
		feedABI:        fABI,
		confirmTimeout: confirmTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (l *EVMLedger) Close() {
	l.client.Close()
}

// ---- reads ----

func (l *EVMLedger) call(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (l *EVMLedger) CurrentBatchID(ctx context.Context) (uint64, error) {
	out, err := l.call(ctx, l.pool, l.poolABI, "currentBatchId")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Uint64(), nil
}

func (l *EVMLedger) PendingOrderCount(ctx context.Context) (int, error) {
	out, err := l.call(ctx, l.pool, l.poolABI, "getPendingOrderCount")
	if err != nil {
		return 0, err
	}
	return int(out[0].(*big.Int).Int64()), nil
}

func (l *EVMLedger) PendingOrderIDAt(ctx context.Context, index int) (order.ID, error) {
	out, err := l.call(ctx, l.pool, l.poolABI, "pendingOrderIds", big.NewInt(int64(index)))
	if err != nil {
		return order.ID{}, err
	}
	return common.Hash(out[0].([32]byte)), nil
}

func (l *EVMLedger) GetOrderDetails(ctx context.Context, id order.ID) (OrderDetails, error) {
	out, err := l.call(ctx, l.pool, l.poolABI, "getOrderDetails", [32]byte(id))
	if err != nil {
		return OrderDetails{}, err
	}
	return OrderDetails{
		Owner:      out[0].(common.Address),
		TokenIn:    out[1].(common.Address),
		TokenOut:   out[2].(common.Address),
		AmountIn:   out[3].(*big.Int),
		LimitPrice: out[4].(*big.Int),
		Expiry:     out[5].(*big.Int).Int64(),
		Status:     order.Status(out[6].(uint8)),
		BatchID:    out[7].(*big.Int).Uint64(),
		Timestamp:  out[8].(*big.Int).Int64(),
	}, nil
}

func (l *EVMLedger) CanExecuteLimitOrder(ctx context.Context, id order.ID) (ExecutionCheck, error) {
	out, err := l.call(ctx, l.pool, l.poolABI, "canExecuteLimitOrder", [32]byte(id))
	if err != nil {
		return ExecutionCheck{}, err
	}
	return ExecutionCheck{
		CanExecute:   out[0].(bool),
		CurrentPrice: out[1].(*big.Int),
		TargetPrice:  out[2].(*big.Int),
	}, nil
}

func (l *EVMLedger) CurrentPrice(ctx context.Context, asset common.Address) (*big.Int, error) {
	out, err := l.call(ctx, l.feed, l.feedABI, "getPrice", asset)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// ---- writes ----

// transact packs, signs, sends and waits for confirmation of one
// transaction. The wait is bounded by confirmTimeout; on timeout the
// outcome is unknown and the error tells the caller to defer to the next
// tick's ledger reads.
func (l *EVMLedger) transact(ctx context.Context, to common.Address, data []byte) (*types.Receipt, common.Hash, error) {
	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	from := l.signer.Address()

	nonce, err := l.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := l.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := l.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit * 12 / 10, // headroom for state drift between estimate and inclusion
		To:       &to,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(l.chainID), l.signer.PrivateKey())
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := l.client.SendTransaction(ctx, signed); err != nil {
		return nil, signed.Hash(), fmt.Errorf("send tx %s: %w", signed.Hash().Hex(), err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.confirmTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, l.client, signed)
	if err != nil {
		return nil, signed.Hash(), fmt.Errorf("confirmation of %s unknown: %w", signed.Hash().Hex(), err)
	}
	return receipt, signed.Hash(), nil
}

func toReceipt(r *types.Receipt, hash common.Hash) Receipt {
	return Receipt{
		TxHash:      hash,
		Success:     r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber.Uint64(),
	}
}

// submittedOrderID extracts the order id from the OrderSubmitted event in
// a confirmed submission receipt.
func (l *EVMLedger) submittedOrderID(r *types.Receipt) (order.ID, error) {
	topic := l.poolABI.Events["OrderSubmitted"].ID
	for _, lg := range r.Logs {
		if lg.Address == l.pool && len(lg.Topics) >= 2 && lg.Topics[0] == topic {
			return lg.Topics[1], nil
		}
	}
	return order.ID{}, fmt.Errorf("no OrderSubmitted event in receipt %s", r.TxHash.Hex())
}

func (l *EVMLedger) SubmitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn *big.Int) (order.ID, Receipt, error) {
	data, err := l.poolABI.Pack("submitOrder", payload, datasetRef, tokenIn, tokenOut, amountIn)
	if err != nil {
		return order.ID{}, Receipt{}, fmt.Errorf("pack submitOrder: %w", err)
	}
	r, hash, err := l.transact(ctx, l.pool, data)
	if err != nil {
		return order.ID{}, Receipt{}, err
	}
	receipt := toReceipt(r, hash)
	if !receipt.Success {
		return order.ID{}, receipt, nil
	}
	id, err := l.submittedOrderID(r)
	return id, receipt, err
}

func (l *EVMLedger) SubmitLimitOrder(ctx context.Context, payload []byte, datasetRef common.Address, tokenIn, tokenOut common.Address, amountIn, limitPrice *big.Int, expiry int64) (order.ID, Receipt, error) {
	data, err := l.poolABI.Pack("submitLimitOrder", payload, datasetRef, tokenIn, tokenOut, amountIn, limitPrice, big.NewInt(expiry))
	if err != nil {
		return order.ID{}, Receipt{}, fmt.Errorf("pack submitLimitOrder: %w", err)
	}
	r, hash, err := l.transact(ctx, l.pool, data)
	if err != nil {
		return order.ID{}, Receipt{}, err
	}
	receipt := toReceipt(r, hash)
	if !receipt.Success {
		return order.ID{}, receipt, nil
	}
	id, err := l.submittedOrderID(r)
	return id, receipt, err
}

func (l *EVMLedger) CancelOrder(ctx context.Context, id order.ID) (Receipt, error) {
	data, err := l.poolABI.Pack("cancelOrder", [32]byte(id))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack cancelOrder: %w", err)
	}
	r, hash, err := l.transact(ctx, l.pool, data)
	if err != nil {
		return Receipt{}, err
	}
	return toReceipt(r, hash), nil
}

func (l *EVMLedger) ExecuteLimitOrder(ctx context.Context, id order.ID) (Receipt, error) {
	data, err := l.poolABI.Pack("executeLimitOrder", [32]byte(id))
	if err != nil {
		return Receipt{}, fmt.Errorf("pack executeLimitOrder: %w", err)
	}
	r, hash, err := l.transact(ctx, l.pool, data)
	if err != nil {
		return Receipt{}, err
	}
	return toReceipt(r, hash), nil
}

func (l *EVMLedger) PushPrices(ctx context.Context, assets []common.Address, prices []*big.Int) (Receipt, error) {
	if len(assets) != len(prices) {
		return Receipt{}, fmt.Errorf("assets/prices length mismatch: %d vs %d", len(assets), len(prices))
	}
	data, err := l.feedABI.Pack("setPrices", assets, prices)
	if err != nil {
		return Receipt{}, fmt.Errorf("pack setPrices: %w", err)
	}
	r, hash, err := l.transact(ctx, l.feed, data)
	if err != nil {
		return Receipt{}, err
	}
	return toReceipt(r, hash), nil
}

var _ Ledger = (*EVMLedger)(nil)
