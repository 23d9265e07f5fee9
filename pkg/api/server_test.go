package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/shadowswap/engine/pkg/ledger"
)

var (
	tokenA = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB = common.HexToAddress("0x2000000000000000000000000000000000000002")
	ds     = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func wadInt(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

var keeperAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

func newTestServer(t *testing.T, m *ledger.MemLedger) *Server {
	t.Helper()
	return NewServer(m, "ethereum", keeperAddr, []common.Address{tokenA, tokenB},
		func() (decimal.Decimal, bool) {
			return decimal.RequireFromString("2000"), true
		})
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, ledger.NewMemLedger())
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	if _, receipt, _ := m.SubmitLimitOrder(ctx, []byte("x"), ds, tokenA, tokenB, wadInt(1), wadInt(2000), 0); !receipt.Success {
		t.Fatal("submit failed")
	}

	s := newTestServer(t, m)
	rec := get(t, s, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var info StatusInfo
	decode(t, rec, &info)
	if info.BatchID != 1 || info.PendingOrders != 1 {
		t.Fatalf("info = %+v", info)
	}
	if info.LastPushedPrice != "2000" || info.PriceSymbol != "ethereum" {
		t.Fatalf("info = %+v", info)
	}
	if info.KeeperAddress != keeperAddr.Hex() {
		t.Fatalf("keeper address = %q", info.KeeperAddress)
	}
}

func TestPendingOrders(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	m.SubmitOrder(ctx, []byte("a"), ds, tokenA, tokenB, wadInt(5))
	m.SubmitLimitOrder(ctx, []byte("b"), ds, tokenB, tokenA, wadInt(3), wadInt(1500), 0)

	s := newTestServer(t, m)
	rec := get(t, s, "/api/v1/orders/pending")

	var orders []OrderInfo
	decode(t, rec, &orders)
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[0].Type != "market" || orders[0].AmountIn != "5" || orders[0].LimitPrice != "" {
		t.Fatalf("market order = %+v", orders[0])
	}
	if orders[1].Type != "limit" || orders[1].LimitPrice != "1500" {
		t.Fatalf("limit order = %+v", orders[1])
	}
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	id, _, _ := m.SubmitLimitOrder(ctx, []byte("x"), ds, tokenA, tokenB, wadInt(1), wadInt(2000), 0)

	s := newTestServer(t, m)

	rec := get(t, s, "/api/v1/orders/"+id.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var info OrderInfo
	decode(t, rec, &info)
	if info.ID != id.Hex() || info.Status != "pending" || info.LimitPrice != "2000" {
		t.Fatalf("info = %+v", info)
	}

	if rec := get(t, s, "/api/v1/orders/nothex"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: status = %d", rec.Code)
	}
	unknown := common.HexToHash("0xdeadbeef00000000000000000000000000000000000000000000000000000000")
	if rec := get(t, s, "/api/v1/orders/"+unknown.Hex()); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d", rec.Code)
	}
}

func TestGetPrice(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	m.PushPrices(ctx, []common.Address{tokenA}, []*big.Int{wadInt(2050)})

	s := newTestServer(t, m)

	rec := get(t, s, "/api/v1/prices/"+tokenA.Hex())
	var info PriceInfo
	decode(t, rec, &info)
	if info.Price != "2050" {
		t.Fatalf("price = %q, want 2050", info.Price)
	}

	// Unknown assets read back as zero, matching the feed contract.
	rec = get(t, s, "/api/v1/prices/"+tokenB.Hex())
	decode(t, rec, &info)
	if info.Price != "0" {
		t.Fatalf("price = %q, want 0", info.Price)
	}

	if rec := get(t, s, "/api/v1/prices/nothex"); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed asset: status = %d", rec.Code)
	}
}

func TestGetPrices(t *testing.T) {
	ctx := context.Background()
	m := ledger.NewMemLedger()
	m.PushPrices(ctx, []common.Address{tokenA, tokenB}, []*big.Int{wadInt(2050), wadInt(1)})

	s := newTestServer(t, m)

	rec := get(t, s, "/api/v1/prices")
	var prices []PriceInfo
	decode(t, rec, &prices)
	if len(prices) != 2 {
		t.Fatalf("prices = %d entries, want 2", len(prices))
	}
	if prices[0].Price != "2050" || prices[1].Price != "1" {
		t.Fatalf("prices = %+v", prices)
	}
}
