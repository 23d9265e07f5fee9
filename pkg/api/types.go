package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// StatusInfo is the keeper's public status snapshot.
type StatusInfo struct {
	BatchID         uint64 `json:"batchId"`
	PendingOrders   int    `json:"pendingOrders"`
	KeeperAddress   string `json:"keeperAddress"`
	LastPushedPrice string `json:"lastPushedPrice,omitempty"` // empty until the first push
	PriceSymbol     string `json:"priceSymbol"`
	Timestamp       int64  `json:"timestamp"` // Unix milliseconds
}

// OrderInfo is the ledger's view of one order. Amounts are decimal
// strings, never raw fixed-point integers.
type OrderInfo struct {
	ID         string `json:"id"`
	Type       string `json:"type"`   // "market" or "limit"
	Status     string `json:"status"` // "pending", "executed", "cancelled", "expired"
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	AmountIn   string `json:"amountIn"`
	LimitPrice string `json:"limitPrice,omitempty"`
	Expiry     int64  `json:"expiry,omitempty"` // Unix seconds, 0 = never
	BatchID    uint64 `json:"batchId"`
	Timestamp  int64  `json:"timestamp"`
}

// PriceInfo is the on-chain feed price for one asset.
type PriceInfo struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["prices", "executions"]
}

// PriceUpdate is broadcast on the "prices" channel after every confirmed
// on-chain price push.
type PriceUpdate struct {
	Type      string `json:"type"` // "price"
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	TxHash    string `json:"txHash"`
	Block     uint64 `json:"block"`
	Timestamp int64  `json:"timestamp"`
}

// ExecutionUpdate is broadcast on the "executions" channel when the
// keeper executes a limit order.
type ExecutionUpdate struct {
	Type      string `json:"type"` // "execution"
	OrderID   string `json:"orderId"`
	TxHash    string `json:"txHash"`
	Block     uint64 `json:"block"`
	Timestamp int64  `json:"timestamp"`
}
