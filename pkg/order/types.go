package order

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ID is the 32-byte order identifier assigned at submission time.
type ID = common.Hash

// Kind is the order variant. Limit orders carry a target price and are
// executed by the keeper; market orders settle in the batch auction.
type Kind uint8

const (
	Market Kind = iota + 1
	Limit
)

func (k Kind) String() string {
	switch k {
	case Market:
		return "market"
	case Limit:
		return "limit"
	default:
		return "unknown"
	}
}

// Status is the ledger-owned order lifecycle state. Pending is the only
// non-terminal state; transitions happen through ledger submissions, never
// locally.
type Status uint8

const (
	Pending Status = iota
	Executed
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executed:
		return "executed"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Raw is the plaintext order payload as produced by the confidential
// decrypt boundary. All fields are strings: the enclave input is JSON
// authored by wallets, normalization happens in Validate.
type Raw struct {
	OrderType    string `json:"orderType"`
	TokenIn      string `json:"tokenIn"`
	TokenOut     string `json:"tokenOut"`
	AmountIn     string `json:"amountIn"`
	AmountOutMin string `json:"amountOutMin,omitempty"`
	LimitPrice   string `json:"limitPrice,omitempty"`
	Expiry       string `json:"expiry,omitempty"`
	Owner        string `json:"owner,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// Order is a validated, normalized order.
//
// Invariants (enforced by Validate): TokenIn != TokenOut, AmountIn > 0,
// LimitPrice > 0 iff Kind == Limit, Expiry == 0 means never expires.
type Order struct {
	ID         ID
	Owner      common.Address
	TokenIn    common.Address
	TokenOut   common.Address
	AmountIn   decimal.Decimal
	Kind       Kind
	LimitPrice decimal.Decimal
	Expiry     int64 // unix seconds, 0 = never
	BatchID    uint64
	Timestamp  int64
}
