package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// RejectError reports why an order failed validation. Rejections are
// expected, local and non-fatal: a rejected order is recorded and skipped,
// it never aborts the rest of the batch.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "order rejected: " + e.Reason }

func reject(format string, args ...interface{}) error {
	return &RejectError{Reason: fmt.Sprintf(format, args...)}
}

// IsReject reports whether err is a validation rejection as opposed to an
// infrastructure failure.
func IsReject(err error) bool {
	_, ok := err.(*RejectError)
	return ok
}

// Validate checks a decrypted payload and returns the normalized order.
// Pure: no I/O, the only ambient input is the caller-supplied clock time.
//
// Checks run in a fixed sequence and short-circuit on the first failure:
// required fields, token addresses, amount, limit price (limit orders
// only), expiry.
func Validate(raw Raw, now time.Time) (Order, error) {
	var missing []string
	if raw.OrderType == "" {
		missing = append(missing, "orderType")
	}
	if raw.TokenIn == "" {
		missing = append(missing, "tokenIn")
	}
	if raw.TokenOut == "" {
		missing = append(missing, "tokenOut")
	}
	if raw.AmountIn == "" {
		missing = append(missing, "amountIn")
	}
	if len(missing) > 0 {
		return Order{}, reject("missing required fields: %s", strings.Join(missing, ", "))
	}

	kind, err := parseKind(raw.OrderType)
	if err != nil {
		return Order{}, err
	}

	if !common.IsHexAddress(raw.TokenIn) || !common.IsHexAddress(raw.TokenOut) {
		return Order{}, reject("invalid token address format")
	}
	tokenIn := common.HexToAddress(raw.TokenIn)
	tokenOut := common.HexToAddress(raw.TokenOut)
	if tokenIn == tokenOut {
		return Order{}, reject("tokenIn and tokenOut must be distinct")
	}

	amountIn, err := decimal.NewFromString(raw.AmountIn)
	if err != nil || !amountIn.IsPositive() {
		return Order{}, reject("invalid amount")
	}

	limitPrice := decimal.Zero
	if kind == Limit {
		limitPrice, err = decimal.NewFromString(raw.LimitPrice)
		if err != nil || !limitPrice.IsPositive() {
			return Order{}, reject("invalid limit price for limit order")
		}
	}

	var expiry int64
	if raw.Expiry != "" {
		expiry, err = strconv.ParseInt(raw.Expiry, 10, 64)
		if err != nil || expiry < 0 {
			return Order{}, reject("invalid expiry")
		}
		if expiry != 0 && expiry <= now.Unix() {
			return Order{}, reject("order has expired")
		}
	}

	var owner common.Address
	if raw.Owner != "" {
		if !common.IsHexAddress(raw.Owner) {
			return Order{}, reject("invalid owner address")
		}
		owner = common.HexToAddress(raw.Owner)
	}

	var ts int64
	if raw.Timestamp != "" {
		// Best effort: a bad wallet timestamp is not worth rejecting over.
		ts, _ = strconv.ParseInt(raw.Timestamp, 10, 64)
	}
	if ts == 0 {
		ts = now.Unix()
	}

	return Order{
		ID:         deriveID(raw),
		Owner:      owner,
		TokenIn:    tokenIn,
		TokenOut:   tokenOut,
		AmountIn:   amountIn,
		Kind:       kind,
		LimitPrice: limitPrice,
		Expiry:     expiry,
		Timestamp:  ts,
	}, nil
}

func parseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "market":
		return Market, nil
	case "limit":
		return Limit, nil
	default:
		return 0, reject("unknown order type %q", s)
	}
}

// deriveID uses the wallet-supplied nonce when it is a well-formed 32-byte
// hex string, otherwise hashes the payload fields. Either way the id is
// stable for a given payload.
func deriveID(raw Raw) ID {
	if len(raw.Nonce) == 2+2*common.HashLength && strings.HasPrefix(raw.Nonce, "0x") {
		if b := common.FromHex(raw.Nonce); len(b) == common.HashLength {
			return common.BytesToHash(b)
		}
	}
	return crypto.Keccak256Hash([]byte(strings.Join([]string{
		raw.OrderType, raw.TokenIn, raw.TokenOut, raw.AmountIn,
		raw.LimitPrice, raw.Expiry, raw.Owner, raw.Nonce, raw.Timestamp,
	}, "|")))
}
