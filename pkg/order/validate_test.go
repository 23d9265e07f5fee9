package order

import (
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal fixture %q: %v", s, err)
	}
	return d
}

var (
	tokenA = "0x62b64cC9B1Aa2F2c9d612f0b4a58Cfba0eEc9bE2"
	tokenB = "0xcC5f8FC3CcAB02157F82afb7E19Fc65f4808849e"
)

func validRaw() Raw {
	return Raw{
		OrderType: "market",
		TokenIn:   tokenA,
		TokenOut:  tokenB,
		AmountIn:  "100",
		Owner:     "0xe160dc7BD1E9d63A47a1d4CD082c332DD19D870c",
	}
}

func TestValidateRejections(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name   string
		mutate func(*Raw)
	}{
		{"missing order type", func(r *Raw) { r.OrderType = "" }},
		{"missing token in", func(r *Raw) { r.TokenIn = "" }},
		{"missing token out", func(r *Raw) { r.TokenOut = "" }},
		{"missing amount", func(r *Raw) { r.AmountIn = "" }},
		{"unknown order type", func(r *Raw) { r.OrderType = "stop-loss" }},
		{"malformed token address", func(r *Raw) { r.TokenIn = "not-an-address" }},
		{"identical tokens", func(r *Raw) { r.TokenOut = r.TokenIn }},
		{"zero amount", func(r *Raw) { r.AmountIn = "0" }},
		{"negative amount", func(r *Raw) { r.AmountIn = "-5" }},
		{"non-numeric amount", func(r *Raw) { r.AmountIn = "lots" }},
		{"limit without price", func(r *Raw) { r.OrderType = "limit" }},
		{"limit with zero price", func(r *Raw) { r.OrderType = "limit"; r.LimitPrice = "0" }},
		{"limit with negative price", func(r *Raw) { r.OrderType = "limit"; r.LimitPrice = "-2000" }},
		{"expired order", func(r *Raw) { r.Expiry = strconv.FormatInt(now.Unix()-60, 10) }},
		{"expiry equal to now", func(r *Raw) { r.Expiry = strconv.FormatInt(now.Unix(), 10) }},
		{"malformed expiry", func(r *Raw) { r.Expiry = "tomorrow" }},
		{"malformed owner", func(r *Raw) { r.Owner = "0x123" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			_, err := Validate(raw, now)
			if err == nil {
				t.Fatal("expected rejection, got nil")
			}
			if !IsReject(err) {
				t.Fatalf("expected RejectError, got %T: %v", err, err)
			}
		})
	}
}

func TestValidateMarketOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	raw := validRaw()
	raw.LimitPrice = "9999" // present but ignored for market orders

	o, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Kind != Market {
		t.Errorf("expected Market kind, got %v", o.Kind)
	}
	if !o.LimitPrice.IsZero() {
		t.Errorf("market order limit price should be zero, got %s", o.LimitPrice)
	}
	if !o.AmountIn.Equal(mustDecimal(t, "100")) {
		t.Errorf("amountIn = %s, want 100", o.AmountIn)
	}
	if o.TokenIn == o.TokenOut {
		t.Error("tokens must be distinct after normalization")
	}
}

func TestValidateLimitOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	raw := validRaw()
	raw.OrderType = "limit"
	raw.LimitPrice = "2000.50"
	raw.Expiry = strconv.FormatInt(now.Unix()+3600, 10)

	o, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Kind != Limit {
		t.Errorf("expected Limit kind, got %v", o.Kind)
	}
	if !o.LimitPrice.Equal(mustDecimal(t, "2000.50")) {
		t.Errorf("limitPrice = %s, want 2000.50", o.LimitPrice)
	}
	if o.Expiry != now.Unix()+3600 {
		t.Errorf("expiry = %d, want %d", o.Expiry, now.Unix()+3600)
	}
}

func TestValidateZeroExpiryNeverExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	raw := validRaw()
	raw.Expiry = "0"

	o, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Expiry != 0 {
		t.Errorf("expiry = %d, want 0", o.Expiry)
	}
}

func TestValidateIDStable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	raw := validRaw()
	raw.Nonce = "0x0102030405060708091011121314151617181920212223242526272829303132"

	a, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("id not stable: %s vs %s", a.ID.Hex(), b.ID.Hex())
	}
	if a.ID.Hex() != raw.Nonce {
		t.Errorf("id should come from nonce, got %s", a.ID.Hex())
	}

	// Without a nonce the id is derived from the payload and still stable.
	raw.Nonce = ""
	c, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err := Validate(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID != d.ID {
		t.Errorf("derived id not stable: %s vs %s", c.ID.Hex(), d.ID.Hex())
	}
	if c.ID == a.ID {
		t.Error("derived id should differ from nonce-based id")
	}
}
