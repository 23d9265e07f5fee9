package batch

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/shadowswap/engine/pkg/order"
)

// clearingPriceScale is the number of fractional digits kept on a clearing
// price. Division results are truncated toward zero at this scale.
const clearingPriceScale = 18

// Pair is a trading pair in canonical form: Base is the lexicographically
// smaller token address. Canonicalization guarantees each unordered pair
// produces exactly one ClearingResult and each order settles on exactly
// one side of one pair per batch.
type Pair struct {
	Base  common.Address
	Quote common.Address
}

// PairOf returns the canonical pair for an order selling tokenIn for
// tokenOut, and whether that order is a sell of the pair's base.
func PairOf(tokenIn, tokenOut common.Address) (Pair, bool) {
	if bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) < 0 {
		return Pair{Base: tokenIn, Quote: tokenOut}, true
	}
	return Pair{Base: tokenOut, Quote: tokenIn}, false
}

func (p Pair) String() string {
	return p.Base.Hex() + "-" + p.Quote.Hex()
}

/// ClearingResult is the matcher output for one pair in one batch: the
// uniform rate every matched participant settles at, plus aggregates. It
// is handed to the ledger as a settlement instruction, never persisted
// here.
type ClearingResult struct {
	Pair             Pair
	ClearingPrice    decimal.Decimal
	MatchedBuyCount  int
	MatchedSellCount int
	TotalVolume      decimal.Decimal
}

type sides struct {
	buyVolume  decimal.Decimal
	sellVolume decimal.Decimal
	buys       int
	sells      int
}

// Match partitions validated orders by canonical pair and computes the
// uniform clearing price for every pair with volume on both sides:
//
//	clearingPrice = totalBuyVolume / totalSellVolume
//
// A buy is an order whose tokenOut is the pair's base, a sell one whose
// tokenIn is. Pairs with an empty side do not clear and their orders roll
// into the next batch. The result is deterministic and independent of
// input ordering: only commutative sums feed the price, and output is
// sorted by pair key.
func Match(orders []order.Order) []ClearingResult {
	buckets := make(map[Pair]*sides)

	for _, o := range orders {
		pair, isSell := PairOf(o.TokenIn, o.TokenOut)
		s, ok := buckets[pair]
		if !ok {
			s = &sides{buyVolume: decimal.Zero, sellVolume: decimal.Zero}
			buckets[pair] = s
		}
		if isSell {
			s.sellVolume = s.sellVolume.Add(o.AmountIn)
			s.sells++
		} else {
			s.buyVolume = s.buyVolume.Add(o.AmountIn)
			s.buys++
		}
	}

	results := make([]ClearingResult, 0, len(buckets))
	for pair, s := range buckets {
		// One-sided pairs do not clear; the zero check also guards the
		// division below.
		if s.buys == 0 || s.sells == 0 || !s.buyVolume.IsPositive() || !s.sellVolume.IsPositive() {
			continue
		}
		price := s.buyVolume.DivRound(s.sellVolume, clearingPriceScale+1).Truncate(clearingPriceScale)
		results = append(results, ClearingResult{
			Pair:             pair,
			ClearingPrice:    price,
			MatchedBuyCount:  s.buys,
			MatchedSellCount: s.sells,
			TotalVolume:      s.buyVolume.Add(s.sellVolume),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Pair.String() < results[j].Pair.String()
	})
	return results
}
