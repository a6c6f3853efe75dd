package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

// StaticSource synthesises accumulators for pairs trading at a fixed price:
// the forward cumulative is price*now and the reverse one (1/price)*now, both
// in UQ112.112.
type StaticSource struct {
	prices map[common.Address]staticPrice
}

type staticPrice struct {
	forward *uint256.Int
	reverse *uint256.Int
}

// NewStaticSource parses prices keyed by pair address. Values are ratios
// written as "numerator/denominator" or plain integers.
func NewStaticSource(prices map[string]string) (*StaticSource, error) {
	src := &StaticSource{prices: make(map[common.Address]staticPrice, len(prices))}
	for rawPair, rawPrice := range prices {
		if !common.IsHexAddress(rawPair) {
			return nil, fmt.Errorf("static source: invalid pair %q", rawPair)
		}
		num, den, err := parseRatio(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("static source: pair %s: %w", rawPair, err)
		}
		src.prices[common.HexToAddress(rawPair)] = staticPrice{
			forward: twap.EncodeRatio(num, den),
			reverse: twap.EncodeRatio(den, num),
		}
	}
	return src, nil
}

// CurrentCumulativePrices implements twap.PriceSource.
func (s *StaticSource) CurrentCumulativePrices(_ context.Context, pair common.Address, now uint64) (*uint256.Int, *uint256.Int, error) {
	price, ok := s.prices[pair]
	if !ok {
		return nil, nil, fmt.Errorf("static source: no price for pair %s", pair.Hex())
	}
	elapsed := uint256.NewInt(now)
	forward := new(uint256.Int).Mul(price.forward, elapsed)
	reverse := new(uint256.Int).Mul(price.reverse, elapsed)
	return forward, reverse, nil
}

func parseRatio(raw string) (*uint256.Int, *uint256.Int, error) {
	numRaw, denRaw, hasDen := strings.Cut(strings.TrimSpace(raw), "/")
	num, err := uint256.FromDecimal(strings.TrimSpace(numRaw))
	if err != nil {
		return nil, nil, fmt.Errorf("numerator: %w", err)
	}
	den := uint256.NewInt(1)
	if hasDen {
		if den, err = uint256.FromDecimal(strings.TrimSpace(denRaw)); err != nil {
			return nil, nil, fmt.Errorf("denominator: %w", err)
		}
	}
	if num.IsZero() || den.IsZero() {
		return nil, nil, fmt.Errorf("price must be non-zero")
	}
	return num, den, nil
}
