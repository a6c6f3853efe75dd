package adapters

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"slidingoracle/native/twap"
)

var (
	selectorPrice0CumulativeLast = gethcrypto.Keccak256([]byte("price0CumulativeLast()"))[:4]
	selectorPrice1CumulativeLast = gethcrypto.Keccak256([]byte("price1CumulativeLast()"))[:4]
	selectorGetReserves          = gethcrypto.Keccak256([]byte("getReserves()"))[:4]
)

const wordSize = 32

// ContractCaller is the subset of the Ethereum RPC used to read pair state.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialContractCaller initialises an Ethereum RPC client for the provided endpoint.
func DialContractCaller(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// UniswapV2Source reads cumulative prices from constant-product pair contracts.
type UniswapV2Source struct {
	client ContractCaller
}

// NewUniswapV2Source wraps an Ethereum client.
func NewUniswapV2Source(client ContractCaller) *UniswapV2Source {
	return &UniswapV2Source{client: client}
}

type reserves struct {
	reserve0           *uint256.Int
	reserve1           *uint256.Int
	blockTimestampLast uint32
}

// CurrentCumulativePrices returns the pair's cumulative prices as they would
// read at now. When the pair has not been touched since its last sync, the
// time since then is credited at the current reserve ratio so that callers
// need not poke the pair first. Timestamps wrap at 2^32 like the contract's.
func (s *UniswapV2Source) CurrentCumulativePrices(ctx context.Context, pair common.Address, now uint64) (*uint256.Int, *uint256.Int, error) {
	if s == nil || s.client == nil {
		return nil, nil, fmt.Errorf("uniswapv2 source not initialised")
	}
	price0, err := s.callWord(ctx, pair, selectorPrice0CumulativeLast)
	if err != nil {
		return nil, nil, fmt.Errorf("price0CumulativeLast: %w", err)
	}
	price1, err := s.callWord(ctx, pair, selectorPrice1CumulativeLast)
	if err != nil {
		return nil, nil, fmt.Errorf("price1CumulativeLast: %w", err)
	}
	res, err := s.getReserves(ctx, pair)
	if err != nil {
		return nil, nil, err
	}
	blockTimestamp := uint32(now)
	if res.blockTimestampLast == blockTimestamp {
		return price0, price1, nil
	}
	if res.reserve0.IsZero() || res.reserve1.IsZero() {
		return nil, nil, fmt.Errorf("pair %s has no liquidity", pair.Hex())
	}
	elapsed := uint256.NewInt(uint64(blockTimestamp - res.blockTimestampLast))
	step0 := twap.EncodeRatio(res.reserve1, res.reserve0)
	step1 := twap.EncodeRatio(res.reserve0, res.reserve1)
	price0.Add(price0, step0.Mul(step0, elapsed))
	price1.Add(price1, step1.Mul(step1, elapsed))
	return price0, price1, nil
}

func (s *UniswapV2Source) call(ctx context.Context, pair common.Address, selector []byte) ([]byte, error) {
	to := pair
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: selector}, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UniswapV2Source) callWord(ctx context.Context, pair common.Address, selector []byte) (*uint256.Int, error) {
	out, err := s.call(ctx, pair, selector)
	if err != nil {
		return nil, err
	}
	if len(out) < wordSize {
		return nil, fmt.Errorf("short return data: %d bytes", len(out))
	}
	return new(uint256.Int).SetBytes32(out[:wordSize]), nil
}

func (s *UniswapV2Source) getReserves(ctx context.Context, pair common.Address) (reserves, error) {
	out, err := s.call(ctx, pair, selectorGetReserves)
	if err != nil {
		return reserves{}, fmt.Errorf("getReserves: %w", err)
	}
	if len(out) < 3*wordSize {
		return reserves{}, fmt.Errorf("getReserves: short return data: %d bytes", len(out))
	}
	ts := new(uint256.Int).SetBytes32(out[2*wordSize : 3*wordSize])
	if !ts.IsUint64() || ts.Uint64() > uint64(^uint32(0)) {
		return reserves{}, fmt.Errorf("getReserves: timestamp out of range")
	}
	return reserves{
		reserve0:           new(uint256.Int).SetBytes32(out[:wordSize]),
		reserve1:           new(uint256.Int).SetBytes32(out[wordSize : 2*wordSize]),
		blockTimestampLast: uint32(ts.Uint64()),
	}, nil
}
