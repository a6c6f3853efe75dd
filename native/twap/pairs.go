package twap

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// PairResolver maps an unordered token pair to its pair identity and canonical
// ordering.
type PairResolver interface {
	PairFor(tokenA, tokenB common.Address) (common.Address, error)
	SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error)
}

// V2Resolver derives pair addresses the way a constant-product factory deploys
// them with CREATE2.
type V2Resolver struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

// NewV2Resolver returns a resolver for the supplied factory.
func NewV2Resolver(factory common.Address, initCodeHash common.Hash) *V2Resolver {
	return &V2Resolver{Factory: factory, InitCodeHash: initCodeHash}
}

// SortTokens orders two token addresses by byte value.
func (r *V2Resolver) SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	return SortTokens(tokenA, tokenB)
}

// PairFor returns keccak256(0xff ++ factory ++ keccak256(token0 ++ token1) ++ initCodeHash)[12:].
func (r *V2Resolver) PairFor(tokenA, tokenB common.Address) (common.Address, error) {
	if r == nil {
		return common.Address{}, fmt.Errorf("twap: pair resolver not configured")
	}
	token0, token1, err := SortTokens(tokenA, tokenB)
	if err != nil {
		return common.Address{}, err
	}
	salt := crypto.Keccak256Hash(token0.Bytes(), token1.Bytes())
	return crypto.CreateAddress2(r.Factory, salt, r.InitCodeHash.Bytes()), nil
}

// SortTokens orders two token addresses by byte value, rejecting identical and
// zero addresses.
func SortTokens(tokenA, tokenB common.Address) (common.Address, common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s", ErrIdenticalTokens, tokenA.Hex())
	}
	token0, token1 := tokenA, tokenB
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		token0, token1 = tokenB, tokenA
	}
	if token0 == (common.Address{}) {
		return common.Address{}, common.Address{}, ErrZeroAddress
	}
	return token0, token1, nil
}
