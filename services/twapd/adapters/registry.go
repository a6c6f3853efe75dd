package adapters

import (
	"context"
	"fmt"
	"strings"

	"slidingoracle/native/twap"
)

// Registry constructs price sources based on configuration.
type Registry struct {
	// Dial opens the RPC connection for on-chain sources. Tests replace it.
	Dial func(ctx context.Context, endpoint string) (ContractCaller, error)
}

// NewRegistry builds a registry dialing real Ethereum endpoints.
func NewRegistry() *Registry {
	return &Registry{Dial: func(ctx context.Context, endpoint string) (ContractCaller, error) {
		return DialContractCaller(ctx, endpoint)
	}}
}

// Build creates a source from the supplied configuration.
func (r *Registry) Build(ctx context.Context, typ, endpoint string, prices map[string]string) (twap.PriceSource, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "uniswapv2":
		if r == nil || r.Dial == nil {
			return nil, fmt.Errorf("uniswapv2 source requires a dialer")
		}
		client, err := r.Dial(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", typ, err)
		}
		return NewUniswapV2Source(client), nil
	case "static":
		return NewStaticSource(prices)
	default:
		return nil, fmt.Errorf("unknown source type %q", typ)
	}
}
