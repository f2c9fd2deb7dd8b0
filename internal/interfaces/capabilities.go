package interfaces

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"escrow-backend/internal/types"
)

// Vault yield vault and rate source. Ratios are shares-per-underlying
// scaled by 1e18 and sampled at call time; a ratio change between opt-in
// and opt-out is how yield or loss is realized.
type Vault interface {
	// CurrentRatio returns the current shares-per-underlying conversion
	// ratio, scaled by 1e18.
	CurrentRatio(ctx context.Context) (*big.Int, error)
	// DepositUnderlying moves amount of underlying into the vault and
	// returns the shares received.
	DepositUnderlying(ctx context.Context, amount *big.Int) (*big.Int, error)
	// RedeemShares redeems shares for underlying and returns the amount
	// received. The caller must guard against slippage.
	RedeemShares(ctx context.Context, shares *big.Int) (*big.Int, error)
	// Address identifies the vault instance.
	Address() common.Address
}

// AssetTransferor moves the underlying asset between parties. A failed call
// must not silently consume funds; errors propagate to the caller.
type AssetTransferor interface {
	// TransferIn pulls amount from the given address into custody.
	TransferIn(ctx context.Context, from common.Address, amount *big.Int) error
	// TransferOut pays amount out of custody to the given address.
	TransferOut(ctx context.Context, to common.Address, amount *big.Int) error
}

// Transport delivers settlement messages between nodes. Delivery is
// at-least-once and unordered, except that a resolve message is never
// delivered before the transfer it compensates.
type Transport interface {
	// Quote estimates the fee for dispatching a payload of the given size
	// to the destination endpoint.
	Quote(dstEid uint32, payload []byte, options []byte, payInAltAsset bool) (*types.Fee, error)
	// Dispatch hands a message to the transport for delivery. The attached
	// fee must cover the quoted cost.
	Dispatch(msg *types.Message, fee *types.Fee) error
}
