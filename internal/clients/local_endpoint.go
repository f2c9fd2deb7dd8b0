package clients

import (
	"fmt"
	"math/big"
	"sync"

	"escrow-backend/internal/types"
)

// LocalEndpoint in-process transport wiring settlement nodes together for
// dev mode and tests. Delivery is synchronous: a receiver's processing error
// propagates to the dispatcher, mirroring how a destination-side failure
// surfaces in an integrated deployment.
type LocalEndpoint struct {
	mu         sync.RWMutex
	feePerByte *big.Int
	receivers  map[uint32]func(*types.Message) error
}

// NewLocalEndpoint creates an endpoint with the given per-byte fee
func NewLocalEndpoint(feePerByte *big.Int) *LocalEndpoint {
	return &LocalEndpoint{
		feePerByte: new(big.Int).Set(feePerByte),
		receivers:  make(map[uint32]func(*types.Message) error),
	}
}

// RegisterReceiver wires the handler that receives messages addressed to
// the given endpoint id.
func (e *LocalEndpoint) RegisterReceiver(eid uint32, handler func(*types.Message) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receivers[eid] = handler
}

// Quote computes the dispatch fee the same way the NATS transport does.
func (e *LocalEndpoint) Quote(dstEid uint32, payload []byte, options []byte, payInAltAsset bool) (*types.Fee, error) {
	size := int64(len(payload) + len(options))
	cost := new(big.Int).Mul(e.feePerByte, big.NewInt(size))
	cost.Add(cost, baseDispatchFee)

	if payInAltAsset {
		return &types.Fee{NativeFee: big.NewInt(0), AltFee: cost}, nil
	}
	return &types.Fee{NativeFee: cost, AltFee: big.NewInt(0)}, nil
}

// Dispatch validates the fee and delivers the message synchronously to the
// destination's registered receiver.
func (e *LocalEndpoint) Dispatch(msg *types.Message, fee *types.Fee) error {
	quoted, err := e.Quote(msg.DstEid, msg.Payload, nil, false)
	if err != nil {
		return err
	}
	if !fee.Covers(quoted.NativeFee) {
		return ErrInsufficientFee
	}

	e.mu.RLock()
	receiver, ok := e.receivers[msg.DstEid]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no receiver registered for endpoint %d", msg.DstEid)
	}
	return receiver(msg)
}
