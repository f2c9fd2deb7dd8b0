package services

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/types"
)

var (
	identityA = common.HexToAddress("0xAAAA000000000000000000000000000000000001")
	identityB = common.HexToAddress("0xBBBB000000000000000000000000000000000002")
	custodyA  = common.HexToAddress("0xAAAA0000000000000000000000000000000000C1")
	custodyB  = common.HexToAddress("0xBBBB0000000000000000000000000000000000C2")
	carol     = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

const (
	eidA uint32 = 1
	eidB uint32 = 2
)

type settlementPair struct {
	endpoint *clients.LocalEndpoint
	nodeA    *SettlementService
	nodeB    *SettlementService
	tokenA   *clients.LedgerToken
	tokenB   *clients.LedgerToken
}

// newSettlementPair wires two nodes over the synchronous in-process endpoint,
// peered with each other.
func newSettlementPair(t *testing.T) *settlementPair {
	t.Helper()

	endpoint := clients.NewLocalEndpoint(big.NewInt(1))
	tokenA := clients.NewLedgerToken(custodyA)
	tokenB := clients.NewLedgerToken(custodyB)

	nodeA := NewSettlementService(eidA, identityA, endpoint, tokenA,
		repository.NewMemorySettlementRepository(), repository.NewMemoryEventRepository())
	nodeB := NewSettlementService(eidB, identityB, endpoint, tokenB,
		repository.NewMemorySettlementRepository(), repository.NewMemoryEventRepository())

	endpoint.RegisterReceiver(eidA, func(msg *types.Message) error {
		return nodeA.Receive(context.Background(), msg)
	})
	endpoint.RegisterReceiver(eidB, func(msg *types.Message) error {
		return nodeB.Receive(context.Background(), msg)
	})

	if err := nodeA.SetPeer(eidB, identityB); err != nil {
		t.Fatalf("SetPeer A->B: %v", err)
	}
	if err := nodeB.SetPeer(eidA, identityA); err != nil {
		t.Fatalf("SetPeer B->A: %v", err)
	}

	return &settlementPair{endpoint: endpoint, nodeA: nodeA, nodeB: nodeB, tokenA: tokenA, tokenB: tokenB}
}

func transferPayload(t *testing.T, recipient common.Address, amount int64) []byte {
	t.Helper()
	payload, err := types.EncodeTransferPayload(recipient, big.NewInt(amount))
	if err != nil {
		t.Fatalf("EncodeTransferPayload: %v", err)
	}
	return payload
}

func (p *settlementPair) send(t *testing.T, amount int64) (common.Hash, error) {
	t.Helper()
	payload := transferPayload(t, carol, amount)
	fee, err := p.nodeA.Quote(eidB, payload, nil, false)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	return p.nodeA.Send(context.Background(), eidB, payload, nil, fee)
}

func (p *settlementPair) pendingFor(t *testing.T, recipient common.Address) *big.Int {
	t.Helper()
	amount, err := p.nodeA.Accounting(context.Background(), recipient)
	if err != nil {
		t.Fatalf("Accounting: %v", err)
	}
	return amount
}

func TestSetPeerRejectsZeroAddress(t *testing.T) {
	p := newSettlementPair(t)
	if err := p.nodeA.SetPeer(3, common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("SetPeer = %v, want ErrInvalidAddress", err)
	}
}

func TestQuoteScalesWithPayloadSize(t *testing.T) {
	p := newSettlementPair(t)

	small, err := p.nodeA.Quote(eidB, make([]byte, 10), nil, false)
	if err != nil {
		t.Fatalf("Quote small: %v", err)
	}
	large, err := p.nodeA.Quote(eidB, make([]byte, 100), nil, false)
	if err != nil {
		t.Fatalf("Quote large: %v", err)
	}
	if large.NativeFee.Cmp(small.NativeFee) <= 0 {
		t.Fatalf("larger payload quoted %s, smaller %s", large.NativeFee, small.NativeFee)
	}

	alt, err := p.nodeA.Quote(eidB, make([]byte, 10), nil, true)
	if err != nil {
		t.Fatalf("Quote alt: %v", err)
	}
	if alt.NativeFee.Sign() != 0 || alt.AltFee.Cmp(small.NativeFee) != 0 {
		t.Fatalf("alt-asset quote = %+v, want cost shifted to AltFee", alt)
	}
}

func TestTransferDeliversAndObligationStaysPending(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	guid, err := p.send(t, 250)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if guid == (common.Hash{}) {
		t.Fatal("Send returned zero guid")
	}

	if got := p.tokenB.BalanceOf(carol); got.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("carol received %s at destination, want 250", got)
	}
	// Delivery succeeded but no resolution flows back, the obligation
	// remains open on the source side.
	if pending := p.pendingFor(t, carol); pending.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("pending obligation = %s, want 250", pending)
	}
}

func TestFailedTransferResolvesObligation(t *testing.T) {
	p := newSettlementPair(t)
	// destination custody is empty, the payout must fail

	if _, err := p.send(t, 250); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := p.tokenB.BalanceOf(carol); got.Sign() != 0 {
		t.Fatalf("carol received %s despite failed transfer", got)
	}
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("pending obligation = %s after resolution, want 0", pending)
	}
}

func TestSecondSendWhilePendingFailsFast(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	if _, err := p.send(t, 100); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	_, err := p.send(t, 100)
	if !errors.Is(err, ErrObligationPending) {
		t.Fatalf("second Send = %v, want ErrObligationPending", err)
	}
}

func TestSendAllowedAfterResolution(t *testing.T) {
	p := newSettlementPair(t)

	// First transfer fails at the destination and resolves
	if _, err := p.send(t, 100); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("obligation not resolved: %s", pending)
	}

	// A new obligation for the same recipient is allowed now
	p.tokenB.Mint(custodyB, big.NewInt(1000))
	if _, err := p.send(t, 100); err != nil {
		t.Fatalf("Send after resolution: %v", err)
	}
	if got := p.tokenB.BalanceOf(carol); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("carol received %s, want 100", got)
	}
}

func TestDuplicateTransferDeliveryIsNoOp(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	msg := &types.Message{
		GUID:    types.MintGUID(eidA, eidB),
		SrcEid:  eidA,
		DstEid:  eidB,
		Sender:  identityA,
		Kind:    types.MessageKindTransfer,
		Payload: transferPayload(t, carol, 100),
	}

	if err := p.nodeB.Receive(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := p.nodeB.Receive(context.Background(), msg); err != nil {
		t.Fatalf("redelivery = %v, want nil no-op", err)
	}

	if got := p.tokenB.BalanceOf(carol); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("carol received %s, want 100 paid exactly once", got)
	}
}

func TestDuplicateResolveRejected(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	transferGUID, err := p.send(t, 100)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	payload, err := types.EncodeResolvePayload(transferGUID, carol, big.NewInt(100))
	if err != nil {
		t.Fatalf("EncodeResolvePayload: %v", err)
	}
	resolve := &types.Message{
		GUID:    types.MintGUID(eidB, eidA),
		SrcEid:  eidB,
		DstEid:  eidA,
		Sender:  identityB,
		Kind:    types.MessageKindResolve,
		Payload: payload,
	}

	if err := p.nodeA.Receive(context.Background(), resolve); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("obligation not cleared: %s", pending)
	}

	// Redelivery of the same resolve id
	err = p.nodeA.Receive(context.Background(), resolve)
	if !errors.Is(err, ErrMessageAlreadyProcessed) {
		t.Fatalf("duplicate resolve = %v, want ErrMessageAlreadyProcessed", err)
	}

	// A fresh resolve id referencing the already-cleared transfer is stale
	stale := *resolve
	stale.GUID = types.MintGUID(eidB, eidA)
	err = p.nodeA.Receive(context.Background(), &stale)
	if !errors.Is(err, ErrMessageAlreadyProcessed) {
		t.Fatalf("stale resolve = %v, want ErrMessageAlreadyProcessed", err)
	}
}

func TestResolveForUnknownTransferRejected(t *testing.T) {
	p := newSettlementPair(t)

	payload, err := types.EncodeResolvePayload(types.MintGUID(eidB, eidA), carol, big.NewInt(100))
	if err != nil {
		t.Fatalf("EncodeResolvePayload: %v", err)
	}
	resolve := &types.Message{
		GUID:    types.MintGUID(eidB, eidA),
		SrcEid:  eidB,
		DstEid:  eidA,
		Sender:  identityB,
		Kind:    types.MessageKindResolve,
		Payload: payload,
	}

	err = p.nodeA.Receive(context.Background(), resolve)
	if !errors.Is(err, ErrMessageAlreadyProcessed) {
		t.Fatalf("unknown-transfer resolve = %v, want ErrMessageAlreadyProcessed", err)
	}
}

func TestReceiveRejectsUnregisteredPeer(t *testing.T) {
	p := newSettlementPair(t)

	msg := &types.Message{
		GUID:    types.MintGUID(eidA, eidB),
		SrcEid:  eidA,
		DstEid:  eidB,
		Sender:  common.HexToAddress("0xDEAD000000000000000000000000000000000001"),
		Kind:    types.MessageKindTransfer,
		Payload: transferPayload(t, carol, 100),
	}

	err := p.nodeB.Receive(context.Background(), msg)
	if !errors.Is(err, ErrUnauthorizedPeer) {
		t.Fatalf("Receive = %v, want ErrUnauthorizedPeer", err)
	}
	if got := p.tokenB.BalanceOf(carol); got.Sign() != 0 {
		t.Fatalf("carol received %s from unregistered peer", got)
	}
}

func TestSendToUnknownEndpoint(t *testing.T) {
	p := newSettlementPair(t)
	payload := transferPayload(t, carol, 100)
	fee, err := p.nodeA.Quote(7, payload, nil, false)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if _, err := p.nodeA.Send(context.Background(), 7, payload, nil, fee); err == nil {
		t.Fatal("expected error sending to endpoint with no registered peer")
	}
}

func TestSendRejectsInsufficientFee(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	payload := transferPayload(t, carol, 100)
	_, err := p.nodeA.Send(context.Background(), eidB, payload, nil, &types.Fee{
		NativeFee: big.NewInt(0),
		AltFee:    big.NewInt(0),
	})
	if !errors.Is(err, clients.ErrInsufficientFee) {
		t.Fatalf("Send = %v, want ErrInsufficientFee", err)
	}

	// No obligation was committed, a correctly paid retry goes through
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("underpaid send left pending obligation: %s", pending)
	}
	if _, err := p.send(t, 100); err != nil {
		t.Fatalf("retry with quoted fee: %v", err)
	}
}

func TestSendRejectsFeeSplitAcrossAssets(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	payload := transferPayload(t, carol, 100)
	quoted, err := p.nodeA.Quote(eidB, payload, nil, false)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	// Both assets together cover the cost, neither does alone. The
	// transport settles in a single asset, so this dispatch must be
	// rejected before an obligation is committed.
	half := new(big.Int).Div(quoted.NativeFee, big.NewInt(2))
	rest := new(big.Int).Sub(quoted.NativeFee, half)
	split := &types.Fee{NativeFee: half, AltFee: rest}

	_, err = p.nodeA.Send(context.Background(), eidB, payload, nil, split)
	if !errors.Is(err, clients.ErrInsufficientFee) {
		t.Fatalf("Send with split fee = %v, want ErrInsufficientFee", err)
	}
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("split-fee send left pending obligation: %s", pending)
	}

	// The recipient is not blocked, a correctly paid send goes through
	if _, err := p.send(t, 100); err != nil {
		t.Fatalf("retry with quoted fee: %v", err)
	}
}

func TestResolveRecipientMismatchRejected(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	transferGUID, err := p.send(t, 100)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A resolve referencing the right transfer but the wrong recipient
	other := common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
	payload, err := types.EncodeResolvePayload(transferGUID, other, big.NewInt(100))
	if err != nil {
		t.Fatalf("EncodeResolvePayload: %v", err)
	}
	mismatched := &types.Message{
		GUID:    types.MintGUID(eidB, eidA),
		SrcEid:  eidB,
		DstEid:  eidA,
		Sender:  identityB,
		Kind:    types.MessageKindResolve,
		Payload: payload,
	}
	if err := p.nodeA.Receive(context.Background(), mismatched); err == nil {
		t.Fatal("mismatched resolve accepted")
	}
	if pending := p.pendingFor(t, carol); pending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("obligation changed by mismatched resolve: %s", pending)
	}

	// A correctly addressed resolve still clears the obligation
	payload, err = types.EncodeResolvePayload(transferGUID, carol, big.NewInt(100))
	if err != nil {
		t.Fatalf("EncodeResolvePayload: %v", err)
	}
	good := &types.Message{
		GUID:    types.MintGUID(eidB, eidA),
		SrcEid:  eidB,
		DstEid:  eidA,
		Sender:  identityB,
		Kind:    types.MessageKindResolve,
		Payload: payload,
	}
	if err := p.nodeA.Receive(context.Background(), good); err != nil {
		t.Fatalf("correct resolve: %v", err)
	}
	if pending := p.pendingFor(t, carol); pending.Sign() != 0 {
		t.Fatalf("obligation not cleared: %s", pending)
	}
}

func TestSendAcceptsAltAssetFee(t *testing.T) {
	p := newSettlementPair(t)
	p.tokenB.Mint(custodyB, big.NewInt(1000))

	payload := transferPayload(t, carol, 100)
	fee, err := p.nodeA.Quote(eidB, payload, nil, true)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if _, err := p.nodeA.Send(context.Background(), eidB, payload, nil, fee); err != nil {
		t.Fatalf("Send with alt-asset fee: %v", err)
	}
}
