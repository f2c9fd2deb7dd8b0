package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/interfaces"
	"escrow-backend/internal/metrics"
	"escrow-backend/internal/models"
	"escrow-backend/internal/repository"
	"escrow-backend/internal/types"
)

// SettlementService one chain-side participant in the transfer-and-
// resolution protocol. Role-symmetric: the same type acts as initiator for
// outbound transfers and counterparty for inbound ones, holding its own
// obligation book and processed-message set.
//
// State is committed before any transport dispatch, and the internal mutex
// is never held across a transport or token call: with a synchronous
// in-process endpoint, a destination-side failure delivers the compensating
// resolve back into Receive while Send is still on the stack.
type SettlementService struct {
	mu       sync.Mutex
	eid      uint32
	identity common.Address
	peers    map[uint32]common.Address

	transport interfaces.Transport
	token     interfaces.AssetTransferor
	repo      repository.SettlementRepository
	events    repository.EventRepository
	sinks     []EventSink
}

// NewSettlementService creates a settlement node for the given endpoint id.
// identity is the sender identity this node signs its messages with.
func NewSettlementService(
	eid uint32,
	identity common.Address,
	transport interfaces.Transport,
	token interfaces.AssetTransferor,
	repo repository.SettlementRepository,
	events repository.EventRepository,
) *SettlementService {
	return &SettlementService{
		eid:       eid,
		identity:  identity,
		peers:     make(map[uint32]common.Address),
		transport: transport,
		token:     token,
		repo:      repo,
		events:    events,
	}
}

// Eid returns this node's endpoint id.
func (s *SettlementService) Eid() uint32 {
	return s.eid
}

// AddSink registers an event sink.
func (s *SettlementService) AddSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// SetPeer registers the trusted sender identity for a remote endpoint.
// Messages claiming that endpoint as origin are accepted only from this
// identity.
func (s *SettlementService) SetPeer(eid uint32, identity common.Address) error {
	if identity == (common.Address{}) {
		return ErrInvalidAddress
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[eid] = identity
	return nil
}

// Quote delegates to the transport's fee estimation. Pure read.
func (s *SettlementService) Quote(dstEid uint32, payload []byte, options []byte, payInAltAsset bool) (*types.Fee, error) {
	return s.transport.Quote(dstEid, payload, options, payInAltAsset)
}

// Send validates the transfer payload, records a pending obligation for its
// recipient and dispatches the transfer message. Fails fast if an
// obligation for the recipient is already outstanding. The caller supplies
// the quoted fee; an insufficient fee is rejected by the transport.
func (s *SettlementService) Send(ctx context.Context, dstEid uint32, payload []byte, options []byte, fee *types.Fee) (common.Hash, error) {
	transfer, err := types.DecodeTransferPayload(payload)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid transfer payload: %w", err)
	}

	// The fee is checked with the transport's own single-asset rule so an
	// underpaid send fails before the obligation is committed.
	quoted, err := s.transport.Quote(dstEid, payload, options, false)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to quote dispatch: %w", err)
	}
	if !fee.Covers(quoted.NativeFee) {
		return common.Hash{}, clients.ErrInsufficientFee
	}

	s.mu.Lock()
	if _, ok := s.peers[dstEid]; !ok {
		s.mu.Unlock()
		return common.Hash{}, fmt.Errorf("no peer registered for endpoint %d", dstEid)
	}

	pending, err := s.repo.PendingByRecipient(ctx, s.eid, transfer.Recipient.Hex())
	if err != nil {
		s.mu.Unlock()
		return common.Hash{}, err
	}
	if pending != nil {
		s.mu.Unlock()
		return common.Hash{}, ErrObligationPending
	}

	guid := types.MintGUID(s.eid, dstEid)
	obligation := &models.Obligation{
		NodeEid:   s.eid,
		MessageID: guid.Hex(),
		Recipient: transfer.Recipient.Hex(),
		Amount:    transfer.Amount.String(),
	}
	// The obligation is committed before dispatch so a synchronously
	// delivered resolve always finds it.
	if err := s.repo.CreatePending(ctx, obligation); err != nil {
		s.mu.Unlock()
		return common.Hash{}, err
	}
	s.mu.Unlock()

	msg := &types.Message{
		GUID:    guid,
		SrcEid:  s.eid,
		DstEid:  dstEid,
		Sender:  s.identity,
		Kind:    types.MessageKindTransfer,
		Payload: payload,
	}
	if err := s.transport.Dispatch(msg, fee); err != nil {
		return common.Hash{}, fmt.Errorf("dispatch failed: %w", err)
	}

	metrics.SettlementObligationsPending.Inc()
	logrus.WithFields(logrus.Fields{
		"guid":      guid.Hex(),
		"dst_eid":   dstEid,
		"recipient": transfer.Recipient.Hex(),
		"amount":    transfer.Amount.String(),
	}).Info("Transfer dispatched")

	s.emit(ctx, &models.LedgerEvent{
		Type:      models.EventTypeTransferDispatched,
		User:      transfer.Recipient.Hex(),
		MessageID: guid.Hex(),
		Amount:    transfer.Amount.String(),
	})
	return guid, nil
}

// Receive processes a message delivered by the transport. Only the
// registered peer for the message's origin endpoint may deliver it.
func (s *SettlementService) Receive(ctx context.Context, msg *types.Message) error {
	if msg.DstEid != s.eid {
		return fmt.Errorf("message for endpoint %d delivered to node %d", msg.DstEid, s.eid)
	}

	s.mu.Lock()
	trusted, ok := s.peers[msg.SrcEid]
	s.mu.Unlock()
	if !ok || trusted != msg.Sender {
		metrics.SettlementMessagesReceived.WithLabelValues(msg.Kind.String(), "unauthorized").Inc()
		return ErrUnauthorizedPeer
	}

	switch msg.Kind {
	case types.MessageKindTransfer:
		return s.receiveTransfer(ctx, msg)
	case types.MessageKindResolve:
		return s.receiveResolve(ctx, msg)
	default:
		return fmt.Errorf("unknown message kind %d", msg.Kind)
	}
}

// receiveTransfer attempts the asset transfer to the payload's recipient.
// Redelivery of an already-processed transfer id is a no-op: it neither
// retries the transfer nor dispatches a second resolve. On first-delivery
// failure the processed mark is committed before the compensating resolve
// is dispatched.
func (s *SettlementService) receiveTransfer(ctx context.Context, msg *types.Message) error {
	s.mu.Lock()
	processed, err := s.repo.IsProcessed(ctx, s.eid, msg.GUID.Hex())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if processed {
		s.mu.Unlock()
		metrics.SettlementDuplicateMessages.Inc()
		metrics.SettlementMessagesReceived.WithLabelValues("transfer", "duplicate").Inc()
		return nil
	}

	transfer, err := types.DecodeTransferPayload(msg.Payload)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid transfer payload: %w", err)
	}
	if err := s.repo.MarkProcessed(ctx, s.eid, msg.GUID.Hex()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.token.TransferOut(ctx, transfer.Recipient, transfer.Amount); err != nil {
		logrus.WithFields(logrus.Fields{
			"guid":      msg.GUID.Hex(),
			"recipient": transfer.Recipient.Hex(),
			"amount":    transfer.Amount.String(),
		}).WithError(err).Warn("Destination transfer failed, dispatching resolve")
		metrics.SettlementMessagesReceived.WithLabelValues("transfer", "failed").Inc()
		return s.dispatchResolve(ctx, msg, transfer)
	}

	metrics.SettlementMessagesReceived.WithLabelValues("transfer", "success").Inc()
	return nil
}

// dispatchResolve sends the single compensating resolve message back to the
// transfer's origin endpoint.
func (s *SettlementService) dispatchResolve(ctx context.Context, transferMsg *types.Message, transfer *types.TransferPayload) error {
	payload, err := types.EncodeResolvePayload(transferMsg.GUID, transfer.Recipient, transfer.Amount)
	if err != nil {
		return fmt.Errorf("failed to encode resolve payload: %w", err)
	}

	fee, err := s.transport.Quote(transferMsg.SrcEid, payload, nil, false)
	if err != nil {
		return fmt.Errorf("failed to quote resolve dispatch: %w", err)
	}

	resolve := &types.Message{
		GUID:    types.MintGUID(s.eid, transferMsg.SrcEid),
		SrcEid:  s.eid,
		DstEid:  transferMsg.SrcEid,
		Sender:  s.identity,
		Kind:    types.MessageKindResolve,
		Payload: payload,
	}
	if err := s.transport.Dispatch(resolve, fee); err != nil {
		return fmt.Errorf("failed to dispatch resolve: %w", err)
	}
	return nil
}

// receiveResolve clears the obligation for the referenced transfer exactly
// once. A duplicate or stale resolution fails with
// ErrMessageAlreadyProcessed and changes nothing.
func (s *SettlementService) receiveResolve(ctx context.Context, msg *types.Message) error {
	resolve, err := types.DecodeResolvePayload(msg.Payload)
	if err != nil {
		return fmt.Errorf("invalid resolve payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	processed, err := s.repo.IsProcessed(ctx, s.eid, msg.GUID.Hex())
	if err != nil {
		return err
	}
	if processed {
		metrics.SettlementDuplicateMessages.Inc()
		metrics.SettlementMessagesReceived.WithLabelValues("resolve", "duplicate").Inc()
		return ErrMessageAlreadyProcessed
	}

	obligation, err := s.repo.GetByMessageID(ctx, s.eid, resolve.TransferGUID.Hex())
	if err != nil {
		return err
	}
	if obligation == nil || obligation.Status != models.ObligationStatusPending {
		metrics.SettlementMessagesReceived.WithLabelValues("resolve", "stale").Inc()
		return ErrMessageAlreadyProcessed
	}
	if obligation.Recipient != resolve.Recipient.Hex() {
		metrics.SettlementMessagesReceived.WithLabelValues("resolve", "mismatch").Inc()
		return fmt.Errorf("resolve for transfer %s names recipient %s, obligation holds %s",
			resolve.TransferGUID.Hex(), resolve.Recipient.Hex(), obligation.Recipient)
	}

	if err := s.repo.ApplyResolution(ctx, s.eid, msg.GUID.Hex(), resolve.TransferGUID.Hex()); err != nil {
		return err
	}

	metrics.SettlementObligationsPending.Dec()
	metrics.SettlementMessagesReceived.WithLabelValues("resolve", "applied").Inc()
	logrus.WithFields(logrus.Fields{
		"guid":          msg.GUID.Hex(),
		"transfer_guid": resolve.TransferGUID.Hex(),
		"recipient":     resolve.Recipient.Hex(),
	}).Info("Resolution applied, obligation cleared")

	s.emit(ctx, &models.LedgerEvent{
		Type:      models.EventTypeResolutionApplied,
		User:      resolve.Recipient.Hex(),
		MessageID: msg.GUID.Hex(),
		Amount:    resolve.Amount.String(),
		Data:      eventData(map[string]string{"transfer_guid": resolve.TransferGUID.Hex()}),
	})
	return nil
}

// Accounting returns the outstanding obligation amount for a recipient, or
// zero if none is pending.
func (s *SettlementService) Accounting(ctx context.Context, recipient common.Address) (*big.Int, error) {
	obligation, err := s.repo.PendingByRecipient(ctx, s.eid, recipient.Hex())
	if err != nil {
		return nil, err
	}
	if obligation == nil {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(obligation.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt obligation amount %q", obligation.Amount)
	}
	return amount, nil
}

func (s *SettlementService) emit(ctx context.Context, event *models.LedgerEvent) {
	if err := s.events.Append(ctx, event); err != nil {
		logrus.WithError(err).Warn("Failed to persist ledger event")
	}
	for _, sink := range s.sinks {
		sink.Publish(event)
	}
}
