package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"

	"escrow-backend/internal/clients"
	"escrow-backend/internal/models"
	"escrow-backend/internal/services"
	"escrow-backend/internal/types"
)

// InitSettlementSubscription wires inbound NATS settlement messages into the
// node's Receive. Processing errors are logged, not retried here. Redelivery
// is the transport's responsibility and duplicate transfers are no-ops.
func InitSettlementSubscription(transport *clients.NATSTransport, node *services.SettlementService) error {
	if transport == nil {
		return fmt.Errorf("NATS transport not initialized")
	}

	err := transport.Subscribe(node.Eid(), func(msg *types.Message) {
		if err := node.Receive(context.Background(), msg); err != nil {
			switch {
			case errors.Is(err, services.ErrMessageAlreadyProcessed):
				logrus.WithField("guid", msg.GUID.Hex()).Debug("Duplicate resolution rejected")
			case errors.Is(err, services.ErrUnauthorizedPeer):
				logrus.WithFields(logrus.Fields{
					"guid":    msg.GUID.Hex(),
					"src_eid": msg.SrcEid,
					"sender":  msg.Sender.Hex(),
				}).Warn("Rejected message from unregistered peer")
			default:
				logrus.WithField("guid", msg.GUID.Hex()).WithError(err).Error("Failed to process settlement message")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe settlement node %d: %w", node.Eid(), err)
	}

	log.Printf("✅ Settlement node %d subscribed to inbound messages", node.Eid())
	return nil
}

// NATSEventSink publishes ledger events to NATS for downstream consumers
type NATSEventSink struct {
	transport *clients.NATSTransport
}

// NewNATSEventSink creates a sink over the given transport
func NewNATSEventSink(transport *clients.NATSTransport) *NATSEventSink {
	return &NATSEventSink{transport: transport}
}

// Publish implements services.EventSink
func (s *NATSEventSink) Publish(event *models.LedgerEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).Warn("Failed to marshal ledger event")
		return
	}
	if err := s.transport.PublishEvent(event.Type, data); err != nil {
		logrus.WithField("type", event.Type).WithError(err).Warn("Failed to publish ledger event")
	}
}
