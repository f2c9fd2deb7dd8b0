package clients

import (
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"escrow-backend/internal/config"
	"escrow-backend/internal/metrics"
	"escrow-backend/internal/types"
)

// ErrInsufficientFee attached fee does not cover the quoted dispatch cost
var ErrInsufficientFee = errors.New("insufficient fee attached to dispatch")

// baseDispatchFee flat native fee added to every quote
var baseDispatchFee = big.NewInt(100_000_000_000) // 100 gwei

// NATSTransport delivers settlement messages over NATS JetStream. Delivery
// is at-least-once and unordered across unrelated messages; nodes handle
// redelivery via their processed-message set.
type NATSTransport struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	feePerByte *big.Int
}

// NewNATSTransport connects to NATS and ensures the settlement stream exists
func NewNATSTransport(url, streamName string, feePerByte *big.Int) (*NATSTransport, error) {
	connectTimeout := 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.Timeout > 0 {
		connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	transport := &NATSTransport{
		conn:       conn,
		js:         js,
		streamName: streamName,
		feePerByte: new(big.Int).Set(feePerByte),
	}

	if err := transport.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ NATS transport connected (stream %s)", streamName)
	return transport, nil
}

func (t *NATSTransport) ensureStream() error {
	if _, err := t.js.StreamInfo(t.streamName); err == nil {
		return nil
	}

	_, err := t.js.AddStream(&nats.StreamConfig{
		Name:      t.streamName,
		Subjects:  []string{"settlement.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", t.streamName, err)
	}
	return nil
}

// Quote computes the dispatch fee: a flat base plus a per-byte charge over
// the encoded payload and options. Pure read, no side effects.
func (t *NATSTransport) Quote(dstEid uint32, payload []byte, options []byte, payInAltAsset bool) (*types.Fee, error) {
	size := int64(len(payload) + len(options))
	cost := new(big.Int).Mul(t.feePerByte, big.NewInt(size))
	cost.Add(cost, baseDispatchFee)

	if payInAltAsset {
		return &types.Fee{NativeFee: big.NewInt(0), AltFee: cost}, nil
	}
	return &types.Fee{NativeFee: cost, AltFee: big.NewInt(0)}, nil
}

// Dispatch publishes a message to the destination endpoint's subject.
// Fails if the attached fee does not cover the quoted cost.
func (t *NATSTransport) Dispatch(msg *types.Message, fee *types.Fee) error {
	quoted, err := t.Quote(msg.DstEid, msg.Payload, nil, false)
	if err != nil {
		return err
	}
	if !fee.Covers(quoted.NativeFee) {
		return ErrInsufficientFee
	}

	data, err := types.EncodeEnvelope(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message envelope: %w", err)
	}

	subject := fmt.Sprintf("settlement.%d.%s", msg.DstEid, msg.Kind)
	if _, err := t.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	metrics.SettlementMessagesSent.WithLabelValues(msg.Kind.String()).Inc()
	return nil
}

// Subscribe delivers inbound messages for the given endpoint id to the
// handler. The subscription is durable so redelivery survives restarts.
func (t *NATSTransport) Subscribe(localEid uint32, handler func(*types.Message)) error {
	subject := fmt.Sprintf("settlement.%d.*", localEid)
	durable := fmt.Sprintf("settlement-node-%d", localEid)

	_, err := t.js.Subscribe(subject, func(natsMsg *nats.Msg) {
		msg, err := types.DecodeEnvelope(natsMsg.Data)
		if err != nil {
			log.Printf("⚠️ Dropping undecodable settlement message on %s: %v", natsMsg.Subject, err)
			natsMsg.Ack()
			return
		}
		handler(msg)
		natsMsg.Ack()
	}, nats.Durable(durable), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	log.Printf("✅ Subscribed to settlement messages on %s (durable %s)", subject, durable)
	return nil
}

// PublishEvent publishes a ledger event notification for downstream
// consumers (indexers, dashboards).
func (t *NATSTransport) PublishEvent(eventType string, data []byte) error {
	subject := fmt.Sprintf("settlement.events.%s.%s", eventType, uuid.NewString()[:8])
	return t.conn.Publish(subject, data)
}

// Close drains the connection.
func (t *NATSTransport) Close() {
	if t.conn != nil {
		t.conn.Close()
		metrics.NATSConnectionStatus.Set(0)
	}
}
