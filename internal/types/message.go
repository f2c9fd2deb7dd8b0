package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// MessageKind discriminates the two settlement message types
type MessageKind uint8

const (
	MessageKindTransfer MessageKind = 1 // value transfer to a recipient
	MessageKindResolve  MessageKind = 2 // compensation for a failed transfer
)

// String returns the lowercase kind name used on the wire and in subjects.
func (k MessageKind) String() string {
	switch k {
	case MessageKindTransfer:
		return "transfer"
	case MessageKindResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

// Message settlement wire message. Immutable once constructed.
type Message struct {
	GUID    common.Hash    `json:"guid"`
	SrcEid  uint32         `json:"src_eid"`
	DstEid  uint32         `json:"dst_eid"`
	Sender  common.Address `json:"sender"`
	Kind    MessageKind    `json:"kind"`
	Payload []byte         `json:"payload"`
}

// TransferPayload decoded transfer message body
type TransferPayload struct {
	Recipient common.Address
	Amount    *big.Int
}

// ResolvePayload decoded resolve message body, referencing the transfer
// it compensates.
type ResolvePayload struct {
	TransferGUID common.Hash
	Recipient    common.Address
	Amount       *big.Int
}

// Fee quoted cost of dispatching a message
type Fee struct {
	NativeFee *big.Int `json:"native_fee"`
	AltFee    *big.Int `json:"alt_fee"`
}

// Covers reports whether the fee pays cost in full with a single asset.
// A payment split across both assets does not count: the dispatcher settles
// the cost in one asset or the other, never a mix.
func (f *Fee) Covers(cost *big.Int) bool {
	if f == nil {
		return false
	}
	if f.NativeFee != nil && f.NativeFee.Cmp(cost) >= 0 {
		return true
	}
	return f.AltFee != nil && f.AltFee.Cmp(cost) >= 0
}

var (
	addressType = mustNewType("address")
	uint256Type = mustNewType("uint256")
	bytes32Type = mustNewType("bytes32")

	transferArgs = abi.Arguments{
		{Type: addressType},
		{Type: uint256Type},
	}
	resolveArgs = abi.Arguments{
		{Type: bytes32Type},
		{Type: addressType},
		{Type: uint256Type},
	}
)

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// EncodeTransferPayload ABI-encodes (address recipient, uint256 amount).
func EncodeTransferPayload(recipient common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, fmt.Errorf("nil amount")
	}
	return transferArgs.Pack(recipient, amount)
}

// DecodeTransferPayload decodes an ABI-encoded transfer payload.
func DecodeTransferPayload(data []byte) (*TransferPayload, error) {
	values, err := transferArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transfer payload: %w", err)
	}
	recipient, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected recipient type in transfer payload")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type in transfer payload")
	}
	return &TransferPayload{Recipient: recipient, Amount: amount}, nil
}

// EncodeResolvePayload ABI-encodes (bytes32 transferGuid, address recipient,
// uint256 amount).
func EncodeResolvePayload(transferGUID common.Hash, recipient common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, fmt.Errorf("nil amount")
	}
	return resolveArgs.Pack(transferGUID, recipient, amount)
}

// DecodeResolvePayload decodes an ABI-encoded resolve payload.
func DecodeResolvePayload(data []byte) (*ResolvePayload, error) {
	values, err := resolveArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode resolve payload: %w", err)
	}
	transferGUID, ok := values[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected guid type in resolve payload")
	}
	recipient, ok := values[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected recipient type in resolve payload")
	}
	amount, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type in resolve payload")
	}
	return &ResolvePayload{
		TransferGUID: common.Hash(transferGUID),
		Recipient:    recipient,
		Amount:       amount,
	}, nil
}

// MintGUID mints a globally unique message id for a transfer attempt.
// The id is keccak256 over a random UUID and both endpoint ids, so it is
// unforgeable and collision-free across nodes.
func MintGUID(srcEid, dstEid uint32) common.Hash {
	var buf [24]byte
	id := uuid.New()
	copy(buf[:16], id[:])
	binary.BigEndian.PutUint32(buf[16:20], srcEid)
	binary.BigEndian.PutUint32(buf[20:24], dstEid)
	return crypto.Keccak256Hash(buf[:])
}

// wireMessage JSON envelope published on the transport
type wireMessage struct {
	GUID    string `json:"guid"`
	SrcEid  uint32 `json:"src_eid"`
	DstEid  uint32 `json:"dst_eid"`
	Sender  string `json:"sender"`
	Kind    uint8  `json:"kind"`
	Payload string `json:"payload"`
}

// EncodeEnvelope serializes a message for transport delivery.
func EncodeEnvelope(msg *Message) ([]byte, error) {
	return json.Marshal(wireMessage{
		GUID:    msg.GUID.Hex(),
		SrcEid:  msg.SrcEid,
		DstEid:  msg.DstEid,
		Sender:  msg.Sender.Hex(),
		Kind:    uint8(msg.Kind),
		Payload: common.Bytes2Hex(msg.Payload),
	})
}

// DecodeEnvelope deserializes a message received from the transport.
func DecodeEnvelope(data []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	kind := MessageKind(wire.Kind)
	if kind != MessageKindTransfer && kind != MessageKindResolve {
		return nil, fmt.Errorf("unknown message kind %d", wire.Kind)
	}
	return &Message{
		GUID:    common.HexToHash(wire.GUID),
		SrcEid:  wire.SrcEid,
		DstEid:  wire.DstEid,
		Sender:  common.HexToAddress(wire.Sender),
		Kind:    kind,
		Payload: common.Hex2Bytes(trimHexPrefix(wire.Payload)),
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
