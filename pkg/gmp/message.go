// Package gmp implements the fixed-width wire format for cross-chain
// messages. All multi-byte integers are big-endian and all addresses are
// canonicalized to 32 bytes, so the same payload bytes are readable on
// every participating ledger without a serialization framework.
package gmp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MessageType is the one-byte discriminator at offset 0 of every payload.
type MessageType uint8

const (
	// TypeIntentRequirements flows hub -> connected chain on intent creation.
	TypeIntentRequirements MessageType = 0x01
	// TypeEscrowConfirmation flows connected chain -> hub after a deposit.
	TypeEscrowConfirmation MessageType = 0x02
	// TypeFulfillmentProof flows either direction and is terminal per intent.
	TypeFulfillmentProof MessageType = 0x03
)

// Fixed encoded sizes per message type, including the tag byte.
const (
	IntentRequirementsSize = 145
	EscrowConfirmationSize = 137
	FulfillmentProofSize   = 81

	// RoutingPrefixSize covers the uniform (tag, intent_id) prefix shared
	// by all message types, enough for routing and dedup without a full
	// decode.
	RoutingPrefixSize = 33
)

var (
	ErrEmptyPayload       = errors.New("empty payload")
	ErrInvalidLength      = errors.New("invalid message length")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrWrongMessageType   = errors.New("wrong message type")
)

// String returns a short name for logging.
func (t MessageType) String() string {
	switch t {
	case TypeIntentRequirements:
		return "IntentRequirements"
	case TypeEscrowConfirmation:
		return "EscrowConfirmation"
	case TypeFulfillmentProof:
		return "FulfillmentProof"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", uint8(t))
	}
}

// EncodedSize returns the fixed payload size for the type.
func (t MessageType) EncodedSize() (int, error) {
	switch t {
	case TypeIntentRequirements:
		return IntentRequirementsSize, nil
	case TypeEscrowConfirmation:
		return EscrowConfirmationSize, nil
	case TypeFulfillmentProof:
		return FulfillmentProofSize, nil
	default:
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownMessageType, uint8(t))
	}
}

// Message is one of the three wire message variants.
type Message interface {
	Type() MessageType
	IntentID() IntentID
	Encode() []byte
}

// IntentID identifies an intent across all participating chains.
type IntentID [32]byte

// IntentRequirements tells a connected chain what a solver must provide.
type IntentRequirements struct {
	Intent         IntentID
	RequesterAddr  Address
	AmountRequired uint64
	TokenAddr      Address
	SolverAddr     Address
	Expiry         uint64
}

func (m *IntentRequirements) Type() MessageType { return TypeIntentRequirements }
func (m *IntentRequirements) IntentID() IntentID { return m.Intent }

func (m *IntentRequirements) Encode() []byte {
	buf := make([]byte, IntentRequirementsSize)
	buf[0] = byte(TypeIntentRequirements)
	copy(buf[1:33], m.Intent[:])
	copy(buf[33:65], m.RequesterAddr[:])
	binary.BigEndian.PutUint64(buf[65:73], m.AmountRequired)
	copy(buf[73:105], m.TokenAddr[:])
	copy(buf[105:137], m.SolverAddr[:])
	binary.BigEndian.PutUint64(buf[137:145], m.Expiry)
	return buf
}

// DecodeIntentRequirements decodes a 0x01 payload.
func DecodeIntentRequirements(data []byte) (*IntentRequirements, error) {
	if err := checkFrame(data, TypeIntentRequirements, IntentRequirementsSize); err != nil {
		return nil, err
	}
	m := &IntentRequirements{
		AmountRequired: binary.BigEndian.Uint64(data[65:73]),
		Expiry:         binary.BigEndian.Uint64(data[137:145]),
	}
	copy(m.Intent[:], data[1:33])
	copy(m.RequesterAddr[:], data[33:65])
	copy(m.TokenAddr[:], data[73:105])
	copy(m.SolverAddr[:], data[105:137])
	return m, nil
}

// EscrowConfirmation confirms a deposit was locked for an intent.
type EscrowConfirmation struct {
	Intent         IntentID
	EscrowID       [32]byte
	AmountEscrowed uint64
	TokenAddr      Address
	CreatorAddr    Address
}

func (m *EscrowConfirmation) Type() MessageType { return TypeEscrowConfirmation }
func (m *EscrowConfirmation) IntentID() IntentID { return m.Intent }

func (m *EscrowConfirmation) Encode() []byte {
	buf := make([]byte, EscrowConfirmationSize)
	buf[0] = byte(TypeEscrowConfirmation)
	copy(buf[1:33], m.Intent[:])
	copy(buf[33:65], m.EscrowID[:])
	binary.BigEndian.PutUint64(buf[65:73], m.AmountEscrowed)
	copy(buf[73:105], m.TokenAddr[:])
	copy(buf[105:137], m.CreatorAddr[:])
	return buf
}

// DecodeEscrowConfirmation decodes a 0x02 payload.
func DecodeEscrowConfirmation(data []byte) (*EscrowConfirmation, error) {
	if err := checkFrame(data, TypeEscrowConfirmation, EscrowConfirmationSize); err != nil {
		return nil, err
	}
	m := &EscrowConfirmation{
		AmountEscrowed: binary.BigEndian.Uint64(data[65:73]),
	}
	copy(m.Intent[:], data[1:33])
	copy(m.EscrowID[:], data[33:65])
	copy(m.TokenAddr[:], data[73:105])
	copy(m.CreatorAddr[:], data[105:137])
	return m, nil
}

// FulfillmentProof asserts a solver satisfied an intent's requirements.
// The solver address is informational for hub-side bookkeeping only; the
// escrow module never pays it out directly.
type FulfillmentProof struct {
	Intent          IntentID
	SolverAddr      Address
	AmountFulfilled uint64
	Timestamp       uint64
}

func (m *FulfillmentProof) Type() MessageType { return TypeFulfillmentProof }
func (m *FulfillmentProof) IntentID() IntentID { return m.Intent }

func (m *FulfillmentProof) Encode() []byte {
	buf := make([]byte, FulfillmentProofSize)
	buf[0] = byte(TypeFulfillmentProof)
	copy(buf[1:33], m.Intent[:])
	copy(buf[33:65], m.SolverAddr[:])
	binary.BigEndian.PutUint64(buf[65:73], m.AmountFulfilled)
	binary.BigEndian.PutUint64(buf[73:81], m.Timestamp)
	return buf
}

// DecodeFulfillmentProof decodes a 0x03 payload.
func DecodeFulfillmentProof(data []byte) (*FulfillmentProof, error) {
	if err := checkFrame(data, TypeFulfillmentProof, FulfillmentProofSize); err != nil {
		return nil, err
	}
	m := &FulfillmentProof{
		AmountFulfilled: binary.BigEndian.Uint64(data[65:73]),
		Timestamp:       binary.BigEndian.Uint64(data[73:81]),
	}
	copy(m.Intent[:], data[1:33])
	copy(m.SolverAddr[:], data[33:65])
	return m, nil
}

// Decode decodes any payload by its tag byte.
func Decode(data []byte) (Message, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeIntentRequirements:
		return DecodeIntentRequirements(data)
	case TypeEscrowConfirmation:
		return DecodeEscrowConfirmation(data)
	default:
		return DecodeFulfillmentProof(data)
	}
}

// PeekType reads and validates the tag byte without decoding the payload.
func PeekType(data []byte) (MessageType, error) {
	if len(data) == 0 {
		return 0, ErrEmptyPayload
	}
	t := MessageType(data[0])
	if _, err := t.EncodedSize(); err != nil {
		return 0, err
	}
	return t, nil
}

// RoutingPrefix extracts (tag, intent_id) from the uniform 33-byte prefix
// shared by all message types, without committing to a full decode.
func RoutingPrefix(data []byte) (MessageType, IntentID, error) {
	t, err := PeekType(data)
	if err != nil {
		return 0, IntentID{}, err
	}
	if len(data) < RoutingPrefixSize {
		return 0, IntentID{}, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrInvalidLength, RoutingPrefixSize, len(data))
	}
	var id IntentID
	copy(id[:], data[1:33])
	return t, id, nil
}

func checkFrame(data []byte, want MessageType, size int) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if MessageType(data[0]) != want {
		return fmt.Errorf("%w: expected 0x%02x, got 0x%02x",
			ErrWrongMessageType, uint8(want), data[0])
	}
	if len(data) != size {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, size, len(data))
	}
	return nil
}
