package gmp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIntentID(b byte) IntentID {
	var id IntentID
	for i := range id {
		id[i] = b
	}
	return id
}

func testAddr(b byte) Address {
	var a Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestIntentRequirementsRoundTrip(t *testing.T) {
	msg := &IntentRequirements{
		Intent:         testIntentID(0xAA),
		RequesterAddr:  testAddr(0x11),
		AmountRequired: 1_000_000,
		TokenAddr:      testAddr(0x22),
		SolverAddr:     testAddr(0x33),
		Expiry:         1_900_000_000,
	}

	data := msg.Encode()
	require.Len(t, data, IntentRequirementsSize)
	assert.Equal(t, byte(TypeIntentRequirements), data[0])

	decoded, err := DecodeIntentRequirements(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestEscrowConfirmationRoundTrip(t *testing.T) {
	msg := &EscrowConfirmation{
		Intent:         testIntentID(0xBB),
		EscrowID:       [32]byte(testIntentID(0xCC)),
		AmountEscrowed: 42,
		TokenAddr:      testAddr(0x44),
		CreatorAddr:    testAddr(0x55),
	}

	data := msg.Encode()
	require.Len(t, data, EscrowConfirmationSize)
	assert.Equal(t, byte(TypeEscrowConfirmation), data[0])

	decoded, err := DecodeEscrowConfirmation(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestFulfillmentProofRoundTrip(t *testing.T) {
	msg := &FulfillmentProof{
		Intent:          testIntentID(0xDD),
		SolverAddr:      testAddr(0x66),
		AmountFulfilled: 987,
		Timestamp:       1_750_000_000,
	}

	data := msg.Encode()
	require.Len(t, data, FulfillmentProofSize)
	assert.Equal(t, byte(TypeFulfillmentProof), data[0])

	decoded, err := DecodeFulfillmentProof(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestBigEndianFieldLayout(t *testing.T) {
	msg := &IntentRequirements{
		Intent:         testIntentID(0x01),
		AmountRequired: 0x0102030405060708,
		Expiry:         0x1112131415161718,
	}
	data := msg.Encode()

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, data[65:73])
	assert.Equal(t, []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}, data[137:145])
}

func TestDecodeDispatchesByTag(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"IntentRequirements", &IntentRequirements{Intent: testIntentID(1), AmountRequired: 5}},
		{"EscrowConfirmation", &EscrowConfirmation{Intent: testIntentID(2), AmountEscrowed: 6}},
		{"FulfillmentProof", &FulfillmentProof{Intent: testIntentID(3), AmountFulfilled: 7}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := Decode(tc.msg.Encode())
			require.NoError(t, err)
			assert.Equal(t, tc.msg.Type(), decoded.Type())
			assert.Equal(t, tc.msg.IntentID(), decoded.IntentID())
			assert.Equal(t, tc.msg, decoded)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := (&FulfillmentProof{Intent: testIntentID(9)}).Encode()

	t.Run("empty payload", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrEmptyPayload)

		_, err = PeekType([]byte{})
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("unknown tag", func(t *testing.T) {
		bad := append([]byte{}, valid...)
		bad[0] = 0x7F
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrUnknownMessageType)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := Decode(valid[:FulfillmentProofSize-1])
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("oversized payload", func(t *testing.T) {
		_, err := Decode(append(append([]byte{}, valid...), 0x00))
		assert.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("wrong tag for typed decoder", func(t *testing.T) {
		_, err := DecodeIntentRequirements(valid)
		assert.ErrorIs(t, err, ErrWrongMessageType)
	})
}

func TestRoutingPrefix(t *testing.T) {
	id := testIntentID(0xE1)
	msg := &EscrowConfirmation{Intent: id, AmountEscrowed: 1}

	typ, gotID, err := RoutingPrefix(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, TypeEscrowConfirmation, typ)
	assert.Equal(t, id, gotID)

	t.Run("prefix shorter than 33 bytes", func(t *testing.T) {
		_, _, err := RoutingPrefix(msg.Encode()[:20])
		assert.ErrorIs(t, err, ErrInvalidLength)
	})
}

func TestDedupeKey(t *testing.T) {
	id := testIntentID(0xF0)

	t.Run("stable per intent and type", func(t *testing.T) {
		assert.Equal(t, NewDedupeKey(id, TypeIntentRequirements), NewDedupeKey(id, TypeIntentRequirements))
	})

	t.Run("distinct across types", func(t *testing.T) {
		assert.NotEqual(t, NewDedupeKey(id, TypeIntentRequirements), NewDedupeKey(id, TypeFulfillmentProof))
	})

	t.Run("distinct across intents", func(t *testing.T) {
		assert.NotEqual(t, NewDedupeKey(testIntentID(1), TypeFulfillmentProof),
			NewDedupeKey(testIntentID(2), TypeFulfillmentProof))
	})
}
