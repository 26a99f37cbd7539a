package arp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestLayout(t *testing.T) {
	sender := netip.MustParseAddr("0.0.0.0")
	target := netip.MustParseAddr("192.168.1.5")

	frame, err := EncodeRequest(testIface, sender, target)
	require.NoError(t, err)
	require.Len(t, frame, headerLen+2*(6+4))

	assert.Equal(t, []byte{0x00, 0x01}, frame[0:2], "hardware type")
	assert.Equal(t, []byte{0x08, 0x00}, frame[2:4], "protocol type")
	assert.Equal(t, byte(6), frame[4], "hardware length")
	assert.Equal(t, byte(4), frame[5], "protocol length")
	assert.Equal(t, []byte{0x00, 0x01}, frame[6:8], "opcode")

	assert.Equal(t, []byte(testIface.HWAddr), frame[8:14])
	assert.Equal(t, []byte{0, 0, 0, 0}, frame[14:18], "sender IP")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0}, frame[18:24], "target HW must be zeroed")
	assert.Equal(t, []byte{192, 168, 1, 5}, frame[24:28])
}

func TestEncodeRequestOversizedHardwareAddress(t *testing.T) {
	ifc := Iface{
		Name:   "ib0",
		HWType: 32,
		HWAddr: make(net.HardwareAddr, maxHWLen+1),
	}
	_, err := EncodeRequest(ifc, addrA, addrA)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeShortBuffer(t *testing.T) {
	for n := 0; n < headerLen; n++ {
		_, err := Decode(make([]byte, n))
		require.ErrorIs(t, err, ErrFrameTruncated, "length %d", n)
	}
}

func TestDecodeForgedHardwareLength(t *testing.T) {
	// An 8-byte header claiming 255-byte hardware addresses must be
	// rejected without touching anything past the buffer.
	b := []byte{0x00, 0x01, 0x08, 0x00, 0xff, 0x04, 0x00, 0x01}
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrFrameTruncated)
}

func TestDecodeForgedProtocolLength(t *testing.T) {
	b := []byte{0x00, 0x01, 0x08, 0x00, 0x06, 0xff, 0x00, 0x01}
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrFrameTruncated)
}

func TestDecodeRejectsNonIPv4(t *testing.T) {
	// Well-formed frame with 16-byte protocol addresses.
	b := make([]byte, headerLen+2*(6+16))
	b[1] = 0x01
	b[2] = 0x08
	b[4] = 6
	b[5] = 16
	b[7] = 0x01
	_, err := Decode(b)
	require.ErrorIs(t, err, ErrNotIPv4)
}

func TestDecodeRoundTrip(t *testing.T) {
	frame, err := EncodeRequest(testIface, addrA, addrB)
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(opRequest), msg.Op)
	assert.Equal(t, testIface.HWAddr, msg.SenderHW)
	assert.Equal(t, addrA, msg.SenderIP)
	assert.Equal(t, net.HardwareAddr{0, 0, 0, 0, 0, 0}, msg.TargetHW)
	assert.Equal(t, addrB, msg.TargetIP)
}

func TestDecodeTrailingBytesTolerated(t *testing.T) {
	// Links may pad short frames; trailing bytes are not an error.
	frame, err := EncodeRequest(testIface, addrA, addrB)
	require.NoError(t, err)
	frame = append(frame, 0xde, 0xad)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, addrA, msg.SenderIP)
}
