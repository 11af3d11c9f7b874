package signal

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeConnectionRequest(t *testing.T) {
	b := Encode(0x07, &ConnectionRequest{PSM: 0x1001, SourceCID: 0x0040})
	assert.Equal(t, []byte{0x02, 0x07, 0x04, 0x00, 0x01, 0x10, 0x40, 0x00}, b)
}

func TestSplitMultipleCommands(t *testing.T) {
	var pdu []byte
	pdu = append(pdu, Encode(1, &EchoRequest{Data: []byte{0xaa}})...)
	pdu = append(pdu, Encode(2, &DisconnectRequest{DestinationCID: 0x41, SourceCID: 0x52})...)

	pp, err := Split(pdu)
	require.NoError(t, err)
	require.Len(t, pp, 2)

	assert.Equal(t, uint8(CodeEchoRequest), pp[0].Code)
	assert.Equal(t, uint8(1), pp[0].Identifier)
	assert.Equal(t, []byte{0xaa}, pp[0].Data)

	c, err := Decode(pp[1])
	require.NoError(t, err)
	dr, ok := c.(*DisconnectRequest)
	require.True(t, ok)
	assert.Equal(t, uint16(0x41), dr.DestinationCID)
	assert.Equal(t, uint16(0x52), dr.SourceCID)
}

func TestSplitTruncated(t *testing.T) {
	b := Encode(3, &ConnectionResponse{Result: ResultPending})

	_, err := Split(b[:len(b)-1])
	assert.Error(t, err)

	_, err = Split(b[:2])
	assert.Error(t, err)
}

func TestDecodeUnknownCode(t *testing.T) {
	_, err := Decode(Packet{Code: 0x7f, Identifier: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCode))
}

func TestDecodeShortParameters(t *testing.T) {
	_, err := Decode(Packet{Code: CodeConnectionResponse, Identifier: 1, Data: []byte{0x40, 0x00}})
	assert.Error(t, err)

	_, err = Decode(Packet{Code: CodeConfigurationResponse, Identifier: 1, Data: []byte{0x40}})
	assert.Error(t, err)
}

func TestConfigurationRequestCarriesMTU(t *testing.T) {
	req := &ConfigurationRequest{DestinationCID: 0x0045, Options: MarshalOptions(MTUOption(672))}
	pp, err := Split(Encode(9, req))
	require.NoError(t, err)
	require.Len(t, pp, 1)

	c, err := Decode(pp[0])
	require.NoError(t, err)
	got := c.(*ConfigurationRequest)
	assert.Equal(t, uint16(0x0045), got.DestinationCID)

	mtu, ok, err := MTU(got.Options)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint16(672), mtu)
}

func TestMTUOptionAbsentOrMalformed(t *testing.T) {
	_, ok, err := MTU(MarshalOptions(Option{Type: OptionFlushTimeout, Data: []byte{0xff, 0xff}}))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = MTU([]byte{OptionMTU, 0x02, 0x01})
	assert.Error(t, err)

	_, _, err = MTU([]byte{OptionMTU, 0x01, 0x01})
	assert.Error(t, err)
}

func TestOptionHint(t *testing.T) {
	assert.True(t, Option{Type: 0x81}.Hint())
	assert.False(t, MTUOption(100).Hint())
}

func TestIsResponse(t *testing.T) {
	assert.True(t, IsResponse(CodeConnectionResponse))
	assert.True(t, IsResponse(CodeCommandReject))
	assert.False(t, IsResponse(CodeDisconnectRequest))
	assert.Equal(t, "configuration request", Name(CodeConfigurationRequest))
	assert.Equal(t, "code 0x7f", Name(0x7f))
}
