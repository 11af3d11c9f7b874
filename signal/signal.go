// Package signal encodes and decodes the commands carried on the ACL-U
// signaling channel [Vol 3, Part A, 4].
package signal

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// CID is the fixed channel identifier of the ACL-U signaling channel.
const CID uint16 = 0x0001

// HeaderLen is the length of the code, identifier and length fields.
const HeaderLen = 4

// InvalidID is the reserved signaling identifier, never used in a command.
const InvalidID uint8 = 0x00

// Command is a signaling command's parameters.
type Command interface {
	Code() uint8
	Marshal() []byte
	Unmarshal(b []byte) error
}

// Packet is a single signaling command as found on the wire.
type Packet struct {
	Code       uint8
	Identifier uint8
	Data       []byte
}

// Encode serializes c behind a command header carrying id.
func Encode(id uint8, c Command) []byte {
	d := c.Marshal()
	b := make([]byte, HeaderLen+len(d))
	b[0] = c.Code()
	b[1] = id
	binary.LittleEndian.PutUint16(b[2:4], uint16(len(d)))
	copy(b[HeaderLen:], d)
	return b
}

// Split walks a signaling PDU payload, which may hold more than one command.
func Split(b []byte) ([]Packet, error) {
	var out []Packet
	for len(b) > 0 {
		if len(b) < HeaderLen {
			return out, errors.Errorf("signaling header truncated, have %v bytes", len(b))
		}
		n := int(binary.LittleEndian.Uint16(b[2:4]))
		if len(b) < HeaderLen+n {
			return out, errors.Errorf("signaling command 0x%02x truncated, want %v bytes, have %v", b[0], n, len(b)-HeaderLen)
		}
		out = append(out, Packet{Code: b[0], Identifier: b[1], Data: b[HeaderLen : HeaderLen+n]})
		b = b[HeaderLen+n:]
	}
	return out, nil
}

var decoders = map[uint8]func() Command{
	CodeCommandReject:         func() Command { return &CommandReject{} },
	CodeConnectionRequest:     func() Command { return &ConnectionRequest{} },
	CodeConnectionResponse:    func() Command { return &ConnectionResponse{} },
	CodeConfigurationRequest:  func() Command { return &ConfigurationRequest{} },
	CodeConfigurationResponse: func() Command { return &ConfigurationResponse{} },
	CodeDisconnectRequest:     func() Command { return &DisconnectRequest{} },
	CodeDisconnectResponse:    func() Command { return &DisconnectResponse{} },
	CodeEchoRequest:           func() Command { return &EchoRequest{} },
	CodeEchoResponse:          func() Command { return &EchoResponse{} },
	CodeInformationRequest:    func() Command { return &InformationRequest{} },
	CodeInformationResponse:   func() Command { return &InformationResponse{} },
}

// ErrUnknownCode is returned by Decode for codes this package does not implement.
var ErrUnknownCode = errors.New("unknown signaling code")

// Decode unmarshals the parameters of p into the matching command type.
func Decode(p Packet) (Command, error) {
	fn, ok := decoders[p.Code]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCode, "code 0x%02x", p.Code)
	}
	c := fn()
	if err := c.Unmarshal(p.Data); err != nil {
		return nil, errors.Wrapf(err, "decode %v", Name(p.Code))
	}
	return c, nil
}

// IsResponse reports whether code answers a request.
func IsResponse(code uint8) bool {
	switch code {
	case CodeCommandReject, CodeConnectionResponse, CodeConfigurationResponse,
		CodeDisconnectResponse, CodeEchoResponse, CodeInformationResponse:
		return true
	}
	return false
}

var names = map[uint8]string{
	CodeCommandReject:         "command reject",
	CodeConnectionRequest:     "connection request",
	CodeConnectionResponse:    "connection response",
	CodeConfigurationRequest:  "configuration request",
	CodeConfigurationResponse: "configuration response",
	CodeDisconnectRequest:     "disconnect request",
	CodeDisconnectResponse:    "disconnect response",
	CodeEchoRequest:           "echo request",
	CodeEchoResponse:          "echo response",
	CodeInformationRequest:    "information request",
	CodeInformationResponse:   "information response",
}

// Name returns a readable name for a signaling code.
func Name(code uint8) string {
	if n, ok := names[code]; ok {
		return n
	}
	return fmt.Sprintf("code 0x%02x", code)
}
