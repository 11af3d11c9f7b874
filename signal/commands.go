package signal

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Signaling command codes [Vol 3, Part A, 4].
const (
	CodeCommandReject         = 0x01
	CodeConnectionRequest     = 0x02
	CodeConnectionResponse    = 0x03
	CodeConfigurationRequest  = 0x04
	CodeConfigurationResponse = 0x05
	CodeDisconnectRequest     = 0x06
	CodeDisconnectResponse    = 0x07
	CodeEchoRequest           = 0x08
	CodeEchoResponse          = 0x09
	CodeInformationRequest    = 0x0A
	CodeInformationResponse   = 0x0B
)

// Connection response results [Vol 3, Part A, 4.3].
const (
	ResultSuccess            uint16 = 0x0000
	ResultPending            uint16 = 0x0001
	ResultPSMNotSupported    uint16 = 0x0002
	ResultSecurityBlock      uint16 = 0x0003
	ResultNoResources        uint16 = 0x0004
	ResultInvalidSourceCID   uint16 = 0x0006
	ResultSourceCIDAllocated uint16 = 0x0007
)

// Command reject reasons [Vol 3, Part A, 4.1].
const (
	RejectNotUnderstood uint16 = 0x0000
	RejectMTUExceeded   uint16 = 0x0001
	RejectInvalidCID    uint16 = 0x0002
)

// Configuration response results [Vol 3, Part A, 4.5].
const (
	ConfigSuccess        uint16 = 0x0000
	ConfigUnacceptable   uint16 = 0x0001
	ConfigRejected       uint16 = 0x0002
	ConfigUnknownOptions uint16 = 0x0003

	// ConfigContinuation flags a request or response continued in the next one.
	ConfigContinuation uint16 = 0x0001
)

// Information request types and results [Vol 3, Part A, 4.10].
const (
	InfoConnectionlessMTU uint16 = 0x0001
	InfoExtendedFeatures  uint16 = 0x0002
	InfoFixedChannels     uint16 = 0x0003

	InfoSuccess      uint16 = 0x0000
	InfoNotSupported uint16 = 0x0001
)

func marshalFixed(v interface{}) []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func unmarshalFixed(b []byte, v interface{}) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, v)
}

// CommandReject implements Command Reject (0x01) [Vol 3, Part A, 4.1].
type CommandReject struct {
	Reason uint16
	Data   []byte
}

// Code returns the signaling code of the command.
func (s CommandReject) Code() uint8 { return CodeCommandReject }

// Marshal serializes the command parameters into binary form.
func (s *CommandReject) Marshal() []byte {
	b := make([]byte, 2+len(s.Data))
	binary.LittleEndian.PutUint16(b, s.Reason)
	copy(b[2:], s.Data)
	return b
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *CommandReject) Unmarshal(b []byte) error {
	if len(b) < 2 {
		return io.ErrUnexpectedEOF
	}
	s.Reason = binary.LittleEndian.Uint16(b)
	s.Data = append([]byte(nil), b[2:]...)
	return nil
}

// ConnectionRequest implements Connection Request (0x02) [Vol 3, Part A, 4.2].
type ConnectionRequest struct {
	PSM       uint16
	SourceCID uint16
}

// Code returns the signaling code of the command.
func (s ConnectionRequest) Code() uint8 { return CodeConnectionRequest }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionRequest) Marshal() []byte { return marshalFixed(s) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionRequest) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// ConnectionResponse implements Connection Response (0x03) [Vol 3, Part A, 4.3].
type ConnectionResponse struct {
	DestinationCID uint16
	SourceCID      uint16
	Result         uint16
	Status         uint16
}

// Code returns the signaling code of the command.
func (s ConnectionResponse) Code() uint8 { return CodeConnectionResponse }

// Marshal serializes the command parameters into binary form.
func (s *ConnectionResponse) Marshal() []byte { return marshalFixed(s) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConnectionResponse) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// ConfigurationRequest implements Configuration Request (0x04) [Vol 3, Part A, 4.4].
type ConfigurationRequest struct {
	DestinationCID uint16
	Flags          uint16
	Options        []byte
}

// Code returns the signaling code of the command.
func (s ConfigurationRequest) Code() uint8 { return CodeConfigurationRequest }

// Marshal serializes the command parameters into binary form.
func (s *ConfigurationRequest) Marshal() []byte {
	b := make([]byte, 4+len(s.Options))
	binary.LittleEndian.PutUint16(b[0:], s.DestinationCID)
	binary.LittleEndian.PutUint16(b[2:], s.Flags)
	copy(b[4:], s.Options)
	return b
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConfigurationRequest) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return io.ErrUnexpectedEOF
	}
	s.DestinationCID = binary.LittleEndian.Uint16(b[0:])
	s.Flags = binary.LittleEndian.Uint16(b[2:])
	s.Options = append([]byte(nil), b[4:]...)
	return nil
}

// ConfigurationResponse implements Configuration Response (0x05) [Vol 3, Part A, 4.5].
type ConfigurationResponse struct {
	SourceCID uint16
	Flags     uint16
	Result    uint16
	Options   []byte
}

// Code returns the signaling code of the command.
func (s ConfigurationResponse) Code() uint8 { return CodeConfigurationResponse }

// Marshal serializes the command parameters into binary form.
func (s *ConfigurationResponse) Marshal() []byte {
	b := make([]byte, 6+len(s.Options))
	binary.LittleEndian.PutUint16(b[0:], s.SourceCID)
	binary.LittleEndian.PutUint16(b[2:], s.Flags)
	binary.LittleEndian.PutUint16(b[4:], s.Result)
	copy(b[6:], s.Options)
	return b
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *ConfigurationResponse) Unmarshal(b []byte) error {
	if len(b) < 6 {
		return io.ErrUnexpectedEOF
	}
	s.SourceCID = binary.LittleEndian.Uint16(b[0:])
	s.Flags = binary.LittleEndian.Uint16(b[2:])
	s.Result = binary.LittleEndian.Uint16(b[4:])
	s.Options = append([]byte(nil), b[6:]...)
	return nil
}

// DisconnectRequest implements Disconnect Request (0x06) [Vol 3, Part A, 4.6].
type DisconnectRequest struct {
	DestinationCID uint16
	SourceCID      uint16
}

// Code returns the signaling code of the command.
func (s DisconnectRequest) Code() uint8 { return CodeDisconnectRequest }

// Marshal serializes the command parameters into binary form.
func (s *DisconnectRequest) Marshal() []byte { return marshalFixed(s) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *DisconnectRequest) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// DisconnectResponse implements Disconnect Response (0x07) [Vol 3, Part A, 4.7].
type DisconnectResponse struct {
	DestinationCID uint16
	SourceCID      uint16
}

// Code returns the signaling code of the command.
func (s DisconnectResponse) Code() uint8 { return CodeDisconnectResponse }

// Marshal serializes the command parameters into binary form.
func (s *DisconnectResponse) Marshal() []byte { return marshalFixed(s) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *DisconnectResponse) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// EchoRequest implements Echo Request (0x08) [Vol 3, Part A, 4.8].
type EchoRequest struct {
	Data []byte
}

// Code returns the signaling code of the command.
func (s EchoRequest) Code() uint8 { return CodeEchoRequest }

// Marshal serializes the command parameters into binary form.
func (s *EchoRequest) Marshal() []byte { return append([]byte(nil), s.Data...) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *EchoRequest) Unmarshal(b []byte) error {
	s.Data = append([]byte(nil), b...)
	return nil
}

// EchoResponse implements Echo Response (0x09) [Vol 3, Part A, 4.9].
type EchoResponse struct {
	Data []byte
}

// Code returns the signaling code of the command.
func (s EchoResponse) Code() uint8 { return CodeEchoResponse }

// Marshal serializes the command parameters into binary form.
func (s *EchoResponse) Marshal() []byte { return append([]byte(nil), s.Data...) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *EchoResponse) Unmarshal(b []byte) error {
	s.Data = append([]byte(nil), b...)
	return nil
}

// InformationRequest implements Information Request (0x0A) [Vol 3, Part A, 4.10].
type InformationRequest struct {
	InfoType uint16
}

// Code returns the signaling code of the command.
func (s InformationRequest) Code() uint8 { return CodeInformationRequest }

// Marshal serializes the command parameters into binary form.
func (s *InformationRequest) Marshal() []byte { return marshalFixed(s) }

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *InformationRequest) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// InformationResponse implements Information Response (0x0B) [Vol 3, Part A, 4.11].
type InformationResponse struct {
	InfoType uint16
	Result   uint16
	Data     []byte
}

// Code returns the signaling code of the command.
func (s InformationResponse) Code() uint8 { return CodeInformationResponse }

// Marshal serializes the command parameters into binary form.
func (s *InformationResponse) Marshal() []byte {
	b := make([]byte, 4+len(s.Data))
	binary.LittleEndian.PutUint16(b[0:], s.InfoType)
	binary.LittleEndian.PutUint16(b[2:], s.Result)
	copy(b[4:], s.Data)
	return b
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *InformationResponse) Unmarshal(b []byte) error {
	if len(b) < 4 {
		return io.ErrUnexpectedEOF
	}
	s.InfoType = binary.LittleEndian.Uint16(b[0:])
	s.Result = binary.LittleEndian.Uint16(b[2:])
	s.Data = append([]byte(nil), b[4:]...)
	return nil
}
