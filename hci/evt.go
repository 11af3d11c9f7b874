package hci

import (
	"encoding/binary"
	"fmt"
)

// Event codes [Vol 2, Part E, 7.7]
const (
	ConnectionCompleteCode       = 0x03
	ConnectionRequestCode        = 0x04
	DisconnectionCompleteCode    = 0x05
	CommandCompleteCode          = 0x0E
	CommandStatusCode            = 0x0F
	NumberOfCompletedPacketsCode = 0x13
)

// Command opcodes
const (
	opCreateConnection        = 0x0405
	opDisconnect              = 0x0406
	opAcceptConnectionRequest = 0x0409
	opReset                   = 0x0c03
	opReadBufferSize          = 0x1005
)

const linkTypeACL = 0x01

// ConnectionComplete implements Connection Complete (0x03) [Vol 2, Part E, 7.7.3].
type ConnectionComplete []byte

func (e ConnectionComplete) StatusWErr() (uint8, error) { return getByte(e, 0, 0xff) }

func (e ConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	v, err := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff, err
}

// BDADDRWErr returns the peer address as carried on the wire, little endian.
func (e ConnectionComplete) BDADDRWErr() ([]byte, error) { return getBytes(e, 3, 6) }

func (e ConnectionComplete) LinkTypeWErr() (uint8, error) { return getByte(e, 9, 0xff) }

// ConnectionRequest implements Connection Request (0x04) [Vol 2, Part E, 7.7.4].
type ConnectionRequest []byte

func (e ConnectionRequest) BDADDRWErr() ([]byte, error)  { return getBytes(e, 0, 6) }
func (e ConnectionRequest) LinkTypeWErr() (uint8, error) { return getByte(e, 9, 0xff) }

// DisconnectionComplete implements Disconnection Complete (0x05) [Vol 2, Part E, 7.7.5].
type DisconnectionComplete []byte

func (e DisconnectionComplete) StatusWErr() (uint8, error) { return getByte(e, 0, 0xff) }

func (e DisconnectionComplete) ConnectionHandleWErr() (uint16, error) {
	v, err := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff, err
}

func (e DisconnectionComplete) ReasonWErr() (uint8, error) { return getByte(e, 3, 0) }

// CommandComplete implements Command Complete (0x0E) [Vol 2, Part E, 7.7.14].
type CommandComplete []byte

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) { return getByte(e, 0, 0) }
func (e CommandComplete) CommandOpcodeWErr() (uint16, error)       { return getUint16LE(e, 1, 0xffff) }
func (e CommandComplete) ReturnParametersWErr() ([]byte, error)    { return getBytes(e, 3, -1) }

// CommandStatus implements Command Status (0x0F) [Vol 2, Part E, 7.7.15].
type CommandStatus []byte

func (e CommandStatus) StatusWErr() (uint8, error)               { return getByte(e, 0, 0xff) }
func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) { return getByte(e, 1, 0) }
func (e CommandStatus) CommandOpcodeWErr() (uint16, error)       { return getUint16LE(e, 2, 0xffff) }

// NumberOfCompletedPackets implements Number Of Completed Packets (0x13) [Vol 2, Part E, 7.7.19].
//
// Controllers seen in the field interleave the lists:
//
//	NumOfHandle, HandleA, CompPktNumA, HandleB, CompPktNumB
//	         02,   40 00,       01 00,   41 00,       01 00
type NumberOfCompletedPackets []byte

func (e NumberOfCompletedPackets) NumberOfHandlesWErr() (uint8, error) { return getByte(e, 0, 0) }

func (e NumberOfCompletedPackets) ConnectionHandleWErr(i int) (uint16, error) {
	v, err := getUint16LE(e, 1+(i*4), 0xffff)
	return v & 0x0fff, err
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPacketsWErr(i int) (uint16, error) {
	return getUint16LE(e, 1+(i*4)+2, 0)
}

// readBufferSizeRP is the return parameter of Read Buffer Size [Vol 2, Part E, 7.4.5].
type readBufferSizeRP []byte

func (r readBufferSizeRP) StatusWErr() (uint8, error)                  { return getByte(r, 0, 0xff) }
func (r readBufferSizeRP) ACLDataPacketLengthWErr() (uint16, error)    { return getUint16LE(r, 1, 0) }
func (r readBufferSizeRP) TotalNumACLDataPacketsWErr() (uint16, error) { return getUint16LE(r, 4, 0) }

func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}

// command builds an H4 command packet.
func command(op uint16, params ...byte) []byte {
	b := make([]byte, 4+len(params))
	b[0] = PktTypeCommand
	binary.LittleEndian.PutUint16(b[1:3], op)
	b[3] = byte(len(params))
	copy(b[4:], params)
	return b
}
