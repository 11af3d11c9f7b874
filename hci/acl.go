// Package hci carries L2CAP PDUs over an HCI transport: ACL fragmentation and
// recombination, H4 framing, the controller events the channel layer cares
// about, and the UART, TCP and user channel transports.
package hci

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HCI Packet types
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	pbfControllerToHostStart = 0x02 // Start of an automatically flushable PDU from controller to host.
	pbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU.
)

const aclHeaderLen = 4

// packet implements HCI ACL Data Packet [Vol 2, Part E, 5.4.2], without the H4 type byte.
type packet []byte

func (a packet) handle() uint16 { return uint16(a[0]) | (uint16(a[1]&0x0f) << 8) }
func (a packet) pbf() int       { return (int(a[1]) >> 4) & 0x3 }
func (a packet) dlen() int      { return int(a[2]) | (int(a[3]) << 8) }
func (a packet) data() []byte   { return a[aclHeaderLen:] }

// pdu is a (possibly partial) L2CAP basic frame.
type pdu []byte

func (p pdu) dlen() int   { return int(binary.LittleEndian.Uint16(p[0:2])) }
func (p pdu) cid() uint16 { return binary.LittleEndian.Uint16(p[2:4]) }

// Fragment breaks down a L2CAP PDU into H4 ACL packets carrying at most size
// payload bytes each. [Vol 3, Part A, 7.2.1]
func Fragment(handle uint16, p []byte, size int) [][]byte {
	var out [][]byte
	flags := uint16(PbfHostToControllerStart << 4)
	for len(p) > 0 {
		n := len(p)
		if n > size {
			n = size
		}

		pkt := make([]byte, 1+aclHeaderLen+n)
		pkt[0] = PktTypeACLData
		binary.LittleEndian.PutUint16(pkt[1:3], (handle&0x0fff)|(flags<<8))
		binary.LittleEndian.PutUint16(pkt[3:5], uint16(n))
		copy(pkt[1+aclHeaderLen:], p[:n])
		out = append(out, pkt)

		// Set "continuing" in the boundary flags for the rest of fragments, if any.
		flags = PbfContinuing << 4
		p = p[n:]
	}
	return out
}

// Recombiner rebuilds L2CAP PDUs from ACL fragments, per connection handle.
// [Vol 3, Part A, 7.2.2]
type Recombiner struct {
	pending map[uint16][]byte
}

// NewRecombiner returns an empty Recombiner.
func NewRecombiner() *Recombiner {
	return &Recombiner{pending: make(map[uint16][]byte)}
}

// Add consumes one ACL packet (without the H4 type byte). When it completes
// a PDU, the PDU is returned with its basic header.
func (r *Recombiner) Add(b []byte) (uint16, []byte, error) {
	if len(b) < aclHeaderLen {
		return 0, nil, errors.Errorf("acl packet of %v bytes", len(b))
	}
	pkt := packet(b)
	h := pkt.handle()
	if pkt.dlen() != len(pkt.data()) {
		return h, nil, errors.Errorf("acl handle 0x%04x: length %v, have %v", h, pkt.dlen(), len(pkt.data()))
	}

	var err error
	if pkt.pbf() == PbfContinuing {
		prev, ok := r.pending[h]
		if !ok {
			return h, nil, errors.Errorf("acl handle 0x%04x: continuing fragment without start", h)
		}
		r.pending[h] = append(prev, pkt.data()...)
	} else {
		if _, ok := r.pending[h]; ok {
			err = errors.Errorf("acl handle 0x%04x: start fragment while recombining, previous pdu dropped", h)
		}
		r.pending[h] = append([]byte(nil), pkt.data()...)
	}

	if q, ok := r.complete(h); ok {
		return h, q, err
	}
	return h, nil, err
}

func (r *Recombiner) complete(h uint16) ([]byte, bool) {
	p := r.pending[h]
	if len(p) < 4 || len(p) < 4+pdu(p).dlen() {
		return nil, false
	}
	delete(r.pending, h)
	return p, true
}

// Drop forgets a partial PDU, e.g. after the link went down.
func (r *Recombiner) Drop(h uint16) {
	delete(r.pending, h)
}
