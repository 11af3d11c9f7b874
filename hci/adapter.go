package hci

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rigado/l2cap"
)

const (
	defaultACLSize = 27

	// Page Timeout, reported when a link cannot be created
	StatusPageTimeout = 0x04

	// Remote User Terminated Connection, sent when we drop a link
	ReasonRemoteUserTerminated = 0x13
)

// Upper receives link events, *core.Stack implements it.
type Upper interface {
	ConnectionComplete(addr l2cap.Addr, handle uint16, status uint8)
	CloseConnection(handle uint16)
	HandleACL(handle uint16, pdu []byte) error
	ReadyToSend()
}

type conn struct {
	addr     l2cap.Addr
	inflight int
}

// Adapter drives a controller over an H4 stream and serves as the channel
// layer's link. Upper is never called with the adapter lock held.
type Adapter struct {
	mu sync.Mutex

	rw    io.ReadWriteCloser
	log   l2cap.Logger
	upper Upper

	conns map[uint16]*conn

	// Create Connection commands awaiting their outcome, oldest first
	creating []l2cap.Addr

	// controller ACL buffers, shared by all handles
	aclSize int
	free    int

	rc *Recombiner
	fr *framer
}

// NewAdapter returns an adapter on rw. Call Init once Upper is set.
func NewAdapter(rw io.ReadWriteCloser) *Adapter {
	return &Adapter{
		rw:      rw,
		log:     l2cap.LayerLogger("hci"),
		conns:   make(map[uint16]*conn),
		aclSize: defaultACLSize,
		rc:      NewRecombiner(),
		fr:      newFramer(),
	}
}

// SetUpper binds the layer link events are reported to.
func (a *Adapter) SetUpper(u Upper) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upper = u
}

// Init asks the controller for its ACL buffer geometry. Nothing is sent
// before the answer arrives.
func (a *Adapter) Init() error {
	return a.write(command(opReadBufferSize))
}

// CreateConnection implements Create Connection [Vol 2, Part E, 7.1.5].
func (a *Adapter) CreateConnection(addr l2cap.Addr) error {
	b := l2cap.WireBytes(addr)
	if len(b) != 6 {
		return errors.Wrapf(l2cap.ErrInvalidParameter, "address %v", addr)
	}

	p := make([]byte, 13)
	copy(p, b)
	binary.LittleEndian.PutUint16(p[6:8], 0xcc18) // DM1, DH1, DM3, DH3, DM5, DH5
	p[8] = 0x02                                   // page scan repetition mode R2
	p[9] = 0x00                                   // reserved
	binary.LittleEndian.PutUint16(p[10:12], 0x0000)
	p[12] = 0x01 // allow role switch

	a.mu.Lock()
	a.creating = append(a.creating, addr)
	a.mu.Unlock()

	if err := a.write(command(opCreateConnection, p...)); err != nil {
		a.mu.Lock()
		a.dropCreating(addr)
		a.mu.Unlock()
		return err
	}
	return nil
}

func (a *Adapter) dropCreating(addr l2cap.Addr) {
	for i, c := range a.creating {
		if l2cap.SameAddr(c, addr) {
			a.creating = append(a.creating[:i], a.creating[i+1:]...)
			return
		}
	}
}

// Disconnect tears the link down [Vol 2, Part E, 7.1.6].
func (a *Adapter) Disconnect(handle uint16, reason uint8) error {
	p := make([]byte, 3)
	binary.LittleEndian.PutUint16(p, handle)
	p[2] = reason
	return a.write(command(opDisconnect, p...))
}

// CanSend reports whether the controller has a free buffer for handle.
func (a *Adapter) CanSend(handle uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conns[handle]
	return ok && a.free > 0
}

// FreeSlots reports the controller buffers available to handle.
func (a *Adapter) FreeSlots(handle uint16) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.conns[handle]; !ok {
		return 0
	}
	return a.free
}

// SendACL fragments pdu to the controller's ACL size and writes it.
func (a *Adapter) SendACL(handle uint16, pdu []byte) error {
	a.mu.Lock()
	c, ok := a.conns[handle]
	if !ok {
		a.mu.Unlock()
		return errors.Wrapf(l2cap.ErrLinkLost, "handle 0x%04x", handle)
	}
	frags := Fragment(handle, pdu, a.aclSize)
	if len(frags) > a.free {
		a.mu.Unlock()
		return errors.Wrapf(l2cap.ErrWouldBlock, "%v fragments, %v buffers", len(frags), a.free)
	}
	a.free -= len(frags)
	c.inflight += len(frags)
	a.mu.Unlock()

	for _, f := range frags {
		if err := a.write(f); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) write(b []byte) error {
	if _, err := a.rw.Write(b); err != nil {
		return errors.Wrap(err, "can't write to controller")
	}
	return nil
}

// Run reads and dispatches controller packets until ctx is done or the
// transport fails. Transports return 0, nil on a read timeout.
func (a *Adapter) Run(ctx context.Context) error {
	b := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := a.rw.Read(b)
		switch {
		case n == 0 && err == nil:
			// read timeout
			continue

		//callers depend on detecting io.EOF, don't wrap it.
		case err == io.EOF:
			return err

		case err != nil:
			return errors.Wrap(err, "can't read from controller")
		}

		for _, pkt := range a.fr.Assemble(b[:n]) {
			if err := a.handlePkt(pkt); err != nil {
				a.log.Warnf("%v", err)
			}
		}
	}
}

// Close disconnects every link and closes the transport.
func (a *Adapter) Close() error {
	a.mu.Lock()
	hh := make([]uint16, 0, len(a.conns))
	for h := range a.conns {
		hh = append(hh, h)
	}
	a.mu.Unlock()
	sort.Slice(hh, func(i, j int) bool { return hh[i] < hh[j] })

	var err error
	for _, h := range hh {
		err = multierr.Append(err, a.Disconnect(h, ReasonRemoteUserTerminated))
	}
	return multierr.Append(err, a.rw.Close())
}

func (a *Adapter) handlePkt(b []byte) error {
	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case PktTypeACLData:
		return a.handleACL(b)
	case PktTypeEvent:
		return a.handleEvt(b)
	default:
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (a *Adapter) handleACL(b []byte) error {
	a.mu.Lock()
	h, pdu, err := a.rc.Add(b)
	_, known := a.conns[h]
	u := a.upper
	a.mu.Unlock()

	if !known {
		return fmt.Errorf("acl data for unknown handle 0x%04x", h)
	}
	if pdu != nil && u != nil {
		if herr := u.HandleACL(h, pdu); herr != nil {
			a.log.Debugf("handle 0x%04x: %v", h, herr)
		}
	}
	return err
}

func (a *Adapter) handleEvt(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid event packet: % X", b)
	}
	code, plen := int(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return fmt.Errorf("invalid event packet: % X", b)
	}

	switch code {
	case ConnectionRequestCode:
		return a.handleConnectionRequest(b[2:])
	case ConnectionCompleteCode:
		return a.handleConnectionComplete(b[2:])
	case DisconnectionCompleteCode:
		return a.handleDisconnectionComplete(b[2:])
	case NumberOfCompletedPacketsCode:
		return a.handleNumberOfCompletedPackets(b[2:])
	case CommandCompleteCode:
		return a.handleCommandComplete(b[2:])
	case CommandStatusCode:
		return a.handleCommandStatus(b[2:])
	case 0xff:
		// Ignore vendor events
		return nil
	}
	return fmt.Errorf("unsupported event packet: % X", b)
}

// handleConnectionRequest accepts every incoming ACL link, services decide
// per channel.
func (a *Adapter) handleConnectionRequest(b []byte) error {
	e := ConnectionRequest(b)
	ba, err := e.BDADDRWErr()
	if err != nil {
		return errors.Wrap(err, "connection request")
	}
	lt, err := e.LinkTypeWErr()
	if err != nil {
		return errors.Wrap(err, "connection request")
	}
	if lt != linkTypeACL {
		return fmt.Errorf("connection request from %v: link type 0x%02x", l2cap.AddrFromBytes(ba), lt)
	}

	p := make([]byte, 7)
	copy(p, ba)
	p[6] = 0x01 // remain peripheral
	return a.write(command(opAcceptConnectionRequest, p...))
}

func (a *Adapter) handleConnectionComplete(b []byte) error {
	e := ConnectionComplete(b)
	status, err := e.StatusWErr()
	if err != nil {
		return errors.Wrap(err, "connection complete")
	}
	h, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrap(err, "connection complete")
	}
	ba, err := e.BDADDRWErr()
	if err != nil {
		return errors.Wrap(err, "connection complete")
	}
	addr := l2cap.AddrFromBytes(ba)

	a.mu.Lock()
	a.dropCreating(addr)
	if status == 0 {
		a.conns[h] = &conn{addr: addr}
	}
	u := a.upper
	a.mu.Unlock()

	a.log.Infof("connection complete %v handle 0x%04x status 0x%02x", addr, h, status)
	if u != nil {
		u.ConnectionComplete(addr, h, status)
		if status == 0 {
			u.ReadyToSend()
		}
	}
	return nil
}

func (a *Adapter) handleDisconnectionComplete(b []byte) error {
	e := DisconnectionComplete(b)
	h, err := e.ConnectionHandleWErr()
	if err != nil {
		return errors.Wrap(err, "disconnection complete")
	}
	reason, _ := e.ReasonWErr()

	a.mu.Lock()
	c, ok := a.conns[h]
	if ok {
		// the controller flushes whatever the link still had queued
		a.free += c.inflight
		delete(a.conns, h)
	}
	a.rc.Drop(h)
	u := a.upper
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("disconnection complete for unknown handle 0x%04x", h)
	}
	a.log.Infof("disconnected handle 0x%04x reason 0x%02x", h, reason)
	if u != nil {
		u.CloseConnection(h)
		u.ReadyToSend()
	}
	return nil
}

func (a *Adapter) handleNumberOfCompletedPackets(b []byte) error {
	e := NumberOfCompletedPackets(b)
	nh, err := e.NumberOfHandlesWErr()
	if err != nil {
		return errors.Wrap(err, "number of completed packets")
	}

	a.mu.Lock()
	for i := 0; i < int(nh); i++ {
		h, err := e.ConnectionHandleWErr(i)
		if err != nil {
			a.mu.Unlock()
			return errors.Wrap(err, "number of completed packets")
		}
		n, err := e.HCNumOfCompletedPacketsWErr(i)
		if err != nil {
			a.mu.Unlock()
			return errors.Wrap(err, "number of completed packets")
		}
		c, ok := a.conns[h]
		if !ok {
			continue
		}
		if int(n) > c.inflight {
			n = uint16(c.inflight)
		}
		c.inflight -= int(n)
		a.free += int(n)
	}
	u := a.upper
	a.mu.Unlock()

	if u != nil {
		u.ReadyToSend()
	}
	return nil
}

func (a *Adapter) handleCommandComplete(b []byte) error {
	e := CommandComplete(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	if op != opReadBufferSize {
		return nil
	}

	rp, err := e.ReturnParametersWErr()
	if err != nil {
		return errors.Wrap(err, "read buffer size")
	}
	r := readBufferSizeRP(rp)
	if st, err := r.StatusWErr(); err != nil || st != 0 {
		return fmt.Errorf("read buffer size: status 0x%02x", st)
	}
	size, err := r.ACLDataPacketLengthWErr()
	if err != nil {
		return errors.Wrap(err, "read buffer size")
	}
	total, err := r.TotalNumACLDataPacketsWErr()
	if err != nil {
		return errors.Wrap(err, "read buffer size")
	}
	if size == 0 {
		return fmt.Errorf("read buffer size: zero acl length")
	}

	a.mu.Lock()
	a.aclSize = int(size)
	a.free = int(total)
	u := a.upper
	a.mu.Unlock()

	a.log.Debugf("acl buffers: %v x %v bytes", total, size)
	if u != nil {
		u.ReadyToSend()
	}
	return nil
}

// handleCommandStatus reports a rejected Create Connection as a failed link.
func (a *Adapter) handleCommandStatus(b []byte) error {
	e := CommandStatus(b)
	status, err := e.StatusWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command status")
	}
	if status == 0 {
		return nil
	}
	if op != opCreateConnection {
		return fmt.Errorf("command 0x%04x failed: status 0x%02x", op, status)
	}

	// the event carries no address, commands complete in order
	a.mu.Lock()
	if len(a.creating) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("create connection failed with nothing pending: status 0x%02x", status)
	}
	addr := a.creating[0]
	a.creating = a.creating[1:]
	u := a.upper
	a.mu.Unlock()

	if u != nil {
		u.ConnectionComplete(addr, 0, status)
	}
	return nil
}
