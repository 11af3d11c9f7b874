package core

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

// connectionless data channel, not handled by this layer
const connectionlessCID = 0x0002

// CreateChannel starts opening a channel to psm on the peer at addr. The
// outcome is reported through handler.ChannelOpened.
func (s *Stack) CreateChannel(owner interface{}, handler l2cap.Handler, addr l2cap.Addr, psm, mtu uint16) (uint16, error) {
	var cid uint16
	err := s.do(func() error {
		if mtu == 0 {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "psm 0x%04x: zero mtu", psm)
		}
		if addr == nil {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "psm 0x%04x: no address", psm)
		}
		var err error
		if cid, err = s.allocCID(); err != nil {
			return err
		}

		c := &channel{
			state:    StateWillSendCreateConnection,
			addr:     addr,
			localCID: cid,
			localMTU: mtu,
			psm:      psm,
			owner:    owner,
			handler:  handler,
		}
		if l, ok := s.linkFor(addr); ok {
			c.handle = l.handle
			c.state = StateWillSendConnectionRequest
		} else {
			for _, o := range s.channels {
				if o.state == StateWaitConnectionComplete && l2cap.SameAddr(o.addr, addr) {
					c.state = StateWaitConnectionComplete
					break
				}
			}
		}
		s.addChannel(c)
		s.log.Infof("cid 0x%04x: opening psm 0x%04x to %v, %v", cid, psm, addr, c.state)
		return nil
	})
	return cid, err
}

// AcceptConnection accepts the incoming connection waiting on localCID.
func (s *Stack) AcceptConnection(localCID uint16) error {
	return s.do(func() error {
		c, err := s.waitingClient(localCID)
		if err != nil {
			return err
		}
		c.state = StateWillSendConnectionResponseAccept
		return nil
	})
}

// DeclineConnection refuses the incoming connection waiting on localCID with
// the given connection result. The channel is dropped without a close event.
func (s *Stack) DeclineConnection(localCID uint16, result uint16) error {
	return s.do(func() error {
		c, err := s.waitingClient(localCID)
		if err != nil {
			return err
		}
		c.reason = result
		c.state = StateWillSendConnectionResponseDecline
		return nil
	})
}

func (s *Stack) waitingClient(localCID uint16) (*channel, error) {
	c, err := s.lookup(localCID)
	if err != nil {
		return nil, err
	}
	if c.state != StateWaitClientAcceptOrReject {
		return nil, errors.Wrapf(l2cap.ErrInvalidState, "cid 0x%04x: %v", localCID, c.state)
	}
	return c, nil
}

// Disconnect closes an open or configuring channel. The close is reported
// through ChannelClosed once the peer confirmed.
func (s *Stack) Disconnect(localCID uint16, reason uint16) error {
	return s.do(func() error {
		c, err := s.lookup(localCID)
		if err != nil {
			return err
		}
		if c.state != StateOpen && c.state != StateConfig {
			return errors.Wrapf(l2cap.ErrInvalidState, "cid 0x%04x: %v", localCID, c.state)
		}
		c.reason = reason
		c.state = StateWillSendDisconnectRequest
		return nil
	})
}

// ConnectionComplete reports the result of a link creation towards addr.
func (s *Stack) ConnectionComplete(addr l2cap.Addr, handle uint16, status uint8) {
	s.do(func() error {
		if status != 0 {
			s.log.Warnf("connection to %v failed, status 0x%02x", addr, status)
			s.connectionFailed(addr, status)
			return nil
		}

		l := s.touchLink(handle)
		l.addr = addr
		s.log.Infof("handle 0x%04x: connected to %v", handle, addr)

		for _, c := range s.channels {
			if c.waitingForLink() && l2cap.SameAddr(c.addr, addr) {
				c.handle = handle
				c.state = StateWillSendConnectionRequest
			}
		}
		return nil
	})
}

// CloseConnection drops every channel on handle after the link went away.
func (s *Stack) CloseConnection(handle uint16) {
	s.do(func() error {
		for _, cid := range s.sortedCIDs() {
			c := s.channels[cid]
			if c.handle != handle || c.waitingForLink() {
				continue
			}
			s.closeChannel(c, l2cap.ReasonLinkLost)
		}
		s.releaseHandle(handle)
		delete(s.links, handle)
		s.log.Infof("handle 0x%04x: closed", handle)
		return nil
	})
}

// CloseOwner releases everything registered by owner.
func (s *Stack) CloseOwner(owner interface{}) {
	s.do(func() error {
		for psm, svc := range s.services {
			if svc.owner == owner {
				delete(s.services, psm)
			}
		}
		for _, cid := range s.sortedCIDs() {
			c := s.channels[cid]
			if c.owner != owner {
				continue
			}
			switch c.state {
			case StateOpen, StateConfig:
				c.state = StateWillSendDisconnectRequest
			case StateWaitClientAcceptOrReject:
				c.reason = signal.ResultNoResources
				c.state = StateWillSendConnectionResponseDecline
			case StateWillSendDisconnectRequest, StateWaitDisconnect, StateWillSendDisconnectResponse,
				StateWillSendConnectionResponseDecline:
			default:
				s.removeChannel(c)
			}
		}
		return nil
	})
}

// HandleACL processes a complete L2CAP PDU, basic header included.
func (s *Stack) HandleACL(handle uint16, pdu []byte) error {
	return s.do(func() error {
		if len(pdu) < headerLen {
			return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: pdu of %v bytes", handle, len(pdu)))
		}
		n := int(binary.LittleEndian.Uint16(pdu[0:2]))
		cid := binary.LittleEndian.Uint16(pdu[2:4])
		if n != len(pdu)-headerLen {
			return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: cid 0x%04x length %v, have %v", handle, cid, n, len(pdu)-headerLen))
		}
		return s.handlePDU(handle, cid, pdu[headerLen:])
	})
}

// HandlePDU processes the payload of an L2CAP PDU received for cid.
func (s *Stack) HandlePDU(handle, cid uint16, payload []byte) error {
	return s.do(func() error {
		return s.handlePDU(handle, cid, payload)
	})
}

func (s *Stack) handlePDU(handle, cid uint16, payload []byte) error {
	switch cid {
	case signal.CID:
		s.touchLink(handle)
		return s.handleSignaling(handle, payload)
	case connectionlessCID:
		s.log.Debugf("handle 0x%04x: connectionless pdu dropped", handle)
		return nil
	}

	c := s.channelFor(handle, cid)
	if c == nil {
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: pdu for unknown cid 0x%04x", handle, cid))
	}
	if c.state != StateOpen {
		return errors.Wrapf(l2cap.ErrInvalidState, "cid 0x%04x: data in state %v", cid, c.state)
	}
	if len(payload) > int(c.localMTU) {
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "cid 0x%04x: %v bytes exceed mtu %v", cid, len(payload), c.localMTU))
	}

	data := append([]byte(nil), payload...)
	h, owner := s.handlerFor(c.handler), c.owner
	s.emit(func() { h.DataReceived(owner, cid, data) })
	s.metrics.pduRx.Inc()
	return nil
}

// RemoteMTU returns the MTU the peer announced for localCID, zero until configured.
func (s *Stack) RemoteMTU(localCID uint16) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(localCID)
	if err != nil {
		return 0, err
	}
	return c.remoteMTU, nil
}

// RegisterPacketHandler sets the handler used by channels and services registered without one.
func (s *Stack) RegisterPacketHandler(h l2cap.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Channel returns a copy of the channel record for localCID.
func (s *Stack) Channel(localCID uint16) (ChannelInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[localCID]
	if !ok {
		return ChannelInfo{}, false
	}
	return c.info(), true
}

// LinkInfo describes a link the stack knows about.
type LinkInfo struct {
	Handle uint16 `json:"handle"`
	Addr   string `json:"addr,omitempty"`
}

// Snapshot is a point-in-time copy of the stack's registries.
type Snapshot struct {
	Channels            []ChannelInfo `json:"channels"`
	Services            []ServiceInfo `json:"services"`
	Links               []LinkInfo    `json:"links"`
	PendingResponses    int           `json:"pendingResponses"`
	OutstandingRequests int           `json:"outstandingRequests"`
	CreditsBlocked      bool          `json:"creditsBlocked"`
}

// Snapshot copies the current registries.
func (s *Stack) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Channels:            make([]ChannelInfo, 0, len(s.channels)),
		Services:            s.serviceInfos(),
		PendingResponses:    len(s.responses),
		OutstandingRequests: len(s.outstanding),
		CreditsBlocked:      s.creditsBlocked,
	}
	for _, cid := range s.sortedCIDs() {
		snap.Channels = append(snap.Channels, s.channels[cid].info())
	}
	for _, l := range s.links {
		li := LinkInfo{Handle: l.handle}
		if l.addr != nil {
			li.Addr = l.addr.String()
		}
		snap.Links = append(snap.Links, li)
	}
	sort.Slice(snap.Links, func(i, j int) bool { return snap.Links[i].Handle < snap.Links[j].Handle })
	return snap
}
