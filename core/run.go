package core

import (
	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

// statusConnectionFailed is reported when the link refused to start a connection.
const statusConnectionFailed = 0x1f

// run emits whatever signaling the current state calls for. It is called at
// the end of every event.
func (s *Stack) run() {
	s.sendResponses()

	for _, cid := range s.sortedCIDs() {
		c, ok := s.channels[cid]
		if !ok {
			continue
		}
		s.runChannel(c)
	}
}

func (s *Stack) runChannel(c *channel) {
	switch c.state {
	case StateWillSendCreateConnection:
		s.createConnection(c)

	case StateWillSendConnectionRequest:
		if !s.link.CanSend(c.handle) {
			return
		}
		c.state = StateWaitConnectRsp
		id := s.nextSigID(c.handle, c, signal.CodeConnectionRequest)
		s.sendSignal(c.handle, id, &signal.ConnectionRequest{PSM: c.psm, SourceCID: c.localCID})

	case StateWillSendConnectionResponseAccept:
		if !s.link.CanSend(c.handle) {
			return
		}
		s.sendSignal(c.handle, c.remoteSigID, &signal.ConnectionResponse{
			DestinationCID: c.localCID,
			SourceCID:      c.remoteCID,
			Result:         signal.ResultSuccess,
		})
		c.state = StateConfig
		c.flags |= SendConfReq
		s.runConfig(c)

	case StateWillSendConnectionResponseDecline:
		if !s.link.CanSend(c.handle) {
			return
		}
		s.sendSignal(c.handle, c.remoteSigID, &signal.ConnectionResponse{
			SourceCID: c.remoteCID,
			Result:    c.reason,
		})
		s.removeChannel(c)

	case StateConfig:
		s.runConfig(c)

	case StateWillSendDisconnectRequest:
		if !s.link.CanSend(c.handle) {
			return
		}
		c.state = StateWaitDisconnect
		id := s.nextSigID(c.handle, c, signal.CodeDisconnectRequest)
		s.sendSignal(c.handle, id, &signal.DisconnectRequest{DestinationCID: c.remoteCID, SourceCID: c.localCID})

	case StateWillSendDisconnectResponse:
		if !s.link.CanSend(c.handle) {
			return
		}
		s.sendSignal(c.handle, c.remoteSigID, &signal.DisconnectResponse{DestinationCID: c.localCID, SourceCID: c.remoteCID})
		s.closeChannel(c, l2cap.ReasonPeer)
	}
}

func (s *Stack) runConfig(c *channel) {
	if c.flags&SendConfRsp != 0 && s.link.CanSend(c.handle) {
		c.flags &^= SendConfRsp
		s.sendSignal(c.handle, c.remoteSigID, &signal.ConfigurationResponse{SourceCID: c.remoteCID, Result: signal.ConfigSuccess})
		c.flags |= SentConfRsp
	}
	if c.flags&SendConfReq != 0 && s.link.CanSend(c.handle) {
		c.flags &^= SendConfReq
		id := s.nextSigID(c.handle, c, signal.CodeConfigurationRequest)
		s.sendSignal(c.handle, id, &signal.ConfigurationRequest{
			DestinationCID: c.remoteCID,
			Options:        signal.MarshalOptions(signal.MTUOption(c.localMTU)),
		})
		c.flags |= SentConfReq
	}
	s.checkOpen(c)
}

// checkOpen moves c to open once every configuration step in both directions is done.
func (s *Stack) checkOpen(c *channel) {
	if c.state != StateConfig || c.flags&configDone != configDone {
		return
	}
	c.state = StateOpen
	s.log.Infof("cid 0x%04x: open, local mtu %v remote mtu %v", c.localCID, c.localMTU, c.remoteMTU)

	h, owner := s.handlerFor(c.handler), c.owner
	cid, lmtu, rmtu := c.localCID, c.localMTU, c.remoteMTU
	ev := s.openedEvent(c)
	s.emit(func() { h.ConfigurationComplete(owner, cid, lmtu, rmtu) })
	s.emit(func() { h.ChannelOpened(owner, ev) })

	s.handOutCredits()
}

// createConnection asks the link for a connection on behalf of every channel waiting for addr.
func (s *Stack) createConnection(c *channel) {
	addr := c.addr
	if err := s.link.CreateConnection(addr); err != nil {
		s.log.Errorf("cid 0x%04x: create connection to %v: %v", c.localCID, addr, err)
		s.connectionFailed(addr, statusConnectionFailed)
		return
	}
	for _, o := range s.channels {
		if o.state == StateWillSendCreateConnection && l2cap.SameAddr(o.addr, addr) {
			o.state = StateWaitConnectionComplete
		}
	}
}

// connectionFailed reports the link status to every channel waiting for addr.
func (s *Stack) connectionFailed(addr l2cap.Addr, status uint8) {
	for _, cid := range s.sortedCIDs() {
		c := s.channels[cid]
		if !c.waitingForLink() || !l2cap.SameAddr(c.addr, addr) {
			continue
		}
		s.failOpen(c, uint16(status))
	}
}

func (c *channel) waitingForLink() bool {
	return c.state == StateWillSendCreateConnection || c.state == StateWaitConnectionComplete
}
