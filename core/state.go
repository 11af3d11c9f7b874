package core

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

// handleSignaling processes every command of a signaling PDU received on handle.
func (s *Stack) handleSignaling(handle uint16, b []byte) error {
	pp, splitErr := signal.Split(b)
	if splitErr != nil {
		splitErr = s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: %v", handle, splitErr))
	}

	var err error
	for _, p := range pp {
		s.metrics.signalRx.WithLabelValues(signal.Name(p.Code)).Inc()
		err = multierr.Append(err, s.handleCommand(handle, p))
	}
	return multierr.Append(err, splitErr)
}

func (s *Stack) handleCommand(handle uint16, p signal.Packet) error {
	if p.Identifier == signal.InvalidID {
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: %v with id 0x00", handle, signal.Name(p.Code)))
	}

	cmd, err := signal.Decode(p)
	if err != nil {
		if !signal.IsResponse(p.Code) {
			s.queueResponse(pendingResponse{handle: handle, sigID: p.Identifier, code: signal.CodeCommandReject, data: signal.RejectNotUnderstood})
		}
		if errors.Is(err, signal.ErrUnknownCode) {
			s.log.Infof("handle 0x%04x: %v", handle, err)
			return nil
		}
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: %v", handle, err))
	}

	s.log.Debugf("handle 0x%04x: received %v id 0x%02x", handle, signal.Name(p.Code), p.Identifier)

	switch c := cmd.(type) {
	case *signal.ConnectionRequest:
		s.onConnectionRequest(handle, p.Identifier, c)
	case *signal.ConnectionResponse:
		return s.onConnectionResponse(handle, p.Identifier, c)
	case *signal.ConfigurationRequest:
		return s.onConfigurationRequest(handle, p.Identifier, c)
	case *signal.ConfigurationResponse:
		return s.onConfigurationResponse(handle, p.Identifier, c)
	case *signal.DisconnectRequest:
		return s.onDisconnectRequest(handle, p.Identifier, c)
	case *signal.DisconnectResponse:
		return s.onDisconnectResponse(handle, p.Identifier, c)
	case *signal.EchoRequest:
		s.queueResponse(pendingResponse{handle: handle, sigID: p.Identifier, code: signal.CodeEchoResponse})
	case *signal.InformationRequest:
		s.queueResponse(pendingResponse{handle: handle, sigID: p.Identifier, code: signal.CodeInformationResponse, data: c.InfoType})
	case *signal.CommandReject:
		return s.onCommandReject(handle, p.Identifier, c)
	default:
		// echo and information responses; we never send the requests
		if _, _, err := s.matchResponse(handle, p.Identifier, p.Code); err != nil {
			return s.violation(err)
		}
	}
	return nil
}

func (s *Stack) onConnectionRequest(handle uint16, id uint8, req *signal.ConnectionRequest) {
	refuse := func(result uint16) {
		s.log.Infof("handle 0x%04x: refusing psm 0x%04x from cid 0x%04x, result 0x%04x", handle, req.PSM, req.SourceCID, result)
		s.queueResponse(pendingResponse{handle: handle, sigID: id, code: signal.CodeConnectionResponse, data: result, remoteCID: req.SourceCID})
	}

	svc, ok := s.services[req.PSM]
	if !ok {
		refuse(signal.ResultPSMNotSupported)
		return
	}

	for _, c := range s.channels {
		if c.handle != handle || c.remoteCID != req.SourceCID {
			continue
		}
		if c.remoteSigID == id {
			s.log.Debugf("handle 0x%04x: duplicate connection request id 0x%02x", handle, id)
			return
		}
		refuse(signal.ResultSourceCIDAllocated)
		return
	}

	cid, err := s.allocCID()
	if err != nil {
		s.log.Warnf("handle 0x%04x: %v", handle, err)
		refuse(signal.ResultNoResources)
		return
	}

	c := &channel{
		state:       StateWaitClientAcceptOrReject,
		addr:        s.touchLink(handle).addr,
		handle:      handle,
		remoteSigID: id,
		localCID:    cid,
		remoteCID:   req.SourceCID,
		localMTU:    svc.mtu,
		psm:         req.PSM,
		owner:       svc.owner,
		handler:     svc.handler,
	}
	s.addChannel(c)
	s.log.Infof("cid 0x%04x: incoming psm 0x%04x from cid 0x%04x", cid, req.PSM, req.SourceCID)

	h, owner := s.handlerFor(c.handler), c.owner
	ev := l2cap.IncomingConnectionEvent{
		LocalCID:  c.localCID,
		RemoteCID: c.remoteCID,
		Handle:    handle,
		Addr:      c.addr,
		PSM:       c.psm,
		MTU:       c.localMTU,
	}
	s.emit(func() { h.IncomingConnection(owner, ev) })
}

func (s *Stack) onConnectionResponse(handle uint16, id uint8, rsp *signal.ConnectionResponse) error {
	c, o, err := s.matchResponse(handle, id, signal.CodeConnectionResponse)
	if err != nil {
		return s.violation(err)
	}
	if c == nil || c.state != StateWaitConnectRsp {
		s.log.Debugf("handle 0x%04x: stale connection response id 0x%02x", handle, id)
		return nil
	}

	switch rsp.Result {
	case signal.ResultSuccess:
		c.remoteCID = rsp.DestinationCID
		c.state = StateConfig
		c.flags = SendConfReq
		s.log.Infof("cid 0x%04x: connected to cid 0x%04x", c.localCID, c.remoteCID)
	case signal.ResultPending:
		// the final response reuses the identifier
		s.outstanding[sigKey{handle: handle, id: id}] = o
		c.localSigID = id
		s.log.Debugf("cid 0x%04x: connection pending, status 0x%04x", c.localCID, rsp.Status)
	default:
		s.log.Infof("cid 0x%04x: connection refused, result 0x%04x", c.localCID, rsp.Result)
		s.failOpen(c, rsp.Result)
	}
	return nil
}

func (s *Stack) onConfigurationRequest(handle uint16, id uint8, req *signal.ConfigurationRequest) error {
	c := s.channelFor(handle, req.DestinationCID)
	if c == nil {
		s.queueResponse(pendingResponse{handle: handle, sigID: id, code: signal.CodeCommandReject, data: signal.RejectInvalidCID})
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: configuration request for unknown cid 0x%04x", handle, req.DestinationCID))
	}
	answer := func(result, flags uint16) {
		s.queueResponse(pendingResponse{handle: handle, sigID: id, code: signal.CodeConfigurationResponse, data: result, flags: flags, remoteCID: c.remoteCID})
	}
	if c.state != StateConfig && c.state != StateOpen {
		s.log.Warnf("cid 0x%04x: configuration request in state %v refused", c.localCID, c.state)
		answer(signal.ConfigRejected, 0)
		return nil
	}

	mtu, ok, err := signal.MTU(req.Options)
	if err != nil {
		s.log.Warnf("cid 0x%04x: %v, ignoring mtu option", c.localCID, err)
		ok = false
	}
	if ok && mtu < signal.MinMTU {
		s.log.Warnf("cid 0x%04x: remote mtu %v below %v refused", c.localCID, mtu, signal.MinMTU)
		answer(signal.ConfigUnacceptable, 0)
		return nil
	}
	if ok {
		c.remoteMTU = mtu
	}

	continued := req.Flags&signal.ConfigContinuation != 0
	if c.state == StateOpen || continued {
		// reconfiguration, or a part of a request continued in the next one
		answer(signal.ConfigSuccess, req.Flags&signal.ConfigContinuation)
		s.log.Debugf("cid 0x%04x: remote mtu %v, continued %v", c.localCID, c.remoteMTU, continued)
		return nil
	}

	if c.remoteMTU == 0 {
		c.remoteMTU = signal.DefaultMTU
	}
	c.remoteSigID = id
	c.flags |= SendConfRsp | RcvdConfReq
	s.log.Debugf("cid 0x%04x: remote mtu %v, flags %v", c.localCID, c.remoteMTU, c.flags)
	return nil
}

func (s *Stack) onConfigurationResponse(handle uint16, id uint8, rsp *signal.ConfigurationResponse) error {
	c, _, err := s.matchResponse(handle, id, signal.CodeConfigurationResponse)
	if err != nil {
		return s.violation(err)
	}
	if c == nil || c.state != StateConfig {
		s.log.Debugf("handle 0x%04x: stale configuration response id 0x%02x", handle, id)
		return nil
	}

	if rsp.Result != signal.ConfigSuccess {
		s.log.Warnf("cid 0x%04x: configuration refused, result 0x%04x", c.localCID, rsp.Result)
		c.state = StateWillSendDisconnectRequest
		return nil
	}
	c.flags |= RcvdConfRsp
	s.checkOpen(c)
	return nil
}

func (s *Stack) onDisconnectRequest(handle uint16, id uint8, req *signal.DisconnectRequest) error {
	c := s.channelFor(handle, req.DestinationCID)
	if c == nil || c.remoteCID != req.SourceCID {
		s.queueResponse(pendingResponse{handle: handle, sigID: id, code: signal.CodeCommandReject, data: signal.RejectInvalidCID})
		return s.violation(errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: disconnect request for unknown cid 0x%04x/0x%04x", handle, req.DestinationCID, req.SourceCID))
	}

	s.releaseChannelSigIDs(c)
	c.remoteSigID = id
	c.state = StateWillSendDisconnectResponse
	s.log.Infof("cid 0x%04x: peer disconnect", c.localCID)
	return nil
}

func (s *Stack) onDisconnectResponse(handle uint16, id uint8, rsp *signal.DisconnectResponse) error {
	c, _, err := s.matchResponse(handle, id, signal.CodeDisconnectResponse)
	if err != nil {
		return s.violation(err)
	}
	if c == nil || c.state != StateWaitDisconnect {
		s.log.Debugf("handle 0x%04x: stale disconnect response id 0x%02x", handle, id)
		return nil
	}
	s.log.Infof("cid 0x%04x: disconnected", c.localCID)
	s.closeChannel(c, l2cap.ReasonLocal)
	return nil
}

func (s *Stack) onCommandReject(handle uint16, id uint8, rej *signal.CommandReject) error {
	c, o, err := s.matchResponse(handle, id, signal.CodeCommandReject)
	if err != nil {
		return s.violation(err)
	}
	if c == nil {
		return nil
	}

	s.log.Warnf("cid 0x%04x: %v rejected, reason 0x%04x", c.localCID, signal.Name(o.code), rej.Reason)
	switch o.code {
	case signal.CodeConnectionRequest:
		s.failOpen(c, ResultCommandRejected)
	case signal.CodeConfigurationRequest:
		if c.state == StateConfig {
			c.state = StateWillSendDisconnectRequest
		}
	case signal.CodeDisconnectRequest:
		s.closeChannel(c, l2cap.ReasonLocal)
	}
	return nil
}
