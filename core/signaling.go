package core

import (
	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

// ResultCommandRejected is reported as ChannelOpenedEvent.Result when the
// peer answered our connection request with a command reject.
const ResultCommandRejected uint16 = 0xffff

type sigKey struct {
	handle uint16
	id     uint8
}

// outstanding is a request we sent and still expect an answer for.
type outstanding struct {
	localCID uint16
	code     uint8
}

// pendingResponse is an answer owed to the peer outside the channel state
// machine.
type pendingResponse struct {
	handle uint16
	sigID  uint8
	code   uint8
	data   uint16 // result, info type or reject reason, depending on code
	flags  uint16 // configuration response flags

	// peer cid of a refused connection or of a configuration answer
	remoteCID uint16
}

// nextSigID allocates a signaling identifier for a request on handle and
// records it as outstanding for the channel.
func (s *Stack) nextSigID(handle uint16, c *channel, code uint8) uint8 {
	for i := 0; i < 255; i++ {
		id := s.sigID
		s.sigID++
		if s.sigID == signal.InvalidID {
			s.sigID = 1
		}
		k := sigKey{handle: handle, id: id}
		if _, busy := s.outstanding[k]; busy {
			continue
		}
		s.outstanding[k] = outstanding{localCID: c.localCID, code: code}
		c.localSigID = id
		return id
	}

	// every identifier is in flight on this link; reuse the oldest slot
	id := s.sigID
	s.log.Warnf("handle 0x%04x: signaling identifiers exhausted, reusing 0x%02x", handle, id)
	s.outstanding[sigKey{handle: handle, id: id}] = outstanding{localCID: c.localCID, code: code}
	c.localSigID = id
	return id
}

// matchResponse consumes the outstanding request a response with id answers.
func (s *Stack) matchResponse(handle uint16, id uint8, code uint8) (*channel, outstanding, error) {
	k := sigKey{handle: handle, id: id}
	o, ok := s.outstanding[k]
	if !ok {
		return nil, o, errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: %v with unknown id 0x%02x", handle, signal.Name(code), id)
	}
	if code != signal.CodeCommandReject && code != o.code+1 {
		return nil, o, errors.Wrapf(l2cap.ErrProtocolViolation, "handle 0x%04x: %v answers %v id 0x%02x", handle, signal.Name(code), signal.Name(o.code), id)
	}
	delete(s.outstanding, k)

	c := s.channelFor(handle, o.localCID)
	if c != nil && c.localSigID == id {
		c.localSigID = signal.InvalidID
	}
	return c, o, nil
}

func (s *Stack) releaseChannelSigIDs(c *channel) {
	for k, o := range s.outstanding {
		if k.handle == c.handle && o.localCID == c.localCID {
			delete(s.outstanding, k)
		}
	}
	c.localSigID = signal.InvalidID
}

func (s *Stack) releaseHandle(handle uint16) {
	for k := range s.outstanding {
		if k.handle == handle {
			delete(s.outstanding, k)
		}
	}
	rr := s.responses[:0]
	for _, r := range s.responses {
		if r.handle != handle {
			rr = append(rr, r)
		}
	}
	s.responses = rr
}

// queueResponse schedules r unless an identical answer is already waiting.
func (s *Stack) queueResponse(r pendingResponse) {
	for _, p := range s.responses {
		if p.handle == r.handle && p.sigID == r.sigID && p.code == r.code {
			s.log.Debugf("handle 0x%04x: %v id 0x%02x already queued", r.handle, signal.Name(r.code), r.sigID)
			return
		}
	}
	s.responses = append(s.responses, r)
}

// sendResponses emits the queued answers whose link can take them.
func (s *Stack) sendResponses() {
	rr := s.responses[:0]
	for _, r := range s.responses {
		if !s.link.CanSend(r.handle) {
			rr = append(rr, r)
			continue
		}
		s.sendSignal(r.handle, r.sigID, r.command())
	}
	s.responses = rr
}

func (r pendingResponse) command() signal.Command {
	switch r.code {
	case signal.CodeConnectionResponse:
		return &signal.ConnectionResponse{SourceCID: r.remoteCID, Result: r.data}
	case signal.CodeConfigurationResponse:
		rsp := &signal.ConfigurationResponse{SourceCID: r.remoteCID, Flags: r.flags, Result: r.data}
		if r.data == signal.ConfigUnacceptable {
			rsp.Options = signal.MarshalOptions(signal.MTUOption(signal.MinMTU))
		}
		return rsp
	case signal.CodeEchoResponse:
		return &signal.EchoResponse{}
	case signal.CodeInformationResponse:
		return &signal.InformationResponse{InfoType: r.data, Result: signal.InfoNotSupported}
	default:
		return &signal.CommandReject{Reason: r.data}
	}
}

// violation records a peer PDU dropped for breaking the protocol.
func (s *Stack) violation(err error) error {
	s.metrics.violations.Inc()
	s.log.Warnf("%v", err)
	return err
}
