package core

import (
	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
)

// canSend is the gate in front of every data PDU.
func (s *Stack) canSend(c *channel) bool {
	return c.state == StateOpen && c.credits > 0 && !s.creditsBlocked
}

// CanSendPacketNow reports whether a data PDU for localCID would be accepted
// right now. Unknown channels cannot send.
func (s *Stack) CanSendPacketNow(localCID uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[localCID]
	if !ok {
		return false
	}
	return s.canSend(c)
}

// BlockNewCredits stops (or resumes) handing out credits. Credits already
// granted are not revoked, they just cannot be spent while blocked.
func (s *Stack) BlockNewCredits(block bool) {
	s.do(func() error {
		s.creditsBlocked = block
		s.log.Debugf("credits blocked: %v", block)
		return nil
	})
}

// ReadyToSend tells the stack the link has room for more packets.
func (s *Stack) ReadyToSend() {
	s.do(func() error {
		s.handOutCredits()
		return nil
	})
}

// handOutCredits grants credits one at a time, round robin over the open
// channels of each link, while the link has slots not already covered by
// credits held on it. A channel never holds more than maxCredits.
func (s *Stack) handOutCredits() {
	if s.creditsBlocked {
		return
	}

	cids := s.sortedCIDs()
	room := make(map[uint16]int)
	for _, cid := range cids {
		c := s.channels[cid]
		if c.state != StateOpen {
			continue
		}
		if _, ok := room[c.handle]; !ok {
			room[c.handle] = s.link.FreeSlots(c.handle)
		}
		room[c.handle] -= int(c.credits)
	}

	granted := make(map[uint16]uint16)
	for more := true; more; {
		more = false
		for _, cid := range cids {
			c := s.channels[cid]
			if c.state != StateOpen || c.credits >= s.maxCredits || room[c.handle] <= 0 {
				continue
			}
			c.credits++
			room[c.handle]--
			granted[cid]++
			more = true
		}
	}

	for _, cid := range cids {
		cid := cid // per-iteration copy: the closure below runs after the loop (go 1.21 loop semantics)
		n, ok := granted[cid]
		if !ok {
			continue
		}
		c := s.channels[cid]
		h, owner := s.handlerFor(c.handler), c.owner
		s.emit(func() { h.CreditsGranted(owner, cid, n) })
	}
}

// Send transmits data as one PDU on localCID, consuming one credit.
func (s *Stack) Send(localCID uint16, data []byte) error {
	return s.do(func() error {
		c, err := s.lookup(localCID)
		if err != nil {
			return err
		}
		if !s.canSend(c) {
			s.metrics.wouldBlock.Inc()
			return errors.Wrapf(l2cap.ErrWouldBlock, "cid 0x%04x: state %v credits %v blocked %v", localCID, c.state, c.credits, s.creditsBlocked)
		}
		if len(data) > int(c.remoteMTU) {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "cid 0x%04x: %v bytes exceed remote mtu %v", localCID, len(data), c.remoteMTU)
		}

		pdu := make([]byte, headerLen+len(data))
		putHeader(pdu, c.remoteCID, len(data))
		copy(pdu[headerLen:], data)
		return s.transmit(c, pdu)
	})
}

// OutgoingBuffer reserves the stack's outgoing buffer and returns its payload
// area. Fill it and submit with SendPrepared.
func (s *Stack) OutgoingBuffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reserved = true
	return s.outBuf[headerLen:]
}

// SendPrepared submits the first n bytes of the reserved outgoing buffer on
// localCID. A denied send keeps the reservation so the caller can retry.
func (s *Stack) SendPrepared(localCID uint16, n int) error {
	return s.do(func() error {
		if !s.reserved {
			return errors.Wrap(l2cap.ErrInvalidState, "outgoing buffer not reserved")
		}
		c, err := s.lookup(localCID)
		if err != nil {
			return err
		}
		if n < 0 || n > len(s.outBuf)-headerLen {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "cid 0x%04x: payload length %v out of range", localCID, n)
		}
		if !s.canSend(c) {
			s.metrics.wouldBlock.Inc()
			return errors.Wrapf(l2cap.ErrWouldBlock, "cid 0x%04x: state %v credits %v blocked %v", localCID, c.state, c.credits, s.creditsBlocked)
		}
		if n > int(c.remoteMTU) {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "cid 0x%04x: %v bytes exceed remote mtu %v", localCID, n, c.remoteMTU)
		}

		putHeader(s.outBuf, c.remoteCID, n)
		if err := s.transmit(c, s.outBuf[:headerLen+n]); err != nil {
			return err
		}
		s.reserved = false
		return nil
	})
}

func (s *Stack) transmit(c *channel, pdu []byte) error {
	if err := s.link.SendACL(c.handle, pdu); err != nil {
		return errors.Wrapf(err, "cid 0x%04x: send", c.localCID)
	}
	c.credits--
	s.metrics.pduTx.Inc()
	return nil
}
