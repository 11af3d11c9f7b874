package main

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/core"
)

// echoService accepts every incoming channel and sends each PDU back. PDUs
// the gate refuses wait for the next credit grant.
type echoService struct {
	l2cap.NopHandler

	s   *core.Stack
	log l2cap.Logger

	mu      sync.Mutex
	backlog map[uint16][][]byte
	busy    map[uint16]bool
	kick    map[uint16]bool
}

func newEchoService(s *core.Stack) *echoService {
	return &echoService{
		s:       s,
		log:     l2cap.LayerLogger("echo"),
		backlog: make(map[uint16][][]byte),
		busy:    make(map[uint16]bool),
		kick:    make(map[uint16]bool),
	}
}

func (e *echoService) IncomingConnection(owner interface{}, ev l2cap.IncomingConnectionEvent) {
	e.log.Infof("accepting cid 0x%04x psm 0x%04x from %v", ev.LocalCID, ev.PSM, ev.Addr)
	if err := e.s.AcceptConnection(ev.LocalCID); err != nil {
		e.log.Errorf("accept cid 0x%04x: %v", ev.LocalCID, err)
	}
}

func (e *echoService) DataReceived(owner interface{}, cid uint16, data []byte) {
	e.mu.Lock()
	e.backlog[cid] = append(e.backlog[cid], data)
	e.mu.Unlock()
	e.flush(cid)
}

func (e *echoService) CreditsGranted(owner interface{}, cid uint16, credits uint16) {
	e.flush(cid)
}

func (e *echoService) ChannelClosed(owner interface{}, ev l2cap.ChannelClosedEvent) {
	e.mu.Lock()
	n := len(e.backlog[ev.LocalCID])
	delete(e.backlog, ev.LocalCID)
	e.mu.Unlock()

	if err := ev.Reason.Err(); err != nil {
		e.log.Warnf("cid 0x%04x: %v, %v pdus dropped", ev.LocalCID, err, n)
		return
	}
	e.log.Infof("cid 0x%04x closed (%v), %v pdus dropped", ev.LocalCID, ev.Reason, n)
}

// flush sends the backlog of cid in order. Send may call back into the
// service, a nested flush of a busy channel only marks it for another try.
func (e *echoService) flush(cid uint16) {
	e.mu.Lock()
	if e.busy[cid] {
		e.kick[cid] = true
		e.mu.Unlock()
		return
	}
	e.busy[cid] = true

	for len(e.backlog[cid]) > 0 {
		data := e.backlog[cid][0]
		e.mu.Unlock()
		err := e.s.Send(cid, data)
		e.mu.Lock()

		if errors.Is(err, l2cap.ErrWouldBlock) {
			// credits granted meanwhile
			if e.kick[cid] {
				delete(e.kick, cid)
				continue
			}
			break
		}
		if err != nil {
			e.log.Warnf("echo on cid 0x%04x: %v", cid, err)
		}
		if q := e.backlog[cid]; len(q) > 0 {
			e.backlog[cid] = q[1:]
		}
	}
	if len(e.backlog[cid]) == 0 {
		delete(e.backlog, cid)
	}
	delete(e.busy, cid)
	delete(e.kick, cid)
	e.mu.Unlock()
}
