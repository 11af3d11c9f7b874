// Package core implements the L2CAP channel layer: channel and service
// registries, the connection/configuration/disconnection state machine,
// signaling identifier correlation and the credit gate in front of every
// outgoing data PDU.
//
// All state lives in a Stack. Every exported method takes the stack lock for
// the duration of one event, runs the outgoing signaling loop, releases the
// lock and only then delivers the upper-layer events produced by that event.
package core

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

const (
	minDynamicCID = 0x0040
	maxDynamicCID = 0xffff

	defaultMaxCredits = 8

	// outgoing buffer: basic header plus the largest payload a PDU length field can describe
	headerLen          = 4
	outgoingBufferSize = 0xffff
)

// Link is the lower layer the stack drives. Implementations must not call
// back into the Stack from within these methods.
type Link interface {
	// CreateConnection asks for a link to addr, the outcome is reported
	// through Stack.ConnectionComplete.
	CreateConnection(addr l2cap.Addr) error

	// CanSend reports whether a PDU can be handed over for handle right now.
	CanSend(handle uint16) bool

	// FreeSlots reports how many more packets the controller can take for handle.
	FreeSlots(handle uint16) int

	// SendACL transmits a complete L2CAP PDU, basic header included. pdu is
	// only valid for the duration of the call.
	SendACL(handle uint16, pdu []byte) error
}

type link struct {
	handle uint16
	addr   l2cap.Addr
}

// Stack is one independent instance of the channel layer.
type Stack struct {
	mu sync.Mutex

	link Link
	log  l2cap.Logger

	handler l2cap.Handler

	channels map[uint16]*channel
	services map[uint16]*service
	links    map[uint16]*link

	cidMin, cidMax uint16
	nextCID        uint16

	sigID       uint8
	outstanding map[sigKey]outstanding
	responses   []pendingResponse

	maxCredits     uint16
	creditsBlocked bool

	outBuf   []byte
	reserved bool

	metrics *metrics
	reg     prometheus.Registerer

	// upper-layer calls produced while the lock is held
	queue []func()
}

// New returns a channel layer driving link.
func New(lnk Link, opts ...l2cap.Option) (*Stack, error) {
	s := &Stack{
		link:        lnk,
		log:         l2cap.LayerLogger("l2cap"),
		channels:    make(map[uint16]*channel),
		services:    make(map[uint16]*service),
		links:       make(map[uint16]*link),
		cidMin:      minDynamicCID,
		cidMax:      maxDynamicCID,
		nextCID:     minDynamicCID,
		sigID:       1,
		outstanding: make(map[sigKey]outstanding),
		maxCredits:  defaultMaxCredits,
		outBuf:      make([]byte, outgoingBufferSize),
		metrics:     newMetrics(),
	}

	if err := s.Option(opts...); err != nil {
		return nil, err
	}

	if s.reg != nil {
		if err := s.metrics.register(s.reg); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Option applies opts to the stack.
func (s *Stack) Option(opts ...l2cap.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return err
		}
	}
	return nil
}

// do runs fn as one serialized event and delivers its upper-layer output.
func (s *Stack) do(fn func() error) error {
	s.mu.Lock()
	err := fn()
	s.run()
	q := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, call := range q {
		call()
	}
	return err
}

func (s *Stack) emit(call func()) {
	s.queue = append(s.queue, call)
}

func (s *Stack) handlerFor(h l2cap.Handler) l2cap.Handler {
	switch {
	case h != nil:
		return h
	case s.handler != nil:
		return s.handler
	default:
		return l2cap.NopHandler{}
	}
}

// sortedCIDs gives the run loop a stable order over the registry.
func (s *Stack) sortedCIDs() []uint16 {
	out := make([]uint16, 0, len(s.channels))
	for cid := range s.channels {
		out = append(out, cid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Stack) touchLink(handle uint16) *link {
	l, ok := s.links[handle]
	if !ok {
		l = &link{handle: handle}
		s.links[handle] = l
	}
	return l
}

func (s *Stack) linkFor(addr l2cap.Addr) (*link, bool) {
	for _, l := range s.links {
		if l2cap.SameAddr(l.addr, addr) {
			return l, true
		}
	}
	return nil, false
}

func (s *Stack) sendSignal(handle uint16, id uint8, c signal.Command) {
	cmd := signal.Encode(id, c)
	pdu := make([]byte, headerLen+len(cmd))
	putHeader(pdu, signal.CID, len(cmd))
	copy(pdu[headerLen:], cmd)

	if err := s.link.SendACL(handle, pdu); err != nil {
		s.log.Errorf("handle 0x%04x: sending %v: %v", handle, signal.Name(c.Code()), err)
		return
	}
	s.metrics.signalTx.WithLabelValues(signal.Name(c.Code())).Inc()
	s.log.Debugf("handle 0x%04x: sent %v id 0x%02x", handle, signal.Name(c.Code()), id)
}
