package hci

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
)

// LoopbackHandle is the connection handle both ends of a loopback link use.
const LoopbackHandle = 0x0001

// Loopback is one end of an in-memory link. Events are delivered to Upper
// from Run, never from inside a Link call.
type Loopback struct {
	mu sync.Mutex

	addr  l2cap.Addr
	peer  *Loopback
	upper Upper
	log   l2cap.Logger

	connected bool
	slots     int
	free      int

	q      []func()
	notify chan struct{}
}

// NewLoopbackPair joins two links back to back. Each end has slots packets
// in flight at most.
func NewLoopbackPair(a, b l2cap.Addr, slots int) (*Loopback, *Loopback) {
	la := newLoopback(a, slots)
	lb := newLoopback(b, slots)
	la.peer, lb.peer = lb, la
	return la, lb
}

func newLoopback(a l2cap.Addr, slots int) *Loopback {
	return &Loopback{
		addr:   a,
		log:    l2cap.LayerLogger("loopback").ChildLogger(map[string]interface{}{"addr": a.String()}),
		slots:  slots,
		free:   slots,
		notify: make(chan struct{}, 1),
	}
}

// SetUpper binds the layer link events are reported to.
func (l *Loopback) SetUpper(u Upper) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.upper = u
}

// Addr is the address of this end.
func (l *Loopback) Addr() l2cap.Addr { return l.addr }

func (l *Loopback) post(fn func()) {
	l.mu.Lock()
	l.q = append(l.q, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run delivers queued events until ctx is done.
func (l *Loopback) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		q := l.q
		l.q = nil
		l.mu.Unlock()

		for _, fn := range q {
			fn()
		}
		if len(q) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.notify:
		}
	}
}

func (l *Loopback) getUpper() Upper {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.upper
}

// CreateConnection connects both ends when addr is the peer's address,
// otherwise the attempt fails with a page timeout.
func (l *Loopback) CreateConnection(addr l2cap.Addr) error {
	if !l2cap.SameAddr(addr, l.peer.addr) {
		l.post(func() {
			if u := l.getUpper(); u != nil {
				u.ConnectionComplete(addr, 0, StatusPageTimeout)
			}
		})
		return nil
	}

	l.setConnected(true)
	l.peer.setConnected(true)
	for _, end := range []*Loopback{l, l.peer} {
		end := end
		end.post(func() {
			if u := end.getUpper(); u != nil {
				u.ConnectionComplete(end.peer.addr, LoopbackHandle, 0)
				u.ReadyToSend()
			}
		})
	}
	return nil
}

func (l *Loopback) setConnected(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected != v {
		l.connected = v
		l.free = l.slots
	}
}

// CanSend reports whether a packet can be queued towards the peer.
func (l *Loopback) CanSend(handle uint16) bool {
	return l.FreeSlots(handle) > 0
}

// FreeSlots reports the packets that can still be in flight.
func (l *Loopback) FreeSlots(handle uint16) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || handle != LoopbackHandle {
		return 0
	}
	return l.free
}

// SendACL hands a copy of pdu to the peer. The slot comes back once the peer
// has processed it.
func (l *Loopback) SendACL(handle uint16, pdu []byte) error {
	l.mu.Lock()
	switch {
	case !l.connected || handle != LoopbackHandle:
		l.mu.Unlock()
		return errors.Wrapf(l2cap.ErrLinkLost, "handle 0x%04x", handle)
	case l.free == 0:
		l.mu.Unlock()
		return l2cap.ErrWouldBlock
	}
	l.free--
	l.mu.Unlock()

	p := append([]byte(nil), pdu...)
	l.peer.post(func() {
		if u := l.peer.getUpper(); u != nil {
			if err := u.HandleACL(LoopbackHandle, p); err != nil {
				l.peer.log.Debugf("%v", err)
			}
		}
		l.post(l.completed)
	})
	return nil
}

func (l *Loopback) completed() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	if l.free < l.slots {
		l.free++
	}
	u := l.upper
	l.mu.Unlock()

	if u != nil {
		u.ReadyToSend()
	}
}

// Close drops the link on both ends.
func (l *Loopback) Close() error {
	l.mu.Lock()
	was := l.connected
	l.mu.Unlock()
	if !was {
		return nil
	}

	l.setConnected(false)
	l.peer.setConnected(false)
	for _, end := range []*Loopback{l, l.peer} {
		end := end
		end.post(func() {
			if u := end.getUpper(); u != nil {
				u.CloseConnection(LoopbackHandle)
			}
		})
	}
	return nil
}
