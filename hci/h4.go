package hci

import (
	"fmt"
	"time"
)

const (
	eventHeaderLength = 3
	aclHeaderLength   = 5

	frameTimeout = 500 * time.Millisecond
)

// framer cuts a byte stream into H4 packets. A partial packet older than
// frameTimeout is discarded and the stream is resynchronised on the next
// packet type byte.
type framer struct {
	b       []byte
	timeout time.Time
	pktType byte

	now func() time.Time
}

func newFramer() *framer {
	return &framer{b: make([]byte, 0, 256), now: time.Now}
}

// Assemble appends b and returns every packet it completed, type byte included.
func (f *framer) Assemble(b []byte) [][]byte {
	var out [][]byte
	for {
		if len(b) == 0 && len(f.b) == 0 {
			return out
		}

		if !f.timeout.IsZero() && f.now().After(f.timeout) {
			f.reset()
		}

		if len(f.b) == 0 {
			rest, err := f.waitStart(b)
			if err != nil {
				return out
			}
			b = rest
		}
		f.b = append(f.b, b...)
		b = nil

		rf, err := f.frame()
		if err != nil {
			return out
		}
		pkt := make([]byte, len(rf))
		copy(pkt, rf)
		out = append(out, pkt)

		// shift
		if len(f.b) > len(rf) {
			b = append([]byte(nil), f.b[len(rf):]...)
		}
		f.reset()
	}
}

func (f *framer) reset() {
	f.b = f.b[:0]
	f.timeout = time.Time{}
}

// waitStart skips to the first packet type byte and returns the remainder,
// the type byte excluded once it is recorded in f.b.
func (f *framer) waitStart(b []byte) ([]byte, error) {
	for i, v := range b {
		switch v {
		case PktTypeEvent, PktTypeACLData:
		default:
			continue
		}

		f.pktType = v
		f.timeout = f.now().Add(frameTimeout)
		f.b = append(f.b, v)
		return b[i+1:], nil
	}
	return nil, fmt.Errorf("couldnt find start byte")
}

func (f *framer) dataLength() (int, error) {
	switch f.pktType {
	case PktTypeACLData:
		if len(f.b) < aclHeaderLength {
			return 0, fmt.Errorf("not enough bytes")
		}
		return (int(f.b[3]) | (int(f.b[4]) << 8)) + aclHeaderLength, nil
	case PktTypeEvent:
		if len(f.b) < eventHeaderLength {
			return 0, fmt.Errorf("not enough bytes")
		}
		return int(f.b[2]) + eventHeaderLength, nil
	default:
		return 0, fmt.Errorf("invalid packet type %v", f.pktType)
	}
}

func (f *framer) frame() ([]byte, error) {
	tl, err := f.dataLength()
	if err != nil {
		return nil, err
	}
	if len(f.b) < tl {
		return nil, fmt.Errorf("not enough bytes")
	}
	return f.b[:tl], nil
}
