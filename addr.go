package l2cap

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Addr represents the peer device address a link is established with.
type Addr interface {
	String() string
	Bytes() []byte
}

// NewAddr creates an Addr from string
func NewAddr(s string) Addr {
	return addr(strings.ToLower(s))
}

// ParseAddr creates an Addr from a colon separated BD_ADDR and validates it.
func ParseAddr(s string) (Addr, error) {
	a := NewAddr(s)
	b, err := hex.DecodeString(strings.Replace(a.String(), ":", "", -1))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidParameter, "address %q: %v", s, err)
	}
	if len(b) != 6 {
		return nil, errors.Wrapf(ErrInvalidParameter, "address %q: want 6 bytes, have %v", s, len(b))
	}
	return a, nil
}

// AddrFromBytes builds an Addr from the little endian BD_ADDR carried in HCI events.
func AddrFromBytes(b []byte) Addr {
	return NewAddr(formatAddr(swapBuf(b)))
}

// WireBytes returns a as the little endian BD_ADDR HCI commands carry.
func WireBytes(a Addr) []byte {
	return swapBuf(a.Bytes())
}

func formatAddr(b []byte) string {
	out := make([]string, 0, len(b))
	for i := range b {
		out = append(out, hex.EncodeToString(b[i:i+1]))
	}
	return strings.Join(out, ":")
}

func swapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}
	return a
}

type addr string

func (a addr) String() string {
	return string(a)
}

func (a addr) Bytes() []byte {
	hexStr := strings.Replace(a.String(), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		GetLogger().Errorf("error decoding address %v: %v", a.String(), err)
	}

	return out
}

// SameAddr reports whether a and b name the same device.
func SameAddr(a, b Addr) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.String(), b.String())
}
