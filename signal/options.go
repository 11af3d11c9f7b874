package signal

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Configuration option types [Vol 3, Part A, 5].
const (
	OptionMTU          = 0x01
	OptionFlushTimeout = 0x02
	OptionQoS          = 0x03

	optionHint = 0x80
)

// DefaultMTU is the MTU assumed when a configuration request omits the MTU option.
const DefaultMTU uint16 = 672

// MinMTU is the smallest MTU an ACL-U channel may configure.
const MinMTU uint16 = 48

// Option is one type/length/value configuration parameter.
type Option struct {
	Type uint8
	Data []byte
}

// Hint reports whether the peer may ignore the option if it does not know it.
func (o Option) Hint() bool { return o.Type&optionHint != 0 }

// MTUOption builds the MTU configuration option.
func MTUOption(mtu uint16) Option {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, mtu)
	return Option{Type: OptionMTU, Data: b}
}

// MarshalOptions serializes options back to back.
func MarshalOptions(oo ...Option) []byte {
	var b []byte
	for _, o := range oo {
		b = append(b, o.Type, uint8(len(o.Data)))
		b = append(b, o.Data...)
	}
	return b
}

// ParseOptions splits the option block of a configuration command.
func ParseOptions(b []byte) ([]Option, error) {
	var out []Option
	for len(b) > 0 {
		if len(b) < 2 {
			return out, errors.New("configuration option header truncated")
		}
		n := int(b[1])
		if len(b) < 2+n {
			return out, errors.Errorf("configuration option 0x%02x truncated, want %v bytes, have %v", b[0], n, len(b)-2)
		}
		out = append(out, Option{Type: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return out, nil
}

// MTU returns the MTU carried in an option block, and whether it was present.
func MTU(b []byte) (uint16, bool, error) {
	oo, err := ParseOptions(b)
	if err != nil {
		return 0, false, err
	}
	for _, o := range oo {
		if o.Type&^optionHint != OptionMTU {
			continue
		}
		if len(o.Data) != 2 {
			return 0, false, errors.Errorf("mtu option length %v", len(o.Data))
		}
		return binary.LittleEndian.Uint16(o.Data), true, nil
	}
	return 0, false, nil
}
