package hci

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func l2capPDU(cid uint16, payload []byte) []byte {
	b := []byte{byte(len(payload)), byte(len(payload) >> 8), byte(cid), byte(cid >> 8)}
	return append(b, payload...)
}

func TestFragment(t *testing.T) {
	pdu := l2capPDU(0x0040, bytes.Repeat([]byte{0xaa}, 60))

	frags := Fragment(0x0b, pdu, 27)
	require.Len(t, frags, 3)

	assert.Equal(t, []byte{PktTypeACLData, 0x0b, 0x00, 27, 0x00}, frags[0][:5])
	assert.Equal(t, []byte{PktTypeACLData, 0x0b, 0x10, 27, 0x00}, frags[1][:5])
	assert.Equal(t, []byte{PktTypeACLData, 0x0b, 0x10, 10, 0x00}, frags[2][:5])

	var out []byte
	for _, f := range frags {
		out = append(out, f[5:]...)
	}
	assert.Equal(t, pdu, out)

	assert.Len(t, Fragment(0x0b, pdu[:20], 27), 1)
	assert.Empty(t, Fragment(0x0b, nil, 27))
}

func TestRecombine(t *testing.T) {
	pdu := l2capPDU(0x0040, bytes.Repeat([]byte{0x55}, 50))
	r := NewRecombiner()

	frags := Fragment(0x0b, pdu, 20)
	require.Len(t, frags, 3)
	for i, f := range frags {
		h, p, err := r.Add(f[1:])
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0b), h)
		if i < len(frags)-1 {
			assert.Nil(t, p)
		} else {
			assert.Equal(t, pdu, p)
		}
	}
}

func TestRecombineInterleavedHandles(t *testing.T) {
	a := l2capPDU(0x0040, bytes.Repeat([]byte{0x01}, 30))
	b := l2capPDU(0x0041, bytes.Repeat([]byte{0x02}, 30))
	fa := Fragment(0x01, a, 20)
	fb := Fragment(0x02, b, 20)
	r := NewRecombiner()

	for _, f := range [][]byte{fa[0], fb[0], fa[1]} {
		_, p, err := r.Add(f[1:])
		require.NoError(t, err)
		if p != nil {
			assert.Equal(t, a, p)
		}
	}
	h, p, err := r.Add(fb[1][1:])
	require.NoError(t, err)
	assert.Equal(t, uint16(0x02), h)
	assert.Equal(t, b, p)
}

func TestRecombineErrors(t *testing.T) {
	r := NewRecombiner()

	_, _, err := r.Add([]byte{0x0b, 0x00})
	assert.Error(t, err, "short header")

	_, _, err = r.Add([]byte{0x0b, 0x10, 0x01, 0x00, 0xff})
	assert.Error(t, err, "continuation without start")

	_, _, err = r.Add([]byte{0x0b, 0x00, 0x05, 0x00, 0x01})
	assert.Error(t, err, "length mismatch")

	// a new start replaces the partial pdu but still completes
	pdu := l2capPDU(0x0040, []byte{1, 2, 3})
	frags := Fragment(0x0b, pdu, 5)
	_, _, err = r.Add(frags[0][1:])
	require.NoError(t, err)
	_, p, err := r.Add(Fragment(0x0b, pdu, 32)[0][1:])
	assert.Error(t, err)
	assert.Equal(t, pdu, p)

	// after Drop a continuation has nothing to extend
	_, _, err = r.Add(frags[0][1:])
	require.NoError(t, err)
	r.Drop(0x0b)
	_, _, err = r.Add(frags[1][1:])
	assert.Error(t, err)
}
