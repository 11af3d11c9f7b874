package core

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
)

// State is the protocol state of a channel.
type State int

const (
	StateClosed State = iota + 1 // no baseband
	StateWillSendCreateConnection
	StateWaitConnectionComplete
	StateWaitClientAcceptOrReject
	StateWaitConnectRsp // from peer
	StateConfig
	StateOpen
	StateWaitDisconnect // from application
	StateWillSendConnectionRequest
	StateWillSendConnectionResponseDecline
	StateWillSendConnectionResponseAccept
	StateWillSendDisconnectRequest
	StateWillSendDisconnectResponse
)

var stateNames = map[State]string{
	StateClosed:                            "closed",
	StateWillSendCreateConnection:          "will send create connection",
	StateWaitConnectionComplete:            "wait connection complete",
	StateWaitClientAcceptOrReject:          "wait client accept or reject",
	StateWaitConnectRsp:                    "wait connect rsp",
	StateConfig:                            "config",
	StateOpen:                              "open",
	StateWaitDisconnect:                    "wait disconnect",
	StateWillSendConnectionRequest:         "will send connection request",
	StateWillSendConnectionResponseDecline: "will send connection response decline",
	StateWillSendConnectionResponseAccept:  "will send connection response accept",
	StateWillSendDisconnectRequest:         "will send disconnect request",
	StateWillSendDisconnectResponse:        "will send disconnect response",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state by name in snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConfigFlags tracks the configuration sub-steps of a channel, each set independently.
type ConfigFlags uint8

const (
	RcvdConfReq ConfigFlags = 1 << iota
	RcvdConfRsp
	SendConfReq
	SendConfRsp
	SentConfReq
	SentConfRsp
)

// configDone is the set of sub-steps that must all be satisfied before a channel opens.
const configDone = RcvdConfReq | RcvdConfRsp | SentConfReq | SentConfRsp

var flagNames = []string{"rcvd conf req", "rcvd conf rsp", "send conf req", "send conf rsp", "sent conf req", "sent conf rsp"}

func (f ConfigFlags) String() string {
	var out []string
	for i, n := range flagNames {
		if f&(1<<uint(i)) != 0 {
			out = append(out, n)
		}
	}
	return "[" + strings.Join(out, ", ") + "]"
}

// MarshalText renders the flags by name in snapshots.
func (f ConfigFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

type channel struct {
	state State
	flags ConfigFlags

	addr   l2cap.Addr
	handle uint16

	remoteSigID uint8 // used by the peer, needed for a delayed response
	localSigID  uint8 // our own in-flight request

	localCID  uint16
	remoteCID uint16

	localMTU  uint16
	remoteMTU uint16

	psm uint16

	credits uint16 // packets the channel may send before more are granted

	reason uint16 // decline result or disconnect reason

	owner   interface{}
	handler l2cap.Handler
}

func (c *channel) info() ChannelInfo {
	ci := ChannelInfo{
		LocalCID:  c.localCID,
		RemoteCID: c.remoteCID,
		Handle:    c.handle,
		PSM:       c.psm,
		State:     c.state,
		Flags:     c.flags,
		LocalMTU:  c.localMTU,
		RemoteMTU: c.remoteMTU,
		Credits:   c.credits,
	}
	if c.addr != nil {
		ci.Addr = c.addr.String()
	}
	return ci
}

// ChannelInfo is a copy of a channel record.
type ChannelInfo struct {
	LocalCID  uint16      `json:"localCid"`
	RemoteCID uint16      `json:"remoteCid"`
	Handle    uint16      `json:"handle"`
	Addr      string      `json:"addr,omitempty"`
	PSM       uint16      `json:"psm"`
	State     State       `json:"state"`
	Flags     ConfigFlags `json:"flags"`
	LocalMTU  uint16      `json:"localMtu"`
	RemoteMTU uint16      `json:"remoteMtu"`
	Credits   uint16      `json:"credits"`
}

// allocCID hands out the next free dynamic channel identifier.
func (s *Stack) allocCID() (uint16, error) {
	span := int(s.cidMax) - int(s.cidMin) + 1
	for i := 0; i < span; i++ {
		cid := s.nextCID
		if s.nextCID >= s.cidMax {
			s.nextCID = s.cidMin
		} else {
			s.nextCID++
		}
		if _, busy := s.channels[cid]; !busy {
			return cid, nil
		}
	}
	return 0, errors.Wrapf(l2cap.ErrResourceExhausted, "all %v channel ids in use", span)
}

func (s *Stack) addChannel(c *channel) {
	s.channels[c.localCID] = c
	s.metrics.channels.Set(float64(len(s.channels)))
}

func (s *Stack) removeChannel(c *channel) {
	delete(s.channels, c.localCID)
	s.releaseChannelSigIDs(c)
	s.metrics.channels.Set(float64(len(s.channels)))
	s.log.Debugf("cid 0x%04x: removed", c.localCID)
}

// closeChannel removes c and tells its owner why.
func (s *Stack) closeChannel(c *channel, r l2cap.Reason) {
	s.removeChannel(c)
	h, owner := s.handlerFor(c.handler), c.owner
	ev := l2cap.ChannelClosedEvent{LocalCID: c.localCID, Handle: c.handle, Reason: r}
	s.emit(func() { h.ChannelClosed(owner, ev) })
}

// failOpen removes a channel that never opened and reports the result.
func (s *Stack) failOpen(c *channel, result uint16) {
	s.removeChannel(c)
	h, owner := s.handlerFor(c.handler), c.owner
	ev := s.openedEvent(c)
	ev.Result = result
	s.emit(func() { h.ChannelOpened(owner, ev) })
}

func (s *Stack) openedEvent(c *channel) l2cap.ChannelOpenedEvent {
	return l2cap.ChannelOpenedEvent{
		LocalCID:  c.localCID,
		RemoteCID: c.remoteCID,
		Handle:    c.handle,
		Addr:      c.addr,
		PSM:       c.psm,
		LocalMTU:  c.localMTU,
		RemoteMTU: c.remoteMTU,
	}
}

// channelFor finds the channel a peer PDU on handle addresses by our cid.
func (s *Stack) channelFor(handle, localCID uint16) *channel {
	c, ok := s.channels[localCID]
	if !ok || c.handle != handle {
		return nil
	}
	return c
}

func (s *Stack) lookup(localCID uint16) (*channel, error) {
	c, ok := s.channels[localCID]
	if !ok {
		return nil, errors.Wrapf(l2cap.ErrInvalidParameter, "cid 0x%04x not found", localCID)
	}
	return c, nil
}

func putHeader(b []byte, cid uint16, n int) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(n))
	binary.LittleEndian.PutUint16(b[2:4], cid)
}
