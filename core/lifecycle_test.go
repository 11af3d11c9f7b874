package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/l2cap"
	"github.com/rigado/l2cap/signal"
)

const testHandle = 0x000b

// startOutgoing creates a channel to peerAddr and brings the link up.
// It returns our cid and the identifier of the connection request sent.
func (e *testEnv) startOutgoing(t *testing.T) (uint16, uint8) {
	t.Helper()
	cid, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1001, 672)
	require.NoError(t, err)
	require.Equal(t, StateWaitConnectionComplete, e.state(t, cid))

	e.s.ConnectionComplete(peerAddr, testHandle, 0)
	require.Equal(t, StateWaitConnectRsp, e.state(t, cid))

	p, c := e.link.lastSignal(t)
	req, ok := c.(*signal.ConnectionRequest)
	require.True(t, ok)
	assert.Equal(t, uint16(0x1001), req.PSM)
	assert.Equal(t, cid, req.SourceCID)
	return cid, p.Identifier
}

func TestOutgoingOpen(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)
	assert.Equal(t, []l2cap.Addr{peerAddr}, e.link.created)

	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
	assert.Equal(t, StateConfig, e.state(t, cid))

	p, c := e.link.lastSignal(t)
	creq, ok := c.(*signal.ConfigurationRequest)
	require.True(t, ok)
	assert.Equal(t, uint16(0x0050), creq.DestinationCID)
	mtu, found, err := signal.MTU(creq.Options)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint16(672), mtu)

	require.NoError(t, e.peer(testHandle, 0x40, &signal.ConfigurationRequest{
		DestinationCID: cid,
		Options:        signal.MarshalOptions(signal.MTUOption(512)),
	}))
	rp, rc := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x40), rp.Identifier)
	assert.Equal(t, uint16(0x0050), rc.(*signal.ConfigurationResponse).SourceCID)
	assert.Equal(t, StateConfig, e.state(t, cid))

	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid}))
	assert.Equal(t, StateOpen, e.state(t, cid))

	require.Len(t, e.rec.opened, 1)
	ev := e.rec.opened[0]
	assert.Equal(t, uint16(0), ev.Result)
	assert.Equal(t, cid, ev.LocalCID)
	assert.Equal(t, uint16(0x0050), ev.RemoteCID)
	assert.Equal(t, uint16(512), ev.RemoteMTU)
	assert.True(t, l2cap.SameAddr(peerAddr, ev.Addr))

	mtu, err = e.s.RemoteMTU(cid)
	require.NoError(t, err)
	assert.Equal(t, uint16(512), mtu)
}

func TestConfigurationOrderings(t *testing.T) {
	for _, tc := range []struct {
		name         string
		requestFirst bool
	}{
		{"peer request first", true},
		{"peer response first", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			cid, id := e.startOutgoing(t)
			require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
			p, _ := e.link.lastSignal(t)

			req := func() {
				require.NoError(t, e.peer(testHandle, 0x40, &signal.ConfigurationRequest{DestinationCID: cid}))
			}
			rsp := func() {
				require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid}))
			}

			if tc.requestFirst {
				req()
				assert.Equal(t, StateConfig, e.state(t, cid))
				rsp()
			} else {
				rsp()
				assert.Equal(t, StateConfig, e.state(t, cid))
				req()
			}

			ci, ok := e.s.Channel(cid)
			require.True(t, ok)
			assert.Equal(t, StateOpen, ci.State)
			assert.Equal(t, configDone, ci.Flags&configDone)
			assert.Equal(t, signal.DefaultMTU, ci.RemoteMTU, "no mtu option means the default")
			assert.Equal(t, []string{"configured 0x0040", "opened 0x0040"}, e.rec.events)
		})
	}
}

func TestConfigurationContinuation(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)
	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
	p, _ := e.link.lastSignal(t)
	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid}))

	require.NoError(t, e.peer(testHandle, 0x40, &signal.ConfigurationRequest{DestinationCID: cid, Flags: 0x0001}))
	assert.Equal(t, StateConfig, e.state(t, cid), "continuation does not finish the request")

	require.NoError(t, e.peer(testHandle, 0x41, &signal.ConfigurationRequest{DestinationCID: cid}))
	assert.Equal(t, StateOpen, e.state(t, cid))
}

func TestConfigurationContinuationInOnePDU(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)
	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
	p, _ := e.link.lastSignal(t)
	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid}))
	n := len(e.link.signals(t))

	cmds := signal.Encode(0x40, &signal.ConfigurationRequest{
		DestinationCID: cid,
		Flags:          signal.ConfigContinuation,
		Options:        signal.MarshalOptions(signal.MTUOption(256)),
	})
	cmds = append(cmds, signal.Encode(0x41, &signal.ConfigurationRequest{DestinationCID: cid})...)
	pdu := make([]byte, headerLen+len(cmds))
	putHeader(pdu, signal.CID, len(cmds))
	copy(pdu[headerLen:], cmds)
	require.NoError(t, e.s.HandleACL(testHandle, pdu))

	pp := e.link.signals(t)[n:]
	require.Len(t, pp, 2, "one answer per request")
	for i, want := range []struct {
		id    uint8
		flags uint16
	}{
		{0x40, signal.ConfigContinuation},
		{0x41, 0},
	} {
		assert.Equal(t, want.id, pp[i].Identifier)
		c, err := signal.Decode(pp[i])
		require.NoError(t, err)
		rsp, ok := c.(*signal.ConfigurationResponse)
		require.True(t, ok)
		assert.Equal(t, want.flags, rsp.Flags)
		assert.Equal(t, signal.ConfigSuccess, rsp.Result)
		assert.Equal(t, uint16(0x0050), rsp.SourceCID)
	}

	assert.Equal(t, StateOpen, e.state(t, cid))
	mtu, err := e.s.RemoteMTU(cid)
	require.NoError(t, err)
	assert.Equal(t, uint16(256), mtu, "mtu from the continued part")
}

func TestConfigurationMTUBelowMinimum(t *testing.T) {
	e := newEnv(t)
	e.link.free = 2
	cid, id := e.startOutgoing(t)
	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
	p, _ := e.link.lastSignal(t)
	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid}))

	require.NoError(t, e.peer(testHandle, 0x40, &signal.ConfigurationRequest{
		DestinationCID: cid,
		Options:        signal.MarshalOptions(signal.MTUOption(0)),
	}))
	rp, rc := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x40), rp.Identifier)
	rsp, ok := rc.(*signal.ConfigurationResponse)
	require.True(t, ok)
	assert.Equal(t, signal.ConfigUnacceptable, rsp.Result)
	mtu, found, err := signal.MTU(rsp.Options)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, signal.MinMTU, mtu)

	ci, ok := e.s.Channel(cid)
	require.True(t, ok)
	assert.Equal(t, StateConfig, ci.State)
	assert.Zero(t, ci.Flags&(RcvdConfReq|SentConfRsp))
	assert.False(t, e.s.CanSendPacketNow(cid))

	require.NoError(t, e.peer(testHandle, 0x41, &signal.ConfigurationRequest{
		DestinationCID: cid,
		Options:        signal.MarshalOptions(signal.MTUOption(signal.MinMTU)),
	}))
	assert.Equal(t, StateOpen, e.state(t, cid))
	assert.True(t, e.s.CanSendPacketNow(cid))
	require.NoError(t, e.s.Send(cid, make([]byte, signal.MinMTU)))
}

func TestReconfigurationWhileOpen(t *testing.T) {
	e := newEnv(t)
	cid := e.openIncoming(t, testHandle, 0x0050)

	require.NoError(t, e.peer(testHandle, 0x60, &signal.ConfigurationRequest{
		DestinationCID: cid,
		Options:        signal.MarshalOptions(signal.MTUOption(256)),
	}))
	p, c := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x60), p.Identifier)
	rsp, ok := c.(*signal.ConfigurationResponse)
	require.True(t, ok)
	assert.Equal(t, signal.ConfigSuccess, rsp.Result)
	assert.Equal(t, uint16(0x0050), rsp.SourceCID)
	assert.Equal(t, StateOpen, e.state(t, cid))
	mtu, err := e.s.RemoteMTU(cid)
	require.NoError(t, err)
	assert.Equal(t, uint16(256), mtu)

	require.NoError(t, e.s.Disconnect(cid, 0))
	require.NoError(t, e.peer(testHandle, 0x61, &signal.ConfigurationRequest{DestinationCID: cid}))
	p, c = e.link.lastSignal(t)
	assert.Equal(t, uint8(0x61), p.Identifier)
	assert.Equal(t, signal.ConfigRejected, c.(*signal.ConfigurationResponse).Result)
	assert.Equal(t, StateWaitDisconnect, e.state(t, cid))
}

func TestConfigurationRefused(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)
	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{DestinationCID: 0x0050, SourceCID: cid}))
	p, _ := e.link.lastSignal(t)

	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.ConfigurationResponse{SourceCID: cid, Result: signal.ConfigUnacceptable}))
	assert.Equal(t, StateWaitDisconnect, e.state(t, cid))
	_, c := e.link.lastSignal(t)
	assert.IsType(t, &signal.DisconnectRequest{}, c)
}

func TestSecondChannelWaitsForLink(t *testing.T) {
	e := newEnv(t)
	a, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1001, 672)
	require.NoError(t, err)
	b, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1003, 672)
	require.NoError(t, err)

	assert.Len(t, e.link.created, 1)
	assert.Equal(t, StateWaitConnectionComplete, e.state(t, b))

	e.s.ConnectionComplete(peerAddr, testHandle, 0)
	assert.Equal(t, StateWaitConnectRsp, e.state(t, a))
	assert.Equal(t, StateWaitConnectRsp, e.state(t, b))

	// link already up
	c, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1005, 672)
	require.NoError(t, err)
	assert.Equal(t, StateWaitConnectRsp, e.state(t, c))
	assert.Len(t, e.link.created, 1)
}

func TestCreateChannelInvalid(t *testing.T) {
	e := newEnv(t)
	_, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1001, 0)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))
	_, err = e.s.CreateChannel(e.owner, nil, nil, 0x1001, 672)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))
	assert.Empty(t, e.s.Snapshot().Channels)
}

func TestConnectionFailure(t *testing.T) {
	e := newEnv(t)
	cid, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1001, 672)
	require.NoError(t, err)

	e.s.ConnectionComplete(peerAddr, 0, 0x04)
	require.Len(t, e.rec.opened, 1)
	assert.Equal(t, cid, e.rec.opened[0].LocalCID)
	assert.Equal(t, uint16(0x04), e.rec.opened[0].Result)
	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
	assert.Empty(t, e.rec.closed)
}

func TestCreateConnectionError(t *testing.T) {
	e := newEnv(t)
	e.link.createErr = errors.New("controller busy")

	cid, err := e.s.CreateChannel(e.owner, nil, peerAddr, 0x1001, 672)
	require.NoError(t, err)
	require.Len(t, e.rec.opened, 1)
	assert.Equal(t, uint16(statusConnectionFailed), e.rec.opened[0].Result)
	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
}

func TestPeerRefusesConnection(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)

	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{SourceCID: cid, Result: signal.ResultPending}))
	assert.Equal(t, StateWaitConnectRsp, e.state(t, cid))
	assert.Empty(t, e.rec.opened)

	require.NoError(t, e.peer(testHandle, id, &signal.ConnectionResponse{SourceCID: cid, Result: signal.ResultSecurityBlock}))
	require.Len(t, e.rec.opened, 1)
	assert.Equal(t, signal.ResultSecurityBlock, e.rec.opened[0].Result)
	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
}

func TestConnectionRequestRejected(t *testing.T) {
	e := newEnv(t)
	cid, id := e.startOutgoing(t)

	require.NoError(t, e.peer(testHandle, id, &signal.CommandReject{Reason: signal.RejectNotUnderstood}))
	require.Len(t, e.rec.opened, 1)
	assert.Equal(t, ResultCommandRejected, e.rec.opened[0].Result)
	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
}

func TestIncomingAccept(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.s.RegisterService(e.owner, nil, 0x1001, 672))
	e.s.ConnectionComplete(peerAddr, testHandle, 0)

	require.NoError(t, e.peer(testHandle, 0x07, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0050}))
	require.Len(t, e.rec.incoming, 1)
	ev := e.rec.incoming[0]
	assert.Equal(t, uint16(0x1001), ev.PSM)
	assert.Equal(t, uint16(672), ev.MTU)
	assert.Equal(t, uint16(0x0050), ev.RemoteCID)
	assert.Equal(t, uint16(testHandle), ev.Handle)
	assert.Equal(t, StateWaitClientAcceptOrReject, e.state(t, ev.LocalCID))
	assert.Empty(t, e.link.sent)

	require.NoError(t, e.s.AcceptConnection(ev.LocalCID))
	assert.Equal(t, StateConfig, e.state(t, ev.LocalCID))

	pp := e.link.signals(t)
	require.Len(t, pp, 2)
	assert.Equal(t, uint8(0x07), pp[0].Identifier)
	c, err := signal.Decode(pp[0])
	require.NoError(t, err)
	assert.Equal(t, &signal.ConnectionResponse{DestinationCID: ev.LocalCID, SourceCID: 0x0050, Result: signal.ResultSuccess}, c)
	assert.Equal(t, uint8(signal.CodeConfigurationRequest), pp[1].Code)

	err = e.s.AcceptConnection(ev.LocalCID)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidState))
	err = e.s.DeclineConnection(ev.LocalCID, signal.ResultNoResources)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidState))
	assert.Len(t, e.link.signals(t), 2)

	err = e.s.AcceptConnection(0x0999)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))
}

func TestIncomingDecline(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.s.RegisterService(e.owner, nil, 0x1001, 672))
	e.s.ConnectionComplete(peerAddr, testHandle, 0)

	require.NoError(t, e.peer(testHandle, 0x07, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0050}))
	cid := e.rec.incoming[0].LocalCID

	require.NoError(t, e.s.DeclineConnection(cid, 0x0004))

	pp := e.link.signals(t)
	require.Len(t, pp, 1)
	assert.Equal(t, uint8(0x07), pp[0].Identifier)
	c, err := signal.Decode(pp[0])
	require.NoError(t, err)
	rsp := c.(*signal.ConnectionResponse)
	assert.Equal(t, uint16(0x0004), rsp.Result)
	assert.Equal(t, uint16(0x0050), rsp.SourceCID)

	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
	assert.Empty(t, e.rec.closed)
	assert.Empty(t, e.rec.opened)
}

func TestIncomingAcceptDeferredByLink(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.s.RegisterService(e.owner, nil, 0x1001, 672))
	e.s.ConnectionComplete(peerAddr, testHandle, 0)
	require.NoError(t, e.peer(testHandle, 0x07, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0050}))
	cid := e.rec.incoming[0].LocalCID

	e.link.blocked[testHandle] = true
	require.NoError(t, e.s.AcceptConnection(cid))
	assert.Equal(t, StateWillSendConnectionResponseAccept, e.state(t, cid))
	assert.Empty(t, e.link.sent)

	e.link.blocked[testHandle] = false
	e.s.ReadyToSend()
	assert.Equal(t, StateConfig, e.state(t, cid))
	assert.Len(t, e.link.signals(t), 2)
}

func TestIncomingRefused(t *testing.T) {
	e := newEnv(t, l2cap.OptCIDRange(0x0040, 0x0040))
	require.NoError(t, e.s.RegisterService(e.owner, nil, 0x1001, 672))
	e.s.ConnectionComplete(peerAddr, testHandle, 0)

	// unknown psm
	require.NoError(t, e.peer(testHandle, 0x01, &signal.ConnectionRequest{PSM: 0x2001, SourceCID: 0x0050}))
	p, c := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x01), p.Identifier)
	assert.Equal(t, &signal.ConnectionResponse{SourceCID: 0x0050, Result: signal.ResultPSMNotSupported}, c)

	require.NoError(t, e.peer(testHandle, 0x02, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0051}))
	require.Len(t, e.rec.incoming, 1)

	// retransmission of the same request
	require.NoError(t, e.peer(testHandle, 0x02, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0051}))
	assert.Len(t, e.rec.incoming, 1)

	// same source cid, new request
	require.NoError(t, e.peer(testHandle, 0x03, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0051}))
	_, c = e.link.lastSignal(t)
	assert.Equal(t, signal.ResultSourceCIDAllocated, c.(*signal.ConnectionResponse).Result)

	// cid range exhausted
	require.NoError(t, e.peer(testHandle, 0x04, &signal.ConnectionRequest{PSM: 0x1001, SourceCID: 0x0052}))
	_, c = e.link.lastSignal(t)
	assert.Equal(t, signal.ResultNoResources, c.(*signal.ConnectionResponse).Result)
	assert.Len(t, e.rec.incoming, 1)
}

func TestLocalDisconnect(t *testing.T) {
	e := newEnv(t)
	cid := e.openIncoming(t, testHandle, 0x0050)

	require.NoError(t, e.s.Disconnect(cid, 0))
	assert.Equal(t, StateWaitDisconnect, e.state(t, cid))
	p, c := e.link.lastSignal(t)
	assert.Equal(t, &signal.DisconnectRequest{DestinationCID: 0x0050, SourceCID: cid}, c)

	n := len(e.link.sent)
	err := e.s.Disconnect(cid, 0)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidState))
	assert.Len(t, e.link.sent, n, "no second disconnect request")
	assert.Empty(t, e.rec.closed)

	require.NoError(t, e.peer(testHandle, p.Identifier, &signal.DisconnectResponse{DestinationCID: 0x0050, SourceCID: cid}))
	require.Len(t, e.rec.closed, 1)
	assert.Equal(t, l2cap.ChannelClosedEvent{LocalCID: cid, Handle: testHandle, Reason: l2cap.ReasonLocal}, e.rec.closed[0])

	err = e.s.Disconnect(cid, 0)
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))
	assert.Len(t, e.rec.closed, 1)
}

func TestPeerDisconnect(t *testing.T) {
	e := newEnv(t)
	cid := e.openIncoming(t, testHandle, 0x0050)

	require.NoError(t, e.peer(testHandle, 0x09, &signal.DisconnectRequest{DestinationCID: cid, SourceCID: 0x0050}))
	p, c := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x09), p.Identifier)
	assert.Equal(t, &signal.DisconnectResponse{DestinationCID: cid, SourceCID: 0x0050}, c)

	require.Len(t, e.rec.closed, 1)
	assert.Equal(t, l2cap.ReasonPeer, e.rec.closed[0].Reason)
	_, ok := e.s.Channel(cid)
	assert.False(t, ok)
}

func TestPeerDisconnectUnknownChannel(t *testing.T) {
	e := newEnv(t)
	cid := e.openIncoming(t, testHandle, 0x0050)

	err := e.peer(testHandle, 0x09, &signal.DisconnectRequest{DestinationCID: cid, SourceCID: 0x0077})
	assert.True(t, errors.Is(err, l2cap.ErrProtocolViolation))

	p, c := e.link.lastSignal(t)
	assert.Equal(t, uint8(0x09), p.Identifier)
	assert.Equal(t, signal.RejectInvalidCID, c.(*signal.CommandReject).Reason)
	assert.Equal(t, StateOpen, e.state(t, cid))
}

func TestLinkLossIsolation(t *testing.T) {
	e := newEnv(t)
	a := e.openIncoming(t, 0x0001, 0x0050)
	b := e.openIncoming(t, 0x0001, 0x0051)
	other := e.openIncoming(t, 0x0002, 0x0050)

	// outstanding request and queued response on the lost link
	require.NoError(t, e.s.Disconnect(a, 0))
	e.link.blocked[0x0001] = true
	require.NoError(t, e.peer(0x0001, 0x60, &signal.EchoRequest{}))
	require.NotEmpty(t, e.s.responses)

	e.s.CloseConnection(0x0001)

	require.Len(t, e.rec.closed, 2)
	got := map[uint16]l2cap.Reason{}
	for _, ev := range e.rec.closed {
		got[ev.LocalCID] = ev.Reason
	}
	assert.Equal(t, map[uint16]l2cap.Reason{a: l2cap.ReasonLinkLost, b: l2cap.ReasonLinkLost}, got)

	assert.Equal(t, StateOpen, e.state(t, other))
	snap := e.s.Snapshot()
	assert.Len(t, snap.Channels, 1)
	assert.Zero(t, snap.PendingResponses)
	assert.Zero(t, snap.OutstandingRequests)
	for _, l := range snap.Links {
		assert.NotEqual(t, uint16(0x0001), l.Handle)
	}

	e.link.blocked[0x0001] = false
	n := len(e.link.sent)
	e.s.ReadyToSend()
	assert.Len(t, e.link.sent, n)

	e.s.CloseConnection(0x0001)
	assert.Len(t, e.rec.closed, 2, "one close event per channel")
}

func TestCloseOwner(t *testing.T) {
	e := newEnv(t)
	cid := e.openIncoming(t, testHandle, 0x0050)
	pending, err := e.s.CreateChannel(e.owner, nil, l2cap.NewAddr("aa:bb:cc:dd:ee:ff"), 0x1001, 672)
	require.NoError(t, err)

	other := "other"
	require.NoError(t, e.s.RegisterService(other, nil, 0x1003, 100))

	e.s.CloseOwner(e.owner)

	assert.Equal(t, StateWaitDisconnect, e.state(t, cid))
	_, ok := e.s.Channel(pending)
	assert.False(t, ok)

	snap := e.s.Snapshot()
	require.Len(t, snap.Services, 1)
	assert.Equal(t, uint16(0x1003), snap.Services[0].PSM)
}
