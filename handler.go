package l2cap

// ChannelOpenedEvent reports the outcome of a channel open, successful or not.
type ChannelOpenedEvent struct {
	LocalCID  uint16
	RemoteCID uint16
	Handle    uint16
	Addr      Addr
	PSM       uint16

	// Result is zero on success, otherwise the peer refusal result or the
	// link-layer status that prevented the open.
	Result uint16

	LocalMTU  uint16
	RemoteMTU uint16
}

// IncomingConnectionEvent asks the service owner to accept or decline a peer open.
type IncomingConnectionEvent struct {
	LocalCID  uint16
	RemoteCID uint16
	Handle    uint16
	Addr      Addr
	PSM       uint16

	// MTU is the incoming MTU the service was registered with.
	MTU uint16
}

// ChannelClosedEvent is delivered exactly once per channel that was open or opening.
type ChannelClosedEvent struct {
	LocalCID uint16
	Handle   uint16
	Reason   Reason
}

// Handler is the upper-layer capability a channel or service reports to.
// Calls are made after the stack has released its lock, handlers may call
// back into the stack.
type Handler interface {
	// ChannelOpened is called when a channel reaches the open state, or when
	// an outgoing open failed (Result != 0).
	ChannelOpened(owner interface{}, ev ChannelOpenedEvent)

	// IncomingConnection is called for a peer open on a registered PSM. The
	// owner must answer with AcceptConnection or DeclineConnection.
	IncomingConnection(owner interface{}, ev IncomingConnectionEvent)

	// ConfigurationComplete is called when both configuration directions finished.
	ConfigurationComplete(owner interface{}, localCID uint16, localMTU, remoteMTU uint16)

	// DataReceived delivers the payload of a data PDU received on an open channel.
	DataReceived(owner interface{}, localCID uint16, data []byte)

	// ChannelClosed is called once the channel record is gone.
	ChannelClosed(owner interface{}, ev ChannelClosedEvent)

	// CreditsGranted reports new send credits for a channel.
	CreditsGranted(owner interface{}, localCID uint16, credits uint16)
}

// NopHandler ignores every event; embed it to implement only what you need.
type NopHandler struct{}

func (NopHandler) ChannelOpened(interface{}, ChannelOpenedEvent)             {}
func (NopHandler) IncomingConnection(interface{}, IncomingConnectionEvent)   {}
func (NopHandler) ConfigurationComplete(interface{}, uint16, uint16, uint16) {}
func (NopHandler) DataReceived(interface{}, uint16, []byte)                  {}
func (NopHandler) ChannelClosed(interface{}, ChannelClosedEvent)             {}
func (NopHandler) CreditsGranted(interface{}, uint16, uint16)                {}
