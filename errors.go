package l2cap

import "github.com/pkg/errors"

// Error taxonomy of the channel layer. Entry points wrap these with context,
// use errors.Is or errors.Cause to classify.
var (
	// ErrInvalidParameter malformed caller input, e.g. a zero MTU.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidState the operation is not legal in the channel's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrResourceExhausted no free local channel identifier.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrDuplicatePSM the PSM already has a registered service.
	ErrDuplicatePSM = errors.New("duplicate psm")

	// ErrProtocolViolation a peer PDU referenced an unknown signaling identifier
	// or channel. The PDU is dropped, the link stays up.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrWouldBlock the flow-control gate denied a send, retry later.
	ErrWouldBlock = errors.New("would block")

	// ErrLinkLost the underlying link disappeared.
	ErrLinkLost = errors.New("link lost")
)

// Reason tells the upper layer why a channel closed.
type Reason int

const (
	ReasonLocal Reason = iota
	ReasonPeer
	ReasonLinkLost
)

func (r Reason) String() string {
	switch r {
	case ReasonLocal:
		return "local"
	case ReasonPeer:
		return "peer"
	case ReasonLinkLost:
		return "link lost"
	default:
		return "unknown"
	}
}

// Err maps the reason onto the error taxonomy; nil for an orderly close.
func (r Reason) Err() error {
	if r == ReasonLinkLost {
		return ErrLinkLost
	}
	return nil
}
