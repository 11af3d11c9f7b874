package core

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rigado/l2cap"
)

// SetLogger sets the logger the stack derives its child logger from.
func (s *Stack) SetLogger(l l2cap.Logger) error {
	if l == nil {
		return errors.Wrap(l2cap.ErrInvalidParameter, "nil logger")
	}
	s.log = l.ChildLogger(map[string]interface{}{"layer": "l2cap"})
	return nil
}

// SetPacketHandler sets the fallback handler for channels and services registered without one.
func (s *Stack) SetPacketHandler(h l2cap.Handler) error {
	s.handler = h
	return nil
}

// SetMaxCredits caps the credits a channel holds after replenishment.
func (s *Stack) SetMaxCredits(n uint16) error {
	if n == 0 {
		return errors.Wrap(l2cap.ErrInvalidParameter, "max credits must be non-zero")
	}
	s.maxCredits = n
	return nil
}

// SetCIDRange restricts the local channel identifiers handed out.
func (s *Stack) SetCIDRange(min, max uint16) error {
	if min < minDynamicCID || max < min {
		return errors.Wrapf(l2cap.ErrInvalidParameter, "cid range 0x%04x-0x%04x, must be within 0x%04x-0x%04x", min, max, minDynamicCID, maxDynamicCID)
	}
	s.cidMin, s.cidMax, s.nextCID = min, max, min
	return nil
}

// SetMetricsRegisterer registers the stack's collectors with reg when the stack is built.
func (s *Stack) SetMetricsRegisterer(reg prometheus.Registerer) error {
	s.reg = reg
	return nil
}
