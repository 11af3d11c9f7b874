package core

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
)

type service struct {
	psm     uint16
	mtu     uint16
	owner   interface{}
	handler l2cap.Handler
}

// ServiceInfo is a copy of a service registration.
type ServiceInfo struct {
	PSM uint16 `json:"psm"`
	MTU uint16 `json:"mtu"`
}

// RegisterService makes psm available to incoming connections. Peer opens
// are reported to handler (or the stack's packet handler) on behalf of owner.
func (s *Stack) RegisterService(owner interface{}, handler l2cap.Handler, psm, mtu uint16) error {
	return s.do(func() error {
		if mtu == 0 {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "psm 0x%04x: zero mtu", psm)
		}
		if _, ok := s.services[psm]; ok {
			return errors.Wrapf(l2cap.ErrDuplicatePSM, "psm 0x%04x", psm)
		}
		s.services[psm] = &service{psm: psm, mtu: mtu, owner: owner, handler: handler}
		s.log.Infof("registered service psm 0x%04x mtu %v", psm, mtu)
		return nil
	})
}

// UnregisterService removes the registration for psm. Channels already
// opened through the service are not affected.
func (s *Stack) UnregisterService(owner interface{}, psm uint16) error {
	return s.do(func() error {
		svc, ok := s.services[psm]
		if !ok {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "psm 0x%04x not registered", psm)
		}
		if svc.owner != owner {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "psm 0x%04x registered by another owner", psm)
		}
		delete(s.services, psm)
		s.log.Infof("unregistered service psm 0x%04x", psm)
		return nil
	})
}

func (s *Stack) serviceInfos() []ServiceInfo {
	out := make([]ServiceInfo, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, ServiceInfo{PSM: svc.psm, MTU: svc.mtu})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PSM < out[j].PSM })
	return out
}
