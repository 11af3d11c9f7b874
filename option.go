package l2cap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StackOption is an interface which the channel stack implements to allow using configuration options
type StackOption interface {
	SetLogger(Logger) error
	SetPacketHandler(Handler) error
	SetMaxCredits(uint16) error
	SetCIDRange(min, max uint16) error
	SetMetricsRegisterer(prometheus.Registerer) error
}

// An Option is a configuration function, which configures the stack.
type Option func(StackOption) error

// OptLogger sets the logger the stack derives its child logger from.
func OptLogger(l Logger) Option {
	return func(opt StackOption) error {
		return opt.SetLogger(l)
	}
}

// OptPacketHandler sets the fallback handler for channels and services
// registered without one.
func OptPacketHandler(h Handler) Option {
	return func(opt StackOption) error {
		return opt.SetPacketHandler(h)
	}
}

// OptMaxCredits caps the send credits a single channel can hold.
func OptMaxCredits(n uint16) Option {
	return func(opt StackOption) error {
		return opt.SetMaxCredits(n)
	}
}

// OptCIDRange restricts the dynamic local channel identifiers handed out.
func OptCIDRange(min, max uint16) Option {
	return func(opt StackOption) error {
		return opt.SetCIDRange(min, max)
	}
}

// OptMetrics registers the stack's collectors with reg.
func OptMetrics(reg prometheus.Registerer) Option {
	return func(opt StackOption) error {
		return opt.SetMetricsRegisterer(reg)
	}
}
