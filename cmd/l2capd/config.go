package main

import (
	"io/ioutil"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/l2cap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type serviceConfig struct {
	PSM uint16 `json:"psm"`
	MTU uint16 `json:"mtu"`
}

type config struct {
	LogLevel   string          `json:"logLevel,omitempty"`
	LogFormat  string          `json:"logFormat,omitempty"`
	MaxCredits uint16          `json:"maxCredits,omitempty"`
	CIDMin     uint16          `json:"cidMin,omitempty"`
	CIDMax     uint16          `json:"cidMax,omitempty"`
	Services   []serviceConfig `json:"services"`
}

func defaultConfig() *config {
	return &config{
		Services: []serviceConfig{{PSM: 0x1001, MTU: 672}},
	}
}

// loadConfig reads a JSON config file, an empty path yields the defaults.
func loadConfig(path string) (*config, error) {
	if path == "" {
		return defaultConfig(), nil
	}

	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "can't read config")
	}

	cfg := &config{}
	if err := json.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "can't parse %v", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "%v", path)
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.LogFormat {
	case "", l2cap.LogFormatText, l2cap.LogFormatJSON:
	default:
		return errors.Wrapf(l2cap.ErrInvalidParameter, "log format %q", c.LogFormat)
	}

	seen := map[uint16]bool{}
	for _, s := range c.Services {
		if s.PSM == 0 || s.MTU == 0 {
			return errors.Wrapf(l2cap.ErrInvalidParameter, "service psm 0x%04x mtu %v", s.PSM, s.MTU)
		}
		if seen[s.PSM] {
			return errors.Wrapf(l2cap.ErrDuplicatePSM, "service psm 0x%04x", s.PSM)
		}
		seen[s.PSM] = true
	}
	if (c.CIDMin == 0) != (c.CIDMax == 0) {
		return errors.Wrap(l2cap.ErrInvalidParameter, "cidMin and cidMax go together")
	}
	return nil
}

// options maps the file onto stack options.
func (c *config) options() []l2cap.Option {
	var opts []l2cap.Option
	if c.MaxCredits != 0 {
		opts = append(opts, l2cap.OptMaxCredits(c.MaxCredits))
	}
	if c.CIDMin != 0 {
		opts = append(opts, l2cap.OptCIDRange(c.CIDMin, c.CIDMax))
	}
	return opts
}
