package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/l2cap"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "l2capd.json")
	require.NoError(t, ioutil.WriteFile(p, []byte(body), 0600))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `{
		"logLevel": "debug",
		"logFormat": "json",
		"maxCredits": 4,
		"cidMin": 256,
		"cidMax": 511,
		"services": [{"psm": 4097, "mtu": 672}, {"psm": 4099, "mtu": 128}]
	}`)

	cfg, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, l2cap.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, []serviceConfig{{PSM: 0x1001, MTU: 672}, {PSM: 0x1003, MTU: 128}}, cfg.Services)
	assert.Len(t, cfg.options(), 2)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	assert.Equal(t, uint16(0x1001), cfg.Services[0].PSM)
	assert.Empty(t, cfg.options())
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, `{"services": [`))
	assert.Error(t, err)

	_, err = loadConfig(writeConfig(t, `{"services": [{"psm": 4097}]}`))
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))

	_, err = loadConfig(writeConfig(t, `{"services": [{"psm": 4097, "mtu": 1}, {"psm": 4097, "mtu": 2}]}`))
	assert.True(t, errors.Is(err, l2cap.ErrDuplicatePSM))

	_, err = loadConfig(writeConfig(t, `{"cidMin": 256, "services": []}`))
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))

	_, err = loadConfig(writeConfig(t, `{"logFormat": "xml", "services": []}`))
	assert.True(t, errors.Is(err, l2cap.ErrInvalidParameter))
}
