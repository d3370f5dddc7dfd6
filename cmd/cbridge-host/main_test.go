package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbridge-protocol/cbridge-go/pkg/config"
	"github.com/cbridge-protocol/cbridge-go/pkg/discovery"
	"github.com/cbridge-protocol/cbridge-go/pkg/handshake"
	"github.com/cbridge-protocol/cbridge-go/pkg/transport"
)

func TestAdvertiseInfo(t *testing.T) {
	cfg := config.Default()
	info := advertiseInfo(&cfg, "studio-mac.local")

	require.NoError(t, info.Validate())
	assert.Equal(t, "cbridge-host", info.DeviceName)
	assert.Equal(t, handshake.CurrentMajor, info.Version)
	assert.Equal(t, uint16(transport.DefaultTunnelPort), info.Port)
	assert.True(t, discovery.ValidFingerprint(info.Fingerprint))
}

func TestAdvertiseInfoPortNarrowing(t *testing.T) {
	cfg := config.Default()
	cfg.Tunnel.Port = 65535
	require.NoError(t, cfg.Validate())

	info := advertiseInfo(&cfg, "host")
	assert.Equal(t, uint16(65535), info.Port)
}
