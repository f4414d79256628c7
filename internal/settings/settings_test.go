package settings_test

import (
	"testing"

	"github.com/nmxmxh/dht-core/internal/bencode"
	"github.com/nmxmxh/dht-core/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := settings.Default()
	assert.Equal(t, 100, s.MaxPeersReply)
	assert.Equal(t, 5, s.SearchBranching)
	assert.Equal(t, 8000, s.UploadRateLimit)
	assert.True(t, s.RestrictRoutingIps)
	assert.False(t, s.PrivacyLookups)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := settings.Default()
	s.MaxTorrents = 42
	s.ReadOnly = true

	encoded := s.Encode()
	decoded := settings.Decode(encoded)
	assert.Equal(t, s, decoded)
}

func TestUnknownKeysIgnoredAbsentKeysDefault(t *testing.T) {
	raw := "d7:unknowni1e9:max_peersi9ee"
	v, err := bencode.Decode([]byte(raw))
	require.NoError(t, err)

	s := settings.Decode(v)
	assert.Equal(t, 9, s.MaxPeers)
	assert.Equal(t, 100, s.MaxPeersReply) // untouched key keeps default
}
