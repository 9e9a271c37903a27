package p2p

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	return peer.ID(t.Name())
}

func TestRateLimiter_AllowsWithinPeerLimit(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		PeerMsgPerMin:   3,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 1000,
		CleanupInterval: time.Minute,
	}, &AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 10,
	})
	defer rl.Close()

	p := testPeerID(t)
	assert.True(t, rl.AllowMessage(p, "topic", 10))
	assert.True(t, rl.AllowMessage(p, "topic", 10))
	assert.True(t, rl.AllowMessage(p, "topic", 10))
}

func TestRateLimiter_BlocksOverPeerMessageLimit(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		PeerMsgPerMin:   2,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 1000,
		CleanupInterval: time.Minute,
	}, &AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 10,
	})
	defer rl.Close()

	p := testPeerID(t)
	require.True(t, rl.AllowMessage(p, "topic", 10))
	require.True(t, rl.AllowMessage(p, "topic", 10))
	assert.False(t, rl.AllowMessage(p, "topic", 10))
}

func TestRateLimiter_BlocksOverGlobalLimit(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		PeerMsgPerMin:   1000,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 1,
		CleanupInterval: time.Minute,
	}, &AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 10,
	})
	defer rl.Close()

	p := testPeerID(t)
	require.True(t, rl.AllowMessage(p, "topic", 10))
	assert.False(t, rl.AllowMessage(p, "topic", 10))
}

func TestRateLimiter_GreylistsAfterThreshold(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		PeerMsgPerMin:   1,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 1000,
		CleanupInterval: time.Minute,
	}, &AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 2,
	})
	defer rl.Close()

	p := testPeerID(t)
	require.True(t, rl.AllowMessage(p, "topic", 10))
	assert.False(t, rl.AllowMessage(p, "topic", 10)) // violation 1
	assert.False(t, rl.AllowMessage(p, "topic", 10)) // violation 2, greylists
	assert.True(t, rl.IsGreylisted(p))
}

func TestRateLimiter_GetStatsReflectsGreylistedPeers(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		PeerMsgPerMin:   1,
		PeerBytesPerSec: 1024,
		GlobalMsgPerSec: 1000,
		CleanupInterval: time.Minute,
	}, &AntiAbuseConfig{
		GreylistDuration:  time.Minute,
		GreylistThreshold: 1,
	})
	defer rl.Close()

	p := testPeerID(t)
	require.True(t, rl.AllowMessage(p, "topic", 10))
	require.False(t, rl.AllowMessage(p, "topic", 10))

	stats := rl.GetStats()
	assert.Equal(t, 1, stats["total_peers"])
	assert.Equal(t, 1, stats["greylisted_peers"])
}
