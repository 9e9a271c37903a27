package p2p

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config configures the P2P node: libp2p host, DHT bootstrap, gossipsub,
// and the rate limiter guarding the query protocol and score-update
// topic.
type Config struct {
	ListenAddrs    []multiaddr.Multiaddr `json:"listen_addrs"`
	BootstrapPeers []multiaddr.Multiaddr `json:"bootstrap_peers"`

	GossipsubConfig GossipsubConfig `json:"gossipsub"`
	DHTConfig       DHTConfig       `json:"dht"`
	RateLimit       RateLimitConfig `json:"rate_limit"`
	CacheConfig     CacheConfig     `json:"cache"`
	AntiAbuse       AntiAbuseConfig `json:"anti_abuse"`

	// QueryTimeout bounds how long this node spends serving one inbound
	// trust/query/1.0.0 stream (stream deadline and handler context).
	// Outbound Ask calls use their own deadline argument instead.
	QueryTimeout time.Duration `json:"query_timeout"`
}

// GossipsubConfig contains gossipsub-specific settings.
type GossipsubConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	EnableScoring     bool          `json:"enable_scoring"`
}

// DHTConfig contains DHT-specific settings.
type DHTConfig struct {
	BootstrapTimeout time.Duration `json:"bootstrap_timeout"`
	Mode             string        `json:"mode"` // "client", "server", "auto"
	ProtocolPrefix   string        `json:"protocol_prefix"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	PeerMsgPerMin   int           `json:"peer_msg_per_min"`
	PeerBytesPerSec int           `json:"peer_bytes_per_sec"`
	GlobalMsgPerSec int           `json:"global_msg_per_sec"`
	BurstMultiplier float64       `json:"burst_multiplier"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// CacheConfig contains the score-update dedup cache's settings.
type CacheConfig struct {
	ScoreUpdateCacheSize int           `json:"score_update_cache_size"`
	ScoreUpdateCacheTTL  time.Duration `json:"score_update_cache_ttl"`
}

// AntiAbuseConfig contains anti-abuse settings.
type AntiAbuseConfig struct {
	GreylistDuration  time.Duration `json:"greylist_duration"`
	GreylistThreshold int           `json:"greylist_threshold"`
	MaxMessageSize    int           `json:"max_message_size"`
}

// DefaultConfig returns the node's default P2P configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:    []multiaddr.Multiaddr{},
		BootstrapPeers: []multiaddr.Multiaddr{},

		GossipsubConfig: GossipsubConfig{
			HeartbeatInterval: time.Second,
			EnableScoring:     true,
		},

		DHTConfig: DHTConfig{
			BootstrapTimeout: 30 * time.Second,
			Mode:             "auto",
			ProtocolPrefix:   "/trustnode",
		},

		RateLimit: RateLimitConfig{
			PeerMsgPerMin:   60,
			PeerBytesPerSec: 1024,
			GlobalMsgPerSec: 1000,
			BurstMultiplier: 2.0,
			CleanupInterval: time.Minute,
		},

		CacheConfig: CacheConfig{
			ScoreUpdateCacheSize: 2000,
			ScoreUpdateCacheTTL:  10 * time.Minute,
		},

		AntiAbuse: AntiAbuseConfig{
			GreylistDuration:  10 * time.Minute,
			GreylistThreshold: 10,
			MaxMessageSize:    16 * 1024,
		},

		QueryTimeout: 10 * time.Second,
	}
}
