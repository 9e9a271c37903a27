// Package p2p wires the node into the libp2p overlay: DHT-based peer
// discovery, a direct request-response protocol for trust queries, and
// a single gossipsub topic for advisory score announcements.
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
)

// P2PHost manages the libp2p host and the services layered on top of it.
type P2PHost struct {
	config  *Config
	logger  *logging.Logger
	privKey crypto.PrivKey

	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub

	topics        *TopicManager
	subscriptions map[string]*pubsub.Subscription
	subMutex      sync.RWMutex

	rateLimiter      *RateLimiter
	scoreUpdateCache *LRUCache

	queryHandler       QueryHandler
	scoreUpdateHandler ScoreUpdateHandler

	started bool
	mutex   sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewP2PHost creates a new P2P host over the given identity key.
func NewP2PHost(config *Config, privKey crypto.PrivKey, log *logging.Logger) *P2PHost {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logging.New("p2p", logging.LevelInfo)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &P2PHost{
		config:           config,
		logger:           log,
		privKey:          privKey,
		topics:           NewTopicManager(config.AntiAbuse.MaxMessageSize),
		subscriptions:    make(map[string]*pubsub.Subscription),
		rateLimiter:      NewRateLimiter(&config.RateLimit, &config.AntiAbuse),
		scoreUpdateCache: NewLRUCache(config.CacheConfig.ScoreUpdateCacheSize, config.CacheConfig.ScoreUpdateCacheTTL),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Start initializes and starts the P2P host.
func (p *P2PHost) Start(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.started {
		return ErrNodeAlreadyStarted
	}

	p.logger.Info("starting p2p host", logging.Fields{
		"listen_addrs": len(p.config.ListenAddrs),
		"dht_mode":     p.config.DHTConfig.Mode,
	})

	opts := []libp2p.Option{
		libp2p.ListenAddrs(p.config.ListenAddrs...),
		libp2p.EnableNATService(),
		libp2p.EnableRelay(),
	}
	if p.privKey != nil {
		opts = append(opts, libp2p.Identity(p.privKey))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return NewP2PError("create_host", err)
	}
	p.host = h

	p.logger.Info("libp2p host created", logging.Fields{"peer_id": h.ID().String()})

	if err := p.initDHT(ctx); err != nil {
		h.Close()
		return NewP2PError("init_dht", err)
	}

	if err := p.initPubSub(ctx); err != nil {
		h.Close()
		return NewP2PError("init_pubsub", err)
	}

	p.registerQueryProtocol()

	if err := p.bootstrap(ctx); err != nil {
		p.logger.Warn("bootstrap failed", logging.Fields{"error": err.Error()})
	}

	p.started = true

	if err := p.subscribeToTopics(ctx); err != nil {
		h.Close()
		p.started = false
		return NewP2PError("subscribe_topics", err)
	}

	p.logger.Info("p2p host started", logging.Fields{
		"peer_id":      p.host.ID().String(),
		"listen_addrs": len(p.host.Addrs()),
	})
	return nil
}

// Stop shuts down the P2P host.
func (p *P2PHost) Stop(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.started {
		return ErrNodeNotStarted
	}

	p.logger.Info("stopping p2p host", logging.Fields{"peer_id": p.host.ID().String()})

	p.subMutex.Lock()
	for topic, sub := range p.subscriptions {
		sub.Cancel()
		delete(p.subscriptions, topic)
	}
	p.subMutex.Unlock()

	p.rateLimiter.Close()
	p.scoreUpdateCache.Close()

	if p.dht != nil {
		if err := p.dht.Close(); err != nil {
			p.logger.Warn("error closing dht", logging.Fields{"error": err.Error()})
		}
	}
	if p.host != nil {
		if err := p.host.Close(); err != nil {
			p.logger.Warn("error closing host", logging.Fields{"error": err.Error()})
		}
	}

	p.cancel()
	p.started = false
	p.logger.Info("p2p host stopped", nil)
	return nil
}

func (p *P2PHost) initDHT(ctx context.Context) error {
	var mode dht.ModeOpt
	switch p.config.DHTConfig.Mode {
	case "client":
		mode = dht.ModeClient
	case "server":
		mode = dht.ModeServer
	default:
		mode = dht.ModeAuto
	}

	kadDHT, err := dht.New(ctx, p.host,
		dht.Mode(mode),
		dht.ProtocolPrefix(protocol.ID(p.config.DHTConfig.ProtocolPrefix)),
	)
	if err != nil {
		return err
	}
	p.dht = kadDHT
	return nil
}

func (p *P2PHost) initPubSub(ctx context.Context) error {
	opts := []pubsub.Option{
		pubsub.WithFloodPublish(false),
		pubsub.WithMessageSigning(true),
	}

	ps, err := pubsub.NewGossipSub(ctx, p.host, opts...)
	if err != nil {
		return err
	}
	p.pubsub = ps
	return nil
}

func (p *P2PHost) bootstrap(ctx context.Context) error {
	if len(p.config.BootstrapPeers) == 0 {
		return nil
	}

	for _, addr := range p.config.BootstrapPeers {
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			continue
		}
		connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := p.host.Connect(connCtx, *pi); err != nil {
			cancel()
			continue
		}
		cancel()
	}

	return p.dht.Bootstrap(ctx)
}

func (p *P2PHost) subscribeToTopics(ctx context.Context) error {
	for _, topic := range p.topics.GetCoreTopics() {
		if err := p.Subscribe(ctx, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe subscribes to a topic.
func (p *P2PHost) Subscribe(ctx context.Context, topic string) error {
	if p.host == nil {
		return ErrNodeNotStarted
	}
	if !p.topics.IsValidTopic(topic) {
		return NewP2PError("subscribe", ErrInvalidTopic).WithTopic(topic)
	}

	p.subMutex.Lock()
	defer p.subMutex.Unlock()

	if _, exists := p.subscriptions[topic]; exists {
		return nil
	}

	sub, err := p.pubsub.Subscribe(topic)
	if err != nil {
		return NewP2PError("subscribe", err).WithTopic(topic)
	}
	p.subscriptions[topic] = sub

	go p.handleTopicMessages(ctx, topic, sub)
	return nil
}

// Publish publishes a message to a topic.
func (p *P2PHost) Publish(ctx context.Context, topic string, data []byte) error {
	if !p.started {
		return ErrNodeNotStarted
	}
	if err := p.topics.ValidateTopicMessage(topic, data); err != nil {
		return NewP2PError("publish", err).WithTopic(topic).WithContext("data_size", len(data))
	}
	if err := p.pubsub.Publish(topic, data); err != nil {
		return NewP2PError("publish", err).WithTopic(topic).WithContext("data_size", len(data))
	}
	return nil
}

// GetNetworkInfo returns a snapshot of the node's network state.
func (p *P2PHost) GetNetworkInfo() map[string]interface{} {
	if !p.started {
		return map[string]interface{}{"status": "stopped"}
	}
	return map[string]interface{}{
		"status":           "running",
		"peer_id":          p.host.ID().String(),
		"connected_peers":  len(p.host.Network().Peers()),
		"listen_addrs":     p.host.Addrs(),
		"topics":           len(p.subscriptions),
		"rate_limit_stats": p.rateLimiter.GetStats(),
	}
}

func (p *P2PHost) handleTopicMessages(ctx context.Context, topic string, sub *pubsub.Subscription) {
	logger := p.logger.With(logging.Fields{"topic": topic})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in topic message handler", logging.Fields{"panic": fmt.Sprint(r)})
		}
	}()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("error receiving message", logging.Fields{"error": err.Error()})
			continue
		}

		if !p.rateLimiter.AllowMessage(msg.ReceivedFrom, topic, len(msg.Data)) {
			continue
		}
		if err := p.topics.ValidateTopicMessage(topic, msg.Data); err != nil {
			logger.Debug("invalid message format", logging.Fields{"error": err.Error()})
			continue
		}

		p.processMessage(topic, msg.Data)
	}
}

func (p *P2PHost) processMessage(topic string, data []byte) {
	switch topic {
	case TopicScoreUpdates:
		p.handleScoreUpdate(data)
	}
}

// RefreshRoutingTable forces a DHT routing table refresh, used by the
// Runtime's periodic maintenance timer to keep peer discovery warm
// between queries.
func (p *P2PHost) RefreshRoutingTable() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if !p.started || p.dht == nil {
		return ErrNodeNotStarted
	}
	select {
	case err := <-p.dht.RefreshRoutingTable():
		return err
	default:
		return nil
	}
}

// ConnectToPeer connects to a specific peer by multiaddr.
func (p *P2PHost) ConnectToPeer(ctx context.Context, addr multiaddr.Multiaddr) error {
	if !p.started {
		return ErrNodeNotStarted
	}

	pi, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return NewP2PError("connect_peer", err).WithContext("addr", addr.String())
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.host.Connect(connCtx, *pi); err != nil {
		return NewP2PError("connect_peer", err).WithPeer(pi.ID).WithContext("addr", addr.String())
	}
	return nil
}
