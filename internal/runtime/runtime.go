// Package runtime wires identity, storage, the query engine, the P2P
// host and the HTTP API into one running node, and owns their
// startup and shutdown ordering.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/internal/api"
	"github.com/felixniemeyer/repeerv3-sub001/internal/identity"
	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
	"github.com/felixniemeyer/repeerv3-sub001/internal/p2p"
	"github.com/felixniemeyer/repeerv3-sub001/internal/query"
	"github.com/felixniemeyer/repeerv3-sub001/internal/store"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// maintenanceInterval is how often the runtime evicts stale cached
// peer scores and lets the DHT refresh its routing table.
const maintenanceInterval = 5 * time.Minute

// cacheTTL bounds how long a cached peer score is kept as advisory
// data before eviction; default staleness window per spec.md §4.3.
const cacheTTL = 1 * time.Hour

// Config bundles every piece of configuration main() assembles from
// flags and environment variables.
type Config struct {
	User         string
	DataDir      string
	APIAddr      string
	P2PConfig    *p2p.Config
	QueryTimeout time.Duration
}

// Node owns the lifecycle of every wired component.
type Node struct {
	log *logging.Logger

	store  *store.SQLiteStore
	engine *query.Engine
	host   *p2p.P2PHost
	driver *p2pDriver
	api    *api.Server

	cancelMaintenance context.CancelFunc
	httpErr           chan error
}

// New constructs every component and wires them together, but does
// not start any network listener yet.
func New(cfg Config) (*Node, error) {
	log := logging.New("runtime", logging.LevelInfo)

	keyPair, err := identity.LoadOrCreate(cfg.DataDir, cfg.User)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	privKey, err := keyPair.ToLibp2pPrivKey()
	if err != nil {
		return nil, fmt.Errorf("converting identity to libp2p key: %w", err)
	}

	storeConfig := store.DefaultConfig()
	storeConfig.DataDir = cfg.DataDir
	storeConfig.User = cfg.User
	st, err := store.NewSQLiteStore(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p2pConfig := cfg.P2PConfig
	if p2pConfig == nil {
		p2pConfig = p2p.DefaultConfig()
	}
	if cfg.QueryTimeout > 0 {
		p2pConfig.QueryTimeout = cfg.QueryTimeout
	}
	host := p2p.NewP2PHost(p2pConfig, privKey, logging.New("p2p", logging.LevelInfo))
	driver := newP2PDriver(host)
	client := newDriverClient(driver, host)

	engine := query.New(st, client, logging.New("query", logging.LevelInfo))
	host.SetQueryHandler(buildQueryHandler(engine))
	host.SetScoreUpdateHandler(buildScoreUpdateHandler(st, log))

	apiServer := api.NewServer(cfg.APIAddr, st, engine, client, logging.New("api", logging.LevelInfo))

	return &Node{
		log:     log,
		store:   st,
		engine:  engine,
		host:    host,
		driver:  driver,
		api:     apiServer,
		httpErr: make(chan error, 1),
	}, nil
}

// buildQueryHandler adapts the query engine's LocalScore into the
// QueryHandler the P2P layer invokes for inbound peer requests. The
// caller has already forced MaxDepth to 0 before this runs.
func buildQueryHandler(engine *query.Engine) p2p.QueryHandler {
	return func(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error) {
		pointInTime := time.Now()
		if req.PointInTime != nil {
			pointInTime = *req.PointInTime
		}
		forgetRate := 0.0
		if req.ForgetRate != nil {
			forgetRate = *req.ForgetRate
		}

		entries := make([]types.QueryResponseEntry, 0, len(req.Agents))
		for _, pair := range req.Agents {
			key := types.AgentKey{IDDomain: pair[0], AgentID: pair[1]}
			score, err := engine.LocalScore(ctx, key, pointInTime, forgetRate)
			if err != nil {
				return types.QueryResponse{}, err
			}
			entries = append(entries, types.QueryResponseEntry{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: score})
		}
		return types.QueryResponse{Scores: entries, Timestamp: time.Now().UTC()}, nil
	}
}

// buildScoreUpdateHandler persists gossiped score announcements as
// advisory cache entries. These are never treated as authoritative
// and never replayed onto a peer's behalf.
func buildScoreUpdateHandler(st *store.SQLiteStore, log *logging.Logger) p2p.ScoreUpdateHandler {
	return func(update p2p.ScoreUpdate) {
		key := types.AgentKey{IDDomain: update.IDDomain, AgentID: update.AgentID}
		if err := st.CachePut(context.Background(), key, update.FromPeer, update.Score, update.Timestamp); err != nil {
			log.Warn("failed to cache gossiped score update", logging.Fields{"error": err.Error()})
		}
	}
}

// Start brings the node fully online: P2P host, HTTP API, and the
// maintenance timer. It returns once the P2P host has started; the
// HTTP server and maintenance loop continue in the background.
func (n *Node) Start(ctx context.Context) error {
	if err := n.host.Start(ctx); err != nil {
		return fmt.Errorf("starting p2p host: %w", err)
	}

	maintCtx, cancel := context.WithCancel(context.Background())
	n.cancelMaintenance = cancel
	go n.runMaintenance(maintCtx)

	go func() {
		n.httpErr <- n.api.Start()
	}()

	return nil
}

// Wait returns the channel the HTTP acceptor's terminal error (if any)
// arrives on once it exits on its own, e.g. a listen/bind failure.
// Callers select on it alongside a shutdown signal so a bind failure
// after Start still exits the process instead of hanging forever.
func (n *Node) Wait() <-chan error {
	return n.httpErr
}

func (n *Node) runMaintenance(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-cacheTTL)
			evicted, err := n.store.CacheEvictOlderThan(ctx, cutoff)
			if err != nil {
				n.log.Warn("cache eviction failed", logging.Fields{"error": err.Error()})
				continue
			}
			if evicted > 0 {
				n.log.Debug("evicted stale cached peer scores", logging.Fields{"count": evicted})
			}
			if err := n.host.RefreshRoutingTable(); err != nil {
				n.log.Warn("dht routing table refresh failed", logging.Fields{"error": err.Error()})
			}
		}
	}
}

// Stop shuts every component down in order: maintenance timer, HTTP
// listener, P2P host, then the store.
func (n *Node) Stop(ctx context.Context) error {
	if n.cancelMaintenance != nil {
		n.cancelMaintenance()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(n.api.Stop(ctx))
	n.driver.stop()
	record(n.host.Stop(ctx))
	record(n.store.Close())

	return firstErr
}
