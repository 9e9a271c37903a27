// Package interfaces defines the contracts the Runtime wires together:
// Store, QueryEngine, and P2PClient. Handlers and the query engine
// depend on these, never on concrete implementations, so tests can
// substitute fakes.
package interfaces

import (
	"context"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// Store is the durable local state: experiences, peers, cached peer
// scores.
type Store interface {
	AddExperience(ctx context.Context, exp *types.Experience) error
	GetExperiences(ctx context.Context, key types.AgentKey) ([]types.Experience, error)
	RemoveExperience(ctx context.Context, id string) error

	AddPeer(ctx context.Context, p *types.Peer) error
	RemovePeer(ctx context.Context, peerID string) error
	UpdatePeerQuality(ctx context.Context, peerID string, quality float64) error
	ListPeers(ctx context.Context) ([]types.Peer, error)
	GetPeer(ctx context.Context, peerID string) (*types.Peer, error)

	CachePut(ctx context.Context, key types.AgentKey, fromPeer string, score types.TrustScore, at time.Time) error
	CacheGet(ctx context.Context, key types.AgentKey) ([]types.CachedPeerScore, error)
	CacheEvictOlderThan(ctx context.Context, t time.Time) (int64, error)

	Export(ctx context.Context) (*types.TrustDataExport, error)
	Import(ctx context.Context, export *types.TrustDataExport, overwrite bool) error

	Close() error
}

// QueryEngine resolves trust scores for agents, locally or
// transitively across peers.
type QueryEngine interface {
	Query(ctx context.Context, key types.AgentKey, params types.QueryParams) (types.TrustScore, error)
	QueryBatch(ctx context.Context, keys []types.AgentKey, params types.QueryParams) ([]types.AgentScore, error)
	// LocalScore computes the depth-0 score from the Store alone; used
	// both for GET /trust depth=0 and to answer inbound peer requests.
	LocalScore(ctx context.Context, key types.AgentKey, pointInTime time.Time, forgetRate float64) (types.TrustScore, error)
}

// P2PClient is what the Query Engine needs from the P2P Layer to ask
// peers for scores.
type P2PClient interface {
	Ask(ctx context.Context, peerID string, req types.QueryRequest, deadline time.Duration) (types.QueryResponse, error)
	SelfID() string
}

// ScorePublisher is implemented by a P2P client that can announce a
// freshly-computed local score on the advisory gossip topic. It is
// optional: the Query Engine type-asserts for it and silently skips
// publishing when the wired client doesn't support it (e.g. in tests).
type ScorePublisher interface {
	PublishScoreUpdate(ctx context.Context, key types.AgentKey, score types.TrustScore) error
}
