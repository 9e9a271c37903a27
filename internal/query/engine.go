// Package query implements the transitive trust query engine: it
// blends the local aggregation with live peer answers under a depth
// budget, with loop avoidance and per-peer timeouts.
package query

import (
	"context"
	"sync"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
	"github.com/felixniemeyer/repeerv3-sub001/internal/valuation"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/interfaces"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// DefaultPeerDeadline is the per-request deadline to a single peer.
const DefaultPeerDeadline = 10 * time.Second

// Engine resolves trust scores, locally or transitively.
type Engine struct {
	store  interfaces.Store
	client interfaces.P2PClient
	log    *logging.Logger

	peerDeadline time.Duration
}

// New builds a query Engine over a Store and a P2P client.
func New(store interfaces.Store, client interfaces.P2PClient, log *logging.Logger) *Engine {
	return &Engine{store: store, client: client, log: log, peerDeadline: DefaultPeerDeadline}
}

// LocalScore computes the depth-0 aggregation from the Store alone.
// Used both for local GET /trust calls and to answer inbound peer
// requests (the remote side is always forced to depth 0).
func (e *Engine) LocalScore(ctx context.Context, key types.AgentKey, pointInTime time.Time, forgetRate float64) (types.TrustScore, error) {
	experiences, err := e.store.GetExperiences(ctx, key)
	if err != nil {
		return types.TrustScore{}, err
	}
	return valuation.Aggregate(experiences, pointInTime, forgetRate), nil
}

// Query resolves the score for one agent key under params.
func (e *Engine) Query(ctx context.Context, key types.AgentKey, params types.QueryParams) (types.TrustScore, error) {
	pointInTime := params.PointInTime
	if pointInTime.IsZero() {
		pointInTime = time.Now().UTC()
	}

	local, err := e.LocalScore(ctx, key, pointInTime, params.ForgetRate)
	if err != nil {
		return types.TrustScore{}, err
	}
	e.announceLocalScore(key, local)

	if params.MaxDepth == 0 {
		return local, nil
	}

	peers, err := e.store.ListPeers(ctx)
	if err != nil {
		return types.TrustScore{}, err
	}

	contributions := e.fanOutToPeers(ctx, peers, key, pointInTime, params.ForgetRate)
	return combine(local, contributions), nil
}

// QueryBatch resolves scores for many agent keys independently. For
// depth >= 1 it sends one peer request per peer carrying all keys,
// never multiplexing per-key requests across peers.
func (e *Engine) QueryBatch(ctx context.Context, keys []types.AgentKey, params types.QueryParams) ([]types.AgentScore, error) {
	pointInTime := params.PointInTime
	if pointInTime.IsZero() {
		pointInTime = time.Now().UTC()
	}

	locals := make(map[types.AgentKey]types.TrustScore, len(keys))
	for _, key := range keys {
		local, err := e.LocalScore(ctx, key, pointInTime, params.ForgetRate)
		if err != nil {
			return nil, err
		}
		locals[key] = local
	}

	results := make([]types.AgentScore, len(keys))
	for i, key := range keys {
		results[i] = types.AgentScore{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: locals[key]}
	}
	if params.MaxDepth == 0 {
		return results, nil
	}

	peers, err := e.store.ListPeers(ctx)
	if err != nil {
		return nil, err
	}

	perKeyContribs := e.fanOutBatchToPeers(ctx, peers, keys, pointInTime, params.ForgetRate)
	for i, key := range keys {
		results[i].Score = combine(locals[key], perKeyContribs[key])
	}
	return results, nil
}

type contribution struct {
	volume     float64
	weighted   float64
	dataPoints int64
}

// combine folds a local score with a set of peer contributions using
// the contrarian-aware linear blend from the spec. The order
// contributions are summed in does not affect the result up to
// floating-point reassociation.
func combine(local types.TrustScore, contributions []contribution) types.TrustScore {
	totalVolume := local.TotalVolume
	totalWeighted := local.ExpectedPVROI * local.TotalVolume
	dataPoints := local.DataPoints

	for _, c := range contributions {
		totalVolume += c.volume
		totalWeighted += c.weighted
	}

	expected := 1.0
	if totalVolume > 0 {
		expected = totalWeighted / totalVolume
	}

	return types.TrustScore{
		ExpectedPVROI: expected,
		TotalVolume:   totalVolume,
		DataPoints:    dataPoints + sumDataPoints(contributions),
	}
}

func sumDataPoints(contributions []contribution) int64 {
	var n int64
	for _, c := range contributions {
		n += c.dataPoints
	}
	return n
}

func contributionFor(score types.TrustScore, quality float64) contribution {
	volume := score.TotalVolume * abs(quality)
	var weighted float64
	if quality > 0 {
		weighted = score.ExpectedPVROI * volume
	} else {
		weighted = (2 - score.ExpectedPVROI) * volume
	}
	return contribution{volume: volume, weighted: weighted, dataPoints: score.DataPoints}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// fanOutToPeers issues one TrustQueryRequest per peer with
// recommender_quality != 0, forcing remote depth 0, skipping peers
// that time out or error. Each successful reply is written to the
// cache here; only the resulting contributions are returned.
func (e *Engine) fanOutToPeers(ctx context.Context, peers []types.Peer, key types.AgentKey, pointInTime time.Time, forgetRate float64) []contribution {
	type result struct {
		score types.TrustScore
		peer  types.Peer
		ok    bool
	}

	resultsCh := make(chan result, len(peers))
	var wg sync.WaitGroup

	for _, p := range peers {
		if p.RecommenderQuality == 0 {
			continue
		}
		wg.Add(1)
		go func(p types.Peer) {
			defer wg.Done()
			score, ok := e.askPeer(ctx, p, []types.AgentKey{key}, pointInTime, forgetRate)[key]
			resultsCh <- result{score: score, peer: p, ok: ok}
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	var contributions []contribution
	for r := range resultsCh {
		if !r.ok {
			continue
		}
		_ = e.store.CachePut(ctx, key, r.peer.PeerID, r.score, time.Now().UTC())
		contributions = append(contributions, contributionFor(r.score, r.peer.RecommenderQuality))
	}
	return contributions
}

func (e *Engine) fanOutBatchToPeers(ctx context.Context, peers []types.Peer, keys []types.AgentKey, pointInTime time.Time, forgetRate float64) map[types.AgentKey][]contribution {
	type result struct {
		scores map[types.AgentKey]types.TrustScore
		peer   types.Peer
	}

	resultsCh := make(chan result, len(peers))
	var wg sync.WaitGroup

	for _, p := range peers {
		if p.RecommenderQuality == 0 {
			continue
		}
		wg.Add(1)
		go func(p types.Peer) {
			defer wg.Done()
			scores := e.askPeer(ctx, p, keys, pointInTime, forgetRate)
			resultsCh <- result{scores: scores, peer: p}
		}(p)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	out := make(map[types.AgentKey][]contribution, len(keys))
	for r := range resultsCh {
		for key, score := range r.scores {
			_ = e.store.CachePut(ctx, key, r.peer.PeerID, score, time.Now().UTC())
			out[key] = append(out[key], contributionFor(score, r.peer.RecommenderQuality))
		}
	}
	return out
}

// askPeer issues a single TrustQueryRequest to one peer and returns
// per-key scores for replies that were actually returned. Any error
// (timeout, transport failure, malformed reply, peer not connected) is
// swallowed: the caller simply gets an empty map for that peer.
func (e *Engine) askPeer(ctx context.Context, p types.Peer, keys []types.AgentKey, pointInTime time.Time, forgetRate float64) map[types.AgentKey]types.TrustScore {
	req := types.QueryRequest{
		MaxDepth:    0, // loop avoidance: remote side is always forced to depth 0
		PointInTime: &pointInTime,
		ForgetRate:  &forgetRate,
	}
	for _, k := range keys {
		req.Agents = append(req.Agents, [2]string{k.IDDomain, k.AgentID})
	}

	resp, err := e.client.Ask(ctx, p.PeerID, req, e.peerDeadline)
	if err != nil {
		if e.log != nil {
			e.log.Debug("peer query failed, skipping", logging.Fields{"peer_id": p.PeerID, "error": err.Error()})
		}
		return nil
	}

	out := make(map[types.AgentKey]types.TrustScore, len(resp.Scores))
	for _, entry := range resp.Scores {
		out[types.AgentKey{IDDomain: entry.IDDomain, AgentID: entry.AgentID}] = entry.Score
	}
	return out
}

// announceLocalScore advertises a freshly-computed local score on the
// advisory gossip topic, best effort. Publishing is never on the hook
// for a query's latency or success: failures (including a full P2P
// command queue) are swallowed.
func (e *Engine) announceLocalScore(key types.AgentKey, score types.TrustScore) {
	pub, ok := e.client.(interfaces.ScorePublisher)
	if !ok {
		return
	}
	go func() {
		if err := pub.PublishScoreUpdate(context.Background(), key, score); err != nil && e.log != nil {
			e.log.Debug("failed to announce local score", logging.Fields{"error": err.Error()})
		}
	}()
}
