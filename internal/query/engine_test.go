package query

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// fakeStore is a minimal in-memory interfaces.Store for engine tests.
// Only the methods the query engine actually calls are exercised; the
// rest return zero values.
type fakeStore struct {
	mu          sync.Mutex
	experiences map[types.AgentKey][]types.Experience
	peers       []types.Peer
	cachePuts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{experiences: make(map[types.AgentKey][]types.Experience)}
}

func (s *fakeStore) AddExperience(ctx context.Context, exp *types.Experience) error { return nil }

func (s *fakeStore) GetExperiences(ctx context.Context, key types.AgentKey) ([]types.Experience, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.experiences[key], nil
}

func (s *fakeStore) RemoveExperience(ctx context.Context, id string) error { return nil }

func (s *fakeStore) AddPeer(ctx context.Context, p *types.Peer) error { return nil }
func (s *fakeStore) RemovePeer(ctx context.Context, peerID string) error { return nil }
func (s *fakeStore) UpdatePeerQuality(ctx context.Context, peerID string, quality float64) error {
	return nil
}

func (s *fakeStore) ListPeers(ctx context.Context) ([]types.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers, nil
}

func (s *fakeStore) GetPeer(ctx context.Context, peerID string) (*types.Peer, error) {
	return nil, nil
}

func (s *fakeStore) CachePut(ctx context.Context, key types.AgentKey, fromPeer string, score types.TrustScore, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachePuts++
	return nil
}

func (s *fakeStore) CacheGet(ctx context.Context, key types.AgentKey) ([]types.CachedPeerScore, error) {
	return nil, nil
}

func (s *fakeStore) CacheEvictOlderThan(ctx context.Context, t time.Time) (int64, error) {
	return 0, nil
}

func (s *fakeStore) Export(ctx context.Context) (*types.TrustDataExport, error) { return nil, nil }
func (s *fakeStore) Import(ctx context.Context, export *types.TrustDataExport, overwrite bool) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

// fakeP2PClient answers Ask with canned per-peer responses, or times
// out / errors for peers listed in unreachable.
type fakeP2PClient struct {
	mu          sync.Mutex
	responses   map[string]types.QueryResponse
	unreachable map[string]bool
	calls       []types.QueryRequest
}

func newFakeP2PClient() *fakeP2PClient {
	return &fakeP2PClient{responses: make(map[string]types.QueryResponse), unreachable: make(map[string]bool)}
}

func (c *fakeP2PClient) Ask(ctx context.Context, peerID string, req types.QueryRequest, deadline time.Duration) (types.QueryResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	if c.unreachable[peerID] {
		select {
		case <-time.After(deadline):
		case <-ctx.Done():
		}
		return types.QueryResponse{}, context.DeadlineExceeded
	}
	resp, ok := c.responses[peerID]
	if !ok {
		return types.QueryResponse{}, assertNeverError
	}
	return resp, nil
}

func (c *fakeP2PClient) SelfID() string { return "self" }

var assertNeverError = &noPeerDataError{}

type noPeerDataError struct{}

func (e *noPeerDataError) Error() string { return "no canned response for peer" }

func mkEngine(store *fakeStore, client *fakeP2PClient) *Engine {
	e := New(store, client, nil)
	e.peerDeadline = 200 * time.Millisecond
	return e
}

var key = types.AgentKey{IDDomain: "ethereum", AgentID: "0xabc"}

func TestQuery_DepthZero_NoNetworkTraffic(t *testing.T) {
	store := newFakeStore()
	store.experiences[key] = []types.Experience{
		{IDDomain: key.IDDomain, AgentID: key.AgentID, PVROI: 1.2, InvestedVolume: 100, Timestamp: time.Now()},
	}
	store.peers = []types.Peer{{PeerID: "peer1", RecommenderQuality: 0.5}}

	client := newFakeP2PClient()
	e := mkEngine(store, client)

	score, err := e.Query(context.Background(), key, types.QueryParams{MaxDepth: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.2, score.ExpectedPVROI, 1e-9)
	assert.Empty(t, client.calls)
}

func TestQuery_PeerBlend_Scenario4(t *testing.T) {
	store := newFakeStore()
	store.experiences[key] = []types.Experience{
		{IDDomain: key.IDDomain, AgentID: key.AgentID, PVROI: 1.2, InvestedVolume: 100, Timestamp: time.Now()},
	}
	store.peers = []types.Peer{{PeerID: "peer1", RecommenderQuality: 0.5}}

	client := newFakeP2PClient()
	client.responses["peer1"] = types.QueryResponse{
		Scores: []types.QueryResponseEntry{
			{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: types.TrustScore{ExpectedPVROI: 1.0, TotalVolume: 1000, DataPoints: 10}},
		},
	}
	e := mkEngine(store, client)

	score, err := e.Query(context.Background(), key, types.QueryParams{MaxDepth: 1})
	require.NoError(t, err)

	assert.InDelta(t, 1.0333333, score.ExpectedPVROI, 1e-5)
	assert.InDelta(t, 600, score.TotalVolume, 1e-9)
	assert.EqualValues(t, 11, score.DataPoints)
}

func TestQuery_Contrarian_Scenario5(t *testing.T) {
	store := newFakeStore()
	store.experiences[key] = []types.Experience{
		{IDDomain: key.IDDomain, AgentID: key.AgentID, PVROI: 1.2, InvestedVolume: 100, Timestamp: time.Now()},
	}
	store.peers = []types.Peer{{PeerID: "peer1", RecommenderQuality: -0.5}}

	client := newFakeP2PClient()
	client.responses["peer1"] = types.QueryResponse{
		Scores: []types.QueryResponseEntry{
			{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: types.TrustScore{ExpectedPVROI: 1.4, TotalVolume: 1000, DataPoints: 10}},
		},
	}
	e := mkEngine(store, client)

	score, err := e.Query(context.Background(), key, types.QueryParams{MaxDepth: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, score.ExpectedPVROI, 1e-9)
}

func TestQuery_PeerTimeout_Scenario6(t *testing.T) {
	store := newFakeStore()
	store.experiences[key] = []types.Experience{
		{IDDomain: key.IDDomain, AgentID: key.AgentID, PVROI: 1.1, InvestedVolume: 50, Timestamp: time.Now()},
	}
	store.peers = []types.Peer{{PeerID: "ghost", RecommenderQuality: 1}}

	client := newFakeP2PClient()
	client.unreachable["ghost"] = true
	e := mkEngine(store, client)
	e.peerDeadline = 50 * time.Millisecond

	start := time.Now()
	score, err := e.Query(context.Background(), key, types.QueryParams{MaxDepth: 1})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.InDelta(t, 1.1, score.ExpectedPVROI, 1e-9)
	assert.InDelta(t, 50, score.TotalVolume, 1e-9)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestQuery_RemoteDepthAlwaysZero(t *testing.T) {
	store := newFakeStore()
	store.peers = []types.Peer{{PeerID: "peer1", RecommenderQuality: 0.5}}

	client := newFakeP2PClient()
	client.responses["peer1"] = types.QueryResponse{}
	e := mkEngine(store, client)

	_, err := e.Query(context.Background(), key, types.QueryParams{MaxDepth: 5})
	require.NoError(t, err)
	require.Len(t, client.calls, 1)
	assert.EqualValues(t, 0, client.calls[0].MaxDepth)
}

func TestCombine_CommutativeAcrossContributions(t *testing.T) {
	local := types.TrustScore{ExpectedPVROI: 1.1, TotalVolume: 100, DataPoints: 2}
	a := contributionFor(types.TrustScore{ExpectedPVROI: 1.0, TotalVolume: 1000, DataPoints: 10}, 0.5)
	b := contributionFor(types.TrustScore{ExpectedPVROI: 1.4, TotalVolume: 1000, DataPoints: 10}, -0.5)

	ab := combine(local, []contribution{a, b})
	ba := combine(local, []contribution{b, a})

	assert.InDelta(t, ab.ExpectedPVROI, ba.ExpectedPVROI, 1e-12)
	assert.InDelta(t, ab.TotalVolume, ba.TotalVolume, 1e-12)
	assert.Equal(t, ab.DataPoints, ba.DataPoints)
}

func TestContributionFor_ContrarianSymmetry(t *testing.T) {
	score := types.TrustScore{ExpectedPVROI: 1.3, TotalVolume: 200, DataPoints: 5}

	positive := contributionFor(score, 0.5)
	negative := contributionFor(score, -0.5)

	assert.InDelta(t, positive.volume, negative.volume, 1e-12)
	mirrored := types.TrustScore{ExpectedPVROI: 2 - score.ExpectedPVROI, TotalVolume: score.TotalVolume, DataPoints: score.DataPoints}
	mirroredPositive := contributionFor(mirrored, 0.5)
	assert.InDelta(t, negative.weighted, mirroredPositive.weighted, 1e-9)
}

func TestQueryBatch_OnePeerRequestCarriesAllKeys(t *testing.T) {
	store := newFakeStore()
	keyB := types.AgentKey{IDDomain: "ethereum", AgentID: "0xdef"}
	store.peers = []types.Peer{{PeerID: "peer1", RecommenderQuality: 0.5}}

	client := newFakeP2PClient()
	client.responses["peer1"] = types.QueryResponse{
		Scores: []types.QueryResponseEntry{
			{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: types.TrustScore{ExpectedPVROI: 1.0, TotalVolume: 100, DataPoints: 1}},
			{IDDomain: keyB.IDDomain, AgentID: keyB.AgentID, Score: types.TrustScore{ExpectedPVROI: 1.0, TotalVolume: 100, DataPoints: 1}},
		},
	}
	e := mkEngine(store, client)

	results, err := e.QueryBatch(context.Background(), []types.AgentKey{key, keyB}, types.QueryParams{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, client.calls, 1)
	assert.Len(t, client.calls[0].Agents, 2)
}
