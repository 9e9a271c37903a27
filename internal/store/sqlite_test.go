package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.User = "testuser"

	s, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddAndGetExperience_ReadYourWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := &types.Experience{
		IDDomain:       "ethereum",
		AgentID:        "0xabc",
		PVROI:          1.04762,
		InvestedVolume: 1000,
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, s.AddExperience(ctx, exp))
	assert.NotEmpty(t, exp.ID)

	got, err := s.GetExperiences(ctx, types.AgentKey{IDDomain: "ethereum", AgentID: "0xabc"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.04762, got[0].PVROI, 1e-9)
}

func TestAddExperience_DuplicateIDConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := &types.Experience{ID: "fixed-id", IDDomain: "d", AgentID: "a", PVROI: 1, InvestedVolume: 1, Timestamp: time.Now()}
	require.NoError(t, s.AddExperience(ctx, exp))

	dup := &types.Experience{ID: "fixed-id", IDDomain: "d", AgentID: "a", PVROI: 1, InvestedVolume: 1, Timestamp: time.Now()}
	err := s.AddExperience(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, types.Conflict, types.KindOf(err))
}

func TestRemoveExperience_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RemoveExperience(ctx, "does-not-exist"))
	require.NoError(t, s.RemoveExperience(ctx, "does-not-exist"))
}

func TestPeerQuality_ClampedOnWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPeer(ctx, &types.Peer{PeerID: "p1", RecommenderQuality: 5}))
	p, err := s.GetPeer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.RecommenderQuality)

	require.NoError(t, s.UpdatePeerQuality(ctx, "p1", -5))
	p, err = s.GetPeer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, -1.0, p.RecommenderQuality)
}

func TestUpdatePeerQuality_UnknownPeerNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdatePeerQuality(context.Background(), "ghost", 0.5)
	require.Error(t, err)
	assert.Equal(t, types.NotFound, types.KindOf(err))
}

func TestCache_OneRowPerAgentAndPeer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := types.AgentKey{IDDomain: "d", AgentID: "a"}

	require.NoError(t, s.CachePut(ctx, key, "peer1", types.TrustScore{ExpectedPVROI: 1.1, TotalVolume: 10, DataPoints: 1}, time.Now()))
	require.NoError(t, s.CachePut(ctx, key, "peer1", types.TrustScore{ExpectedPVROI: 1.2, TotalVolume: 20, DataPoints: 2}, time.Now()))

	rows, err := s.CacheGet(ctx, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 1.2, rows[0].Score.ExpectedPVROI, 1e-9)
}

func TestCacheEvictOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := types.AgentKey{IDDomain: "d", AgentID: "a"}

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.CachePut(ctx, key, "peer1", types.TrustScore{ExpectedPVROI: 1}, old))

	n, err := s.CacheEvictOlderThan(ctx, time.Now().Add(-1*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rows, err := s.CacheGet(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExportImport_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := &types.Experience{IDDomain: "d", AgentID: "a", PVROI: 1.1, InvestedVolume: 100, Timestamp: time.Now().UTC()}
	require.NoError(t, s.AddExperience(ctx, exp))
	require.NoError(t, s.AddPeer(ctx, &types.Peer{PeerID: "p1", Name: "Peer One", RecommenderQuality: 0.5}))

	export1, err := s.Export(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Import(ctx, export1, true))

	export2, err := s.Export(ctx)
	require.NoError(t, err)

	export1.ExportedAt = time.Time{}
	export2.ExportedAt = time.Time{}
	assert.Equal(t, export1, export2)
}

func TestImport_OverwriteTruncatesFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPeer(ctx, &types.Peer{PeerID: "stale", RecommenderQuality: 0}))

	fresh := &types.TrustDataExport{
		Version: "1",
		Peers:   []types.Peer{{PeerID: "fresh", RecommenderQuality: 0.2}},
	}
	require.NoError(t, s.Import(ctx, fresh, true))

	peers, err := s.ListPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "fresh", peers[0].PeerID)
}

func TestClose_Idempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := NewSQLiteStore(cfg)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.AddPeer(context.Background(), &types.Peer{PeerID: "p"})
	require.Error(t, err)
}
