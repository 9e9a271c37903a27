package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixniemeyer/repeerv3-sub001/internal/p2p"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	p2pCfg := p2p.DefaultConfig()
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	p2pCfg.ListenAddrs = append(p2pCfg.ListenAddrs, addr)

	return Config{
		User:      "testuser",
		DataDir:   t.TempDir(),
		APIAddr:   "127.0.0.1:0",
		P2PConfig: p2pCfg,
	}
}

func TestNew_WiresEveryComponent(t *testing.T) {
	node, err := New(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, node.store)
	require.NotNil(t, node.engine)
	require.NotNil(t, node.host)
	require.NotNil(t, node.api)

	require.NoError(t, node.store.Close())
}

func TestStartStop_GracefulShutdown(t *testing.T) {
	node, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, node.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, node.Stop(stopCtx))
}

func TestP2PDriver_SubmitOverloadedWhenQueueFull(t *testing.T) {
	driver := newP2PDriver(nil)
	defer driver.stop()

	block := make(chan struct{})
	require.NoError(t, driver.submit(func() { <-block }))

	var lastErr error
	for i := 0; i < p2pCommandQueueSize+1; i++ {
		lastErr = driver.submit(func() {})
	}
	assert.Error(t, lastErr)
	assert.Equal(t, types.Overloaded, types.KindOf(lastErr))

	close(block)
}

func TestBuildQueryHandler_AnswersFromLocalScoreOnly(t *testing.T) {
	node, err := New(testConfig(t))
	require.NoError(t, err)
	defer node.store.Close()

	handler := buildQueryHandler(node.engine)
	resp, err := handler(context.Background(), types.QueryRequest{
		Agents: [][2]string{{"ethereum", "0xabc"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Scores, 1)
	assert.Equal(t, types.NeutralScore(), resp.Scores[0].Score)
}
