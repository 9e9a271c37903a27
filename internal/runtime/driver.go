package runtime

import (
	"context"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/internal/p2p"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// p2pCommandQueueSize bounds the number of in-flight P2P commands the
// driver goroutine will buffer before posting callers get Overloaded.
const p2pCommandQueueSize = 64

// p2pDriver owns the P2P host and is the only goroutine that ever
// calls into it for outbound work (Ask, PublishScoreUpdate). Other
// goroutines — API handlers, the query engine's peer fan-out — submit
// commands through a bounded channel instead of calling the host
// directly, so a slow or wedged host degrades into backpressure
// instead of an unbounded pile of blocked goroutines.
type p2pDriver struct {
	host  *p2p.P2PHost
	queue chan func()
	done  chan struct{}
}

func newP2PDriver(host *p2p.P2PHost) *p2pDriver {
	d := &p2pDriver{
		host:  host,
		queue: make(chan func(), p2pCommandQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *p2pDriver) run() {
	for {
		select {
		case cmd := <-d.queue:
			cmd()
		case <-d.done:
			return
		}
	}
}

// submit enqueues cmd without blocking. It returns an Overloaded error
// if the queue is full rather than ever blocking the caller.
func (d *p2pDriver) submit(cmd func()) error {
	select {
	case d.queue <- cmd:
		return nil
	default:
		return types.Newf(types.Overloaded, "p2pDriver.submit", "p2p command queue is full")
	}
}

func (d *p2pDriver) stop() {
	close(d.done)
}

// driverClient adapts the driver into interfaces.P2PClient and
// interfaces.ScorePublisher, so the query engine and the HTTP API
// send outbound work (Ask, PublishScoreUpdate) to the P2P host only
// through the bounded queue. SelfID reads the host's id directly.
type driverClient struct {
	driver *p2pDriver
	host   *p2p.P2PHost
}

func newDriverClient(driver *p2pDriver, host *p2p.P2PHost) *driverClient {
	return &driverClient{driver: driver, host: host}
}

func (c *driverClient) Ask(ctx context.Context, peerID string, req types.QueryRequest, deadline time.Duration) (types.QueryResponse, error) {
	type result struct {
		resp types.QueryResponse
		err  error
	}
	resultCh := make(chan result, 1)

	err := c.driver.submit(func() {
		resp, err := c.host.Ask(ctx, peerID, req, deadline)
		resultCh <- result{resp, err}
	})
	if err != nil {
		return types.QueryResponse{}, err
	}

	select {
	case r := <-resultCh:
		return r.resp, r.err
	case <-ctx.Done():
		return types.QueryResponse{}, ctx.Err()
	}
}

func (c *driverClient) PublishScoreUpdate(ctx context.Context, key types.AgentKey, score types.TrustScore) error {
	return c.driver.submit(func() {
		_ = c.host.PublishScoreUpdate(ctx, key, score)
	})
}

func (c *driverClient) SelfID() string {
	return c.host.SelfID()
}
