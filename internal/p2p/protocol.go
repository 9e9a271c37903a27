package p2p

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// QueryProtocolID identifies the direct request-response stream
// protocol peers use to ask each other for trust scores.
const QueryProtocolID = protocol.ID("/trust/query/1.0.0")

// maxFrameSize bounds a single length-prefixed JSON frame.
const maxFrameSize = 1 << 20 // 1 MiB

// QueryHandler answers an inbound trust query locally. Implemented by
// the query engine (always at depth 0, per the loop-avoidance
// invariant the caller already encodes into the request).
type QueryHandler func(ctx context.Context, req types.QueryRequest) (types.QueryResponse, error)

// SetQueryHandler installs the function that answers inbound
// trust/query/1.0.0 streams. Must be called before Start.
func (p *P2PHost) SetQueryHandler(handler QueryHandler) {
	p.queryHandler = handler
}

func (p *P2PHost) registerQueryProtocol() {
	p.host.SetStreamHandler(QueryProtocolID, p.handleQueryStream)
}

func (p *P2PHost) handleQueryStream(s network.Stream) {
	defer s.Close()

	remote := s.Conn().RemotePeer()
	logger := p.logger.With(logging.Fields{"peer_id": remote.String()})

	_ = s.SetDeadline(time.Now().Add(p.config.QueryTimeout))

	req, err := readFrame(s)
	if err != nil {
		logger.Warn("failed to read query frame", logging.Fields{"error": err.Error()})
		s.Reset()
		return
	}

	var query types.QueryRequest
	if err := json.Unmarshal(req, &query); err != nil {
		logger.Warn("malformed query payload", logging.Fields{"error": err.Error()})
		s.Reset()
		return
	}

	// The remote side of a peer request always runs at depth 0: this
	// node never asks its own peers on another node's behalf.
	query.MaxDepth = 0

	if p.queryHandler == nil {
		s.Reset()
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.config.QueryTimeout)
	resp, err := p.queryHandler(ctx, query)
	cancel()
	if err != nil {
		logger.Warn("query handler failed", logging.Fields{"error": err.Error()})
		s.Reset()
		return
	}
	resp.Timestamp = time.Now().UTC()

	payload, err := json.Marshal(resp)
	if err != nil {
		s.Reset()
		return
	}
	if err := writeFrame(s, payload); err != nil {
		logger.Warn("failed to write query response", logging.Fields{"error": err.Error()})
	}
}

// Ask sends a trust query to a peer over a fresh stream and waits for
// its response, or for deadline to elapse. Implements
// interfaces.P2PClient for the query engine.
func (p *P2PHost) Ask(ctx context.Context, peerIDStr string, req types.QueryRequest, deadline time.Duration) (types.QueryResponse, error) {
	if !p.started {
		return types.QueryResponse{}, ErrNodeNotStarted
	}

	pid, err := peer.Decode(peerIDStr)
	if err != nil {
		return types.QueryResponse{}, NewP2PError("ask", err).WithContext("peer_id", peerIDStr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	s, err := p.host.NewStream(dialCtx, pid, QueryProtocolID)
	if err != nil {
		return types.QueryResponse{}, fmt.Errorf("%w: %s", ErrPeerUnreachable, err)
	}
	defer s.Close()

	_ = s.SetDeadline(time.Now().Add(deadline))

	payload, err := json.Marshal(req)
	if err != nil {
		return types.QueryResponse{}, err
	}
	if err := writeFrame(s, payload); err != nil {
		s.Reset()
		return types.QueryResponse{}, fmt.Errorf("%w: %s", ErrPeerUnreachable, err)
	}

	respBytes, err := readFrame(s)
	if err != nil {
		s.Reset()
		if dialCtx.Err() != nil {
			return types.QueryResponse{}, ErrQueryTimeout
		}
		return types.QueryResponse{}, fmt.Errorf("%w: %s", ErrPeerUnreachable, err)
	}

	var resp types.QueryResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return types.QueryResponse{}, fmt.Errorf("malformed peer response: %w", err)
	}
	return resp, nil
}

// SelfID returns this node's own peer ID.
func (p *P2PHost) SelfID() string {
	if p.host == nil {
		return ""
	}
	return p.host.ID().String()
}

// writeFrame writes a 4-byte big-endian length prefix followed by payload.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return ErrResponseTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads a 4-byte big-endian length prefix followed by payload,
// rejecting frames above maxFrameSize.
func readFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, ErrResponseTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
