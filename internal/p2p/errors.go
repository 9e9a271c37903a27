package p2p

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	// ErrNodeNotStarted indicates the P2P node is not started.
	ErrNodeNotStarted = errors.New("p2p node not started")

	// ErrNodeAlreadyStarted indicates the P2P node is already started.
	ErrNodeAlreadyStarted = errors.New("p2p node already started")

	// ErrInvalidTopic indicates an invalid topic name.
	ErrInvalidTopic = errors.New("invalid topic name")

	// ErrPeerUnreachable indicates a peer could not be dialed or the
	// stream could not be opened.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrQueryTimeout indicates a peer did not answer a query within
	// its deadline.
	ErrQueryTimeout = errors.New("peer query timed out")

	// ErrResponseTooLarge indicates a peer's reply exceeded the framing
	// size cap.
	ErrResponseTooLarge = errors.New("peer response too large")

	// ErrDHTNotReady indicates the DHT is not ready.
	ErrDHTNotReady = errors.New("DHT not ready")
)

// P2PError represents a P2P-specific error with context.
type P2PError struct {
	Op      string
	Err     error
	PeerID  *peer.ID
	Topic   string
	Context map[string]interface{}
}

func (e *P2PError) Error() string {
	msg := fmt.Sprintf("p2p %s: %v", e.Op, e.Err)
	if e.PeerID != nil {
		msg += fmt.Sprintf(" (peer: %s)", e.PeerID.String())
	}
	if e.Topic != "" {
		msg += fmt.Sprintf(" (topic: %s)", e.Topic)
	}
	return msg
}

func (e *P2PError) Unwrap() error {
	return e.Err
}

// NewP2PError creates a new P2P error.
func NewP2PError(op string, err error) *P2PError {
	return &P2PError{Op: op, Err: err, Context: make(map[string]interface{})}
}

// WithPeer adds peer context to the error.
func (e *P2PError) WithPeer(peerID peer.ID) *P2PError {
	e.PeerID = &peerID
	return e
}

// WithTopic adds topic context to the error.
func (e *P2PError) WithTopic(topic string) *P2PError {
	e.Topic = topic
	return e
}

// WithContext adds arbitrary context to the error.
func (e *P2PError) WithContext(key string, value interface{}) *P2PError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}
