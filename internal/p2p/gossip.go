package p2p

import (
	"context"
	"encoding/json"
	"time"

	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// ScoreUpdate is an advisory announcement published on
// TopicScoreUpdates: "as of timestamp, I computed this score for this
// agent". Peers may use it to warm their cache; it is never a
// substitute for a direct query and never carries raw experiences.
type ScoreUpdate struct {
	IDDomain  string           `json:"id_domain"`
	AgentID   string           `json:"agent_id"`
	Score     types.TrustScore `json:"score"`
	FromPeer  string           `json:"from_peer"`
	Timestamp time.Time        `json:"timestamp"`
}

// ScoreUpdateHandler processes an inbound ScoreUpdate, typically by
// warming the local peer-score cache.
type ScoreUpdateHandler func(update ScoreUpdate)

// SetScoreUpdateHandler installs the function invoked for every
// ScoreUpdate received over gossipsub. Must be called before Start.
func (p *P2PHost) SetScoreUpdateHandler(handler ScoreUpdateHandler) {
	p.scoreUpdateHandler = handler
}

// PublishScoreUpdate announces this node's locally-computed score for
// an agent to the score-updates topic.
func (p *P2PHost) PublishScoreUpdate(ctx context.Context, key types.AgentKey, score types.TrustScore) error {
	update := ScoreUpdate{
		IDDomain:  key.IDDomain,
		AgentID:   key.AgentID,
		Score:     score,
		FromPeer:  p.SelfID(),
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return p.Publish(ctx, TopicScoreUpdates, payload)
}

// handleScoreUpdate is invoked by processMessage for every message on
// TopicScoreUpdates. Duplicate messages (same peer, agent and
// timestamp already seen) are dropped using the dedup cache so a
// slow-converging mesh doesn't re-trigger cache writes repeatedly.
func (p *P2PHost) handleScoreUpdate(data []byte) {
	var update ScoreUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		p.logger.Debug("dropping malformed score update", logging.Fields{"error": err.Error()})
		return
	}

	dedupKey := update.FromPeer + "|" + update.IDDomain + "|" + update.AgentID + "|" + update.Timestamp.String()
	if p.scoreUpdateCache.Has(dedupKey) {
		return
	}
	p.scoreUpdateCache.Set(dedupKey, []byte{1})

	if p.scoreUpdateHandler != nil {
		p.scoreUpdateHandler(update)
	}
}
