package types

import "time"

// AgentKey identifies an opaque reputation subject. Both fields are
// opaque to the core; only byte-equality comparability is required.
type AgentKey struct {
	IDDomain string `json:"id_domain" validate:"required"`
	AgentID  string `json:"agent_id" validate:"required"`
}

// Experience is one first-hand financial datapoint about an agent.
type Experience struct {
	ID             string    `json:"id"`
	IDDomain       string    `json:"id_domain"`
	AgentID        string    `json:"agent_id"`
	PVROI          float64   `json:"pv_roi"`
	InvestedVolume float64   `json:"invested_volume"`
	Timestamp      time.Time `json:"timestamp"`
	Notes          string    `json:"notes,omitempty"`
	Data           string    `json:"data,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key returns the experience's agent key.
func (e *Experience) Key() AgentKey {
	return AgentKey{IDDomain: e.IDDomain, AgentID: e.AgentID}
}

// Peer is a known recommender in the p2p overlay.
type Peer struct {
	PeerID             string    `json:"peer_id"`
	Name               string    `json:"name"`
	RecommenderQuality float64   `json:"recommender_quality"`
	AddedAt            time.Time `json:"added_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TrustScore is the aggregate a node reports for an agent. It is a
// value type, never stored directly for local computation.
type TrustScore struct {
	ExpectedPVROI float64 `json:"expected_pv_roi"`
	TotalVolume   float64 `json:"total_volume"`
	DataPoints    int64   `json:"data_points"`
}

// NeutralScore is reported for agents the node has no data on.
func NeutralScore() TrustScore {
	return TrustScore{ExpectedPVROI: 1.0, TotalVolume: 0, DataPoints: 0}
}

// CachedPeerScore is a byproduct of a transitive query: the last
// answer a peer gave for an agent key, kept advisory only.
type CachedPeerScore struct {
	IDDomain string     `json:"id_domain"`
	AgentID  string     `json:"agent_id"`
	Score    TrustScore `json:"score"`
	FromPeer string      `json:"from_peer"`
	CachedAt time.Time   `json:"cached_at"`
}

// QueryParams bounds a trust query.
type QueryParams struct {
	MaxDepth    uint      `json:"max_depth"`
	ForgetRate  float64   `json:"forget_rate"`
	PointInTime time.Time `json:"point_in_time"`
}

// AddExperienceRequest is the POST /experiences body.
type AddExperienceRequest struct {
	IDDomain      string   `json:"id_domain" validate:"required"`
	AgentID       string   `json:"agent_id" validate:"required"`
	Investment    float64  `json:"investment" validate:"gt=0"`
	ReturnValue   float64  `json:"return_value" validate:"gte=0"`
	TimeframeDays float64  `json:"timeframe_days" validate:"gte=0"`
	DiscountRate  *float64 `json:"discount_rate,omitempty"`
	Notes         string   `json:"notes,omitempty"`
	Data          string   `json:"data,omitempty"`
}

// AddPeerRequest is the POST /peers body.
type AddPeerRequest struct {
	PeerID             string  `json:"peer_id" validate:"required"`
	Name               string  `json:"name"`
	RecommenderQuality float64 `json:"recommender_quality"`
}

// UpdateQualityRequest is the POST /peers/:peer_id/quality body.
type UpdateQualityRequest struct {
	Quality float64 `json:"quality"`
}

// TrustQuery is the POST /trust/batch body.
type TrustQuery struct {
	Agents     []AgentKey `json:"agents" validate:"required,dive"`
	MaxDepth   uint       `json:"max_depth"`
	ForgetRate float64    `json:"forget_rate"`
}

// AgentScore pairs an AgentKey with its resolved TrustScore.
type AgentScore struct {
	IDDomain string     `json:"id_domain"`
	AgentID  string     `json:"agent_id"`
	Score    TrustScore `json:"score"`
}

// TrustResponse is the POST /trust/batch result.
type TrustResponse struct {
	Scores []AgentScore `json:"scores"`
}

// TrustDataExport is the full local-state export/import envelope.
type TrustDataExport struct {
	Version    string       `json:"version"`
	ExportedAt time.Time    `json:"exported_at"`
	Experiences []Experience `json:"experiences"`
	Peers       []Peer       `json:"peers"`
}

// ImportRequest is the POST /import body.
type ImportRequest struct {
	Data      TrustDataExport `json:"data"`
	Overwrite bool            `json:"overwrite"`
}

// QueryRequest is the wire body of the trust/query/1.0.0 protocol.
type QueryRequest struct {
	Agents      [][2]string `json:"agents"`
	MaxDepth    uint        `json:"max_depth"`
	PointInTime *time.Time  `json:"point_in_time,omitempty"`
	ForgetRate  *float64    `json:"forget_rate,omitempty"`
}

// QueryResponseEntry is one agent's resolved score in a wire response.
type QueryResponseEntry struct {
	IDDomain string     `json:"id_domain"`
	AgentID  string     `json:"agent_id"`
	Score    TrustScore `json:"score"`
}

// QueryResponse is the wire body of the trust/query/1.0.0 protocol.
type QueryResponse struct {
	Scores    []QueryResponseEntry `json:"scores"`
	Timestamp time.Time            `json:"timestamp"`
}
