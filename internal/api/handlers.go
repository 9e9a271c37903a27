package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/felixniemeyer/repeerv3-sub001/internal/idgen"
	"github.com/felixniemeyer/repeerv3-sub001/internal/valuation"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

const maxQueryDepth = 10

func (s *Server) handleAddExperience(w http.ResponseWriter, r *http.Request) {
	var req types.AddExperienceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleAddExperience", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleAddExperience", err))
		return
	}

	discountRate := valuation.DefaultDiscountRate
	if req.DiscountRate != nil {
		discountRate = *req.DiscountRate
	}
	pvROI, err := valuation.PVROI(req.Investment, req.ReturnValue, req.TimeframeDays, discountRate)
	if err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleAddExperience", err))
		return
	}

	now := time.Now()
	exp := &types.Experience{
		IDDomain:       req.IDDomain,
		AgentID:        req.AgentID,
		PVROI:          pvROI,
		InvestedVolume: req.Investment,
		Timestamp:      now,
		Notes:          req.Notes,
		Data:           req.Data,
		CreatedAt:      now,
	}

	canon, err := idgen.CanonicalJSON(exp)
	if err != nil {
		s.writeError(w, r, types.New(types.Internal, "handleAddExperience", err))
		return
	}
	id, err := idgen.NewExperienceID(canon)
	if err != nil {
		s.writeError(w, r, types.New(types.Internal, "handleAddExperience", err))
		return
	}
	exp.ID = id

	if err := s.store.AddExperience(r.Context(), exp); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleListExperiences(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := types.AgentKey{IDDomain: vars["id_domain"], AgentID: vars["agent_id"]}

	exps, err := s.store.GetExperiences(r.Context(), key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exps)
}

func (s *Server) handleRemoveExperience(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.RemoveExperience(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := types.AgentKey{IDDomain: vars["id_domain"], AgentID: vars["agent_id"]}

	params, err := parseQueryParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	score, err := s.engine.Query(r.Context(), key, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.AgentScore{IDDomain: key.IDDomain, AgentID: key.AgentID, Score: score})
}

func (s *Server) handleTrustBatch(w http.ResponseWriter, r *http.Request) {
	var req types.TrustQuery
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleTrustBatch", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleTrustBatch", err))
		return
	}
	if req.MaxDepth > maxQueryDepth {
		s.writeError(w, r, types.Newf(types.InvalidArgument, "handleTrustBatch", "max_depth exceeds %d", maxQueryDepth))
		return
	}

	params := types.QueryParams{MaxDepth: req.MaxDepth, ForgetRate: req.ForgetRate, PointInTime: time.Now()}
	scores, err := s.engine.QueryBatch(r.Context(), req.Agents, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.TrustResponse{Scores: scores})
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.ListPeers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handlePeerSelf(w http.ResponseWriter, r *http.Request) {
	if s.p2p == nil {
		s.writeError(w, r, types.New(types.Internal, "handlePeerSelf", nil))
		return
	}
	s.writeJSON(w, http.StatusOK, s.p2p.SelfID())
}

func (s *Server) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var req types.AddPeerRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleAddPeer", err))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleAddPeer", err))
		return
	}

	now := time.Now()
	peer := &types.Peer{
		PeerID:             req.PeerID,
		Name:               req.Name,
		RecommenderQuality: req.RecommenderQuality,
		AddedAt:            now,
		UpdatedAt:          now,
	}
	if err := s.store.AddPeer(r.Context(), peer); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, peer)
}

func (s *Server) handleUpdatePeerQuality(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peer_id"]
	var req types.UpdateQualityRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleUpdatePeerQuality", err))
		return
	}
	if err := s.store.UpdatePeerQuality(r.Context(), peerID, req.Quality); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemovePeer(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["peer_id"]
	if err := s.store.RemovePeer(r.Context(), peerID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.store.Export(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	contentCID, err := idgen.ContentCID(export)
	if err != nil {
		s.writeError(w, r, types.New(types.Internal, "handleExport", err))
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		*types.TrustDataExport
		ContentCID string `json:"content_cid"`
	}{export, contentCID})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req types.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, types.New(types.InvalidArgument, "handleImport", err))
		return
	}
	if err := s.store.Import(r.Context(), &req.Data, req.Overwrite); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseQueryParams(r *http.Request) (types.QueryParams, error) {
	params := types.QueryParams{MaxDepth: 3, ForgetRate: 0, PointInTime: time.Now()}

	q := r.URL.Query()
	if v := q.Get("max_depth"); v != "" {
		d, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return params, types.New(types.InvalidArgument, "parseQueryParams", err)
		}
		params.MaxDepth = uint(d)
	}
	if params.MaxDepth > maxQueryDepth {
		return params, types.Newf(types.InvalidArgument, "parseQueryParams", "max_depth exceeds %d", maxQueryDepth)
	}
	if v := q.Get("forget_rate"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return params, types.New(types.InvalidArgument, "parseQueryParams", err)
		}
		params.ForgetRate = f
	}
	if v := q.Get("point_in_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, types.New(types.InvalidArgument, "parseQueryParams", err)
		}
		params.PointInTime = t
	}
	return params, nil
}
