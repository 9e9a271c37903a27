// Package store implements the durable local state: experiences,
// peers, and cached peer scores, backed by a single sqlite file per
// user.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixniemeyer/repeerv3-sub001/internal/idgen"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

// SQLiteStore implements the node's Store contract against a single
// sqlite file.
type SQLiteStore struct {
	config *Config
	db     *sql.DB

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) <DataDir>/<User>.db and
// ensures its schema exists.
func NewSQLiteStore(config *Config) (*SQLiteStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(config.DataDir, config.User+".db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errInternal("store.NewSQLiteStore", fmt.Errorf("opening database: %w", err))
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	s := &SQLiteStore{config: config, db: db}
	if err := s.initSchema(); err != nil {
		return nil, errInternal("store.NewSQLiteStore", fmt.Errorf("initializing schema: %w", err))
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS experiences (
			id TEXT PRIMARY KEY,
			id_domain TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			pv_roi REAL NOT NULL,
			invested_volume REAL NOT NULL,
			timestamp DATETIME NOT NULL,
			notes TEXT,
			data TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_experiences_agent ON experiences(id_domain, agent_id);
		CREATE INDEX IF NOT EXISTS idx_experiences_timestamp ON experiences(timestamp);

		CREATE TABLE IF NOT EXISTS peers (
			peer_id TEXT PRIMARY KEY,
			name TEXT,
			recommender_quality REAL NOT NULL,
			added_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS cached_scores (
			id_domain TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			expected_pv_roi REAL NOT NULL,
			total_volume REAL NOT NULL,
			data_points INTEGER NOT NULL,
			from_peer TEXT NOT NULL,
			cached_at DATETIME NOT NULL,
			PRIMARY KEY (id_domain, agent_id, from_peer)
		);
		CREATE INDEX IF NOT EXISTS idx_cached_scores_cached_at ON cached_scores(cached_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func clampQuality(q float64) float64 {
	if q > 1 {
		return 1
	}
	if q < -1 {
		return -1
	}
	return q
}

// AddExperience inserts a new experience, generating its id if unset.
func (s *SQLiteStore) AddExperience(ctx context.Context, exp *types.Experience) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.AddExperience")
	}

	if exp.ID == "" {
		canon, err := idgen.CanonicalJSON(exp)
		if err != nil {
			return errInternal("store.AddExperience", err)
		}
		id, err := idgen.NewExperienceID(canon)
		if err != nil {
			return errInternal("store.AddExperience", err)
		}
		exp.ID = id
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiences (id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, exp.ID, exp.IDDomain, exp.AgentID, exp.PVROI, exp.InvestedVolume, exp.Timestamp, exp.Notes, exp.Data, exp.CreatedAt)

	if err != nil {
		if isUniqueConstraintErr(err) {
			return errConflict("store.AddExperience")
		}
		return errInternal("store.AddExperience", fmt.Errorf("inserting experience: %w", err))
	}
	return nil
}

// GetExperiences returns all experiences for an agent key, newest first.
func (s *SQLiteStore) GetExperiences(ctx context.Context, key types.AgentKey) ([]types.Experience, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("store.GetExperiences")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data, created_at
		FROM experiences WHERE id_domain = ? AND agent_id = ? ORDER BY timestamp DESC
	`, key.IDDomain, key.AgentID)
	if err != nil {
		return nil, errInternal("store.GetExperiences", fmt.Errorf("querying experiences: %w", err))
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var e types.Experience
		var notes, data sql.NullString
		if err := rows.Scan(&e.ID, &e.IDDomain, &e.AgentID, &e.PVROI, &e.InvestedVolume, &e.Timestamp, &notes, &data, &e.CreatedAt); err != nil {
			return nil, errInternal("store.GetExperiences", fmt.Errorf("scanning experience row: %w", err))
		}
		e.Notes = notes.String
		e.Data = data.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// RemoveExperience deletes an experience by id. Idempotent.
func (s *SQLiteStore) RemoveExperience(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.RemoveExperience")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM experiences WHERE id = ?`, id)
	if err != nil {
		return errInternal("store.RemoveExperience", fmt.Errorf("deleting experience: %w", err))
	}
	return nil
}

// AddPeer inserts or replaces a peer, clamping recommender_quality.
func (s *SQLiteStore) AddPeer(ctx context.Context, p *types.Peer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.AddPeer")
	}

	now := time.Now().UTC()
	if p.AddedAt.IsZero() {
		p.AddedAt = now
	}
	p.UpdatedAt = now
	p.RecommenderQuality = clampQuality(p.RecommenderQuality)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (peer_id, name, recommender_quality, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET name=excluded.name, recommender_quality=excluded.recommender_quality, updated_at=excluded.updated_at
	`, p.PeerID, p.Name, p.RecommenderQuality, p.AddedAt, p.UpdatedAt)
	if err != nil {
		return errInternal("store.AddPeer", fmt.Errorf("inserting peer: %w", err))
	}
	return nil
}

// RemovePeer deletes a peer by id. Idempotent.
func (s *SQLiteStore) RemovePeer(ctx context.Context, peerID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.RemovePeer")
	}

	_, err := s.db.ExecContext(ctx, `DELETE FROM peers WHERE peer_id = ?`, peerID)
	if err != nil {
		return errInternal("store.RemovePeer", fmt.Errorf("deleting peer: %w", err))
	}
	return nil
}

// UpdatePeerQuality sets a peer's recommender_quality, clamped to [-1, 1].
func (s *SQLiteStore) UpdatePeerQuality(ctx context.Context, peerID string, quality float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.UpdatePeerQuality")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE peers SET recommender_quality = ?, updated_at = ? WHERE peer_id = ?
	`, clampQuality(quality), time.Now().UTC(), peerID)
	if err != nil {
		return errInternal("store.UpdatePeerQuality", fmt.Errorf("updating peer quality: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNotFound("store.UpdatePeerQuality")
	}
	return nil
}

// ListPeers returns every known peer.
func (s *SQLiteStore) ListPeers(ctx context.Context) ([]types.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("store.ListPeers")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id, name, recommender_quality, added_at, updated_at FROM peers ORDER BY added_at
	`)
	if err != nil {
		return nil, errInternal("store.ListPeers", fmt.Errorf("querying peers: %w", err))
	}
	defer rows.Close()

	var out []types.Peer
	for rows.Next() {
		var p types.Peer
		if err := rows.Scan(&p.PeerID, &p.Name, &p.RecommenderQuality, &p.AddedAt, &p.UpdatedAt); err != nil {
			return nil, errInternal("store.ListPeers", fmt.Errorf("scanning peer row: %w", err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPeer returns a single peer by id.
func (s *SQLiteStore) GetPeer(ctx context.Context, peerID string) (*types.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("store.GetPeer")
	}

	var p types.Peer
	err := s.db.QueryRowContext(ctx, `
		SELECT peer_id, name, recommender_quality, added_at, updated_at FROM peers WHERE peer_id = ?
	`, peerID).Scan(&p.PeerID, &p.Name, &p.RecommenderQuality, &p.AddedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errNotFound("store.GetPeer")
		}
		return nil, errInternal("store.GetPeer", fmt.Errorf("querying peer: %w", err))
	}
	return &p, nil
}

// CachePut records the outcome of a peer reply, at most one row per
// (agent_key, from_peer).
func (s *SQLiteStore) CachePut(ctx context.Context, key types.AgentKey, fromPeer string, score types.TrustScore, at time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed("store.CachePut")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_scores (id_domain, agent_id, expected_pv_roi, total_volume, data_points, from_peer, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id_domain, agent_id, from_peer) DO UPDATE SET
			expected_pv_roi=excluded.expected_pv_roi,
			total_volume=excluded.total_volume,
			data_points=excluded.data_points,
			cached_at=excluded.cached_at
	`, key.IDDomain, key.AgentID, score.ExpectedPVROI, score.TotalVolume, score.DataPoints, fromPeer, at)
	if err != nil {
		return errInternal("store.CachePut", fmt.Errorf("upserting cached score: %w", err))
	}
	return nil
}

// CacheGet returns all cached peer answers for an agent key.
func (s *SQLiteStore) CacheGet(ctx context.Context, key types.AgentKey) ([]types.CachedPeerScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("store.CacheGet")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id_domain, agent_id, expected_pv_roi, total_volume, data_points, from_peer, cached_at
		FROM cached_scores WHERE id_domain = ? AND agent_id = ?
	`, key.IDDomain, key.AgentID)
	if err != nil {
		return nil, errInternal("store.CacheGet", fmt.Errorf("querying cache: %w", err))
	}
	defer rows.Close()

	var out []types.CachedPeerScore
	for rows.Next() {
		var c types.CachedPeerScore
		if err := rows.Scan(&c.IDDomain, &c.AgentID, &c.Score.ExpectedPVROI, &c.Score.TotalVolume, &c.Score.DataPoints, &c.FromPeer, &c.CachedAt); err != nil {
			return nil, errInternal("store.CacheGet", fmt.Errorf("scanning cache row: %w", err))
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CacheEvictOlderThan removes cache rows cached before t, returning the
// number evicted.
func (s *SQLiteStore) CacheEvictOlderThan(ctx context.Context, t time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errClosed("store.CacheEvictOlderThan")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM cached_scores WHERE cached_at < ?`, t)
	if err != nil {
		return 0, errInternal("store.CacheEvictOlderThan", fmt.Errorf("evicting cache: %w", err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Export returns the full local state (experiences + peers, not cache).
func (s *SQLiteStore) Export(ctx context.Context) (*types.TrustDataExport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed("store.Export")
	}

	experiences, err := s.allExperiencesLocked(ctx)
	if err != nil {
		return nil, err
	}
	peers, err := s.allPeersLocked(ctx)
	if err != nil {
		return nil, err
	}

	return &types.TrustDataExport{
		Version:     "1",
		ExportedAt:  time.Now().UTC(),
		Experiences: experiences,
		Peers:       peers,
	}, nil
}

func (s *SQLiteStore) allExperiencesLocked(ctx context.Context) ([]types.Experience, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data, created_at
		FROM experiences ORDER BY timestamp DESC
	`)
	if err != nil {
		return nil, errInternal("store.Export", fmt.Errorf("querying experiences: %w", err))
	}
	defer rows.Close()

	var out []types.Experience
	for rows.Next() {
		var e types.Experience
		var notes, data sql.NullString
		if err := rows.Scan(&e.ID, &e.IDDomain, &e.AgentID, &e.PVROI, &e.InvestedVolume, &e.Timestamp, &notes, &data, &e.CreatedAt); err != nil {
			return nil, errInternal("store.Export", fmt.Errorf("scanning experience row: %w", err))
		}
		e.Notes = notes.String
		e.Data = data.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) allPeersLocked(ctx context.Context) ([]types.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id, name, recommender_quality, added_at, updated_at FROM peers ORDER BY added_at
	`)
	if err != nil {
		return nil, errInternal("store.Export", fmt.Errorf("querying peers: %w", err))
	}
	defer rows.Close()

	var out []types.Peer
	for rows.Next() {
		var p types.Peer
		if err := rows.Scan(&p.PeerID, &p.Name, &p.RecommenderQuality, &p.AddedAt, &p.UpdatedAt); err != nil {
			return nil, errInternal("store.Export", fmt.Errorf("scanning peer row: %w", err))
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Import loads an export, optionally truncating experiences and peers
// first. Runs inside a single transaction per spec §6.
func (s *SQLiteStore) Import(ctx context.Context, export *types.TrustDataExport, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed("store.Import")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errInternal("store.Import", fmt.Errorf("beginning transaction: %w", err))
	}
	defer tx.Rollback()

	if overwrite {
		if _, err := tx.ExecContext(ctx, `DELETE FROM experiences`); err != nil {
			return errInternal("store.Import", fmt.Errorf("truncating experiences: %w", err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM peers`); err != nil {
			return errInternal("store.Import", fmt.Errorf("truncating peers: %w", err))
		}
	}

	for _, e := range export.Experiences {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO experiences (id, id_domain, agent_id, pv_roi, invested_volume, timestamp, notes, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.IDDomain, e.AgentID, e.PVROI, e.InvestedVolume, e.Timestamp, e.Notes, e.Data, e.CreatedAt); err != nil {
			return errInternal("store.Import", fmt.Errorf("importing experience %s: %w", e.ID, err))
		}
	}

	for _, p := range export.Peers {
		q := clampQuality(p.RecommenderQuality)
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO peers (peer_id, name, recommender_quality, added_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, p.PeerID, p.Name, q, p.AddedAt, p.UpdatedAt); err != nil {
			return errInternal("store.Import", fmt.Errorf("importing peer %s: %w", p.PeerID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return errInternal("store.Import", fmt.Errorf("committing import: %w", err))
	}
	return nil
}

// Close is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
