// Package api exposes the node's HTTP surface: experiences, trust
// queries, peer management, and export/import, as described in the
// node's external interface contract.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/felixniemeyer/repeerv3-sub001/internal/logging"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/interfaces"
	"github.com/felixniemeyer/repeerv3-sub001/pkg/types"
)

type correlationIDKey struct{}

var validate = validator.New()

// Server is the node's HTTP API.
type Server struct {
	store  interfaces.Store
	engine interfaces.QueryEngine
	p2p    interfaces.P2PClient
	log    *logging.Logger

	router     *mux.Router
	httpServer *http.Server
}

// NewServer wires a Server over the node's store, query engine and
// P2P client, listening on addr (e.g. ":8080").
func NewServer(addr string, store interfaces.Store, engine interfaces.QueryEngine, p2pClient interfaces.P2PClient, log *logging.Logger) *Server {
	if log == nil {
		log = logging.New("api", logging.LevelInfo)
	}

	s := &Server{
		store:  store,
		engine: engine,
		p2p:    p2pClient,
		log:    log,
		router: mux.NewRouter(),
	}

	s.setupRoutes()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	handler := handlers.LoggingHandler(os.Stdout, corsHandler.Handler(s.router))
	handler = s.recoverMiddleware(handler)
	handler = correlationIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until the listener fails or Stop is called.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/experiences", s.handleAddExperience).Methods("POST")
	s.router.HandleFunc("/experiences/{id_domain}/{agent_id}", s.handleListExperiences).Methods("GET")
	s.router.HandleFunc("/experiences/{id}", s.handleRemoveExperience).Methods("DELETE")

	s.router.HandleFunc("/trust/batch", s.handleTrustBatch).Methods("POST")
	s.router.HandleFunc("/trust/{id_domain}/{agent_id}", s.handleGetTrust).Methods("GET")

	s.router.HandleFunc("/peers", s.handleListPeers).Methods("GET")
	s.router.HandleFunc("/peers", s.handleAddPeer).Methods("POST")
	s.router.HandleFunc("/peers/self", s.handlePeerSelf).Methods("GET")
	s.router.HandleFunc("/peers/{peer_id}/quality", s.handleUpdatePeerQuality).Methods("POST")
	s.router.HandleFunc("/peers/{peer_id}", s.handleRemovePeer).Methods("DELETE")

	s.router.HandleFunc("/export", s.handleExport).Methods("GET")
	s.router.HandleFunc("/import", s.handleImport).Methods("POST")
}

// correlationIDMiddleware attaches a short random hex id to the
// request context, used to correlate a logged Internal error with the
// opaque message the caller actually sees.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4)
		_, _ = rand.Read(buf)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, hex.EncodeToString(buf))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(correlationIDKey{}).(string)
	return id
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic handling request", logging.Fields{"panic": r})
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode("OK")
}

// writeJSON writes v as the JSON body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", logging.Fields{"error": err.Error()})
	}
}

// writeError maps err's types.Kind to an HTTP status and writes a
// small JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.KindOf(err)
	if kind == types.Internal {
		id := correlationID(r)
		s.log.Error("internal error handling request", logging.Fields{"error": err.Error(), "correlation_id": id})
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "correlation_id": id})
		return
	}
	s.writeJSON(w, kind.HTTPStatus(), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
