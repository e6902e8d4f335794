package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/slatechain/slate/pkg/consensus"
)

// Server exposes the node's consensus view over REST and WebSocket.
// It is read-only: blocks and votes only enter the node over gossip.
type Server struct {
	engine *consensus.Engine
	router *mux.Router
	hub    *Hub
}

func NewServer(engine *consensus.Engine) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
		hub:    NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/blocks", s.handleListBlocks).Methods("GET")
	api.HandleFunc("/blocks/{hash}", s.handleGetBlock).Methods("GET")
	api.HandleFunc("/validators", s.handleGetValidators).Methods("GET")
	api.HandleFunc("/checkpoints", s.handleGetCheckpoints).Methods("GET")
	api.HandleFunc("/evidence", s.handleGetEvidence).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State

	status := ChainStatus{
		Slot:       uint64(state.CurrentSlot()),
		SlotState:  s.engine.SlotState().String(),
		Justified:  checkpointInfo(state.GreatestJustifiedCheckpoint()),
		Finalized:  checkpointInfo(state.GreatestFinalizedCheckpoint()),
		BlockCount: len(state.AllBlocks()),
		VoteCount:  len(state.Votes()),
		Identity:   state.Identity().Hex(),
	}

	head, err := state.Head()
	if err == nil {
		status.HeadHash = hashHex(consensus.HashOfBlock(head))
		status.HeadSlot = uint64(head.Slot)
		if balances, err := state.ValidatorSetForSlot(head, state.CurrentSlot()); err == nil {
			status.ValidatorCount = len(balances)
		}
	}

	respondJSON(w, status)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State

	blocks := state.AllBlocks()
	out := make([]BlockInfo, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, s.blockInfo(b))
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	h, err := parseHash(vars["hash"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid hash", err.Error())
		return
	}

	b, err := s.engine.State.BlockByHash(h)
	if err != nil {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	respondJSON(w, s.blockInfo(b))
}

func (s *Server) handleGetValidators(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State

	head, err := state.Head()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "no complete tip", err.Error())
		return
	}
	balances, err := state.ValidatorSetForSlot(head, state.CurrentSlot())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "validator set unavailable", err.Error())
		return
	}

	out := make([]ValidatorInfo, 0, len(balances))
	for id, stake := range balances {
		out = append(out, ValidatorInfo{Address: id.Hex(), Stake: stake})
	}
	respondJSON(w, out)
}

func (s *Server) handleGetCheckpoints(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State

	justified := state.JustifiedCheckpoints()
	finalized := state.FinalizedCheckpoints()

	response := struct {
		Justified []CheckpointInfo `json:"justified"`
		Finalized []CheckpointInfo `json:"finalized"`
	}{
		Justified: make([]CheckpointInfo, 0, len(justified)),
		Finalized: make([]CheckpointInfo, 0, len(finalized)),
	}
	for _, cp := range justified {
		response.Justified = append(response.Justified, checkpointInfo(cp))
	}
	for _, cp := range finalized {
		response.Finalized = append(response.Finalized, checkpointInfo(cp))
	}
	respondJSON(w, response)
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	evidence := s.engine.Evidence()

	out := make([]EvidenceInfo, 0, len(evidence))
	for _, ev := range evidence {
		out = append(out, EvidenceInfo{
			Sender: ev.Sender.Hex(),
			Slot:   uint64(ev.Slot),
			HeadA:  hashHex(ev.VoteA.Message.HeadHash),
			HeadB:  hashHex(ev.VoteB.Message.HeadHash),
		})
	}
	respondJSON(w, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the node loop)
// ==============================

// AnnounceBlock pushes an accepted block to WebSocket subscribers.
func (s *Server) AnnounceBlock(b consensus.Block) {
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:  "block",
		Block: s.blockInfo(b),
	})
}

// AnnounceFinalized pushes an advanced finalized checkpoint to subscribers.
func (s *Server) AnnounceFinalized(cp consensus.Checkpoint) {
	s.hub.BroadcastToChannel("checkpoints", CheckpointUpdate{
		Type:       "checkpoint",
		Checkpoint: checkpointInfo(cp),
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) blockInfo(b consensus.Block) BlockInfo {
	state := s.engine.State

	info := BlockInfo{
		Hash:       hashHex(consensus.HashOfBlock(b)),
		ParentHash: hashHex(b.ParentHash),
		Slot:       uint64(b.Slot),
		Proposer:   b.Proposer.Hex(),
		BodySize:   len(b.Body),
		VoteCount:  len(b.Votes),
		Complete:   state.IsCompleteChain(b),
	}
	for _, child := range state.Children(b) {
		info.Children = append(info.Children, hashHex(consensus.HashOfBlock(child)))
	}
	return info
}

func checkpointInfo(cp consensus.Checkpoint) CheckpointInfo {
	return CheckpointInfo{
		BlockHash:      hashHex(cp.BlockHash),
		CheckpointSlot: uint64(cp.CheckpointSlot),
		BlockSlot:      uint64(cp.BlockSlot),
	}
}

func hashHex(h consensus.Hash) string {
	return "0x" + hex.EncodeToString(h[:])
}

func parseHash(s string) (consensus.Hash, error) {
	var h consensus.Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, errHashLength
	}
	copy(h[:], raw)
	return h, nil
}

var errHashLength = errors.New("hash must be 32 bytes")

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
