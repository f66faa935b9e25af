package node

import (
	"errors"
	"fmt"

	"github.com/180945/btcrelay/consensus"
	"github.com/180945/btcrelay/node/store"
	"github.com/180945/btcrelay/relay"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/prometheus/client_golang/prometheus"
)

// Service owns the store and relay engine for one network and records
// metrics for every operation.
type Service struct {
	cfg     Config
	params  *chaincfg.Params
	db      *store.DB
	engine  *relay.Engine
	metrics *metrics
}

// Status is a point-in-time summary of the relay.
type Status struct {
	Network        string `json:"network"`
	Backend        string `json:"backend"`
	Initialized    bool   `json:"initialized"`
	BestBlock      string `json:"best_block,omitempty"`
	BestHeight     uint32 `json:"best_height"`
	ChainCounter   uint32 `json:"chain_counter"`
	EpochStartBits string `json:"epoch_start_bits,omitempty"`
	EpochStartTime uint32 `json:"epoch_start_time"`
	EpochEndTime   uint32 `json:"epoch_end_time"`
	Confirmations  uint32 `json:"confirmations"`
}

// NewService opens the configured store and builds the engine. Metrics are
// registered on reg when it is non-nil.
func NewService(cfg Config, reg prometheus.Registerer) (*Service, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	params, err := ChainParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	backend, err := store.ParseBackend(cfg.DBBackend)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(store.Options{
		DataDir:         cfg.DataDir,
		Network:         params.Name,
		Backend:         backend,
		HeaderCacheSize: cfg.HeaderCache,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := newMetrics()
	if err := m.register(reg); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	s := &Service{cfg: cfg, params: params, db: db, metrics: m}
	s.engine = relay.New(db, relay.Config{
		Confirmations: cfg.Confirmations,
		ChainParams:   params,
		AllowInsecure: cfg.AllowInsecure,
		OnReorg:       s.onReorg,
	})

	if st, err := s.engine.State(); err == nil {
		m.bestHeight.Set(float64(st.BestHeight))
		log.Infof("Relay resumed at height %d (%s)", st.BestHeight, st.BestBlock)
	} else if !errors.Is(err, relay.ErrNotInitialized) {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) Engine() *relay.Engine { return s.engine }

func (s *Service) Params() *chaincfg.Params { return s.params }

func (s *Service) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Service) onReorg(r relay.ChainReorg) {
	s.metrics.reorgs.Inc()
	s.metrics.reorgDepth.Observe(float64(r.Depth))
	log.Infof("Reorg: %v", r)
}

// Initialize seeds the relay with header at height. The hash is derived from
// the header itself.
func (s *Service) Initialize(header []byte, height uint32) (*relay.State, error) {
	hash, err := consensus.HashHeader(header)
	if err != nil {
		return nil, err
	}
	st, err := s.engine.Initialize(header, height, hash)
	if err != nil {
		return nil, err
	}
	s.metrics.bestHeight.Set(float64(st.BestHeight))
	return st, nil
}

func (s *Service) SubmitHeader(req relay.SubmitRequest) (*relay.SubmitResult, error) {
	res, err := s.engine.SubmitHeader(req)
	if err != nil {
		s.metrics.reject(err)
		return nil, err
	}
	s.metrics.accepted.Inc()
	s.metrics.bestHeight.Set(float64(res.State.BestHeight))
	return res, nil
}

// SubmitHeaders submits headers as one atomic batch.
func (s *Service) SubmitHeaders(headers [][]byte) (*relay.BatchResult, error) {
	res, err := s.engine.SubmitHeaderBatch(headers)
	if err != nil {
		s.metrics.reject(err)
		return nil, err
	}
	s.metrics.accepted.Add(float64(len(res.Hashes)))
	s.metrics.bestHeight.Set(float64(res.State.BestHeight))
	return res, nil
}

func (s *Service) VerifyTx(req relay.VerifyTxRequest) (bool, error) {
	ok, err := s.engine.VerifyTx(req)
	if err != nil {
		s.metrics.verified.WithLabelValues(rejectionLabel(err)).Inc()
		return false, err
	}
	s.metrics.verified.WithLabelValues("ok").Inc()
	return ok, nil
}

// Header looks up a stored header by hash.
func (s *Service) Header(hash chainhash.Hash) (*relay.HeaderRecord, bool, error) {
	return s.engine.Header(hash)
}

func (s *Service) Status() (*Status, error) {
	out := &Status{
		Network:       s.params.Name,
		Backend:       s.cfg.DBBackend,
		Confirmations: s.engine.Confirmations(),
	}
	st, err := s.engine.State()
	if errors.Is(err, relay.ErrNotInitialized) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.Initialized = true
	out.BestBlock = st.BestBlock.String()
	out.BestHeight = st.BestHeight
	out.ChainCounter = st.ChainCounter
	out.EpochStartBits = fmt.Sprintf("%08x", consensus.TargetToCompact(st.EpochStartTarget))
	out.EpochStartTime = st.EpochStartTime
	out.EpochEndTime = st.EpochEndTime
	return out, nil
}
