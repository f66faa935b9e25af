package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/180945/btcrelay/node/store"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
)

type Config struct {
	Network       string `json:"network" long:"network" description:"Bitcoin network whose headers are relayed (mainnet|testnet3|regtest|signet|simnet)"`
	DataDir       string `json:"data_dir" long:"datadir" description:"Directory holding relay data"`
	DBBackend     string `json:"db_backend" long:"dbbackend" description:"Key-value backend (bolt|badger|memory)"`
	LogLevel      string `json:"log_level" long:"loglevel" description:"Logging level (trace|debug|info|warn|error|critical|off)"`
	Confirmations uint32 `json:"confirmations" long:"confirmations" description:"Blocks a fork must lead the best chain by before it is promoted"`
	HeaderCache   int    `json:"header_cache" long:"headercache" description:"Number of header records cached in memory"`
	AllowInsecure bool   `json:"allow_insecure" long:"allowinsecure" description:"Honour insecure (unconfirmed) transaction verification requests"`
	BatchSize     int    `json:"batch_size" long:"batchsize" description:"Headers per batch when importing"`
}

const (
	defaultBatchSize = 2016
	maxBatchSize     = 50_000
)

var allowedNetworks = map[string]*chaincfg.Params{
	"mainnet":  &chaincfg.MainNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"regtest":  &chaincfg.RegressionNetParams,
	"signet":   &chaincfg.SigNetParams,
	"simnet":   &chaincfg.SimNetParams,
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".btcrelay"
	}
	return filepath.Join(home, ".btcrelay")
}

func DefaultConfig() Config {
	return Config{
		Network:       "mainnet",
		DataDir:       DefaultDataDir(),
		DBBackend:     string(store.BackendBolt),
		LogLevel:      "info",
		Confirmations: 6,
		HeaderCache:   store.DefaultHeaderCacheSize,
		BatchSize:     defaultBatchSize,
	}
}

// LoadConfigFile overlays the JSON document at path onto cfg.
func LoadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator.
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config json: %w", err)
	}
	return nil
}

// ChainParams maps a network name to its consensus parameters.
func ChainParams(network string) (*chaincfg.Params, error) {
	p, ok := allowedNetworks[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", network)
	}
	return p, nil
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if _, err := ChainParams(cfg.Network); err != nil {
		return err
	}
	backend, err := store.ParseBackend(cfg.DBBackend)
	if err != nil {
		return err
	}
	if backend != store.BackendMemory && strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if _, ok := btclog.LevelFromString(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.Confirmations == 0 {
		return errors.New("confirmations must be > 0")
	}
	if cfg.HeaderCache < 0 {
		return errors.New("header_cache must be >= 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("batch_size must be > 0")
	}
	if cfg.BatchSize > maxBatchSize {
		return fmt.Errorf("batch_size must be <= %d", maxBatchSize)
	}
	return nil
}
