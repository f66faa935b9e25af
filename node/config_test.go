package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestValidateConfigOK(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsUnknownNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "litecoin"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsEmptyNetwork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = " "
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsEmptyDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigMemoryNeedsNoDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.DBBackend = "memory"
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateConfigRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBBackend = "sqlite"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsInvalidLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "verbose"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsZeroConfirmations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Confirmations = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateConfigRejectsBatchSize(t *testing.T) {
	for _, n := range []int{0, -1, maxBatchSize + 1} {
		cfg := DefaultConfig()
		cfg.BatchSize = n
		if err := ValidateConfig(cfg); err == nil {
			t.Fatalf("batch_size=%d: expected error", n)
		}
	}
}

func TestValidateConfigRejectsNegativeHeaderCache(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeaderCache = -1
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestChainParams(t *testing.T) {
	cases := map[string]*chaincfg.Params{
		"mainnet":  &chaincfg.MainNetParams,
		"TestNet3": &chaincfg.TestNet3Params,
		"regtest":  &chaincfg.RegressionNetParams,
		"signet":   &chaincfg.SigNetParams,
		" simnet ": &chaincfg.SimNetParams,
	}
	for name, want := range cases {
		got, err := ChainParams(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if got != want {
			t.Fatalf("%q: got %s want %s", name, got.Name, want.Name)
		}
	}
	if _, err := ChainParams("testnet4"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btcrelay.json")
	doc := `{"network":"regtest","db_backend":"badger","confirmations":3}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := DefaultConfig()
	if err := LoadConfigFile(path, &cfg); err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Network != "regtest" || cfg.DBBackend != "badger" || cfg.Confirmations != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("defaults lost: %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadConfigFile(path, &cfg); err == nil {
		t.Fatalf("expected json error")
	}
	if err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.json"), &cfg); err == nil {
		t.Fatalf("expected read error")
	}
}
