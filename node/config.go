package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/btcsuite/btcd/chaincfg"
)

type Config struct {
	Network             string `json:"network" toml:"network"`
	DataDir             string `json:"data_dir" toml:"data_dir"`
	LogLevel            string `json:"log_level" toml:"log_level"`
	ScriptThreads       int    `json:"script_threads" toml:"script_threads"`
	MaxMempoolTxs       int    `json:"max_mempool_txs" toml:"max_mempool_txs"`
	RecentRejects       int    `json:"recent_rejects" toml:"recent_rejects"`
	CTVActivationHeight uint32 `json:"ctv_activation_height" toml:"ctv_activation_height"`
}

var allowedLogLevels = map[string]struct{}{
	"trace":    {},
	"debug":    {},
	"info":     {},
	"warn":     {},
	"error":    {},
	"critical": {},
}

var networks = map[string]*chaincfg.Params{
	"regtest":  &chaincfg.RegressionNetParams,
	"testnet3": &chaincfg.TestNet3Params,
	"simnet":   &chaincfg.SimNetParams,
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".ctv"
	}
	return filepath.Join(home, ".ctv")
}

func DefaultConfig() Config {
	return Config{
		Network:       "regtest",
		DataDir:       DefaultDataDir(),
		LogLevel:      "info",
		ScriptThreads: 4,
		MaxMempoolTxs: 5000,
		RecentRejects: 1024,
	}
}

// NetParams returns the chain parameters for a configured network name.
func NetParams(network string) (*chaincfg.Params, error) {
	p, ok := networks[strings.ToLower(strings.TrimSpace(network))]
	if !ok {
		names := make([]string, 0, len(networks))
		for n := range networks {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown network %q (want one of %s)", network, strings.Join(names, ", "))
	}
	return p, nil
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if _, err := NetParams(cfg.Network); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.ScriptThreads <= 0 {
		return errors.New("script_threads must be > 0")
	}
	if cfg.ScriptThreads > 64 {
		return errors.New("script_threads must be <= 64")
	}
	if cfg.MaxMempoolTxs <= 0 {
		return errors.New("max_mempool_txs must be > 0")
	}
	if cfg.RecentRejects < 0 {
		return errors.New("recent_rejects must be >= 0")
	}
	return nil
}

// LoadConfigFile overlays the TOML file at path onto base. Keys the Config
// does not know are an error.
func LoadConfigFile(path string, base Config) (Config, error) {
	cfg := base
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}
