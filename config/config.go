// Package config loads deployment configuration from the environment, with
// optional .env file support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Defaults target Polygon mainnet, matching the embedded token registry.
const (
	DefaultChainID        = 137
	DefaultListenAddr     = ":8080"
	DefaultConfirmTimeout = 3 * time.Minute
	DefaultSaleContract   = "0xBa5960bC268c9fCCD4C5890Ba318501262E3DbA2"
)

// Config holds everything needed to wire the connector, the orchestrators,
// and the HTTP surface.
type Config struct {
	ChainID        uint64
	RPCURL         string
	PrivateKey     string
	SaleContract   common.Address
	ConfirmTimeout time.Duration
	ListenAddr     string
	// RegistryPath optionally overrides the embedded token registry.
	RegistryPath string
}

// Load reads configuration from BRIDGE_* environment variables. A .env file
// in the working directory is applied first when present; real environment
// variables win over it.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		ChainID:        DefaultChainID,
		RPCURL:         os.Getenv("BRIDGE_RPC_URL"),
		PrivateKey:     os.Getenv("BRIDGE_PRIVATE_KEY"),
		SaleContract:   common.HexToAddress(DefaultSaleContract),
		ConfirmTimeout: DefaultConfirmTimeout,
		ListenAddr:     DefaultListenAddr,
		RegistryPath:   os.Getenv("BRIDGE_REGISTRY_PATH"),
	}

	if v := os.Getenv("BRIDGE_CHAIN_ID"); v != "" {
		chainID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BRIDGE_CHAIN_ID %q: %w", v, err)
		}
		cfg.ChainID = chainID
	}
	if v := os.Getenv("BRIDGE_SALE_CONTRACT"); v != "" {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("invalid BRIDGE_SALE_CONTRACT %q", v)
		}
		cfg.SaleContract = common.HexToAddress(v)
	}
	if v := os.Getenv("BRIDGE_CONFIRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BRIDGE_CONFIRM_TIMEOUT %q: %w", v, err)
		}
		cfg.ConfirmTimeout = d
	}
	if v := os.Getenv("BRIDGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("BRIDGE_RPC_URL is required")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("BRIDGE_PRIVATE_KEY is required")
	}
	return cfg, nil
}
