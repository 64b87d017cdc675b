package infra

import (
	"fmt"
	"math/big"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// Config holds all daemon configuration parsed from environment variables.
type Config struct {
	// Chain endpoints
	RPCURL string `env:"RPC_URL" envDefault:"http://localhost:8545"`
	// WSURL enables the log subscription; leave empty to poll only.
	WSURL   string `env:"WS_URL"`
	ChainID int64  `env:"CHAIN_ID" envDefault:"31337"`

	// Contracts
	GameContract string `env:"GAME_CONTRACT"`
	// DefaultBetToken pre-fills the create flow when no token is given.
	DefaultBetToken string `env:"DEFAULT_BET_TOKEN"`

	// Signing key, hex without 0x prefix
	PrivateKey string `env:"PRIVATE_KEY"`

	// Server
	APIPort            int    `env:"API_PORT" envDefault:"7788"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Lifecycle policy
	LobbyWindowSeconds int  `env:"LOBBY_WINDOW_SECONDS" envDefault:"600"`
	PollIntervalMS     int  `env:"POLL_INTERVAL_MS" envDefault:"3000"`
	DraftPollMS        int  `env:"DRAFT_POLL_INTERVAL_MS" envDefault:"2000"`
	AutoClaim          bool `env:"AUTO_CLAIM" envDefault:"false"`

	// Retry budgets
	ReceiptAttempts   int `env:"RECEIPT_ATTEMPTS" envDefault:"30"`
	ReceiptIntervalMS int `env:"RECEIPT_INTERVAL_MS" envDefault:"500"`
	SettleAttempts    int `env:"SETTLE_ATTEMPTS" envDefault:"25"`
	SettleIntervalMS  int `env:"SETTLE_INTERVAL_MS" envDefault:"500"`

	// Local storage
	PrefsPath string `env:"PREFS_PATH" envDefault:"pvpd.db"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	if c.GameContract == "" {
		return fmt.Errorf("GAME_CONTRACT is required")
	}
	if !common.IsHexAddress(c.GameContract) {
		return fmt.Errorf("GAME_CONTRACT %q is not a valid address", c.GameContract)
	}
	if c.DefaultBetToken != "" && !common.IsHexAddress(c.DefaultBetToken) {
		return fmt.Errorf("DEFAULT_BET_TOKEN %q is not a valid address", c.DefaultBetToken)
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if c.LobbyWindowSeconds <= 0 {
		return fmt.Errorf("LOBBY_WINDOW_SECONDS must be positive")
	}
	return nil
}

// GameContractAddress returns the parsed contract address.
func (c *Config) GameContractAddress() common.Address {
	return common.HexToAddress(c.GameContract)
}

// ChainIDBig returns the chain id in the form signing expects.
func (c *Config) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// LobbyWindow returns the lobby expiry as a duration.
func (c *Config) LobbyWindow() time.Duration {
	return time.Duration(c.LobbyWindowSeconds) * time.Second
}

// PollInterval returns the steady-state refresh cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// DraftPollInterval returns the in-draft refresh cadence.
func (c *Config) DraftPollInterval() time.Duration {
	return time.Duration(c.DraftPollMS) * time.Millisecond
}

// ReceiptInterval returns the receipt poll cadence.
func (c *Config) ReceiptInterval() time.Duration {
	return time.Duration(c.ReceiptIntervalMS) * time.Millisecond
}

// SettleInterval returns the settlement check cadence.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.SettleIntervalMS) * time.Millisecond
}
