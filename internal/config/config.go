// Package config loads server configuration from the environment and an
// optional YAML file. The environment covers process wiring; the file holds
// engine parameters and dev-token settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/coordinationlabs/jackpot-engine/internal/model"
)

var ErrInvalid = errors.New("config: invalid")

// Config is the full server configuration.
type Config struct {
	Port           string        `yaml:"-"`
	DatabaseURL    string        `yaml:"-"`
	RedisURL       string        `yaml:"-"`
	CacheTTL       time.Duration `yaml:"-"`
	AdminToken     string        `yaml:"-"`
	VRFPrivateKey  string        `yaml:"-"`
	KeeperSchedule string        `yaml:"-"`
	File           string        `yaml:"-"`

	Engine   EngineConfig   `yaml:"engine"`
	Token    TokenConfig    `yaml:"token"`
	Entropy  EntropyConfig  `yaml:"entropy"`
	Accounts AccountsConfig `yaml:"accounts"`
}

// EngineConfig mirrors model.Params with amounts in whole tokens, e.g. "2.5".
type EngineConfig struct {
	Owner                string        `yaml:"owner"`
	TicketPrice          string        `yaml:"ticket_price"`
	RoundDuration        time.Duration `yaml:"round_duration"`
	FeeBps               uint64        `yaml:"fee_bps"`
	ReferralFeeBps       uint64        `yaml:"referral_fee_bps"`
	LPPoolCap            string        `yaml:"lp_pool_cap"`
	LPLimit              int           `yaml:"lp_limit"`
	UserLimit            int           `yaml:"user_limit"`
	PurchasingEnabled    bool          `yaml:"purchasing_enabled"`
	ProtocolFeeAddress   string        `yaml:"protocol_fee_address"`
	ProtocolFeeThreshold string        `yaml:"protocol_fee_threshold"`
	FallbackWinner       string        `yaml:"fallback_winner"`
	MinLPDeposit         string        `yaml:"min_lp_deposit"`
}

// TokenConfig describes the in-process dev token.
type TokenConfig struct {
	Symbol         string `yaml:"symbol"`
	Decimals       uint8  `yaml:"decimals"`
	TransferFeeBps uint64 `yaml:"transfer_fee_bps"`
	FaucetAmount   string `yaml:"faucet_amount"`
}

// EntropyConfig prices randomness requests.
type EntropyConfig struct {
	Fee string `yaml:"fee"`
}

// AccountsConfig names the engine's own accounts.
type AccountsConfig struct {
	Engine string `yaml:"engine"`
	Keeper string `yaml:"keeper"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:           "8080",
		CacheTTL:       30 * time.Second,
		KeeperSchedule: "@every 30s",
		Engine: EngineConfig{
			Owner:                "0x0000000000000000000000000000000000000001",
			TicketPrice:          "1",
			RoundDuration:        24 * time.Hour,
			FeeBps:               3000,
			ReferralFeeBps:       1000,
			LPPoolCap:            "1000000",
			LPLimit:              100,
			UserLimit:            10000,
			PurchasingEnabled:    true,
			ProtocolFeeThreshold: "0",
			FallbackWinner:       "0x0000000000000000000000000000000000000001",
			MinLPDeposit:         "100",
		},
		Token: TokenConfig{
			Symbol:       "USDC",
			Decimals:     6,
			FaucetAmount: "1000",
		},
		Entropy: EntropyConfig{Fee: "0"},
		Accounts: AccountsConfig{
			Engine: "0x00000000000000000000000000000000006a636b",
			Keeper: "0x000000000000000000000000000000006b656570",
		},
	}
}

// Load reads the environment, then CONFIG_FILE if set.
func Load() (*Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (*Config, error) {
	cfg := Default()

	setString(&cfg.Port, getenv("PORT"))
	setString(&cfg.DatabaseURL, getenv("DATABASE_URL"))
	setString(&cfg.RedisURL, getenv("REDIS_URL"))
	setString(&cfg.AdminToken, getenv("ADMIN_TOKEN"))
	setString(&cfg.VRFPrivateKey, getenv("VRF_PRIVATE_KEY"))
	setString(&cfg.KeeperSchedule, getenv("KEEPER_SCHEDULE"))
	setString(&cfg.File, getenv("CONFIG_FILE"))
	if v := getenv("CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%w: CACHE_TTL: %v", ErrInvalid, err)
		}
		cfg.CacheTTL = ttl
	}

	if cfg.File != "" {
		data, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, cfg.File, err)
		}
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Params converts the engine section into model.Params.
func (c *Config) Params() (model.Params, error) {
	e := c.Engine
	dec := c.Token.Decimals
	p := model.Params{
		RoundDuration:     e.RoundDuration,
		FeeBps:            e.FeeBps,
		ReferralFeeBps:    e.ReferralFeeBps,
		LPLimit:           e.LPLimit,
		UserLimit:         e.UserLimit,
		PurchasingEnabled: e.PurchasingEnabled,
		TokenDecimals:     dec,
	}

	var err error
	if p.Owner, err = address("engine.owner", e.Owner); err != nil {
		return p, err
	}
	if p.FallbackWinner, err = address("engine.fallback_winner", e.FallbackWinner); err != nil {
		return p, err
	}
	if p.ProtocolFeeAddress, err = address("engine.protocol_fee_address", e.ProtocolFeeAddress); err != nil {
		return p, err
	}

	amounts := []struct {
		name string
		raw  string
		dst  *uint256.Int
	}{
		{"engine.ticket_price", e.TicketPrice, &p.TicketPrice},
		{"engine.lp_pool_cap", e.LPPoolCap, &p.LPPoolCap},
		{"engine.protocol_fee_threshold", e.ProtocolFeeThreshold, &p.ProtocolFeeThreshold},
		{"engine.min_lp_deposit", e.MinLPDeposit, &p.MinLPDeposit},
	}
	for _, a := range amounts {
		v, err := c.Amount(a.name, a.raw)
		if err != nil {
			return p, err
		}
		a.dst.Set(v)
	}
	return p, nil
}

// Amount parses a whole-token amount in the dev token's decimals. Empty is
// zero.
func (c *Config) Amount(name, raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := model.ParseAmount(raw, c.Token.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}
	return v, nil
}

// EngineAddress is the account the engine holds funds under.
func (c *Config) EngineAddress() (common.Address, error) {
	return address("accounts.engine", c.Accounts.Engine)
}

// KeeperAddress is the account the keeper requests rounds as.
func (c *Config) KeeperAddress() (common.Address, error) {
	return address("accounts.keeper", c.Accounts.Keeper)
}

func address(name, raw string) (common.Address, error) {
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address: %q", ErrInvalid, name, raw)
	}
	return common.HexToAddress(raw), nil
}
