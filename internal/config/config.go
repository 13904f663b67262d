package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ethereum/go-ethereum/common"
)

// SimulatedLedgerScheme selects the in-memory ledger instead of an EVM node.
const SimulatedLedgerScheme = "sim://"

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	LedgerRPCURL          string        `env:"LEDGER_RPC_URL,required=true"`
	LedgerContractAddress string        `env:"LEDGER_CONTRACT_ADDRESS"`
	LedgerChainID         int64         `env:"LEDGER_CHAIN_ID,default=1337"`
	LedgerPrivateKey      string        `env:"LEDGER_PRIVATE_KEY"`
	LedgerMaxAttempts     int           `env:"LEDGER_MAX_ATTEMPTS,default=3"`
	LedgerRetryDelay      time.Duration `env:"LEDGER_RETRY_DELAY,default=2s"`
	LedgerCallTimeout     time.Duration `env:"LEDGER_CALL_TIMEOUT,default=10s"`
	LedgerMineTimeout     time.Duration `env:"LEDGER_MINE_TIMEOUT,default=2m"`
	LedgerRateLimitPerSec int           `env:"LEDGER_RATE_LIMIT_PER_SEC,default=20"`
	// LedgerRateLimitShared paces ledger calls through Redis across replicas instead of in-process.
	LedgerRateLimitShared bool `env:"LEDGER_RATE_LIMIT_SHARED,default=true"`

	QueueJobAttempts  int           `env:"QUEUE_JOB_ATTEMPTS,default=2"`
	QueuePollInterval time.Duration `env:"QUEUE_POLL_INTERVAL,default=50ms"`
	BatchTimeout      time.Duration `env:"BATCH_TIMEOUT,default=10m"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	SweepStaleAfter time.Duration `env:"SWEEP_STALE_AFTER,default=30m"`
	SweepLimit      int           `env:"SWEEP_LIMIT,default=100"`

	LogConsumerPrefetch int `env:"LOG_CONSUMER_PREFETCH,default=10"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// SimulatedLedger reports whether the ledger URL selects the in-memory contract.
func (c *Config) SimulatedLedger() bool {
	return strings.HasPrefix(c.LedgerRPCURL, SimulatedLedgerScheme)
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"DATABASE_DSN":   c.DatabaseDSN,
		"RABBITMQ_URL":   c.RabbitMQURL,
		"REDIS_URL":      c.RedisURL,
		"LEDGER_RPC_URL": c.LedgerRPCURL,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
	}
	if !c.SimulatedLedger() {
		if !common.IsHexAddress(c.LedgerContractAddress) {
			return fmt.Errorf("LEDGER_CONTRACT_ADDRESS %q is not a hex address", c.LedgerContractAddress)
		}
		if strings.TrimSpace(c.LedgerPrivateKey) == "" {
			return fmt.Errorf("LEDGER_PRIVATE_KEY is required for %s", c.LedgerRPCURL)
		}
	}
	if c.LedgerMaxAttempts < 1 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1")
	}
	if c.LedgerMineTimeout < c.LedgerCallTimeout {
		return fmt.Errorf("LEDGER_MINE_TIMEOUT (%s) must not be shorter than LEDGER_CALL_TIMEOUT (%s)", c.LedgerMineTimeout, c.LedgerCallTimeout)
	}
	if c.QueueJobAttempts < 1 {
		return fmt.Errorf("QUEUE_JOB_ATTEMPTS must be at least 1")
	}
	if c.SweepStaleAfter <= c.BatchTimeout {
		return fmt.Errorf("SWEEP_STALE_AFTER (%s) must exceed BATCH_TIMEOUT (%s)", c.SweepStaleAfter, c.BatchTimeout)
	}
	return nil
}
