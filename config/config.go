package config

import (
	"time"

	"github.com/cohesivestack/valgo"

	"github.com/joshjon/rtx/valgoutil"
)

// Config configures a Manager. It is loaded the same way any other program
// in this stack loads its config: InitDefaults seeds sane values, then
// Load overlays a YAML file and/or environment variables, then Validation
// is checked.
type Config struct {
	// DataDir is the directory holding tx.db, tx.db.lck, .trash/ and .tmp/.
	// Required.
	DataDir string `yaml:"data_dir" env:"RTX_DATA_DIR"`

	// LockTimeout bounds how long Acquire retries before giving up. The
	// locker's retry schedule is always 1,2,3,4,5s (15s total); a smaller
	// LockTimeout truncates that schedule, a larger one has no further
	// effect since the schedule itself is fixed.
	LockTimeout time.Duration `yaml:"lock_timeout" env:"RTX_LOCK_TIMEOUT"`

	// EncryptionKeyHex, if set, is a hex-encoded 16/24/32-byte AES key used
	// to encrypt Call/UndoCall argument blobs at rest. Optional.
	EncryptionKeyHex string `yaml:"encryption_key" env:"RTX_ENCRYPTION_KEY"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `yaml:"log_level" env:"RTX_LOG_LEVEL"`

	// LogDevelopment enables human-readable (tint) logging instead of JSON.
	LogDevelopment bool `yaml:"log_development" env:"RTX_LOG_DEVELOPMENT"`

	// Quota fields below are accepted and stored but never enforced by
	// Recovery's cleanup stub — see recovery.Recovery.Cleanup.
	// A from-scratch deployment wanting real quota enforcement should
	// implement it against these fields rather than inventing new ones.

	MaxTxs          int           `yaml:"max_txs" env:"RTX_MAX_TXS"`
	MaxOpenTxs      int           `yaml:"max_open_txs" env:"RTX_MAX_OPEN_TXS"`
	MaxCommittedTxs int           `yaml:"max_committed_txs" env:"RTX_MAX_COMMITTED_TXS"`
	MaxOpenAge      time.Duration `yaml:"max_open_age" env:"RTX_MAX_OPEN_AGE"`
	MaxCommittedAge time.Duration `yaml:"max_committed_age" env:"RTX_MAX_COMMITTED_AGE"`
}

const defaultLockTimeout = 15 * time.Second

func (c *Config) InitDefaults() {
	c.LockTimeout = defaultLockTimeout
	c.LogLevel = "info"
}

func (c *Config) Validation() *valgo.Validation {
	v := valgo.Is(valgo.String(c.DataDir, "data_dir").Not().Blank())
	v.Is(valgo.Int(int(c.LockTimeout), "lock_timeout").GreaterThan(0))

	if c.EncryptionKeyHex != "" {
		v.Is(valgoutil.HexAESKeyValidator(c.EncryptionKeyHex, "encryption_key"))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		v.Is(valgo.AddErrorMessage("log_level", "must be one of debug, info, warn, error"))
	}

	return v
}
