package txnkv

import (
	"log"
	"os"
	"strconv"

	"github.com/clayne/splinterdb/kvs"
)

// IsolationLevel mirrors the source's transaction_isolation_level enum.
// Only LevelSerializable is actually enforced by the protocol; the
// others are accepted and stored but have no effect. Out-of-range
// values are rejected; in-range non-serializable values are silently
// promoted to serializable behavior and documented, rather than
// guessing a weaker protocol nobody asked for.
type IsolationLevel int

const (
	levelInvalid IsolationLevel = iota
	LevelSerializable
	LevelSnapshot
	LevelReadCommitted
	levelMaxValid
)

func (l IsolationLevel) valid() bool {
	return l > levelInvalid && l < levelMaxValid
}

func (l IsolationLevel) String() string {
	switch l {
	case LevelSerializable:
		return "serializable"
	case LevelSnapshot:
		return "snapshot"
	case LevelReadCommitted:
		return "read-committed"
	default:
		return "invalid"
	}
}

// LogFunc matches the teacher's package-level LogFunc typedef
// (package.go); it is the type of Config.LogWarning.
type LogFunc func(format string, v ...interface{})

func defaultLogFunc(prefix string) LogFunc {
	l := log.New(os.Stderr, prefix, log.LstdFlags)
	return func(format string, v ...interface{}) { l.Printf(format, v...) }
}

// Config configures a DB. Store and Data are required; everything else
// has a default matching the source (tscache_log_slots=29,
// isol_level=serializable).
type Config struct {
	Store kvs.Store
	Data  kvs.DataConfig

	IsolationLevel IsolationLevel

	// TSCacheLogSlots sizes the timestamp cache (default 29, matching
	// transactional_splinterdb_config_init).
	TSCacheLogSlots uint

	// KeepAllKeys selects the non-removing timestamp-cache variant:
	// slots are never reclaimed. Suitable for a benchmark mode, not
	// production, since it leaks a slot per distinct key ever
	// referenced by any transaction.
	KeepAllKeys bool

	// SiloCommitTS adds +1 to each read's contribution to the initial
	// commit timestamp, matching the "Silo" build variant of the
	// source. Off by default; this is a mode switch, not the default
	// TicToc behavior.
	SiloCommitTS bool

	// MaxRWSetSize bounds the number of distinct keys one transaction may
	// touch (the source's fixed RW_SET_SIZE_LIMIT array). Default 4096.
	MaxRWSetSize int

	// LogWarning defaults to a *log.Logger writing to stderr, matching the
	// teacher's LogFunc convention. It is kept in the resolved Config; no
	// code path in this package calls it.
	LogWarning LogFunc
}

func resolveConfig(cfg Config) (Config, error) {
	if cfg.Store == nil {
		fatalf("Config.Store must not be nil")
	}
	if cfg.Data == nil {
		fatalf("Config.Data must not be nil")
	}
	if cfg.IsolationLevel == levelInvalid {
		cfg.IsolationLevel = LevelSerializable
	}
	if !cfg.IsolationLevel.valid() {
		return cfg, ErrInvalidIsolationLevel
	}
	if cfg.TSCacheLogSlots == 0 {
		if env := os.Getenv("TXNKV_TSCACHE_LOG_SLOTS"); env != "" {
			if val, err := strconv.Atoi(env); err == nil && val > 0 {
				cfg.TSCacheLogSlots = uint(val)
			}
		}
	}
	if cfg.TSCacheLogSlots == 0 {
		cfg.TSCacheLogSlots = 29
	}
	if cfg.MaxRWSetSize <= 0 {
		cfg.MaxRWSetSize = 4096
	}
	if cfg.LogWarning == nil {
		cfg.LogWarning = defaultLogFunc("txnkv ")
	}
	return cfg, nil
}
