// Package config loads the host-process environment into the configured
// maxima that per-request overrides are clamped against.
package config

import (
	"os"
	"strconv"
	"strings"

	"judged/internal/logger"
)

// Limits holds the configured maxima for one stage (compile or run).
type Limits struct {
	TimeoutMs   int64
	CPUTimeMs   int64
	MemoryBytes int64
}

// Config is the engine-wide configuration read from the environment.
type Config struct {
	Compile Limits
	Run     Limits

	MaxConcurrentJobs int
	MaxProcessCount   int64
	MaxOpenFiles      int64
	MaxFileSize       int64
	OutputMaxSize     int64
	DisableNetworking bool

	Logger logger.Config

	// CatalogPath, when set, loads the language/runtime catalog consumed
	// by the registry adapter (C5) from this YAML file.
	CatalogPath string

	// ScratchRoot, CgroupRoot, SeccompDir, HelperPath, EnableSeccomp,
	// EnableNamespaces configure the sandbox provisioner (C1) and stage
	// runner (C2).
	ScratchRoot      string
	CgroupRoot       string
	SeccompDir       string
	HelperPath       string
	EnableSeccomp    bool
	EnableNamespaces bool

	// Addr is the bind address for the /judge and /healthz HTTP server.
	Addr string

	// AuthSecret, when set, gates /judge behind HS256 bearer-token auth.
	AuthSecret string

	// AuditMySQLDSN, when set, enables the optional session audit sink.
	AuditMySQLDSN string
}

// Load reads Config from the process environment, applying the defaults
// documented for each variable.
func Load() Config {
	return Config{
		Compile: Limits{
			TimeoutMs:   envInt64("COMPILE_TIMEOUT", 10_000),
			CPUTimeMs:   envInt64("COMPILE_CPU_TIME", 10_000),
			MemoryBytes: envInt64("COMPILE_MEMORY_LIMIT", 256*1024*1024),
		},
		Run: Limits{
			TimeoutMs:   envInt64("RUN_TIMEOUT", 5_000),
			CPUTimeMs:   envInt64("RUN_CPU_TIME", 5_000),
			MemoryBytes: envInt64("RUN_MEMORY_LIMIT", 256*1024*1024),
		},
		MaxConcurrentJobs: int(envInt64("MAX_CONCURRENT_JOBS", 4)),
		MaxProcessCount:   envInt64("MAX_PROCESS_COUNT", 32),
		MaxOpenFiles:      envInt64("MAX_OPEN_FILES", 64),
		MaxFileSize:       envInt64("MAX_FILE_SIZE", 32*1024*1024),
		OutputMaxSize:     envInt64("OUTPUT_MAX_SIZE", 1024*1024),
		DisableNetworking: envBool("DISABLE_NETWORKING", true),
		Logger: logger.Config{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		CatalogPath:      envString("RUNTIME_CATALOG_PATH", "runtimes.yaml"),
		ScratchRoot:      envString("SANDBOX_SCRATCH_ROOT", "/var/lib/judged/scratch"),
		CgroupRoot:       envString("SANDBOX_CGROUP_ROOT", "/sys/fs/cgroup/judged"),
		SeccompDir:       envString("SANDBOX_SECCOMP_DIR", ""),
		HelperPath:       envString("SANDBOX_HELPER_PATH", "sandbox-init"),
		EnableSeccomp:    envBool("SANDBOX_ENABLE_SECCOMP", true),
		EnableNamespaces: envBool("SANDBOX_ENABLE_NAMESPACES", true),
		Addr:             envString("JUDGED_ADDR", "0.0.0.0:8088"),
		AuthSecret:       envString("JUDGE_AUTH_SECRET", ""),
		AuditMySQLDSN:    envString("AUDIT_MYSQL_DSN", ""),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
