// Package config defines scc-gateway's recognized configuration surface
// (§6.4): environment variables with an optional YAML bootstrap file,
// modeled after kilroy's engine.RunConfigFile: explicit typed fields,
// no reflection-based env binding.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option §6.4 recognizes.
type Config struct {
	GatewayPort int

	ExecConcurrency map[string]int           // EXEC_CONCURRENCY_<EXECUTOR>
	ExecTimeout     map[string]time.Duration // EXEC_TIMEOUT_<EXECUTOR>_MS

	ModelPoolFree   []string
	ModelPoolVision []string

	ContextPackV1Required bool

	SeenWindow   time.Duration
	StallSeconds time.Duration

	MaxSpawnPerTick map[string]int // MAX_SPAWN_<EXECUTOR>_PER_TICK, advisory
	MaxPrunePerTick map[string]int // MAX_PRUNE_<EXECUTOR>_PER_TICK, advisory

	DataDir string // root for state/, artifacts/, map/
}

// Default returns scc-gateway's documented defaults.
func Default() Config {
	return Config{
		GatewayPort:            18788,
		ExecConcurrency:        map[string]int{},
		ExecTimeout:            map[string]time.Duration{},
		ContextPackV1Required:  true,
		SeenWindow:             120 * time.Second,
		StallSeconds:           60 * time.Second,
		MaxSpawnPerTick:        map[string]int{},
		MaxPrunePerTick:        map[string]int{},
		DataDir:                ".",
	}
}

// bootstrapFile is the optional YAML shape used for local development; it
// mirrors the env surface field-for-field so either source can supply a
// value, with environment variables taking precedence when both are set.
type bootstrapFile struct {
	GatewayPort           int            `yaml:"gateway_port"`
	ExecConcurrency       map[string]int `yaml:"exec_concurrency"`
	ExecTimeoutMS         map[string]int `yaml:"exec_timeout_ms"`
	ModelPoolFree         []string       `yaml:"model_pool_free"`
	ModelPoolVision       []string       `yaml:"model_pool_vision"`
	ContextPackV1Required *bool          `yaml:"context_pack_v1_required"`
	SeenWindowMS          int            `yaml:"seen_window_ms"`
	StallSeconds          int            `yaml:"stall_seconds"`
	MaxSpawnPerTick       map[string]int `yaml:"max_spawn_per_tick"`
	MaxPrunePerTick       map[string]int `yaml:"max_prune_per_tick"`
	DataDir               string         `yaml:"data_dir"`
}

// LoadFile merges an optional YAML bootstrap file into base. Missing
// fields in the file leave base's values untouched.
func LoadFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var f bootstrapFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := base
	if f.GatewayPort != 0 {
		out.GatewayPort = f.GatewayPort
	}
	for k, v := range f.ExecConcurrency {
		out.ExecConcurrency[normalizeExecutor(k)] = v
	}
	for k, v := range f.ExecTimeoutMS {
		out.ExecTimeout[normalizeExecutor(k)] = time.Duration(v) * time.Millisecond
	}
	if len(f.ModelPoolFree) > 0 {
		out.ModelPoolFree = f.ModelPoolFree
	}
	if len(f.ModelPoolVision) > 0 {
		out.ModelPoolVision = f.ModelPoolVision
	}
	if f.ContextPackV1Required != nil {
		out.ContextPackV1Required = *f.ContextPackV1Required
	}
	if f.SeenWindowMS > 0 {
		out.SeenWindow = time.Duration(f.SeenWindowMS) * time.Millisecond
	}
	if f.StallSeconds > 0 {
		out.StallSeconds = time.Duration(f.StallSeconds) * time.Second
	}
	for k, v := range f.MaxSpawnPerTick {
		out.MaxSpawnPerTick[normalizeExecutor(k)] = v
	}
	for k, v := range f.MaxPrunePerTick {
		out.MaxPrunePerTick[normalizeExecutor(k)] = v
	}
	if f.DataDir != "" {
		out.DataDir = f.DataDir
	}
	return out, nil
}

// LoadEnv overlays recognized environment variables onto base. Env always
// wins over a previously loaded bootstrap file.
func LoadEnv(base Config) Config {
	out := base
	if v, ok := lookupInt("GATEWAY_PORT"); ok {
		out.GatewayPort = v
	}
	if v, ok := lookupBool("CONTEXT_PACK_V1_REQUIRED"); ok {
		out.ContextPackV1Required = v
	}
	if v, ok := lookupInt("SEEN_WINDOW_MS"); ok {
		out.SeenWindow = time.Duration(v) * time.Millisecond
	}
	if v, ok := lookupInt("STALL_SECONDS"); ok {
		out.StallSeconds = time.Duration(v) * time.Second
	}
	if v, ok := lookupCSV("MODEL_POOL_FREE"); ok {
		out.ModelPoolFree = v
	}
	if v, ok := lookupCSV("MODEL_POOL_VISION"); ok {
		out.ModelPoolVision = v
	}
	if v, ok := lookupString("DATA_DIR"); ok {
		out.DataDir = v
	}

	for _, e := range os.Environ() {
		kv := strings.SplitN(e, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		switch {
		case strings.HasPrefix(key, "EXEC_CONCURRENCY_"):
			exec := normalizeExecutor(strings.TrimPrefix(key, "EXEC_CONCURRENCY_"))
			if n, err := strconv.Atoi(val); err == nil {
				out.ExecConcurrency[exec] = n
			}
		case strings.HasPrefix(key, "EXEC_TIMEOUT_") && strings.HasSuffix(key, "_MS"):
			exec := normalizeExecutor(strings.TrimSuffix(strings.TrimPrefix(key, "EXEC_TIMEOUT_"), "_MS"))
			if n, err := strconv.Atoi(val); err == nil {
				out.ExecTimeout[exec] = time.Duration(n) * time.Millisecond
			}
		case strings.HasPrefix(key, "MAX_SPAWN_") && strings.HasSuffix(key, "_PER_TICK"):
			exec := normalizeExecutor(strings.TrimSuffix(strings.TrimPrefix(key, "MAX_SPAWN_"), "_PER_TICK"))
			if n, err := strconv.Atoi(val); err == nil {
				out.MaxSpawnPerTick[exec] = n
			}
		case strings.HasPrefix(key, "MAX_PRUNE_") && strings.HasSuffix(key, "_PER_TICK"):
			exec := normalizeExecutor(strings.TrimSuffix(strings.TrimPrefix(key, "MAX_PRUNE_"), "_PER_TICK"))
			if n, err := strconv.Atoi(val); err == nil {
				out.MaxPrunePerTick[exec] = n
			}
		}
	}
	return out
}

func normalizeExecutor(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lookupString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func lookupInt(key string) (int, bool) {
	v, ok := lookupString(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupBool(key string) (bool, bool) {
	v, ok := lookupString(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func lookupCSV(key string) ([]string, bool) {
	v, ok := lookupString(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// ExecutorConcurrencyCap returns the configured per-executor running-job
// cap, or 0 (no cap) if unset.
func (c Config) ExecutorConcurrencyCap(executor string) int {
	return c.ExecConcurrency[normalizeExecutor(executor)]
}

// ExecutorTimeout returns the configured default job timeout for an
// executor, or fallback if unset.
func (c Config) ExecutorTimeout(executor string, fallback time.Duration) time.Duration {
	if d, ok := c.ExecTimeout[normalizeExecutor(executor)]; ok && d > 0 {
		return d
	}
	return fallback
}
