// Package config loads the ambient configuration for extflow: the block
// size, memory budgets and temp-directory root the sorter and executor
// need, following the TOML-file convention used by pingcap/tidb's
// lightning configuration package.
package config

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	units "github.com/docker/go-units"
	"github.com/pingcap/errors"
)

// Config is the top-level configuration document.
type Config struct {
	Sort SortConfig `toml:"sort"`
	Log  LogConfig  `toml:"log"`
}

// SortConfig configures the external sorter and the block stream layer.
type SortConfig struct {
	// BlockSize is a human size like "2MiB"; see docker/go-units.
	BlockSize string `toml:"block-size"`
	// MemoryBudget is a human size like "256MiB".
	MemoryBudget string `toml:"memory-budget"`
	// MinItemSize is a human size like "64B", used for run-buffer sizing.
	MinItemSize string `toml:"min-item-size"`
	// TempDir is the root directory under which per-sorter temp
	// directories are allocated.
	TempDir string `toml:"temp-dir"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Sort: SortConfig{
			BlockSize:    "2MiB",
			MemoryBudget: "256MiB",
			MinItemSize:  "64B",
			TempDir:      filepath.Join(os.TempDir(), "extflow"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a TOML configuration file, filling any field left
// zero in the file from Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Annotatef(err, "failed to load config from %s", path)
	}
	return cfg, nil
}

// BlockSizeBytes parses SortConfig.BlockSize into bytes.
func (c *SortConfig) BlockSizeBytes() (int, error) {
	n, err := units.RAMInBytes(c.BlockSize)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid block-size %q", c.BlockSize)
	}
	return int(n), nil
}

// MemoryBudgetBytes parses SortConfig.MemoryBudget into bytes.
func (c *SortConfig) MemoryBudgetBytes() (int64, error) {
	n, err := units.RAMInBytes(c.MemoryBudget)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid memory-budget %q", c.MemoryBudget)
	}
	return n, nil
}

// MinItemSizeBytes parses SortConfig.MinItemSize into bytes.
func (c *SortConfig) MinItemSizeBytes() (int, error) {
	n, err := units.RAMInBytes(c.MinItemSize)
	if err != nil {
		return 0, errors.Annotatef(err, "invalid min-item-size %q", c.MinItemSize)
	}
	return int(n), nil
}

// MemoryManager reports the bytes of main memory currently advisable for a
// sorter to use. It is the "process-wide memory manager" collaborator from
// spec section 6; the sorter takes its number as an advisory ceiling only.
type MemoryManager interface {
	AvailableBytes() int64
}

// StaticMemoryManager always reports the same budget; used by tests and by
// the CLI when the operator pins a fixed memory budget.
type StaticMemoryManager struct {
	limit atomic.Int64
}

// NewStaticMemoryManager returns a MemoryManager fixed at limit bytes.
func NewStaticMemoryManager(limit int64) *StaticMemoryManager {
	m := &StaticMemoryManager{}
	m.limit.Store(limit)
	return m
}

// AvailableBytes implements MemoryManager.
func (m *StaticMemoryManager) AvailableBytes() int64 {
	return m.limit.Load()
}

// SetLimit adjusts the reported budget; safe for concurrent use, though the
// core itself never calls this concurrently with a sort.
func (m *StaticMemoryManager) SetLimit(limit int64) {
	m.limit.Store(limit)
}

// DefaultMemoryManager is the process-wide default, per Design Notes
// section 9 ("a process-wide default is acceptable, but unit tests must be
// able to inject alternates").
var DefaultMemoryManager MemoryManager = NewStaticMemoryManager(256 * units.MiB)
