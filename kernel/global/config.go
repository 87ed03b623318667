// Package global holds the kernel's configuration and the process-wide
// logger.
package global

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/sisoputnfrba/tp-kernel/memory"
	"github.com/sisoputnfrba/tp-kernel/utils/config"
	logger "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

var KernelConfig *Config
var Logger *logger.LoggerStruct

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	MemorySize      string `mapstructure:"memory_size"` // humanized, e.g. "8 MiB"
	PageSize        int    `mapstructure:"page_size"`
	PageTableLevels int    `mapstructure:"page_table_levels"`
	TLBEntries      int    `mapstructure:"tlb_entries"`
	UserStackPages  int    `mapstructure:"user_stack_pages"`
	TimeSlice       int    `mapstructure:"time_slice"`
	SplitRecords    bool   `mapstructure:"split_records"`
	Apps            string `mapstructure:"apps"`
	PortKernel      int    `mapstructure:"port_kernel"`
	LogLevel        string `mapstructure:"log_level"`
	LogFile         string `mapstructure:"log_file"`
	DumpPath        string `mapstructure:"dump_path"` // empty disables DUMP_MEMORY
}

func Defaults() map[string]any {
	return map[string]any{
		"memory_size":       "8 MiB",
		"page_size":         4096,
		"page_table_levels": 3,
		"tlb_entries":       64,
		"user_stack_pages":  2,
		"time_slice":        0,
		"split_records":     true,
		"apps":              "",
		"port_kernel":       0,
		"log_level":         "INFO",
		"log_file":          "",
		"dump_path":         "",
	}
}

// Load reads path over the defaults; an empty path uses defaults and
// environment only.
func Load(path string) (*Config, error) {
	cfg, err := config.CargarConfig[Config](path, Defaults())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.MemoryConfig(); err != nil {
		return err
	}
	if c.UserStackPages < 1 {
		return fmt.Errorf("%w: user_stack_pages must be at least 1", ErrInvalidConfig)
	}
	if c.TimeSlice < 0 || c.TLBEntries < 0 {
		return fmt.Errorf("%w: time_slice and tlb_entries cannot be negative", ErrInvalidConfig)
	}
	if c.PortKernel < 0 || c.PortKernel > 65535 {
		return fmt.Errorf("%w: port_kernel %d", ErrInvalidConfig, c.PortKernel)
	}
	return nil
}

func (c *Config) MemoryConfig() (memory.Config, error) {
	size, err := humanize.ParseBytes(c.MemorySize)
	if err != nil {
		return memory.Config{}, fmt.Errorf("%w: memory_size %q: %v", ErrInvalidConfig, c.MemorySize, err)
	}
	return memory.Config{
		MemorySize: size,
		PageSize:   c.PageSize,
		Levels:     c.PageTableLevels,
		TLBEntries: c.TLBEntries,
	}, nil
}

// InitGlobal loads the config and opens the logger. A non-empty logLevel
// overrides the configured one.
func InitGlobal(configPath, logLevel string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	l, err := logger.ConfigurarLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	KernelConfig = cfg
	Logger = l
	return nil
}
