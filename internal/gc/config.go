package gc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config tunes the allocator/collector. The zero value is not valid for
// every field — use DefaultConfig as a base, the way the teacher's
// BufferPoolConfig/PagerConfig structs fill in defaults for a zero field at
// construction time (pager.go's OpenPager: "if ps == 0 { ps = DefaultPageSize }").
type Config struct {
	// PoolPages is how many pages a freshly grown pool maps, for both small
	// and large pools.
	PoolPages int `yaml:"pool_pages"`

	// InitialPools is how many small pools to map up front when the heap is
	// created.
	InitialPools int `yaml:"initial_pools"`

	// SmallYieldFraction and LargeYieldFraction are the retry ladder's
	// "did this collection yield enough" denominators (spec.md §4.5,
	// §9 Open Question): a collection that reclaims fewer than
	// npools*(PoolPages)/fraction pages makes the ladder grow the heap at
	// once; one that reclaims at least that many still leads to a growth,
	// through the ladder's state 1.
	SmallYieldFraction int `yaml:"small_yield_fraction"`
	LargeYieldFraction int `yaml:"large_yield_fraction"`

	// MaxMarkRecursion bounds the recursive mark depth before deferring to
	// the scan-bitmap worklist (spec.md §4.6/§9).
	MaxMarkRecursion int `yaml:"max_mark_recursion"`

	// Sentinel enables the debug-time allocation-bounds-checking mode
	// (spec.md §6).
	Sentinel bool `yaml:"sentinel"`

	// Verbose enables phase-transition and retry-ladder logging.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the baseline tuning used when no Config is supplied.
func DefaultConfig() Config {
	return Config{
		PoolPages:          256, // 1 MiB pools at the default 4 KiB page size
		InitialPools:       1,
		SmallYieldFraction: 8,
		LargeYieldFraction: 4,
		MaxMarkRecursion:   64,
		Sentinel:           false,
		Verbose:            false,
	}
}

// fillDefaults replaces zero-valued fields with DefaultConfig's values,
// matching pager.OpenPager's "if zero, use the default" pattern.
func (c Config) fillDefaults() Config {
	d := DefaultConfig()
	if c.PoolPages == 0 {
		c.PoolPages = d.PoolPages
	}
	if c.InitialPools == 0 {
		c.InitialPools = d.InitialPools
	}
	if c.SmallYieldFraction == 0 {
		c.SmallYieldFraction = d.SmallYieldFraction
	}
	if c.LargeYieldFraction == 0 {
		c.LargeYieldFraction = d.LargeYieldFraction
	}
	if c.MaxMarkRecursion == 0 {
		c.MaxMarkRecursion = d.MaxMarkRecursion
	}
	return c
}

// LoadConfig reads a YAML tuning file, the same library the teacher already
// depends on for test fixtures (internal/testhelper/examples_test.go),
// promoted here to a runtime config loader for cmd/gcstat and cmd/gcdemo.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gc: read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("gc: parse config %s: %w", path, err)
	}
	return c.fillDefaults(), nil
}
