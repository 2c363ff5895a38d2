// Package config handles wasmu.toml configuration and the engine flags shared by wasmu's commands.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/pgavlin/wasmu/cache"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/compiler/bytecode"
	"github.com/pgavlin/wasmu/engine"
	"github.com/pgavlin/wasmu/types"
)

// DefaultFile is the configuration file name looked up in the working directory.
const DefaultFile = "wasmu.toml"

// Config represents a wasmu.toml configuration.
type Config struct {
	// Target is the target architecture. It defaults to the host.
	Target string `toml:"target"`
	// CPUFeatures replaces the host's CPU features when Target is set.
	CPUFeatures []string `toml:"cpu-features"`
	// Cache is the directory of the compilation cache. Caching is disabled if it is empty.
	Cache string `toml:"cache"`

	Features Features `toml:"features"`
	Tunables Tunables `toml:"tunables"`
}

// Features overrides the default WebAssembly features. Unset fields keep their defaults.
type Features struct {
	Threads        *bool `toml:"threads"`
	ReferenceTypes *bool `toml:"reference-types"`
	SIMD           *bool `toml:"simd"`
	BulkMemory     *bool `toml:"bulk-memory"`
	MultiValue     *bool `toml:"multi-value"`
	TailCall       *bool `toml:"tail-call"`
	MultiMemory    *bool `toml:"multi-memory"`
	Memory64       *bool `toml:"memory64"`
	Exceptions     *bool `toml:"exceptions"`
}

// Tunables overrides the base tunables of the target. Zero fields keep their defaults.
type Tunables struct {
	StaticMemoryBound            uint32 `toml:"static-memory-bound"`
	StaticMemoryOffsetGuardSize  uint64 `toml:"static-memory-offset-guard-size"`
	DynamicMemoryOffsetGuardSize uint64 `toml:"dynamic-memory-offset-guard-size"`
}

// Load parses a configuration file. Unknown keys are errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses configuration data read from the named file.
func Parse(path string, data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("%s: unknown key %v", path, undecoded[0])
	}
	return &c, nil
}

// TargetValue returns the configured target.
func (c *Config) TargetValue() (*compiler.Target, error) {
	if c.Target == "" {
		if len(c.CPUFeatures) != 0 {
			return nil, fmt.Errorf("cpu-features requires a target")
		}
		return compiler.HostTarget(), nil
	}

	arch, err := compiler.ParseArchitecture(c.Target)
	if err != nil {
		return nil, err
	}
	var features []compiler.CpuFeature
	for _, name := range c.CPUFeatures {
		f, err := compiler.ParseCpuFeature(name)
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return compiler.NewTarget(arch, compiler.NewCpuFeatureSet(features...)), nil
}

// FeaturesValue returns the default features with the configured overrides applied.
func (c *Config) FeaturesValue() types.Features {
	f := types.NewFeatures()
	set := func(dest *bool, v *bool) {
		if v != nil {
			*dest = *v
		}
	}
	set(&f.Threads, c.Features.Threads)
	set(&f.ReferenceTypes, c.Features.ReferenceTypes)
	set(&f.SIMD, c.Features.SIMD)
	set(&f.BulkMemory, c.Features.BulkMemory)
	set(&f.MultiValue, c.Features.MultiValue)
	set(&f.TailCall, c.Features.TailCall)
	set(&f.MultiMemory, c.Features.MultiMemory)
	set(&f.Memory64, c.Features.Memory64)
	set(&f.Exceptions, c.Features.Exceptions)
	return f
}

// TunablesValue returns the base tunables of target with the configured overrides applied.
func (c *Config) TunablesValue(target *compiler.Target) *compiler.BaseTunables {
	t := compiler.NewBaseTunables(target)
	if c.Tunables.StaticMemoryBound != 0 {
		t.StaticMemoryBound = types.Pages(c.Tunables.StaticMemoryBound)
	}
	if c.Tunables.StaticMemoryOffsetGuardSize != 0 {
		t.StaticMemoryOffsetGuardSize = c.Tunables.StaticMemoryOffsetGuardSize
	}
	if c.Tunables.DynamicMemoryOffsetGuardSize != 0 {
		t.DynamicMemoryOffsetGuardSize = c.Tunables.DynamicMemoryOffsetGuardSize
	}
	return t
}

// Engine creates an engine that compiles with the bytecode backend. If headless is true, the engine can
// only load artifacts.
func (c *Config) Engine(headless bool) (*engine.Universal, error) {
	target, err := c.TargetValue()
	if err != nil {
		return nil, err
	}
	features := c.FeaturesValue()

	opts := engine.Options{Target: target, Features: &features}
	if !headless {
		opts.Compiler = bytecode.New()
	}
	if c.Cache != "" {
		fc, err := cache.NewFileCache(c.Cache)
		if err != nil {
			return nil, err
		}
		opts.Cache = fc
	}
	return engine.NewUniversal(opts), nil
}

// Flags holds the engine flags shared by commands.
type Flags struct {
	ConfigPath string
	Target     string
	Cache      string
}

// Register adds the flags to a command.
func (f *Flags) Register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ConfigPath, "config", "", "the path to a wasmu.toml configuration file. Defaults to ./wasmu.toml, if it exists")
	cmd.Flags().StringVar(&f.Target, "target", "", "the target architecture (amd64 or arm64). Defaults to the host")
	cmd.Flags().StringVar(&f.Cache, "cache", "", "the directory of the compilation cache")
}

// Config loads the configuration file, if any, and applies the flags on top of it.
func (f *Flags) Config() (*Config, error) {
	c := &Config{}
	path := f.ConfigPath
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	if f.Target != "" && f.Target != c.Target {
		c.Target, c.CPUFeatures = f.Target, nil
	}
	if f.Cache != "" {
		c.Cache = f.Cache
	}
	return c, nil
}
