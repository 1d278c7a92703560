// Package config describes how a coherence engine is set up and where the
// settings come from: a YAML file, environment variables (optionally read
// from .env files) and finally command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/coherencesim/coherence"
	"github.com/sarchlab/coherencesim/memory"
	"github.com/sarchlab/coherencesim/txlog"
)

// EnvPrefix is the prefix of every environment variable read by ApplyEnv.
const EnvPrefix = "COHERENCESIM_"

// AddressRange is a strided run of addresses.
type AddressRange struct {
	Start  uint64 `yaml:"start"`
	Count  int    `yaml:"count"`
	Stride uint64 `yaml:"stride"`
}

// Config holds everything needed to build and observe one engine.
type Config struct {
	Name         string            `yaml:"name"`
	Variant      string            `yaml:"variant"`
	Agents       int               `yaml:"agents"`
	AgentNames   []string          `yaml:"agent_names"`
	Addresses    []uint64          `yaml:"addresses"`
	AddressRange *AddressRange     `yaml:"address_range"`
	LogCapacity  int               `yaml:"log_capacity"`
	Memory       map[uint64]int64  `yaml:"memory"`
	RecordPath   string            `yaml:"record"`
	MonitorPort  int               `yaml:"monitor_port"`
	Labels       map[string]string `yaml:"labels"`
}

// Default returns the configuration used when nothing is specified: a MESI
// engine with two agents sharing address 0.
func Default() Config {
	return Config{
		Name:        "Coherence",
		Variant:     coherence.MESI.String(),
		Agents:      2,
		Addresses:   []uint64{0},
		LogCapacity: txlog.DefaultCapacity,
	}
}

// Load reads a YAML configuration on top of the defaults. Unknown keys are
// rejected.
func Load(r io.Reader) (Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.AddressRange != nil {
		cfg.Addresses = nil
	}

	return cfg, nil
}

// LoadFile reads a YAML configuration file on top of the defaults.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Default(), err
	}
	defer f.Close()

	return Load(f)
}

// LoadDotEnv reads the given .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	var existing []string

	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}

	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

// ApplyEnv overrides fields with COHERENCESIM_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "NAME"); ok {
		c.Name = v
	}

	if v, ok := lookup(EnvPrefix + "VARIANT"); ok {
		c.Variant = v
	}

	if v, ok := lookup(EnvPrefix + "RECORD"); ok {
		c.RecordPath = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"AGENTS", &c.Agents},
		{"LOG_CAPACITY", &c.LogCapacity},
		{"MONITOR_PORT", &c.MonitorPort},
	}

	for _, i := range ints {
		v, ok := lookup(EnvPrefix + i.key)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, i.key, err)
		}

		*i.dst = n
	}

	if v, ok := lookup(EnvPrefix + "ADDRESSES"); ok {
		addrs, err := ParseAddressList(v)
		if err != nil {
			return fmt.Errorf("%sADDRESSES: %w", EnvPrefix, err)
		}

		c.Addresses = addrs
		c.AddressRange = nil
	}

	return nil
}

// ParseAddressList parses a comma separated list of addresses. Each address
// may be decimal or 0x-prefixed hexadecimal.
func ParseAddressList(s string) ([]uint64, error) {
	var out []uint64

	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		addr, err := strconv.ParseUint(field, 0, 64)
		if err != nil {
			return nil, err
		}

		out = append(out, addr)
	}

	return out, nil
}

// Validate checks the configuration without building an engine.
func (c Config) Validate() error {
	b, err := c.Builder()
	if err != nil {
		return err
	}

	if err := b.Validate(); err != nil {
		return err
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("%w: monitor port %d", coherence.ErrInvalidConfig, c.MonitorPort)
	}

	return nil
}

// Builder converts the configuration into an engine builder.
func (c Config) Builder() (coherence.Builder, error) {
	variant, err := coherence.ParseVariant(c.Variant)
	if err != nil {
		return coherence.Builder{}, err
	}

	b := coherence.MakeBuilder().
		WithVariant(variant).
		WithNumAgents(c.Agents).
		WithAgentNames(c.AgentNames...).
		WithLogCapacity(c.LogCapacity)

	if r := c.AddressRange; r != nil {
		if r.Count <= 0 {
			return b, fmt.Errorf("%w: address range count %d",
				coherence.ErrInvalidConfig, r.Count)
		}

		stride := r.Stride
		if stride == 0 {
			stride = 1
		}

		b = b.WithAddressRange(memory.Address(r.Start), r.Count, stride)
	} else {
		addrs := make([]memory.Address, len(c.Addresses))
		for i, a := range c.Addresses {
			addrs[i] = memory.Address(a)
		}

		b = b.WithAddresses(addrs...)
	}

	for addr, value := range c.Memory {
		b = b.WithMemoryValue(memory.Address(addr), memory.Word(value))
	}

	return b, nil
}

// Build creates the engine described by the configuration.
func (c Config) Build() (*coherence.Engine, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	b, err := c.Builder()
	if err != nil {
		return nil, err
	}

	return b.Build(c.Name)
}
