package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/apparentlymart/go-cidr/cidr"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// Config holds all configuration for the forge service. It is built once in
// main and handed to each component; nothing reads it as process-global
// state.
type Config struct {
	DBPath string `yaml:"db_path"`
	Listen string `yaml:"listen"`

	Network NetworkConfig `yaml:"network"`
	Boot    BootConfig    `yaml:"boot"`
	Install InstallConfig `yaml:"install"`
}

// NetworkConfig describes the management subnet, the allocator pool inside
// it, and the NAT uplink.
type NetworkConfig struct {
	SubnetCIDR string        `yaml:"subnet_cidr"`
	PoolStart  string        `yaml:"pool_start"`
	PoolEnd    string        `yaml:"pool_end"`
	Uplink     string        `yaml:"uplink"`
	LeaseTTL   Duration      `yaml:"lease_ttl"`
	DNSMasq    DNSMasqConfig `yaml:"dnsmasq"`
}

// DNSMasqConfig points at the external dnsmasq instance the orchestrator
// drives.
type DNSMasqConfig struct {
	ConfPath   string `yaml:"conf_path"`
	LeasesFile string `yaml:"leases_file"`
}

// BootConfig describes where boot artifacts are published.
type BootConfig struct {
	TFTPRoot       string `yaml:"tftp_root"`
	DefaultProfile string `yaml:"default_profile"`
}

// InstallConfig bounds retries and state dwell times.
type InstallConfig struct {
	MaxRetries int `yaml:"max_retries"`

	// Maximum time a host may sit in each non-terminal state before it is
	// failed with reason "timeout".
	DiscoveredTimeout     Duration `yaml:"discovered_timeout"`
	AddressedTimeout      Duration `yaml:"addressed_timeout"`
	BootConfiguredTimeout Duration `yaml:"boot_configured_timeout"`
	InstallingTimeout     Duration `yaml:"installing_timeout"`
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath: "forge.db",
		Listen: ":8090",
		Network: NetworkConfig{
			SubnetCIDR: "10.10.10.0/24",
			PoolStart:  "10.10.10.50",
			PoolEnd:    "10.10.10.200",
			Uplink:     "eth0",
			LeaseTTL:   Duration(12 * time.Hour),
			DNSMasq: DNSMasqConfig{
				ConfPath:   "/etc/dnsmasq.d/forge.conf",
				LeasesFile: "/var/lib/misc/dnsmasq.leases",
			},
		},
		Boot: BootConfig{
			TFTPRoot:       "/srv/tftp",
			DefaultProfile: "debian-12-default",
		},
		Install: InstallConfig{
			MaxRetries:            3,
			DiscoveredTimeout:     Duration(30 * time.Minute),
			AddressedTimeout:      Duration(30 * time.Minute),
			BootConfiguredTimeout: Duration(2 * time.Hour),
			InstallingTimeout:     Duration(2 * time.Hour),
		},
	}
}

// Load reads configuration from a YAML file on top of the defaults. A
// missing file is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the network configuration is coherent: parseable
// subnet, pool endpoints inside the subnet and correctly ordered.
func (c *Config) Validate() error {
	_, subnet, err := net.ParseCIDR(c.Network.SubnetCIDR)
	if err != nil {
		return fmt.Errorf("invalid subnet CIDR %q: %w", c.Network.SubnetCIDR, err)
	}

	start := net.ParseIP(c.Network.PoolStart)
	if start == nil || start.To4() == nil {
		return fmt.Errorf("invalid pool start address %q", c.Network.PoolStart)
	}
	end := net.ParseIP(c.Network.PoolEnd)
	if end == nil || end.To4() == nil {
		return fmt.Errorf("invalid pool end address %q", c.Network.PoolEnd)
	}

	if !subnet.Contains(start) || !subnet.Contains(end) {
		first, last := cidr.AddressRange(subnet)
		return fmt.Errorf("pool %s-%s is outside subnet %s (%s-%s)",
			c.Network.PoolStart, c.Network.PoolEnd, c.Network.SubnetCIDR, first, last)
	}

	if err := c.Install.validate(); err != nil {
		return err
	}

	if c.Network.LeaseTTL <= 0 {
		return fmt.Errorf("lease TTL must be positive, got %s", c.Network.LeaseTTL.Std())
	}

	return nil
}

func (ic InstallConfig) validate() error {
	if ic.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", ic.MaxRetries)
	}
	for _, d := range []Duration{ic.DiscoveredTimeout, ic.AddressedTimeout, ic.BootConfiguredTimeout, ic.InstallingTimeout} {
		if d <= 0 {
			return fmt.Errorf("state timeouts must be positive")
		}
	}
	return nil
}

// StateTimeout returns the maximum dwell time for a state. Terminal states
// have no timeout and return zero.
func (ic InstallConfig) StateTimeout(state domain.HostState) time.Duration {
	switch state {
	case domain.StateDiscovered:
		return ic.DiscoveredTimeout.Std()
	case domain.StateAddressed:
		return ic.AddressedTimeout.Std()
	case domain.StateBootConfigured:
		return ic.BootConfiguredTimeout.Std()
	case domain.StateInstalling:
		return ic.InstallingTimeout.Std()
	}
	return 0
}
