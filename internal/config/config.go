// Package config builds raknetd's runtime configuration from defaults,
// an optional YAML file, and command-line flags, in that order of
// precedence (flags win).
package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is everything the server needs to start listening.
type Config struct {
	BindAddress            string `yaml:"bind_address"`
	BindPort               uint16 `yaml:"bind_port"`
	ServerGUID             uint64 `yaml:"server_guid"`
	ProtocolVersion        byte   `yaml:"protocol_version"`
	ServerName             string `yaml:"server_name"`
	MaxMTU                 uint16 `yaml:"max_mtu"`
	PortChecking           bool   `yaml:"port_checking"`
	MaxPacketsPerTickPerIP int    `yaml:"max_packets_per_tick_per_ip"`
	IPBlockDuration        string `yaml:"ip_block_duration"`
	TickRate               int    `yaml:"tick_rate_hz"`
	LogLevel               string `yaml:"log_level"`
	MetricsAddress         string `yaml:"metrics_address"`
}

// Default returns the built-in defaults: values that work out of the box
// with no file or flags.
func Default() Config {
	return Config{
		BindAddress:            "0.0.0.0",
		BindPort:               19132,
		ServerGUID:             0, // 0 means "generate one at startup"
		ProtocolVersion:        11,
		ServerName:             "raknetd",
		MaxMTU:                 1492,
		PortChecking:           true,
		MaxPacketsPerTickPerIP: 200,
		IPBlockDuration:        "30s",
		TickRate:               100,
		LogLevel:               "info",
		MetricsAddress:         "",
	}
}

// Load reads defaults, optionally overlays a YAML file (if configPath is
// non-empty), then overlays flags explicitly set on fs, and returns the
// merged configuration. GUID is randomized if left unset.
func Load(fs *pflag.FlagSet, configPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", configPath, err)
		}
	}

	applyFlags(fs, &cfg)

	if cfg.ServerGUID == 0 {
		cfg.ServerGUID = guidFromUUID()
	}
	return cfg, nil
}

// BindFlags registers every config field as a flag on fs, so cobra commands
// can bind raknetd's configuration the same way regardless of whether the
// final value comes from a flag, a YAML file, or the built-in default.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("bind-address", d.BindAddress, "UDP address to listen on")
	fs.Uint16("bind-port", d.BindPort, "UDP port to listen on")
	fs.Uint64("server-guid", d.ServerGUID, "server GUID (0 = random)")
	fs.Uint8("protocol-version", d.ProtocolVersion, "accepted RakNet protocol version")
	fs.String("server-name", d.ServerName, "server name advertised in UNCONNECTED_PONG")
	fs.Uint16("max-mtu", d.MaxMTU, "maximum negotiated MTU")
	fs.Bool("port-checking", d.PortChecking, "reject OPEN_CONNECTION_REQUEST_2 with a mismatched server port")
	fs.Int("max-packets-per-tick-per-ip", d.MaxPacketsPerTickPerIP, "per-IP rate limit before a cool-off block")
	fs.String("ip-block-duration", d.IPBlockDuration, "how long a rate-limited IP stays blocked")
	fs.Int("tick-rate", d.TickRate, "server tick rate in Hz")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("metrics-address", d.MetricsAddress, "address to serve /metrics on (empty disables it)")
}

func applyFlags(fs *pflag.FlagSet, cfg *Config) {
	if fs == nil {
		return
	}
	if v, err := fs.GetString("bind-address"); err == nil && fs.Changed("bind-address") {
		cfg.BindAddress = v
	}
	if v, err := fs.GetUint16("bind-port"); err == nil && fs.Changed("bind-port") {
		cfg.BindPort = v
	}
	if v, err := fs.GetUint64("server-guid"); err == nil && fs.Changed("server-guid") {
		cfg.ServerGUID = v
	}
	if v, err := fs.GetUint8("protocol-version"); err == nil && fs.Changed("protocol-version") {
		cfg.ProtocolVersion = v
	}
	if v, err := fs.GetString("server-name"); err == nil && fs.Changed("server-name") {
		cfg.ServerName = v
	}
	if v, err := fs.GetUint16("max-mtu"); err == nil && fs.Changed("max-mtu") {
		cfg.MaxMTU = v
	}
	if v, err := fs.GetBool("port-checking"); err == nil && fs.Changed("port-checking") {
		cfg.PortChecking = v
	}
	if v, err := fs.GetInt("max-packets-per-tick-per-ip"); err == nil && fs.Changed("max-packets-per-tick-per-ip") {
		cfg.MaxPacketsPerTickPerIP = v
	}
	if v, err := fs.GetString("ip-block-duration"); err == nil && fs.Changed("ip-block-duration") {
		cfg.IPBlockDuration = v
	}
	if v, err := fs.GetInt("tick-rate"); err == nil && fs.Changed("tick-rate") {
		cfg.TickRate = v
	}
	if v, err := fs.GetString("log-level"); err == nil && fs.Changed("log-level") {
		cfg.LogLevel = v
	}
	if v, err := fs.GetString("metrics-address"); err == nil && fs.Changed("metrics-address") {
		cfg.MetricsAddress = v
	}
}

// guidFromUUID derives a u64 server GUID from a random UUID, since RakNet's
// wire format has no room for a full 128-bit identifier.
func guidFromUUID() uint64 {
	id := uuid.New()
	var v uint64
	for _, b := range id[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}
