package main

import (
	"fmt"
	"os"

	"github.com/naoina/toml"

	"github.com/nullptr-oss/cftp/drivers/tcp"
)

// Config is the on-disk shape of a cftpd settings file.
type Config struct {
	MaxConnections int          `toml:"max_connections"`
	Server         ServerConfig `toml:"server"`
	Users          []UserConfig `toml:"users"`
}

// ServerConfig holds the listener- and transfer-related settings, mirroring
// the knobs the core session driver and the tcp passive factory expose.
type ServerConfig struct {
	ListenAddr    string           `toml:"listen_addr"`
	PublicHost    string           `toml:"public_host"`
	IdleTimeout   int              `toml:"idle_timeout"`
	DataPortRange *PortRangeConfig `toml:"data_port_range"`
}

// PortRangeConfig is the TOML shape of a tcp.PortRange.
type PortRangeConfig struct {
	Start int `toml:"start"`
	End   int `toml:"end"`
}

func (p *PortRangeConfig) toPortRange() *tcp.PortRange {
	if p == nil {
		return nil
	}

	return &tcp.PortRange{Start: p.Start, End: p.End}
}

// UserConfig is one configured account.
type UserConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
	Dir  string `toml:"dir"`
}

func loadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("cftpd: problem loading %q: %w", path, err)
	}

	if len(cfg.Users) == 0 {
		return nil, fmt.Errorf("cftpd: %q must define at least one user", path)
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "0.0.0.0:2121"
	}

	return &cfg, nil
}

const defaultConfigContents = `# cftpd configuration file
max_connections = 10

[server]
listen_addr = "0.0.0.0:2121"
public_host = ""
idle_timeout = 900

[server.data_port_range]
start = 2122
end = 2200

[[users]]
user = "test"
pass = "test"
dir = "test"
`

func writeDefaultConfig(path string) error {
	return os.WriteFile(path, []byte(defaultConfigContents), 0o644)
}
