// Package config loads the toxnode configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/TheusHen/toxcore/toxcore"
	"github.com/TheusHen/toxcore/toxcore/crypto"
	"github.com/TheusHen/toxcore/toxcore/logging"
)

// Config holds everything toxnode reads from its TOML file.
type Config struct {
	Node      NodeConfig     `toml:"node"`
	State     StateConfig    `toml:"state"`
	Logging   LoggingConfig  `toml:"logging"`
	Metrics   MetricsConfig  `toml:"metrics"`
	Resolver  ResolverConfig `toml:"resolver"`
	Bootstrap []Peer         `toml:"bootstrap"`
	Relays    []Peer         `toml:"relay"`
}

// NodeConfig mirrors the network switches of toxcore.Options.
type NodeConfig struct {
	IPv6             bool   `toml:"ipv6"`
	UDP              bool   `toml:"udp"`
	LocalDiscovery   bool   `toml:"local_discovery"`
	DHTAnnouncements bool   `toml:"dht_announcements"`
	StartPort        int    `toml:"start_port"`
	EndPort          int    `toml:"end_port"`
	RelayListen      string `toml:"relay_listen"`
}

// StateConfig says where the save state lives. With Database set the
// state is a named profile in a bolt file; otherwise File is used.
type StateConfig struct {
	File     string `toml:"file"`
	Database string `toml:"database"`
	Profile  string `toml:"profile"`
	// PassphraseEnv names the environment variable holding the passphrase.
	PassphraseEnv string `toml:"passphrase_env"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// Trace prints TRACE records, which are skipped by default.
	Trace bool `toml:"trace"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// ResolverConfig selects an explicit DNS server for bootstrap hosts.
// Empty Server uses the system resolver.
type ResolverConfig struct {
	Server string `toml:"server"`
	Net    string `toml:"net"`
}

// Peer is a bootstrap node or relay.
type Peer struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	PublicKey string `toml:"public_key"`
}

// Key parses the peer's hex public key.
func (p Peer) Key() (crypto.PublicKey, error) {
	return crypto.ParsePublicKey(p.PublicKey)
}

// Default returns the configuration used when no file exists. It
// bootstraps from two public nodes.
func Default() Config {
	return Config{
		Node: NodeConfig{
			IPv6:             true,
			UDP:              true,
			LocalDiscovery:   true,
			DHTAnnouncements: true,
			StartPort:        toxcore.DefaultStartPort,
			EndPort:          toxcore.DefaultEndPort,
		},
		State: StateConfig{
			Profile:       "default",
			PassphraseEnv: "TOXNODE_PASSPHRASE",
		},
		Logging: LoggingConfig{Level: "info"},
		Resolver: ResolverConfig{
			Net: "udp",
		},
		Bootstrap: []Peer{
			{Host: "tox.initramfs.io", Port: 33445, PublicKey: "02807CF4F8BB8FB390CC3794BDF1E8449E9A8392C5D3F2200019DA9F1E812E46"},
			{Host: "tox.abilinski.com", Port: 33445, PublicKey: "10C00EB250C3233E343E2AEBA07115A5C28920E9C8D29492F6D00B29049EDC7E"},
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return cfg, fmt.Errorf("parse config: unknown key %s", undec[0])
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

// Validate checks ports, keys and the log level.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	for _, p := range []int{c.Node.StartPort, c.Node.EndPort} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("config: port %d out of range", p)
		}
	}
	for _, list := range [][]Peer{c.Bootstrap, c.Relays} {
		for _, p := range list {
			if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
				return fmt.Errorf("config: bad peer %q port %d", p.Host, p.Port)
			}
			if _, err := p.Key(); err != nil {
				return fmt.Errorf("config: peer %s: %w", p.Host, err)
			}
		}
	}
	return nil
}

// Options converts the network section to toxcore options.
func (c Config) Options() toxcore.Options {
	o := toxcore.DefaultOptions()
	o.IPv6Enabled = c.Node.IPv6
	o.UDPEnabled = c.Node.UDP
	o.LocalDiscoveryEnabled = c.Node.LocalDiscovery
	o.DHTAnnouncementsEnabled = c.Node.DHTAnnouncements
	o.StartPort = uint16(c.Node.StartPort)
	o.EndPort = uint16(c.Node.EndPort)
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil && !c.Logging.Trace {
		o.LogLevel = lvl
	}
	return o
}
