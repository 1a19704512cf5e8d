// Package config loads the nodefixture CLI configuration.
package config

import (
	"fmt"
	"maps"
	"net/netip"
	"time"

	"github.com/mvp-joe/nodefixture/internal/download"
	"github.com/mvp-joe/nodefixture/pkg/node"
)

// P2P modes accepted by node.p2p.
const (
	P2PNone   = "none"
	P2PListen = "listen"
)

// Config represents the complete nodefixture configuration.
type Config struct {
	Node     NodeConfig     `yaml:"node" mapstructure:"node"`
	Download DownloadConfig `yaml:"download" mapstructure:"download"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
}

// NodeConfig holds daemon startup settings.
type NodeConfig struct {
	Exe       string   `yaml:"exe" mapstructure:"exe"`
	Version   string   `yaml:"version" mapstructure:"version"`
	Network   string   `yaml:"network" mapstructure:"network"`
	TmpDir    string   `yaml:"tmpdir" mapstructure:"tmpdir"`
	StaticDir string   `yaml:"staticdir" mapstructure:"staticdir"`
	Args      []string `yaml:"args" mapstructure:"args"`
	Attempts  int      `yaml:"attempts" mapstructure:"attempts"`
	Wallet    string   `yaml:"wallet" mapstructure:"wallet"`

	// Options are extra bitcoin.conf entries, e.g. txindex: "1".
	Options map[string]string `yaml:"options" mapstructure:"options"`

	// P2P is "none" or "listen". Connect adds an outbound peer.
	P2P     string `yaml:"p2p" mapstructure:"p2p"`
	Connect string `yaml:"connect" mapstructure:"connect"`

	ZMQ        bool   `yaml:"zmq" mapstructure:"zmq"`
	ViewStdout bool   `yaml:"view_stdout" mapstructure:"view_stdout"`
	User       string `yaml:"user" mapstructure:"user"`
	Password   string `yaml:"password" mapstructure:"password"`

	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval" mapstructure:"probe_interval"`
	StopTimeout    time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
}

// DownloadConfig holds release artifact settings.
type DownloadConfig struct {
	Auto        bool   `yaml:"auto" mapstructure:"auto"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	CacheDir    string `yaml:"cache_dir" mapstructure:"cache_dir"`
	TarballFile string `yaml:"tarball_file" mapstructure:"tarball_file"`
	SumsFile    string `yaml:"sums_file" mapstructure:"sums_file"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RegistryConfig controls the orphan registry.
type RegistryConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Network:        node.DefaultNetwork,
			Attempts:       node.DefaultAttempts,
			Wallet:         node.DefaultWallet,
			P2P:            P2PNone,
			StartupTimeout: node.DefaultStartupTimeout,
			ProbeInterval:  node.DefaultProbeInterval,
			StopTimeout:    node.DefaultStopTimeout,
		},
		Download: DownloadConfig{
			Auto:     true,
			Endpoint: download.DefaultEndpoint,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Registry: RegistryConfig{
			Enabled: true,
		},
	}
}

// NodeConf converts the node section into a node.Conf. Logger and Registry
// are left for the caller to attach. A staticdir overrides tmpdir, which is
// usually inherited from TEMPDIR_ROOT.
func (c *Config) NodeConf() (*node.Conf, error) {
	n := c.Node
	conf := &node.Conf{
		Args:          append([]string(nil), n.Args...),
		ViewStdout:    n.ViewStdout,
		Network:       n.Network,
		TmpDir:        n.TmpDir,
		StaticDir:     n.StaticDir,
		Attempts:      n.Attempts,
		EnableZMQ:     n.ZMQ,
		Wallet:        n.Wallet,
		ConfigOptions: maps.Clone(n.Options),
		Credentials: node.Credentials{
			User:     n.User,
			Password: n.Password,
		},
		StartupTimeout: n.StartupTimeout,
		ProbeInterval:  n.ProbeInterval,
		StopTimeout:    n.StopTimeout,
	}

	p2p, err := n.p2p()
	if err != nil {
		return nil, err
	}
	conf.P2P = p2p
	if conf.StaticDir != "" {
		conf.TmpDir = ""
	}
	return conf, nil
}

func (n NodeConfig) p2p() (node.P2P, error) {
	listen := n.P2P == P2PListen
	if n.Connect != "" {
		addr, err := netip.ParseAddrPort(n.Connect)
		if err != nil {
			return node.P2P{}, fmt.Errorf("%w: %q: %v", ErrInvalidConnect, n.Connect, err)
		}
		return node.P2PConnect(addr, listen), nil
	}
	if listen {
		return node.P2PListen, nil
	}
	return node.P2PNone, nil
}

// Resolver builds the executable resolver for this configuration.
func (c *Config) Resolver() node.Resolver {
	return node.Resolver{
		Explicit:     c.Node.Exe,
		Version:      c.Node.Version,
		AutoDownload: c.Download.Auto,
		Download:     c.DownloadOptions(),
	}
}

// DownloadOptions returns download options without a version.
func (c *Config) DownloadOptions() download.Options {
	return download.Options{
		CacheDir:    c.Download.CacheDir,
		Endpoint:    c.Download.Endpoint,
		TarballFile: c.Download.TarballFile,
		SumsFile:    c.Download.SumsFile,
	}
}
