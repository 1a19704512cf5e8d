package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the working directory.
const FileName = "nodefixture"

// EnvPrefix prefixes every environment override, e.g. NODEFIXTURE_NODE_ATTEMPTS.
const EnvPrefix = "NODEFIXTURE"

// legacyEnv maps config keys to the environment variables fixtures have
// always honoured. The NODEFIXTURE_* form wins when both are set.
var legacyEnv = map[string]string{
	"node.exe":              "BITCOIND_EXE",
	"node.version":          "BITCOIND_VERSION",
	"node.tmpdir":           "TEMPDIR_ROOT",
	"download.endpoint":     "BITCOIND_DOWNLOAD_ENDPOINT",
	"download.tarball_file": "BITCOIND_TARBALL_FILE",
	"download.sums_file":    "BITCOIND_SHA256SUMS_FILE",
	"log.level":             "NODEFIXTURE_LOG",
}

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
}

// NewLoader creates a loader that looks for nodefixture.yml in rootDir.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// NewFileLoader creates a loader for an explicit config file, which must exist.
func NewFileLoader(path string) Loader {
	return &loader{configFile: path}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (NODEFIXTURE_*, then the legacy names)
// 2. Config file (nodefixture.yml or nodefixture.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(l.rootDir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// NODEFIXTURE_NODE_STARTUP_TIMEOUT -> node.startup_timeout
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	keys := []string{
		"node.exe",
		"node.version",
		"node.network",
		"node.tmpdir",
		"node.staticdir",
		"node.attempts",
		"node.wallet",
		"node.p2p",
		"node.connect",
		"node.zmq",
		"node.view_stdout",
		"node.user",
		"node.password",
		"node.startup_timeout",
		"node.probe_interval",
		"node.stop_timeout",
		"download.auto",
		"download.endpoint",
		"download.cache_dir",
		"download.tarball_file",
		"download.sums_file",
		"log.level",
		"log.format",
		"registry.enabled",
		"registry.path",
	}
	for _, key := range keys {
		envs := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			envs = append(envs, legacy)
		}
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("node.network", defaults.Node.Network)
	v.SetDefault("node.tmpdir", defaults.Node.TmpDir)
	v.SetDefault("node.staticdir", defaults.Node.StaticDir)
	v.SetDefault("node.attempts", defaults.Node.Attempts)
	v.SetDefault("node.wallet", defaults.Node.Wallet)
	v.SetDefault("node.p2p", defaults.Node.P2P)
	v.SetDefault("node.zmq", defaults.Node.ZMQ)
	v.SetDefault("node.startup_timeout", defaults.Node.StartupTimeout)
	v.SetDefault("node.probe_interval", defaults.Node.ProbeInterval)
	v.SetDefault("node.stop_timeout", defaults.Node.StopTimeout)

	v.SetDefault("download.auto", defaults.Download.Auto)
	v.SetDefault("download.endpoint", defaults.Download.Endpoint)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetDefault("registry.enabled", defaults.Registry.Enabled)
}

// LoadConfig loads configuration from path when set, otherwise from
// nodefixture.yml in the current working directory.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return NewFileLoader(path).Load()
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}
