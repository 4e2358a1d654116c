// Package rigdconfig loads rigd's application configuration: bind
// addresses for the two client adapters, serial defaults, and the
// resource directories the loader walks. It follows the same load
// shape as the CLI it was grounded on: a YAML file under the user
// config directory, overridable by environment variables, with
// sensible defaults so rigd runs with no config file at all.
package rigdconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openrigd/rigd/internal/apperror"
)

const (
	DefaultRpcUdpAddr   = "0.0.0.0:4533"
	DefaultRigctldAddr  = "0.0.0.0:4532"
	DefaultPollInterval = 2 * time.Second
	DefaultReadTimeout  = 500 * time.Millisecond
)

// Duration wraps time.Duration so the YAML config can spell intervals the
// way Go does ("500ms", "2s"); a bare integer is taken as milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, err := time.ParseDuration(s); err == nil {
			*d = Duration(parsed)
			return nil
		}
	}
	var ms int64
	if err := value.Decode(&ms); err != nil {
		return err
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// SerialDefaults are applied to any device whose rigs.toml entry omits
// them; a device entry always wins over these.
type SerialDefaults struct {
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
}

// Config is rigd's application configuration.
type Config struct {
	RpcUdpAddr   string         `yaml:"rpcudp_addr"`
	RigctldAddr  string         `yaml:"rigctld_addr"`
	SchemaPath   string         `yaml:"schema_path"`
	RigsDir      string         `yaml:"rigs_dir"`
	StateFile    string         `yaml:"state_file"`
	PollInterval Duration       `yaml:"poll_interval"`
	ReadTimeout  Duration       `yaml:"read_timeout"`
	LogLevel     string         `yaml:"log_level"`
	Serial       SerialDefaults `yaml:"serial"`
}

// Default returns a Config with every field set to a usable default, the
// way rigd behaves with no config file present at all.
func Default() Config {
	return Config{
		RpcUdpAddr:   DefaultRpcUdpAddr,
		RigctldAddr:  DefaultRigctldAddr,
		SchemaPath:   "schema/rig.schema",
		RigsDir:      "rigs",
		StateFile:    "rigs.toml",
		PollInterval: Duration(DefaultPollInterval),
		ReadTimeout:  Duration(DefaultReadTimeout),
		LogLevel:     "info",
		Serial: SerialDefaults{
			DataBits: 8,
			StopBits: 1,
			Parity:   "none",
		},
	}
}

// Path returns the config file path rigd reads by default: rigd/config.yaml
// under the user's config directory.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", apperror.Wrap(apperror.KindConfig, "resolving user config directory", err)
	}
	return filepath.Join(dir, "rigd", "config.yaml"), nil
}

// Load reads the config file at path (if it exists; a missing file is not
// an error, so rigd runs with pure defaults), applies environment
// overrides, and returns the result layered over Default().
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return cfg, apperror.Wrap(apperror.KindConfig, "reading config file", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, apperror.Wrap(apperror.KindConfig, "parsing config file", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIGD_RPCUDP_ADDR"); v != "" {
		cfg.RpcUdpAddr = v
	}
	if v := os.Getenv("RIGD_RIGCTLD_ADDR"); v != "" {
		cfg.RigctldAddr = v
	}
	if v := os.Getenv("RIGD_SCHEMA_PATH"); v != "" {
		cfg.SchemaPath = v
	}
	if v := os.Getenv("RIGD_RIGS_DIR"); v != "" {
		cfg.RigsDir = v
	}
	if v := os.Getenv("RIGD_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("RIGD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RIGD_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.PollInterval = Duration(time.Duration(ms) * time.Millisecond)
		}
	}
	if v := os.Getenv("RIGD_READ_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.ReadTimeout = Duration(time.Duration(ms) * time.Millisecond)
		}
	}
}
